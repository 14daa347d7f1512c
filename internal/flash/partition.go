// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the partition type as stored in an ESP-style partition table.
type Type uint8

const (
	TypeApp  Type = 0x00
	TypeData Type = 0x01
)

func (t Type) String() string {
	switch t {
	case TypeApp:
		return "app"
	case TypeData:
		return "data"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// Subtype refines Type. App subtypes carry the OTA slot number.
type Subtype uint8

const (
	SubtypeFactory Subtype = 0x00
	SubtypeOTAMin  Subtype = 0x10
	// SubtypeOTAMax is the first subtype after the sixteen OTA slots.
	SubtypeOTAMax Subtype = SubtypeOTAMin + 16
	SubtypeTest   Subtype = 0x20

	SubtypeOTAData Subtype = 0x00
	SubtypePhy     Subtype = 0x01
	SubtypeNVS     Subtype = 0x02
	SubtypeFAT     Subtype = 0x81
	SubtypeSpiffs  Subtype = 0x82

	SubtypeAny Subtype = 0xFF
)

// SubtypeOTA returns the subtype of OTA slot n.
func SubtypeOTA(n int) Subtype {
	return SubtypeOTAMin + Subtype(n)
}

// ParseType parses "app", "data" or a numeric type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "app":
		return TypeApp, nil
	case "data":
		return TypeData, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid partition type %q", s)
	}
	return Type(v), nil
}

// ParseSubtype parses a subtype name valid for t, or a numeric subtype.
func ParseSubtype(t Type, s string) (Subtype, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if t == TypeApp {
		switch {
		case name == "factory":
			return SubtypeFactory, nil
		case name == "test":
			return SubtypeTest, nil
		case strings.HasPrefix(name, "ota_"):
			n, err := strconv.Atoi(name[len("ota_"):])
			if err != nil || n < 0 || n >= int(SubtypeOTAMax-SubtypeOTAMin) {
				return 0, fmt.Errorf("invalid ota slot %q", s)
			}
			return SubtypeOTA(n), nil
		}
	} else if t == TypeData {
		switch name {
		case "ota":
			return SubtypeOTAData, nil
		case "phy":
			return SubtypePhy, nil
		case "nvs":
			return SubtypeNVS, nil
		case "fat":
			return SubtypeFAT, nil
		case "spiffs":
			return SubtypeSpiffs, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s subtype %q", t, s)
	}
	return Subtype(v), nil
}

// Region is a named, offset-addressable span of flash with an erase
// granularity. Offsets are relative to the start of the region.
type Region interface {
	Label() string
	Size() int64
	EraseSize() int64
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// EraseRange erases [off, off+size); both must be multiples of EraseSize.
	EraseRange(off, size int64) error
}

// Partition is a Region carved out of a Device by the partition table.
type Partition struct {
	label   string
	typ     Type
	subtype Subtype
	offset  int64
	size    int64
	dev     Device
}

func (p *Partition) Label() string    { return p.label }
func (p *Partition) Type() Type       { return p.typ }
func (p *Partition) Subtype() Subtype { return p.subtype }
func (p *Partition) Offset() int64    { return p.offset }
func (p *Partition) Size() int64      { return p.size }
func (p *Partition) EraseSize() int64 { return p.dev.EraseSize() }
func (p *Partition) String() string   { return p.label }

// IsOTASlot reports whether p is one of the sixteen OTA app slots.
func (p *Partition) IsOTASlot() bool {
	return p.typ == TypeApp && p.subtype >= SubtypeOTAMin && p.subtype < SubtypeOTAMax
}

// IsUpdatable reports whether p can hold an application image produced by
// an update: an app partition with a subtype below the OTA maximum
// (the factory slot included).
func (p *Partition) IsUpdatable() bool {
	return p.typ == TypeApp && p.subtype < SubtypeOTAMax
}

func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	if err := checkRange("read", off, int64(len(b)), p.size); err != nil {
		return 0, fmt.Errorf("partition %s: %w", p.label, err)
	}
	return p.dev.ReadAt(b, p.offset+off)
}

func (p *Partition) WriteAt(b []byte, off int64) (int, error) {
	if err := checkRange("write", off, int64(len(b)), p.size); err != nil {
		return 0, fmt.Errorf("partition %s: %w", p.label, err)
	}
	return p.dev.WriteAt(b, p.offset+off)
}

func (p *Partition) EraseRange(off, size int64) error {
	if err := checkErase(off, size, p.size, p.dev.EraseSize()); err != nil {
		return fmt.Errorf("partition %s: %w", p.label, err)
	}
	return p.dev.Erase(p.offset+off, size)
}
