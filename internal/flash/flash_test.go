// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

const testSize = 16 * DefaultEraseSize

func openDevices(t *testing.T) map[string]Device {
	t.Helper()
	dir := t.TempDir()

	fd, err := OpenFileDevice(filepath.Join(dir, "file.bin"), testSize, DefaultEraseSize)
	if err != nil {
		t.Fatalf("Failed to open file device: %v", err)
	}
	md, err := OpenMmapDevice(filepath.Join(dir, "mmap.bin"), testSize, DefaultEraseSize)
	if err != nil {
		t.Fatalf("Failed to open mmap device: %v", err)
	}
	devs := map[string]Device{
		"memory": NewMemoryDevice(testSize, DefaultEraseSize),
		"file":   fd,
		"mmap":   md,
	}
	t.Cleanup(func() {
		for _, d := range devs {
			d.Close()
		}
	})
	return devs
}

func TestDevice_NORSemantics(t *testing.T) {
	for name, dev := range openDevices(t) {
		t.Run(name, func(t *testing.T) {
			buf := make([]byte, 8)
			if _, err := dev.ReadAt(buf, 0); err != nil {
				t.Fatalf("ReadAt: %v", err)
			}
			if !bytes.Equal(buf, bytes.Repeat([]byte{0xFF}, 8)) {
				t.Fatalf("fresh device not erased: % x", buf)
			}

			if _, err := dev.WriteAt([]byte{0x12, 0x34}, 10); err != nil {
				t.Fatalf("WriteAt: %v", err)
			}
			// Clearing more bits is fine.
			if _, err := dev.WriteAt([]byte{0x02}, 10); err != nil {
				t.Fatalf("WriteAt clearing bits: %v", err)
			}
			// Setting bits back is not.
			if _, err := dev.WriteAt([]byte{0xFF}, 11); !errors.Is(err, ErrWriteRequiresErase) {
				t.Fatalf("expected ErrWriteRequiresErase, got %v", err)
			}

			got := make([]byte, 2)
			dev.ReadAt(got, 10)
			if !bytes.Equal(got, []byte{0x02, 0x34}) {
				t.Fatalf("unexpected content % x", got)
			}

			if err := dev.Erase(0, DefaultEraseSize); err != nil {
				t.Fatalf("Erase: %v", err)
			}
			dev.ReadAt(got, 10)
			if !bytes.Equal(got, []byte{0xFF, 0xFF}) {
				t.Fatalf("erase did not reset sector: % x", got)
			}
		})
	}
}

func TestDevice_Bounds(t *testing.T) {
	for name, dev := range openDevices(t) {
		t.Run(name, func(t *testing.T) {
			var rangeErr *RangeError
			if _, err := dev.ReadAt(make([]byte, 2), testSize-1); !errors.As(err, &rangeErr) {
				t.Errorf("read past end: expected RangeError, got %v", err)
			}
			if _, err := dev.WriteAt([]byte{0}, -1); !errors.As(err, &rangeErr) {
				t.Errorf("negative write: expected RangeError, got %v", err)
			}

			var alignErr *AlignmentError
			if err := dev.Erase(1, DefaultEraseSize); !errors.As(err, &alignErr) {
				t.Errorf("unaligned erase: expected AlignmentError, got %v", err)
			}
			if err := dev.Erase(testSize, DefaultEraseSize); !errors.As(err, &rangeErr) {
				t.Errorf("erase past end: expected RangeError, got %v", err)
			}
		})
	}
}

func TestFileDevice_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	d, err := OpenFileDevice(path, testSize, DefaultEraseSize)
	if err != nil {
		t.Fatal(err)
	}
	d.WriteAt([]byte("firmware"), 100)
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	d.Close()

	d, err = OpenFileDevice(path, testSize, DefaultEraseSize)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	got := make([]byte, 8)
	d.ReadAt(got, 100)
	if string(got) != "firmware" {
		t.Fatalf("content lost across reopen: %q", got)
	}
}

func testEntries() []Entry {
	return []Entry{
		{Label: "ota_0", Type: TypeApp, Subtype: SubtypeOTA(0), Offset: 0x1000, Size: 0x4000},
		{Label: "ota_1", Type: TypeApp, Subtype: SubtypeOTA(1), Offset: 0x5000, Size: 0x4000},
		{Label: "patch", Type: TypeData, Subtype: SubtypeSpiffs, Offset: 0x9000, Size: 0x3000},
	}
}

func TestTable_Find(t *testing.T) {
	tbl, err := NewTable(NewMemoryDevice(testSize, DefaultEraseSize), testEntries())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if p := tbl.Find("ota_1"); p == nil || p.Offset() != 0x5000 {
		t.Errorf("Find(ota_1) = %v", p)
	}
	if p := tbl.Find("missing"); p != nil {
		t.Errorf("Find(missing) = %v, want nil", p)
	}
	if p := tbl.FindFirst(TypeData, SubtypeSpiffs, ""); p == nil || p.Label() != "patch" {
		t.Errorf("FindFirst(data, spiffs) = %v", p)
	}
	if p := tbl.FindFirst(TypeApp, SubtypeAny, "ota_1"); p == nil || p.Label() != "ota_1" {
		t.Errorf("FindFirst(app, any, ota_1) = %v", p)
	}
	if p := tbl.FindFirst(TypeApp, SubtypeFactory, ""); p != nil {
		t.Errorf("FindFirst(app, factory) = %v, want nil", p)
	}
	if !tbl.Find("ota_0").IsOTASlot() || tbl.Find("patch").IsUpdatable() {
		t.Error("slot classification wrong")
	}
}

func TestTable_Validation(t *testing.T) {
	dev := NewMemoryDevice(testSize, DefaultEraseSize)
	tests := []struct {
		name    string
		entries []Entry
	}{
		{"Overlap", []Entry{
			{Label: "a", Type: TypeApp, Offset: 0x1000, Size: 0x2000},
			{Label: "b", Type: TypeApp, Offset: 0x2000, Size: 0x2000},
		}},
		{"Duplicate", []Entry{
			{Label: "a", Type: TypeApp, Offset: 0x1000, Size: 0x1000},
			{Label: "a", Type: TypeApp, Offset: 0x2000, Size: 0x1000},
		}},
		{"Unaligned", []Entry{{Label: "a", Type: TypeApp, Offset: 0x1001, Size: 0x1000}}},
		{"TooLarge", []Entry{{Label: "a", Type: TypeApp, Offset: 0, Size: testSize + DefaultEraseSize}}},
		{"NoLabel", []Entry{{Type: TypeApp, Offset: 0, Size: 0x1000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(dev, tt.entries); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPartition_Bounds(t *testing.T) {
	dev := NewMemoryDevice(testSize, DefaultEraseSize)
	tbl, err := NewTable(dev, testEntries())
	if err != nil {
		t.Fatal(err)
	}
	p := tbl.Find("ota_0")

	if _, err := p.WriteAt([]byte{1, 2}, p.Size()-1); err == nil {
		t.Error("write across partition end should fail")
	}
	if _, err := p.WriteAt([]byte{0xAB}, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	raw := make([]byte, 1)
	dev.ReadAt(raw, 0x1000)
	if raw[0] != 0xAB {
		t.Errorf("partition offset not applied: % x", raw)
	}
	if err := p.EraseRange(0, p.Size()); err != nil {
		t.Fatalf("EraseRange: %v", err)
	}
	if err := p.EraseRange(0, p.Size()+DefaultEraseSize); err == nil {
		t.Error("erase beyond partition should fail")
	}
}

func TestParseSubtype(t *testing.T) {
	tests := []struct {
		typ  Type
		in   string
		want Subtype
		err  bool
	}{
		{TypeApp, "factory", SubtypeFactory, false},
		{TypeApp, "ota_0", 0x10, false},
		{TypeApp, "OTA_15", 0x1F, false},
		{TypeApp, "ota_16", 0, true},
		{TypeData, "spiffs", SubtypeSpiffs, false},
		{TypeData, "0x99", 0x99, false},
		{TypeData, "bogus", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSubtype(tt.typ, tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseSubtype(%v, %q) error = %v, wantErr %v", tt.typ, tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSubtype(%v, %q) = 0x%02x, want 0x%02x", tt.typ, tt.in, got, tt.want)
		}
	}
}
