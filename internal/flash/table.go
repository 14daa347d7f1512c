// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"fmt"
	"log/slog"
	"sort"
)

// Entry describes one partition of the table.
type Entry struct {
	Label   string
	Type    Type
	Subtype Subtype
	Offset  int64
	Size    int64
}

// Table is the registry of partitions on a device.
type Table struct {
	dev        Device
	partitions []*Partition
}

// NewTable validates entries against dev and builds the registry.
// Offsets and sizes must be erase aligned, labels unique and partitions
// must not overlap.
func NewTable(dev Device, entries []Entry) (*Table, error) {
	es := dev.EraseSize()
	labels := make(map[string]struct{}, len(entries))
	t := &Table{dev: dev}

	for _, e := range entries {
		if e.Label == "" {
			return nil, fmt.Errorf("partition at 0x%x has no label", e.Offset)
		}
		if _, dup := labels[e.Label]; dup {
			return nil, fmt.Errorf("duplicate partition label %q", e.Label)
		}
		labels[e.Label] = struct{}{}

		if e.Size <= 0 {
			return nil, fmt.Errorf("partition %s: invalid size %d", e.Label, e.Size)
		}
		if e.Offset%es != 0 || e.Size%es != 0 {
			return nil, fmt.Errorf("partition %s: %w", e.Label, &AlignmentError{Offset: e.Offset, Length: e.Size, EraseSize: es})
		}
		if err := checkRange("map", e.Offset, e.Size, dev.Size()); err != nil {
			return nil, fmt.Errorf("partition %s: %w", e.Label, err)
		}

		t.partitions = append(t.partitions, &Partition{
			label:   e.Label,
			typ:     e.Type,
			subtype: e.Subtype,
			offset:  e.Offset,
			size:    e.Size,
			dev:     dev,
		})
	}

	sorted := make([]*Partition, len(t.partitions))
	copy(sorted, t.partitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.offset+prev.size > cur.offset {
			return nil, fmt.Errorf("partition %s overlaps %s", cur.label, prev.label)
		}
	}

	for _, p := range t.partitions {
		slog.Debug("Partition registered", "label", p.label, "type", p.typ, "subtype", p.subtype, "offset", p.offset, "size", p.size)
	}
	return t, nil
}

// Device returns the underlying chip.
func (t *Table) Device() Device {
	return t.dev
}

// Partitions returns the partitions in table order.
func (t *Table) Partitions() []*Partition {
	return t.partitions
}

// Find returns the partition with the given label, or nil.
func (t *Table) Find(label string) *Partition {
	for _, p := range t.partitions {
		if p.label == label {
			return p
		}
	}
	return nil
}

// FindFirst returns the first partition matching typ and subtype
// (SubtypeAny matches every subtype) and, when label is not empty, label.
func (t *Table) FindFirst(typ Type, subtype Subtype, label string) *Partition {
	for _, p := range t.partitions {
		if p.typ != typ {
			continue
		}
		if subtype != SubtypeAny && p.subtype != subtype {
			continue
		}
		if label != "" && p.label != label {
			continue
		}
		return p
	}
	return nil
}
