// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package ota tracks the running image and the boot selection, and opens
// write sessions against application partitions.
package ota

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/delta-ota/internal/flash"
)

var (
	ErrNotUpdatable    = errors.New("partition is not an updatable app slot")
	ErrRunning         = errors.New("partition is the running image")
	ErrInProgress      = errors.New("update already in progress on partition")
	ErrImageIncomplete = errors.New("no completed image for partition")
)

// Platform is the OTA view of a partition table.
type Platform struct {
	table *flash.Table
	store BootStore

	mu        sync.Mutex
	running   *flash.Partition
	open      map[string]*Handle
	completed map[string]*Handle
	seq       uint32
}

// NewPlatform resolves the running partition from the boot store. Without
// a boot record the first OTA slot runs, or the factory slot if there is
// no OTA slot.
func NewPlatform(table *flash.Table, store BootStore) (*Platform, error) {
	p := &Platform{
		table:     table,
		store:     store,
		open:      make(map[string]*Handle),
		completed: make(map[string]*Handle),
	}

	rec, err := store.Load()
	if err != nil {
		return nil, err
	}
	if rec != nil {
		p.seq = rec.Seq
		p.running = table.Find(rec.Label)
		if p.running == nil {
			slog.Warn("Boot record names unknown partition, falling back", "label", rec.Label)
		}
	}
	if p.running == nil {
		p.running = p.defaultBoot()
	}
	if p.running == nil {
		return nil, errors.New("partition table has no app partition")
	}

	slog.Info("OTA platform ready", "running", p.running.Label(), "seq", p.seq)
	return p, nil
}

func (p *Platform) defaultBoot() *flash.Partition {
	if part := p.table.FindFirst(flash.TypeApp, flash.SubtypeFactory, ""); part != nil {
		return part
	}
	for _, part := range p.table.Partitions() {
		if part.IsOTASlot() {
			return part
		}
	}
	return nil
}

// Table returns the partition table.
func (p *Platform) Table() *flash.Table {
	return p.table
}

// RunningPartition returns the partition holding the executing image.
func (p *Platform) RunningPartition() *flash.Partition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NextUpdatePartition returns the OTA slot following the running one, in
// table order and wrapping around. It returns nil when there is no other
// slot.
func (p *Platform) NextUpdatePartition() *flash.Partition {
	running := p.RunningPartition()

	var slots []*flash.Partition
	idx := -1
	for _, part := range p.table.Partitions() {
		if !part.IsOTASlot() {
			continue
		}
		if part == running {
			idx = len(slots)
		}
		slots = append(slots, part)
	}
	if len(slots) == 0 {
		return nil
	}
	next := slots[(idx+1)%len(slots)]
	if next == running {
		return nil
	}
	return next
}

// Begin opens a write session on part. The partition is erased lazily,
// one sector ahead of the write position.
func (p *Platform) Begin(part *flash.Partition) (*Handle, error) {
	if part == nil || !part.IsUpdatable() {
		return nil, ErrNotUpdatable
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if part == p.running {
		return nil, fmt.Errorf("%s: %w", part.Label(), ErrRunning)
	}
	if _, busy := p.open[part.Label()]; busy {
		return nil, fmt.Errorf("%s: %w", part.Label(), ErrInProgress)
	}
	h := newHandle(p, part)
	p.open[part.Label()] = h
	delete(p.completed, part.Label())

	slog.Debug("OTA write session opened", "partition", part.Label())
	return h, nil
}

func (p *Platform) release(h *Handle, completed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open[h.part.Label()] == h {
		delete(p.open, h.part.Label())
	}
	if completed {
		p.completed[h.part.Label()] = h
	}
}

// SetBootPartition selects part for the next boot. part must hold an
// image completed with Handle.End.
func (p *Platform) SetBootPartition(part *flash.Partition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.completed[part.Label()]
	if !ok {
		return fmt.Errorf("%s: %w", part.Label(), ErrImageIncomplete)
	}
	rec := BootRecord{
		Seq:       p.seq + 1,
		Label:     part.Label(),
		ImageSize: h.Written(),
		CRC32:     h.CRC32(),
		Updated:   time.Now(),
	}
	if err := p.store.Save(rec); err != nil {
		return fmt.Errorf("failed to persist boot selection: %w", err)
	}
	p.seq = rec.Seq

	slog.Info("Boot partition set", "partition", part.Label(), "seq", rec.Seq, "size", rec.ImageSize, "crc32", fmt.Sprintf("%08x", rec.CRC32))
	return nil
}

// BootPartition returns the partition selected for the next boot.
func (p *Platform) BootPartition() (*flash.Partition, error) {
	rec, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if part := p.table.Find(rec.Label); part != nil {
			return part, nil
		}
	}
	return p.RunningPartition(), nil
}

// BootRecord returns the persisted boot record, nil if there is none.
func (p *Platform) BootRecord() (*BootRecord, error) {
	return p.store.Load()
}
