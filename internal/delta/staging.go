// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/delta-ota/internal/flash"
)

// StagingWriter persists an incoming patch into the patch partition.
type StagingWriter struct {
	region   flash.Region
	declared int64
	offset   int64

	// erasedTo is the end of the erased span. Nothing is written past it
	// and nothing below it is erased again.
	erasedTo int64
}

// NewStagingWriter prepares the partition labelled label for a patch of
// declared bytes. The erase-aligned span covering declared is erased here,
// once.
func NewStagingWriter(table *flash.Table, label string, declared int64) (*StagingWriter, error) {
	part := table.Find(label)
	if part == nil {
		return nil, newError(PartitionError, "stage", fmt.Errorf("no partition %q", label))
	}
	return newStagingWriter(part, declared)
}

func newStagingWriter(r flash.Region, declared int64) (*StagingWriter, error) {
	if declared <= 0 {
		return nil, newError(InvalidArgumentError, "stage "+r.Label(), fmt.Errorf("declared size %d", declared))
	}
	es := r.EraseSize()
	span := (declared + es - 1) / es * es
	if span > r.Size() {
		return nil, newError(OutOfBoundsError, "stage "+r.Label(), fmt.Errorf("patch of %d bytes exceeds partition size %d", declared, r.Size()))
	}
	if err := r.EraseRange(0, span); err != nil {
		return nil, newError(ClearingError, "stage "+r.Label(), err)
	}
	slog.Debug("Patch partition erased", "partition", r.Label(), "span", span)

	return &StagingWriter{region: r, declared: declared, erasedTo: span}, nil
}

// Write appends p to the staged patch. It fails without touching flash once
// the declared size has been reached.
func (w *StagingWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, newError(InvalidBufferSize, "stage "+w.region.Label(), nil)
	}
	if w.offset >= w.declared || w.offset+int64(len(p)) > w.erasedTo {
		return 0, newError(OutOfBoundsError, "stage "+w.region.Label(), nil)
	}
	n, err := w.region.WriteAt(p, w.offset)
	w.offset += int64(n)
	if err != nil {
		return n, newError(WritingError, "stage "+w.region.Label(), err)
	}
	return n, nil
}

// Offset returns the number of bytes staged so far.
func (w *StagingWriter) Offset() int64 { return w.offset }

// Declared returns the declared patch size.
func (w *StagingWriter) Declared() int64 { return w.declared }

// Region returns the patch partition.
func (w *StagingWriter) Region() flash.Region { return w.region }
