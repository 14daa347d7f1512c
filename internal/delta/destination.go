// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import (
	"github.com/ffutop/delta-ota/internal/flash"
	"github.com/ffutop/delta-ota/internal/ota"
)

// DestinationWriter appends the reconstructed image to the destination
// partition. There is no commit here: the boot switch commits.
type DestinationWriter struct {
	handle *ota.Handle
}

// BeginDestination opens an OTA write session on part.
func BeginDestination(platform *ota.Platform, part *flash.Partition) (*DestinationWriter, error) {
	if part == nil {
		return nil, newError(PartitionError, "begin", nil)
	}
	h, err := platform.Begin(part)
	if err != nil {
		return nil, newError(PartitionError, "begin "+part.Label(), err)
	}
	return &DestinationWriter{handle: h}, nil
}

// Write appends p.
func (w *DestinationWriter) Write(p []byte) error {
	if len(p) == 0 {
		return newError(InvalidBufferSize, "write "+w.handle.Partition().Label(), nil)
	}
	if _, err := w.handle.Write(p); err != nil {
		return newError(WritingError, "write "+w.handle.Partition().Label(), err)
	}
	return nil
}

// Written returns the number of bytes written so far.
func (w *DestinationWriter) Written() int64 {
	return w.handle.Written()
}

func (w *DestinationWriter) end() error {
	return w.handle.End()
}

func (w *DestinationWriter) abort() {
	w.handle.Abort()
}
