// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import "github.com/ffutop/delta-ota/internal/flash"

// FlashCursor reads a region front to back. An operation that leaves the
// offset at or past the region size fails, even when the read itself
// succeeded.
type FlashCursor struct {
	region flash.Region
	offset int64

	readCode Code
	endCode  Code
}

// NewSourceCursor returns a cursor over the source image.
func NewSourceCursor(r flash.Region) *FlashCursor {
	return &FlashCursor{region: r, readCode: ReadingSourceError, endCode: OutOfMemory}
}

// NewPatchCursor returns a cursor over a staged patch.
func NewPatchCursor(r flash.Region) *FlashCursor {
	return &FlashCursor{region: r, readCode: ReadingPatchError, endCode: ReadingPatchError}
}

// Offset returns the current read position.
func (c *FlashCursor) Offset() int64 {
	return c.offset
}

// Read fills p from the current offset and advances past it.
func (c *FlashCursor) Read(p []byte) error {
	if len(p) == 0 {
		return newError(InvalidBufferSize, "read "+c.region.Label(), nil)
	}
	if _, err := c.region.ReadAt(p, c.offset); err != nil {
		return newError(c.readCode, "read "+c.region.Label(), err)
	}
	c.offset += int64(len(p))
	if c.offset >= c.region.Size() {
		return newError(c.endCode, "read "+c.region.Label(), nil)
	}
	return nil
}

// SeekBy moves the offset by delta bytes.
func (c *FlashCursor) SeekBy(delta int) error {
	next := c.offset + int64(delta)
	if next < 0 || next >= c.region.Size() {
		return newError(SeekingError, "seek "+c.region.Label(), nil)
	}
	c.offset = next
	return nil
}

// ReadPatch makes a patch cursor usable as a detools.PatchReader.
func (c *FlashCursor) ReadPatch(p []byte) error {
	return c.Read(p)
}
