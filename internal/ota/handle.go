// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ota

import (
	"errors"
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/ffutop/delta-ota/internal/flash"
)

var (
	ErrHandleClosed  = errors.New("ota handle closed")
	ErrImageTooLarge = errors.New("image exceeds partition size")
	ErrEmptyImage    = errors.New("image is empty")
)

// Handle is an append-only write session on an app partition.
type Handle struct {
	platform *Platform
	part     *flash.Partition

	written  int64
	erasedTo int64
	crc      hash.Hash32
	closed   bool
}

func newHandle(p *Platform, part *flash.Partition) *Handle {
	return &Handle{platform: p, part: part, crc: crc32.NewIEEE()}
}

// Partition returns the partition being written.
func (h *Handle) Partition() *flash.Partition { return h.part }

// Written returns the number of bytes written so far.
func (h *Handle) Written() int64 { return h.written }

// CRC32 returns the IEEE CRC of the bytes written so far.
func (h *Handle) CRC32() uint32 { return h.crc.Sum32() }

// Write appends b to the image, erasing sectors as the write position
// reaches them.
func (h *Handle) Write(b []byte) (int, error) {
	if h.closed {
		return 0, ErrHandleClosed
	}
	end := h.written + int64(len(b))
	if end > h.part.Size() {
		return 0, fmt.Errorf("%s: %w", h.part.Label(), ErrImageTooLarge)
	}

	es := h.part.EraseSize()
	for h.erasedTo < end {
		if err := h.part.EraseRange(h.erasedTo, es); err != nil {
			return 0, fmt.Errorf("failed to erase sector at 0x%x: %w", h.erasedTo, err)
		}
		h.erasedTo += es
	}

	n, err := h.part.WriteAt(b, h.written)
	h.written += int64(n)
	h.crc.Write(b[:n])
	return n, err
}

// End closes the session and marks the image complete. An empty image is
// rejected.
func (h *Handle) End() error {
	if h.closed {
		return ErrHandleClosed
	}
	h.closed = true
	if h.written == 0 {
		h.platform.release(h, false)
		return fmt.Errorf("%s: %w", h.part.Label(), ErrEmptyImage)
	}
	h.platform.release(h, true)
	return nil
}

// Abort closes the session without completing the image. It is a no-op on
// a closed handle.
func (h *Handle) Abort() {
	if h.closed {
		return
	}
	h.closed = true
	h.platform.release(h, false)
}
