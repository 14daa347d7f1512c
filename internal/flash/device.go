// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"errors"
	"fmt"
)

const (
	// DefaultEraseSize is the erase-unit (sector) size of the emulated chip.
	DefaultEraseSize = 0x1000

	erasedByte = 0xFF
)

// ErrWriteRequiresErase is returned when a write would set a bit that is
// currently cleared. NOR flash can only clear bits; setting them back needs
// an erase of the enclosing sector.
var ErrWriteRequiresErase = errors.New("flash write requires erase")

// ErrClosed is returned by operations on a closed device.
var ErrClosed = errors.New("flash device closed")

// Device is a raw flash chip addressed from offset 0.
// Erased bytes read back as 0xFF.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Erase resets [off, off+size) to 0xFF. Both values must be
	// multiples of EraseSize.
	Erase(off, size int64) error
	Size() int64
	EraseSize() int64
	Close() error
}

// RangeError reports an access outside of a device or partition.
type RangeError struct {
	Op     string
	Offset int64
	Length int64
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("flash %s at 0x%x (len %d) out of range: size is 0x%x", e.Op, e.Offset, e.Length, e.Size)
}

// AlignmentError reports an erase request that does not fall on sector boundaries.
type AlignmentError struct {
	Offset    int64
	Length    int64
	EraseSize int64
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("flash erase at 0x%x (len %d) not aligned to 0x%x", e.Offset, e.Length, e.EraseSize)
}

func checkRange(op string, off, length, size int64) error {
	if off < 0 || length < 0 || off+length > size {
		return &RangeError{Op: op, Offset: off, Length: length, Size: size}
	}
	return nil
}

func checkErase(off, length, size, eraseSize int64) error {
	if off%eraseSize != 0 || length%eraseSize != 0 {
		return &AlignmentError{Offset: off, Length: length, EraseSize: eraseSize}
	}
	return checkRange("erase", off, length, size)
}

// canProgram reports whether every bit set in p is still set in cur.
func canProgram(cur, p []byte) bool {
	for i := range p {
		if cur[i]&p[i] != p[i] {
			return false
		}
	}
	return true
}

// norArray implements NOR semantics over a byte slice. It backs both the
// in-memory and the memory-mapped device.
type norArray struct {
	data      []byte
	eraseSize int64
}

func (a *norArray) readAt(p []byte, off int64) (int, error) {
	if a.data == nil {
		return 0, ErrClosed
	}
	if err := checkRange("read", off, int64(len(p)), int64(len(a.data))); err != nil {
		return 0, err
	}
	return copy(p, a.data[off:]), nil
}

func (a *norArray) writeAt(p []byte, off int64) (int, error) {
	if a.data == nil {
		return 0, ErrClosed
	}
	if err := checkRange("write", off, int64(len(p)), int64(len(a.data))); err != nil {
		return 0, err
	}
	dst := a.data[off : off+int64(len(p))]
	if !canProgram(dst, p) {
		return 0, fmt.Errorf("write at 0x%x: %w", off, ErrWriteRequiresErase)
	}
	for i := range p {
		dst[i] &= p[i]
	}
	return len(p), nil
}

func (a *norArray) erase(off, size int64) error {
	if a.data == nil {
		return ErrClosed
	}
	if err := checkErase(off, size, int64(len(a.data)), a.eraseSize); err != nil {
		return err
	}
	fill(a.data[off : off+size])
	return nil
}

func fill(b []byte) {
	for i := range b {
		b[i] = erasedByte
	}
}
