// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

// MemoryDevice is a volatile flash chip (non-persistent).
type MemoryDevice struct {
	norArray
}

// NewMemoryDevice creates an erased chip of the given size.
func NewMemoryDevice(size, eraseSize int64) *MemoryDevice {
	if eraseSize <= 0 {
		eraseSize = DefaultEraseSize
	}
	data := make([]byte, size)
	fill(data)
	return &MemoryDevice{norArray{data: data, eraseSize: eraseSize}}
}

func (d *MemoryDevice) ReadAt(p []byte, off int64) (int, error)  { return d.readAt(p, off) }
func (d *MemoryDevice) WriteAt(p []byte, off int64) (int, error) { return d.writeAt(p, off) }
func (d *MemoryDevice) Erase(off, size int64) error              { return d.erase(off, size) }
func (d *MemoryDevice) Size() int64                              { return int64(len(d.data)) }
func (d *MemoryDevice) EraseSize() int64                         { return d.eraseSize }

func (d *MemoryDevice) Close() error {
	d.data = nil
	return nil
}
