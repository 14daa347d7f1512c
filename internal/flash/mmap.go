// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapDevice emulates a flash chip on a memory-mapped image file.
// Writes go straight into the mapping; Sync flushes the dirty pages.
type MmapDevice struct {
	norArray
	path string
	file *os.File
	mm   mmap.MMap
}

// OpenMmapDevice maps (creating if necessary) a chip image at path.
func OpenMmapDevice(path string, size, eraseSize int64) (*MmapDevice, error) {
	if eraseSize <= 0 {
		eraseSize = DefaultEraseSize
	}
	f, isNew, err := openImage(path, size)
	if err != nil {
		return nil, err
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	d := &MmapDevice{
		norArray: norArray{data: mm, eraseSize: eraseSize},
		path:     path,
		file:     f,
		mm:       mm,
	}
	if isNew {
		fill(d.data)
		if err := d.Sync(); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *MmapDevice) ReadAt(p []byte, off int64) (int, error)  { return d.readAt(p, off) }
func (d *MmapDevice) WriteAt(p []byte, off int64) (int, error) { return d.writeAt(p, off) }
func (d *MmapDevice) Size() int64                              { return int64(len(d.data)) }
func (d *MmapDevice) EraseSize() int64                         { return d.eraseSize }

// Erase resets the range and flushes it, so an erased sector survives a
// crash before the following writes.
func (d *MmapDevice) Erase(off, size int64) error {
	if err := d.erase(off, size); err != nil {
		return err
	}
	if err := d.mm.Flush(); err != nil {
		slog.Error("Failed to flush mmap after erase", "offset", off, "err", err)
	}
	return nil
}

// Sync flushes the mapping to disk.
func (d *MmapDevice) Sync() error {
	if d.mm == nil {
		return ErrClosed
	}
	return d.mm.Flush()
}

// Close unmaps and closes the file.
func (d *MmapDevice) Close() error {
	var err error
	if d.mm != nil {
		if e := d.mm.Unmap(); e != nil {
			err = e
		}
		d.mm = nil
		d.data = nil
	}
	if d.file != nil {
		if e := d.file.Close(); e != nil {
			err = e
		}
		d.file = nil
	}
	return err
}
