// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// FileDevice emulates a flash chip with plain file operations.
// Every write is read back first to enforce NOR semantics, so it is slower
// than MmapDevice but works on filesystems without mmap support.
type FileDevice struct {
	path      string
	file      *os.File
	size      int64
	eraseSize int64
	scratch   []byte
}

// OpenFileDevice opens (creating if necessary) a chip image at path.
// A new or resized image is filled with 0xFF.
func OpenFileDevice(path string, size, eraseSize int64) (*FileDevice, error) {
	if eraseSize <= 0 {
		eraseSize = DefaultEraseSize
	}
	f, isNew, err := openImage(path, size)
	if err != nil {
		return nil, err
	}

	d := &FileDevice{
		path:      path,
		file:      f,
		size:      size,
		eraseSize: eraseSize,
		scratch:   make([]byte, eraseSize),
	}
	fill(d.scratch)

	if isNew {
		if err := d.Erase(0, size-size%eraseSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialise flash image: %w", err)
		}
	}
	return d, nil
}

// openImage opens the backing file and makes sure it has the given size.
// It reports whether the image had to be created or resized.
func openImage(path string, size int64) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open flash image: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}

	if fi.Size() == size {
		return f, false, nil
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("failed to resize flash image: %w", err)
	}
	return f, true, nil
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if d.file == nil {
		return 0, ErrClosed
	}
	if err := checkRange("read", off, int64(len(p)), d.size); err != nil {
		return 0, err
	}
	n, err := d.file.ReadAt(p, off)
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	return n, err
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.file == nil {
		return 0, ErrClosed
	}
	if err := checkRange("write", off, int64(len(p)), d.size); err != nil {
		return 0, err
	}

	cur := make([]byte, len(p))
	if _, err := d.file.ReadAt(cur, off); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("flash read before write at 0x%x: %w", off, err)
	}
	if !canProgram(cur, p) {
		return 0, fmt.Errorf("write at 0x%x: %w", off, ErrWriteRequiresErase)
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	return d.file.WriteAt(cur, off)
}

func (d *FileDevice) Erase(off, size int64) error {
	if d.file == nil {
		return ErrClosed
	}
	if err := checkErase(off, size, d.size, d.eraseSize); err != nil {
		return err
	}
	for size > 0 {
		if _, err := d.file.WriteAt(d.scratch, off); err != nil {
			return fmt.Errorf("flash erase block at 0x%x: %w", off, err)
		}
		off += d.eraseSize
		size -= d.eraseSize
	}
	return nil
}

func (d *FileDevice) Size() int64      { return d.size }
func (d *FileDevice) EraseSize() int64 { return d.eraseSize }

// Sync flushes the image to disk.
func (d *FileDevice) Sync() error {
	if d.file == nil {
		return ErrClosed
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync flash image to disk: %w", err)
	}
	return nil
}

// Close the file.
func (d *FileDevice) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
