// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flash

import (
	"fmt"
	"log/slog"
)

// Open creates the device for the named backend: "memory", "file" or "mmap".
func Open(backend, path string, size, eraseSize int64) (Device, error) {
	switch backend {
	case "file":
		slog.Info("Opening flash image with file backend", "path", path, "size", size)
		return OpenFileDevice(path, size, eraseSize)
	case "mmap":
		slog.Info("Opening flash image with MMAP backend", "path", path, "size", size)
		return OpenMmapDevice(path, size, eraseSize)
	case "", "memory":
		slog.Info("Using volatile in-memory flash", "size", size)
		return NewMemoryDevice(size, eraseSize), nil
	default:
		return nil, fmt.Errorf("unknown flash backend %q", backend)
	}
}
