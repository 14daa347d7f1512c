// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/delta-ota/internal/ota"
)

// CheckAndApply applies a patch of patchSize bytes already staged in the
// patch partition and switches the boot partition on success. A zero size
// means there is nothing to apply; a negative size is returned as a
// *PatchSizeError without touching flash. It returns the destination size.
func CheckAndApply(platform *ota.Platform, patchSize int64, opts Options) (int64, error) {
	if patchSize < 0 {
		return 0, &PatchSizeError{Size: patchSize}
	}
	if patchSize == 0 {
		return 0, nil
	}
	slog.Info("Initializing delta update", "patch_size", patchSize)

	opts = opts.withDefaults()
	patch := platform.Table().Find(opts.Patch)
	if patch == nil {
		return 0, newError(PartitionError, "check", fmt.Errorf("no partition %q", opts.Patch))
	}

	s := NewSession(platform, opts)
	if err := s.Init(); err != nil {
		return 0, err
	}
	defer s.Deinit()

	return s.ApplyStaged(patch, patchSize)
}
