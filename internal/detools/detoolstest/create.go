// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package detoolstest builds sequential patches for tests.
package detoolstest

import "github.com/ffutop/delta-ota/internal/detools"

const (
	diffBlock  = 200
	extraBlock = 7
)

// Create returns an uncompressed sequential patch turning from into to.
// The patch is valid but makes no attempt to be small.
func Create(from, to []byte) []byte {
	patch := []byte{detools.Header(detools.PatchTypeSequential, detools.CompressionNone)}
	patch = detools.AppendUsize(patch, uint64(len(to)))

	fromPos, toPos := 0, 0
	for toPos < len(to) {
		diff := min(diffBlock, len(to)-toPos, len(from)-fromPos)
		patch = detools.AppendSize(patch, int64(diff))
		for i := 0; i < diff; i++ {
			patch = append(patch, to[toPos+i]-from[fromPos+i])
		}
		fromPos += diff
		toPos += diff

		extra := min(extraBlock, len(to)-toPos)
		patch = detools.AppendSize(patch, int64(extra))
		patch = append(patch, to[toPos:toPos+extra]...)
		toPos += extra

		// Keep the source cursor in step with the destination.
		adjust := min(extra, len(from)-fromPos)
		if toPos == len(to) {
			adjust = 0
		}
		patch = detools.AppendSize(patch, int64(adjust))
		fromPos += adjust
	}
	return patch
}
