// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import "github.com/ffutop/delta-ota/internal/detools"

// Engine drives the decoder over a source cursor and a destination writer.
// Errors from either side reach the caller unchanged.
type Engine struct {
	source  *FlashCursor
	dest    *DestinationWriter
	patcher *detools.Patcher
}

var _ detools.Callbacks = (*Engine)(nil)

// NewEngine binds source and dest to a fresh decoder.
func NewEngine(source *FlashCursor, dest *DestinationWriter) *Engine {
	e := &Engine{source: source, dest: dest}
	e.patcher = detools.NewPatcher(e)
	return e
}

func (e *Engine) ReadSource(p []byte) error   { return e.source.Read(p) }
func (e *Engine) SeekSource(offset int) error { return e.source.SeekBy(offset) }
func (e *Engine) WriteDest(p []byte) error    { return e.dest.Write(p) }

// ApplyStaged decodes a whole patch of size bytes pulled from patch and
// returns the destination size.
func (e *Engine) ApplyStaged(patch detools.PatchReader, size int64) (int64, error) {
	return detools.ApplyPatch(e, patch, size)
}

// Feed pushes the next patch bytes into the decoder.
func (e *Engine) Feed(p []byte) error {
	if len(p) == 0 {
		return newError(InvalidBufferSize, "feed", nil)
	}
	return e.patcher.Process(p)
}

// Finalize completes a streamed patch and returns the destination size.
func (e *Engine) Finalize() (int64, error) {
	return e.patcher.Finalize()
}

// Progress returns the patch bytes consumed and destination bytes produced
// in streaming mode.
func (e *Engine) Progress() (consumed, written int64) {
	return e.patcher.Consumed(), e.patcher.Written()
}
