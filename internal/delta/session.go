// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/delta-ota/internal/flash"
	"github.com/ffutop/delta-ota/internal/ota"
)

// State is the lifecycle state of a Session.
type State int

const (
	Uninitialized State = iota
	Ready
	Applying
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Applying:
		return "applying"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one update: Init, any number of Feed calls, Finish, Deinit.
// A Session is not safe for concurrent use.
type Session struct {
	platform *ota.Platform
	opts     Options

	state     State
	src       *flash.Partition
	dst       *flash.Partition
	dest      *DestinationWriter
	engine    *Engine
	size      int64
	committed bool
}

// NewSession returns an uninitialized session. Empty labels in opts take
// their defaults.
func NewSession(platform *ota.Platform, opts Options) *Session {
	return &Session{platform: platform, opts: opts.withDefaults()}
}

// Init resolves the partitions and opens the destination. On failure the
// session stays Uninitialized.
func (s *Session) Init() error {
	if s.state != Uninitialized {
		return newError(InvalidArgumentError, "init", fmt.Errorf("session is %s", s.state))
	}
	src, dst, err := resolveImages(s.platform, s.opts)
	if err != nil {
		return err
	}
	dest, err := BeginDestination(s.platform, dst)
	if err != nil {
		return err
	}

	s.src, s.dst, s.dest = src, dst, dest
	s.engine = NewEngine(NewSourceCursor(src), dest)
	s.size = 0
	s.committed = false
	s.state = Ready

	slog.Info("Delta session initialized", "source", src.Label(), "destination", dst.Label())
	return nil
}

// Feed pushes the next patch bytes. Bytes must arrive in order.
func (s *Session) Feed(p []byte) error {
	if s.state != Ready && s.state != Applying {
		return newError(InvalidArgumentError, "feed", fmt.Errorf("session is %s", s.state))
	}
	if len(p) == 0 {
		return newError(InvalidBufferSize, "feed", nil)
	}
	s.state = Applying
	if err := s.engine.Feed(p); err != nil {
		s.state = Failed
		return err
	}
	return nil
}

// Finish completes a streamed patch and switches the boot partition. It
// returns the destination image size.
func (s *Session) Finish() (int64, error) {
	if s.state != Applying {
		return 0, newError(InvalidArgumentError, "finish", fmt.Errorf("session is %s", s.state))
	}
	size, err := s.engine.Finalize()
	if err != nil {
		s.state = Failed
		return 0, err
	}
	return size, s.finished(size)
}

// ApplyStaged decodes a patch of size bytes held in the patch region and
// switches the boot partition. The session must be Ready.
func (s *Session) ApplyStaged(patch flash.Region, size int64) (int64, error) {
	if s.state != Ready {
		return 0, newError(InvalidArgumentError, "apply", fmt.Errorf("session is %s", s.state))
	}
	s.state = Applying
	n, err := s.engine.ApplyStaged(NewPatchCursor(patch), size)
	if err != nil {
		s.state = Failed
		return 0, err
	}
	return n, s.finished(n)
}

func (s *Session) finished(size int64) error {
	s.state = Finished
	s.size = size
	slog.Info("Patch applied", "destination", s.dst.Label(), "size", size)
	if size <= 0 {
		return nil
	}
	return s.bootSwitch()
}

// bootSwitch completes the destination image and selects it for the next
// boot.
func (s *Session) bootSwitch() error {
	if err := s.dest.end(); err != nil {
		return newError(TargetImageError, "boot switch", err)
	}
	if err := s.platform.SetBootPartition(s.dst); err != nil {
		return newError(TargetImageError, "boot switch", err)
	}
	s.committed = true
	if boot, err := s.platform.BootPartition(); err == nil {
		slog.Info("Next boot partition", "label", boot.Label(), "offset", fmt.Sprintf("0x%x", boot.Offset()))
	}
	return nil
}

// Deinit releases the decoder, aborts an uncommitted destination and
// clears the result of the run. It may be called in any state and more than
// once.
func (s *Session) Deinit() {
	if s.dest != nil && !s.committed {
		s.dest.abort()
	}
	s.dest = nil
	s.engine = nil
	s.src, s.dst = nil, nil
	s.size = 0
	s.committed = false
	s.state = Uninitialized
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Committed reports whether the destination was selected for the next boot.
func (s *Session) Committed() bool { return s.committed }

// Size returns the destination size after a successful apply.
func (s *Session) Size() int64 { return s.size }

// Source returns the resolved source partition, nil before Init.
func (s *Session) Source() *flash.Partition { return s.src }

// Destination returns the resolved destination partition, nil before Init.
func (s *Session) Destination() *flash.Partition { return s.dst }

// Progress returns the patch bytes consumed and destination bytes produced
// by a streamed patch.
func (s *Session) Progress() (consumed, written int64) {
	if s.engine == nil {
		return 0, 0
	}
	return s.engine.Progress()
}
