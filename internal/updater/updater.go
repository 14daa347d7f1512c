// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"gopkg.in/retry.v1"

	"github.com/ffutop/delta-ota/internal/config"
	"github.com/ffutop/delta-ota/internal/delta"
	"github.com/ffutop/delta-ota/internal/ota"
	"github.com/ffutop/delta-ota/transport"
)

const (
	ModeStaged    = "staged"
	ModeStreaming = "streaming"
)

var (
	// ErrBusy is returned while another upload is being applied.
	ErrBusy = errors.New("update already in progress")
	// ErrLengthRequired is returned for a staged upload of unknown size.
	ErrLengthRequired = errors.New("patch length required in staged mode")
)

// Updater receives patches from its upstreams and applies them, one at a
// time.
type Updater struct {
	Upstreams []transport.Upstream

	platform *ota.Platform
	cfg      config.OTAConfig
	opts     delta.Options
	strategy retry.Strategy
	restart  func()

	busy sync.Mutex

	mu           sync.Mutex
	status       Status
	restartTimer *time.Timer
}

// New creates an Updater. restart is called once, RestartDelay after an
// update has been committed; it may be nil.
func New(platform *ota.Platform, cfg config.OTAConfig, upstreams []transport.Upstream, restart func()) *Updater {
	return &Updater{
		Upstreams: upstreams,
		platform:  platform,
		cfg:       cfg,
		opts: delta.Options{
			Source:      cfg.Source,
			Destination: cfg.Destination,
			Patch:       cfg.Patch,
		},
		strategy: retry.LimitCount(cfg.RecvRetries+1, retry.Exponential{
			Initial:  10 * time.Millisecond,
			Factor:   2,
			MaxDelay: time.Second,
		}),
		restart: restart,
		status:  Status{State: StateIdle},
	}
}

// Start starts all upstream servers and blocks until ctx is done.
func (u *Updater) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, us := range u.Upstreams {
		wg.Add(1)
		go func(ups transport.Upstream, idx int) {
			defer wg.Done()
			slog.Info("Starting upstream", "index", idx)
			if err := ups.Start(ctx, u.Handle); err != nil {
				slog.Error("Upstream stopped with error", "index", idx, "err", err)
			}
		}(us, i)
	}

	<-ctx.Done()

	// Graceful shutdown
	for _, us := range u.Upstreams {
		us.Close()
	}
	u.Stop()

	wg.Wait()
	return nil
}

// Stop cancels a pending restart.
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.restartTimer != nil {
		u.restartTimer.Stop()
		u.restartTimer = nil
		u.status.RestartPending = false
	}
}

// Handle receives and applies one upload. It is the transport.UpdateHandler
// given to every upstream.
func (u *Updater) Handle(ctx context.Context, up transport.Upload) error {
	if !u.busy.TryLock() {
		return ErrBusy
	}
	defer u.busy.Unlock()

	mode := up.Mode
	if mode == "" {
		mode = u.cfg.Mode
	}
	if u.cfg.RateLimit > 0 {
		bucket := ratelimit.NewBucketWithRate(float64(u.cfg.RateLimit), 2*u.cfg.RateLimit)
		up.Body = ratelimit.Reader(up.Body, bucket)
	}

	slog.Info("Patch upload started", "from", up.Source, "mode", mode, "size", up.Size)
	u.begin(mode, up.Size)
	start := time.Now()

	var committed bool
	var err error
	switch mode {
	case ModeStaged:
		committed, err = u.applyStaged(ctx, up)
	case ModeStreaming:
		committed, err = u.applyStreaming(ctx, up)
	default:
		err = fmt.Errorf("unknown apply mode %q", mode)
	}
	u.end(err)

	if err != nil {
		status := delta.Status(err)
		slog.Error("Update failed", "err", err, "status", status, "reason", delta.ErrorString(status))
		return err
	}
	slog.Info("Update finished", "elapsed", time.Since(start), "committed", committed)
	if committed {
		u.scheduleRestart()
	}
	return nil
}

// ApplyFile stages the patch at path and applies it.
func (u *Updater) ApplyFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open patch: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat patch: %w", err)
	}
	return u.Handle(ctx, transport.Upload{Body: f, Size: fi.Size(), Mode: ModeStaged, Source: path})
}

func (u *Updater) applyStaged(ctx context.Context, up transport.Upload) (bool, error) {
	if up.Size < 0 {
		return false, ErrLengthRequired
	}
	if up.Size > 0 {
		w, err := delta.NewStagingWriter(u.platform.Table(), u.opts.Patch, up.Size)
		if err != nil {
			return false, err
		}
		start := time.Now()
		_, err = u.receive(ctx, up, func(p []byte) error {
			_, err := w.Write(p)
			return err
		})
		if err != nil {
			return false, err
		}
		slog.Info("Patch downloaded", "elapsed", time.Since(start))
	}

	slog.Info("Ready to apply patch")
	u.setState(StateApplying)
	n, err := delta.CheckAndApply(u.platform, up.Size, u.opts)
	return n > 0, err
}

func (u *Updater) applyStreaming(ctx context.Context, up transport.Upload) (bool, error) {
	s := delta.NewSession(u.platform, u.opts)
	if err := s.Init(); err != nil {
		return false, err
	}
	defer s.Deinit()

	if _, err := u.receive(ctx, up, s.Feed); err != nil {
		return false, err
	}
	u.setState(StateApplying)
	if _, err := s.Finish(); err != nil {
		return false, err
	}
	return s.Committed(), nil
}

// receive reads the upload in chunks of ChunkSize and hands each chunk to
// sink. A read that times out is retried, the sink never is.
func (u *Updater) receive(ctx context.Context, up transport.Upload, sink func([]byte) error) (int64, error) {
	buf := make([]byte, u.cfg.ChunkSize)
	prog := newProgress(up.Size)
	var received int64

	for up.Size < 0 || received < up.Size {
		p := buf
		if up.Size >= 0 && up.Size-received < int64(len(p)) {
			p = p[:up.Size-received]
		}
		n, err := u.read(ctx, up.Body, p)
		if n > 0 {
			if serr := sink(p[:n]); serr != nil {
				return received, serr
			}
			received += int64(n)
			u.setReceived(received)
			prog.update(received)
		}
		if err == io.EOF {
			if up.Size < 0 {
				return received, nil
			}
			return received, fmt.Errorf("patch truncated after %d of %d bytes: %w", received, up.Size, io.ErrUnexpectedEOF)
		}
		if err != nil {
			return received, fmt.Errorf("failed to receive patch: %w", err)
		}
	}
	return received, nil
}

func (u *Updater) read(ctx context.Context, r io.Reader, p []byte) (int, error) {
	var n int
	var err error
	for a := retry.Start(u.strategy, nil); a.Next(); {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		n, err = r.Read(p)
		if n > 0 || !isTimeout(err) {
			return n, err
		}
		slog.Warn("Receive timed out, retrying", "attempt", a.Count())
	}
	return n, err
}

func isTimeout(err error) bool {
	var t transport.TimeoutError
	return errors.As(err, &t) && t.Timeout()
}

func (u *Updater) scheduleRestart() {
	if u.restart == nil {
		return
	}
	slog.Info("Restarting to boot the new image", "delay", u.cfg.RestartDelay)

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.restartTimer != nil {
		u.restartTimer.Stop()
	}
	u.restartTimer = time.AfterFunc(u.cfg.RestartDelay, u.restart)
	u.status.RestartPending = true
}
