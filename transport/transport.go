// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Upload is one patch received by an upstream.
type Upload struct {
	Body io.Reader
	// Size is the declared patch size, or -1 if the sender did not say.
	Size int64
	// Mode overrides the configured apply mode when not empty.
	Mode string
	// Source identifies the sender for logging.
	Source string
}

// UpdateHandler consumes an upload. It returns once the patch has been
// applied or has failed.
type UpdateHandler func(ctx context.Context, up Upload) error

// Upstream represents a source of patch uploads.
// It acts as a Server.
type Upstream interface {
	// Start starts the server and blocks until ctx is done or the server
	// fails.
	Start(ctx context.Context, handler UpdateHandler) error
	Close() error
}

// TimeoutError is implemented by receive errors that may be retried.
type TimeoutError interface {
	Timeout() bool
}

// DeadlineReader arms a fresh read deadline before every Read, so a stalled
// sender surfaces as a timeout error that the caller may retry.
type DeadlineReader struct {
	R           io.Reader
	SetDeadline func(time.Time) error
	Timeout     time.Duration
}

func (d *DeadlineReader) Read(p []byte) (int, error) {
	if d.Timeout > 0 && d.SetDeadline != nil {
		if err := d.SetDeadline(time.Now().Add(d.Timeout)); err != nil {
			return 0, err
		}
	}
	return d.R.Read(p)
}

// TimeoutReader bounds every Read by Timeout without touching the
// underlying connection, for readers whose deadline errors are fatal. A
// read that times out keeps running in the background and its data is
// returned by the next Read. TimeoutReader is not safe for concurrent use.
type TimeoutReader struct {
	R       io.Reader
	Timeout time.Duration

	pending chan readResult
	buf     []byte
	data    []byte
	err     error
}

type readResult struct {
	n   int
	err error
}

// ReadTimeoutError is returned by TimeoutReader when Timeout elapses.
type ReadTimeoutError struct {
	After time.Duration
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("no data received within %s", e.After)
}

// Timeout reports that the read may be retried.
func (e *ReadTimeoutError) Timeout() bool { return true }

func (t *TimeoutReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(t.data) > 0 {
		n := copy(p, t.data)
		t.data = t.data[n:]
		return n, nil
	}
	if t.err != nil {
		return 0, t.err
	}
	if t.Timeout <= 0 && t.pending == nil {
		return t.R.Read(p)
	}

	if t.pending == nil {
		if cap(t.buf) < len(p) {
			t.buf = make([]byte, len(p))
		}
		buf := t.buf[:len(p)]
		ch := make(chan readResult, 1)
		go func() {
			n, err := t.R.Read(buf)
			ch <- readResult{n: n, err: err}
		}()
		t.pending = ch
	}

	timer := time.NewTimer(t.Timeout)
	defer timer.Stop()
	select {
	case res := <-t.pending:
		t.pending = nil
		t.data = t.buf[:res.n]
		n := copy(p, t.data)
		t.data = t.data[n:]
		if res.err != nil {
			t.err = res.err
			if len(t.data) == 0 {
				return n, res.err
			}
		}
		return n, nil
	case <-timer.C:
		return 0, &ReadTimeoutError{After: t.Timeout}
	}
}
