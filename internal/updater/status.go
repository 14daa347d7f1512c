// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package updater

import (
	"log/slog"
	"time"

	"github.com/ffutop/delta-ota/internal/delta"
)

const (
	StateIdle      = "idle"
	StateReceiving = "receiving"
	StateApplying  = "applying"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Status is a snapshot of the updater, served as JSON by the HTTP upstream.
type Status struct {
	Running        string    `json:"running"`
	Boot           string    `json:"boot"`
	State          string    `json:"state"`
	Mode           string    `json:"mode,omitempty"`
	Received       int64     `json:"received"`
	Total          int64     `json:"total"`
	LastStatus     int       `json:"last_status"`
	LastError      string    `json:"last_error,omitempty"`
	RestartPending bool      `json:"restart_pending"`
	Updated        time.Time `json:"updated"`
}

// Status returns the current state together with the running and boot
// partitions.
func (u *Updater) Status() Status {
	u.mu.Lock()
	st := u.status
	u.mu.Unlock()

	if p := u.platform.RunningPartition(); p != nil {
		st.Running = p.Label()
	}
	if p, err := u.platform.BootPartition(); err == nil && p != nil {
		st.Boot = p.Label()
	}
	return st
}

func (u *Updater) begin(mode string, total int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status.State = StateReceiving
	u.status.Mode = mode
	u.status.Received = 0
	u.status.Total = total
	u.status.Updated = time.Now()
}

func (u *Updater) end(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status.LastStatus = delta.Status(err)
	u.status.LastError = ""
	u.status.State = StateSucceeded
	if err != nil {
		u.status.LastError = err.Error()
		u.status.State = StateFailed
	}
	u.status.Updated = time.Now()
}

func (u *Updater) setState(state string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status.State = state
	u.status.Updated = time.Now()
}

func (u *Updater) setReceived(n int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status.Received = n
}

// progressStep is the logging interval for uploads of unknown size.
const progressStep = 64 << 10

type progress struct {
	total int64
	next  int64
}

func newProgress(total int64) *progress {
	p := &progress{total: total}
	p.next = p.step()
	return p
}

func (p *progress) step() int64 {
	if p.total > 0 {
		if s := p.total / 10; s > 0 {
			return s
		}
		return p.total
	}
	return progressStep
}

func (p *progress) update(received int64) {
	if received < p.next {
		return
	}
	for p.next <= received {
		p.next += p.step()
	}
	if p.total > 0 {
		slog.Debug("Receiving patch", "received", received, "total", p.total, "percent", received*100/p.total)
		return
	}
	slog.Debug("Receiving patch", "received", received)
}
