// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package uart receives framed patch uploads on a serial line.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/grid-x/serial"

	"github.com/ffutop/delta-ota/internal/config"
	"github.com/ffutop/delta-ota/transport"
)

// Server waits for uploads from a single peer on the serial bus.
type Server struct {
	Config config.SerialConfig

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewServer creates a new UART Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start opens the serial port and serves uploads until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.UpdateHandler) error {
	port, err := serial.Open(s.serialConfig())
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	defer s.Close()
	slog.Info("UART upload server listening", "device", s.Config.Device, "baud", s.Config.BaudRate)

	// handle close
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	return s.serve(ctx, port, handler)
}

// Close closes the serial port.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Server) serialConfig() *serial.Config {
	return &serial.Config{
		Address:  s.Config.Device,
		BaudRate: s.Config.BaudRate,
		DataBits: s.Config.DataBits,
		StopBits: s.Config.StopBits,
		Parity:   s.Config.Parity,
		Timeout:  s.Config.Timeout, // Read timeout
		RS485: serial.RS485Config{
			Enabled:            s.Config.RS485,
			DelayRtsBeforeSend: s.Config.DelayRtsBeforeSend,
			DelayRtsAfterSend:  s.Config.DelayRtsAfterSend,
			RtsHighDuringSend:  s.Config.RtsHighDuringSend,
			RtsHighAfterSend:   s.Config.RtsHighAfterSend,
			RxDuringTx:         s.Config.RxDuringTx,
		},
	}
}

func (s *Server) serve(ctx context.Context, port io.ReadWriter, handler transport.UpdateHandler) error {
	wrap := func(r io.Reader) io.Reader { return &timeoutReader{r: r} }
	line := &countingPort{port: port}
	for {
		if ctx.Err() != nil {
			return nil
		}
		line.n = 0
		err := transport.ServeFrame(ctx, line, s.Config.Device, wrap, handler)
		switch {
		case err == nil:
		case errors.Is(err, serial.ErrTimeout):
			// An idle line times out with nothing read.
			if line.n > 0 {
				slog.Debug("Partial upload header dropped", "device", s.Config.Device, "bytes", line.n)
			}
		case transport.IsFrameError(err):
			slog.Warn("Invalid upload header", "device", s.Config.Device, "err", err)
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("serial port %s: %w", s.Config.Device, err)
		}
	}
}

// timeoutError marks a serial read timeout as retryable.
type timeoutError struct {
	err error
}

func (e *timeoutError) Error() string { return e.err.Error() }
func (e *timeoutError) Unwrap() error { return e.err }
func (e *timeoutError) Timeout() bool { return true }

type timeoutReader struct {
	r io.Reader
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if errors.Is(err, serial.ErrTimeout) {
		err = &timeoutError{err: err}
	}
	return n, err
}

// countingPort counts the bytes read since n was last reset.
type countingPort struct {
	port io.ReadWriter
	n    int
}

func (c *countingPort) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	c.n += n
	return n, err
}

func (c *countingPort) Write(p []byte) (int, error) {
	return c.port.Write(p)
}
