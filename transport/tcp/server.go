// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/delta-ota/internal/config"
	"github.com/ffutop/delta-ota/transport"
)

// Server accepts framed patch uploads over TCP.
type Server struct {
	Address     string
	ReadTimeout time.Duration
	Handler     transport.UpdateHandler

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new TCP Server.
func NewServer(cfg config.TcpConfig) *Server {
	return &Server{
		Address:     cfg.Address,
		ReadTimeout: cfg.ReadTimeout,
	}
}

// Start starts the TCP server.
func (s *Server) Start(ctx context.Context, handler transport.UpdateHandler) error {
	s.Handler = handler
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	slog.Info("TCP upload server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Check if closed
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	wrap := func(r io.Reader) io.Reader {
		return &transport.DeadlineReader{R: r, SetDeadline: conn.SetReadDeadline, Timeout: s.ReadTimeout}
	}

	for {
		// Wait for the next header without a deadline.
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return
		}
		err := transport.ServeFrame(ctx, conn, conn.RemoteAddr().String(), wrap, s.Handler)
		switch {
		case err == nil:
		case transport.IsFrameError(err):
			slog.Warn("Invalid upload header", "addr", conn.RemoteAddr(), "err", err)
		case errors.Is(err, io.EOF):
			slog.Info("TCP client disconnected gracefully", "addr", conn.RemoteAddr())
			return
		default:
			if ctx.Err() == nil {
				slog.Error("Failed to serve connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
	}
}
