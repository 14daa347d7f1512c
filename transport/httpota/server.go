// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package httpota accepts patch uploads over HTTP.
//
//	POST /ota[?mode=staged|streaming]   body is the patch
//	GET  /ota/status                    updater status as JSON
package httpota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ffutop/delta-ota/internal/config"
	"github.com/ffutop/delta-ota/internal/delta"
	"github.com/ffutop/delta-ota/internal/updater"
	"github.com/ffutop/delta-ota/transport"
)

const readHeaderTimeout = 10 * time.Second

// Server is the HTTP upstream.
type Server struct {
	Address     string
	ReadTimeout time.Duration

	status func() updater.Status

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewServer creates a new HTTP Server. status feeds GET /ota/status.
func NewServer(cfg config.HTTPConfig, status func() updater.Status) *Server {
	return &Server{
		Address:     cfg.Address,
		ReadTimeout: cfg.ReadTimeout,
		status:      status,
	}
}

// Router returns the routes served for handler.
func (s *Server) Router(handler transport.UpdateHandler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ota", &uploadHandler{handler: handler, timeout: s.ReadTimeout}).Methods(http.MethodPost)
	r.HandleFunc("/ota/status", s.serveStatus).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, response{Status: -int(delta.InvalidArgumentError), Message: "not found"})
	})
	return r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context, handler transport.UpdateHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	srv := &http.Server{
		Handler:           s.Router(handler),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.addr = listener.Addr()
	s.mu.Unlock()
	slog.Info("HTTP upload server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close closes the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, updater.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

type response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "err", err)
	}
}
