// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ffutop/delta-ota/internal/delta"
	"github.com/ffutop/delta-ota/protocol/frame"
)

const (
	tcpTimeout   = 10 * time.Second
	replyTimeout = 2 * time.Minute
)

// RemoteError is a non-zero status replied by the receiver.
type RemoteError struct {
	Code int16
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote update failed: %s (%d)", delta.ErrorString(int(e.Code)), e.Code)
}

// Status returns the remote status code.
func (e *RemoteError) Status() int {
	return int(e.Code)
}

// Client pushes patches to a remote TCP upload server.
type Client struct {
	Address string
	// Timeout bounds dialing and every write.
	Timeout time.Duration
	// ReplyTimeout bounds the wait for the reply once the body is sent,
	// which covers the time the receiver spends applying.
	ReplyTimeout time.Duration
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address:      address,
		Timeout:      tcpTimeout,
		ReplyTimeout: replyTimeout,
	}
}

// Push sends size bytes read from body as one upload and waits for the
// reply. A non-zero reply status is returned as *RemoteError.
func (mb *Client) Push(ctx context.Context, body io.Reader, size int64, mode frame.Mode) error {
	if size < 0 || size > int64(^uint32(0)) {
		return fmt.Errorf("patch size %d out of range", size)
	}

	d := net.Dialer{Timeout: mb.Timeout}
	conn, err := d.DialContext(ctx, "tcp", mb.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", mb.Address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hdr := frame.Header{Mode: mode, Length: uint32(size)}
	w := &deadlineWriter{conn: conn, timeout: mb.Timeout}
	if _, err := w.Write(hdr.Encode()); err != nil {
		return fmt.Errorf("failed to send header: %w", err)
	}
	if _, err := io.CopyN(w, body, size); err != nil {
		return fmt.Errorf("failed to send patch: %w", err)
	}
	slog.Debug("Patch sent, waiting for reply", "addr", mb.Address, "size", size)

	if err := conn.SetReadDeadline(time.Now().Add(mb.ReplyTimeout)); err != nil {
		return err
	}
	reply, err := frame.ReadReply(conn)
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}
	if reply.Status != 0 {
		return &RemoteError{Code: reply.Status}
	}
	return nil
}

type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.conn.Write(p)
}
