// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/ffutop/delta-ota/internal/delta"
	"github.com/ffutop/delta-ota/protocol/frame"
)

// ServeFrame reads one framed upload from rw, hands the body to handler and
// writes the reply frame. Body bytes the handler left unread are drained
// before replying. wrap, when not nil, decorates the body reader.
//
// Only header and reply I/O errors are returned. The outcome of the update
// travels in the reply.
func ServeFrame(ctx context.Context, rw io.ReadWriter, source string, wrap func(io.Reader) io.Reader, handler UpdateHandler) error {
	hdr, err := frame.ReadHeader(rw)
	if err != nil {
		return err
	}
	slog.Debug("Upload header received", "from", source, "mode", hdr.Mode.String(), "length", hdr.Length)

	body := io.LimitReader(rw, int64(hdr.Length))
	var r io.Reader = body
	if wrap != nil {
		r = wrap(body)
	}

	herr := handler(ctx, Upload{
		Body:   r,
		Size:   int64(hdr.Length),
		Mode:   hdr.Mode.String(),
		Source: source,
	})
	if herr != nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			slog.Debug("Failed to drain upload", "from", source, "err", err)
		}
	}

	reply := frame.Reply{Status: frame.StatusOf(delta.Status(herr))}
	_, err = rw.Write(reply.Encode())
	return err
}

// IsFrameError reports whether err is a malformed header rather than an
// I/O failure. The stream stays usable after a frame error.
func IsFrameError(err error) bool {
	var (
		verr *frame.InvalidVersionError
		merr *frame.InvalidModeError
		cerr *frame.ChecksumError
	)
	return errors.As(err, &verr) || errors.As(err, &merr) || errors.As(err, &cerr)
}
