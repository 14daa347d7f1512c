// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package httpota

import (
	"errors"
	"net/http"
	"time"

	"github.com/ffutop/delta-ota/internal/delta"
	"github.com/ffutop/delta-ota/internal/updater"
	"github.com/ffutop/delta-ota/transport"
)

type uploadHandler struct {
	handler transport.UpdateHandler
	timeout time.Duration
}

func (h *uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	switch mode {
	case "", updater.ModeStaged, updater.ModeStreaming:
	default:
		writeJSON(w, http.StatusBadRequest, response{
			Status:  -int(delta.InvalidArgumentError),
			Message: "unknown mode " + mode,
		})
		return
	}

	// A connection read deadline would cancel r.Context() and poison the
	// body, so stalls are bounded in the reader instead.
	body := &transport.TimeoutReader{R: r.Body, Timeout: h.timeout}

	err := h.handler(r.Context(), transport.Upload{
		Body:   body,
		Size:   r.ContentLength,
		Mode:   mode,
		Source: r.RemoteAddr,
	})
	status := delta.Status(err)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, response{Status: 0, Message: "ok"})
	case errors.Is(err, updater.ErrBusy):
		writeJSON(w, http.StatusConflict, response{Status: status, Message: err.Error()})
	case errors.Is(err, updater.ErrLengthRequired):
		writeJSON(w, http.StatusLengthRequired, response{Status: status, Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, response{Status: status, Message: err.Error()})
	}
}
