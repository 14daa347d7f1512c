// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package httpota

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ffutop/delta-ota/internal/config"
	"github.com/ffutop/delta-ota/internal/delta"
	"github.com/ffutop/delta-ota/internal/detools/detoolstest"
	"github.com/ffutop/delta-ota/internal/flash"
	"github.com/ffutop/delta-ota/internal/ota"
	"github.com/ffutop/delta-ota/internal/updater"
	"github.com/ffutop/delta-ota/transport"
)

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestUpload_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		handlerErr error
		wantCode   int
		wantStatus int
	}{
		{"OK", "/ota", nil, http.StatusOK, 0},
		{"Busy", "/ota", updater.ErrBusy, http.StatusConflict, -5},
		{"LengthRequired", "/ota", updater.ErrLengthRequired, http.StatusLengthRequired, -5},
		{"EngineError", "/ota", delta.ClearingError, http.StatusInternalServerError, -int(delta.ClearingError)},
		{"BadMode", "/ota?mode=inplace", nil, http.StatusBadRequest, -int(delta.InvalidArgumentError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(config.HTTPConfig{ReadTimeout: time.Second}, nil)
			ts := httptest.NewServer(s.Router(func(ctx context.Context, up transport.Upload) error {
				io.Copy(io.Discard, up.Body)
				return tt.handlerErr
			}))
			defer ts.Close()

			resp, err := http.Post(ts.URL+tt.url, "application/octet-stream", strings.NewReader("patch"))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Errorf("HTTP status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var r response
			decode(t, resp, &r)
			if r.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", r.Status, tt.wantStatus)
			}
		})
	}
}

func TestUpload_PassesRequest(t *testing.T) {
	var got transport.Upload
	var body []byte
	s := NewServer(config.HTTPConfig{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ota?mode=streaming", bytes.NewReader([]byte("0123456789")))
	s.Router(func(ctx context.Context, up transport.Upload) error {
		got = up
		body, _ = io.ReadAll(up.Body)
		return nil
	}).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP status = %d", rec.Code)
	}
	if got.Size != 10 || got.Mode != updater.ModeStreaming || string(body) != "0123456789" {
		t.Errorf("unexpected upload size=%d mode=%q body=%q", got.Size, got.Mode, body)
	}
}

func TestRoutes(t *testing.T) {
	s := NewServer(config.HTTPConfig{}, nil)
	router := s.Router(func(ctx context.Context, up transport.Upload) error { return nil })

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/ota", http.StatusMethodNotAllowed},
		{http.MethodPost, "/ota/status", http.StatusMethodNotAllowed},
		{http.MethodGet, "/missing", http.StatusNotFound},
		{http.MethodGet, "/ota/status", http.StatusOK},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}

type agent struct {
	ts    *httptest.Server
	u     *updater.Updater
	table *flash.Table
	to    []byte
	patch []byte
}

func newAgent(t *testing.T, readTimeout time.Duration) *agent {
	t.Helper()
	dev := flash.NewMemoryDevice(32*flash.DefaultEraseSize, flash.DefaultEraseSize)
	table, err := flash.NewTable(dev, []flash.Entry{
		{Label: "ota_0", Type: flash.TypeApp, Subtype: flash.SubtypeOTA(0), Offset: 0x1000, Size: 0x8000},
		{Label: "ota_1", Type: flash.TypeApp, Subtype: flash.SubtypeOTA(1), Offset: 0x9000, Size: 0x8000},
		{Label: "patch", Type: flash.TypeData, Subtype: flash.SubtypeSpiffs, Offset: 0x11000, Size: 0x4000},
	})
	if err != nil {
		t.Fatal(err)
	}
	platform, err := ota.NewPlatform(table, &ota.MemoryStore{})
	if err != nil {
		t.Fatal(err)
	}
	from := bytes.Repeat([]byte("firmware v1 "), 300)
	to := bytes.Repeat([]byte("firmware v2 "), 320)
	table.Find("ota_0").WriteAt(from, 0)

	u := updater.New(platform, config.OTAConfig{
		Source:      delta.LabelRunning,
		Destination: delta.LabelNext,
		Patch:       "patch",
		Mode:        updater.ModeStaged,
		ChunkSize:   1024,
		RecvRetries: 5,
	}, nil, nil)
	s := NewServer(config.HTTPConfig{ReadTimeout: readTimeout}, u.Status)
	ts := httptest.NewServer(s.Router(u.Handle))
	t.Cleanup(ts.Close)

	return &agent{ts: ts, u: u, table: table, to: to, patch: detoolstest.Create(from, to)}
}

func (a *agent) checkDestination(t *testing.T) {
	t.Helper()
	got := make([]byte, len(a.to))
	a.table.Find("ota_1").ReadAt(got, 0)
	if !bytes.Equal(got, a.to) {
		t.Fatal("destination image differs from expected")
	}
}

func TestEndToEnd(t *testing.T) {
	a := newAgent(t, time.Second)
	patch := a.patch

	resp, err := http.Post(a.ts.URL+"/ota", "application/octet-stream", bytes.NewReader(patch))
	if err != nil {
		t.Fatal(err)
	}
	var r response
	decode(t, resp, &r)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload failed: %d %+v", resp.StatusCode, r)
	}
	a.checkDestination(t)

	resp, err = http.Get(a.ts.URL + "/ota/status")
	if err != nil {
		t.Fatal(err)
	}
	var st updater.Status
	decode(t, resp, &st)
	want := updater.Status{
		Running:  "ota_0",
		Boot:     "ota_1",
		State:    updater.StateSucceeded,
		Mode:     updater.ModeStaged,
		Received: int64(len(patch)),
		Total:    int64(len(patch)),
	}
	if diff := cmp.Diff(want, st, cmpopts.IgnoreFields(updater.Status{}, "Updated")); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestUpload_SenderStallIsRetried(t *testing.T) {
	for _, mode := range []string{updater.ModeStaged, updater.ModeStreaming} {
		t.Run(mode, func(t *testing.T) {
			a := newAgent(t, 100*time.Millisecond)

			pr, pw := io.Pipe()
			go func() {
				pw.Write(a.patch[:100])
				time.Sleep(300 * time.Millisecond)
				pw.Write(a.patch[100:])
				pw.Close()
			}()

			req, err := http.NewRequest(http.MethodPost, a.ts.URL+"/ota?mode="+mode, pr)
			if err != nil {
				t.Fatal(err)
			}
			req.ContentLength = int64(len(a.patch))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			var r response
			decode(t, resp, &r)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("upload failed: %d %+v", resp.StatusCode, r)
			}
			a.checkDestination(t)
		})
	}
}
