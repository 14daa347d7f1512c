// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeader_RoundTrip(t *testing.T) {
	want := Header{Version: Version, Mode: ModeStreaming, Length: 0x01020304}
	raw := want.Encode()
	if len(raw) != HeaderSize {
		t.Fatalf("encoded %d bytes, want %d", len(raw), HeaderSize)
	}
	if !bytes.Equal(raw[:8], []byte{'D', 'P', 1, 2, 1, 2, 3, 4}) {
		t.Fatalf("unexpected header layout % x", raw)
	}

	got, err := ReadHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestReadHeader_SkipsNoise(t *testing.T) {
	want := Header{Version: Version, Mode: ModeStaged, Length: 77}
	stream := append([]byte{0x00, 'D', 'X', 'D'}, want.Encode()...)
	stream = append(stream, "patch"...)
	r := bytes.NewReader(stream)

	got, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "patch" {
		t.Errorf("header consumed body bytes, rest = %q", rest)
	}
}

func TestReadHeader_Errors(t *testing.T) {
	corrupt := Header{Length: 5}.Encode()
	corrupt[5] ^= 0xFF
	var crcErr *ChecksumError
	if _, err := ReadHeader(bytes.NewReader(corrupt)); !errors.As(err, &crcErr) {
		t.Errorf("corrupt header: expected ChecksumError, got %v", err)
	}

	v2 := Header{Version: 2}.Encode()
	var verErr *InvalidVersionError
	if _, err := ReadHeader(bytes.NewReader(v2)); !errors.As(err, &verErr) || verErr.Version != 2 {
		t.Errorf("version 2: expected InvalidVersionError, got %v", err)
	}

	badMode := Header{Mode: 9}.Encode()
	var modeErr *InvalidModeError
	if _, err := ReadHeader(bytes.NewReader(badMode)); !errors.As(err, &modeErr) {
		t.Errorf("mode 9: expected InvalidModeError, got %v", err)
	}

	if _, err := ReadHeader(bytes.NewReader([]byte{'D', 'P', 1})); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short header: expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestReply_RoundTrip(t *testing.T) {
	for _, status := range []int16{0, -9, -37, 1234} {
		got, err := ReadReply(bytes.NewReader(Reply{Status: status}.Encode()))
		if err != nil {
			t.Fatalf("ReadReply(%d): %v", status, err)
		}
		if got.Status != status {
			t.Errorf("status = %d, want %d", got.Status, status)
		}
	}
	if StatusOf(-100000) != -32768 || StatusOf(-31) != -31 {
		t.Error("StatusOf clamping wrong")
	}
}
