// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package frame implements the framing used to push a patch over a byte
// stream (TCP socket or UART).
//
// Request:
//
//	'D' 'P' | version | mode | length (uint32 BE) | crc16 (LE)
//
// followed by length bytes of patch. Reply:
//
//	'D' 'P' | status (int16 BE) | crc16 (LE)
//
// The CRC is CRC-16/MODBUS over the preceding bytes of the header or reply.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ffutop/delta-ota/protocol/crc"
)

const (
	Magic0  = 'D'
	Magic1  = 'P'
	Version = 1

	HeaderSize = 10
	ReplySize  = 6
)

// Mode selects how the receiver applies the patch.
type Mode byte

const (
	ModeDefault Mode = iota
	ModeStaged
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeStaged:
		return "staged"
	case ModeStreaming:
		return "streaming"
	default:
		return ""
	}
}

// Header announces a patch upload.
type Header struct {
	Version byte
	Mode    Mode
	Length  uint32
}

// Reply carries the result of an upload, 0 on success or a negative
// status code.
type Reply struct {
	Status int16
}

type InvalidVersionError struct {
	Version byte
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("unsupported frame version: %d", e.Version)
}

type InvalidModeError struct {
	Mode Mode
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid frame mode: %d", e.Mode)
}

type ChecksumError struct {
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame crc mismatch: expected 0x%04x, actual 0x%04x", e.Expected, e.Actual)
}

func appendCRC(b []byte) []byte {
	sum := crc.Checksum(b)
	return append(b, byte(sum), byte(sum>>8))
}

func checkCRC(b []byte) error {
	n := len(b) - 2
	expected := uint16(b[n]) | uint16(b[n+1])<<8
	if actual := crc.Checksum(b[:n]); actual != expected {
		return &ChecksumError{Expected: expected, Actual: actual}
	}
	return nil
}

// Encode returns the wire form of h. A zero Version encodes as Version.
func (h Header) Encode() []byte {
	v := h.Version
	if v == 0 {
		v = Version
	}
	b := make([]byte, 0, HeaderSize)
	b = append(b, Magic0, Magic1, v, byte(h.Mode))
	b = binary.BigEndian.AppendUint32(b, h.Length)
	return appendCRC(b)
}

// Encode returns the wire form of r.
func (r Reply) Encode() []byte {
	b := make([]byte, 0, ReplySize)
	b = append(b, Magic0, Magic1)
	b = binary.BigEndian.AppendUint16(b, uint16(r.Status))
	return appendCRC(b)
}

const (
	stateMagic0 = 1 << iota
	stateMagic1
	stateBody
)

// readFrame scans r for the magic bytes, skipping anything before them,
// and returns the whole frame of size bytes.
func readFrame(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	state := stateMagic0
	n := 0

	for {
		if state == stateBody {
			if _, err := io.ReadFull(r, buf[n:]); err != nil {
				return nil, err
			}
			return buf, nil
		}

		if _, err := io.ReadFull(r, buf[n:n+1]); err != nil {
			return nil, err
		}
		switch state {
		case stateMagic0:
			if buf[0] == Magic0 {
				state = stateMagic1
				n = 1
			}
		case stateMagic1:
			switch buf[1] {
			case Magic1:
				state = stateBody
				n = 2
			case Magic0:
				buf[0] = Magic0
			default:
				state = stateMagic0
				n = 0
			}
		}
	}
}

// ReadHeader reads the next request header from r.
func ReadHeader(r io.Reader) (Header, error) {
	b, err := readFrame(r, HeaderSize)
	if err != nil {
		return Header{}, err
	}
	if err := checkCRC(b); err != nil {
		return Header{}, err
	}
	h := Header{
		Version: b[2],
		Mode:    Mode(b[3]),
		Length:  binary.BigEndian.Uint32(b[4:8]),
	}
	if h.Version != Version {
		return Header{}, &InvalidVersionError{Version: h.Version}
	}
	if h.Mode > ModeStreaming {
		return Header{}, &InvalidModeError{Mode: h.Mode}
	}
	return h, nil
}

// ReadReply reads a reply from r.
func ReadReply(r io.Reader) (Reply, error) {
	b, err := readFrame(r, ReplySize)
	if err != nil {
		return Reply{}, err
	}
	if err := checkCRC(b); err != nil {
		return Reply{}, err
	}
	return Reply{Status: int16(binary.BigEndian.Uint16(b[2:4]))}, nil
}

// StatusOf clamps a status code into the reply range.
func StatusOf(code int) int16 {
	switch {
	case code < -32768:
		return -32768
	case code > 32767:
		return 32767
	}
	return int16(code)
}
