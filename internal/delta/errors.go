// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package delta

import (
	"errors"
	"fmt"

	"github.com/ffutop/delta-ota/internal/detools"
)

// Code is an error code owned by the patch engine. Codes below 28 belong to
// the decoder.
type Code int

const (
	OutOfMemory          Code = 28
	ReadingPatchError    Code = 29
	ReadingSourceError   Code = 30
	WritingError         Code = 31
	SeekingError         Code = 32
	CastingError         Code = 33
	InvalidBufferSize    Code = 34
	ClearingError        Code = 35
	PartitionError       Code = 36
	TargetImageError     Code = 37
	InvalidArgumentError Code = 38
	OutOfBoundsError     Code = 39
)

var codeStrings = map[Code]string{
	OutOfMemory:          "Target partition out of memory.",
	ReadingPatchError:    "Error reading patch binary.",
	ReadingSourceError:   "Error reading source image.",
	WritingError:         "Error writing to target image.",
	SeekingError:         "Seek error: source image.",
	CastingError:         "Error casting session context.",
	InvalidBufferSize:    "Read/write buffer less or equal to 0.",
	ClearingError:        "Could not erase target region.",
	PartitionError:       "Flash partition not found.",
	TargetImageError:     "Invalid target image to boot from.",
	InvalidArgumentError: "Invalid argument.",
	OutOfBoundsError:     "Write out of bounds.",
}

func (c Code) Error() string {
	return "delta: " + ErrorString(int(c))
}

// Status returns the negative status code of c.
func (c Code) Status() int {
	return -int(c)
}

// ErrorString returns a human readable description of any status code,
// decoder codes included. The sign of code is ignored.
func ErrorString(code int) string {
	if code < 0 {
		code = -code
	}
	if code <= detools.MaxCode {
		return detools.ErrorString(code)
	}
	if s, ok := codeStrings[Code(code)]; ok {
		return s
	}
	return "Unknown error."
}

// Error is a failed engine operation.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := ErrorString(int(e.Code))
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Code, so errors.Is(err, delta.WritingError) works.
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

// Status returns the negative status code of e.
func (e *Error) Status() int {
	return -int(e.Code)
}

// PatchSizeError reports a negative declared patch size. Its status is the
// size itself.
type PatchSizeError struct {
	Size int64
}

func (e *PatchSizeError) Error() string {
	return fmt.Sprintf("invalid patch size %d", e.Size)
}

func (e *PatchSizeError) Status() int {
	return int(e.Size)
}

// Status maps err to a status code: 0 for nil, the negative code for engine
// and decoder errors, and the negated decoder internal error otherwise.
func Status(err error) int {
	if err == nil {
		return 0
	}
	var s interface{ Status() int }
	if errors.As(err, &s) {
		return s.Status()
	}
	return detools.InternalError.Status()
}
