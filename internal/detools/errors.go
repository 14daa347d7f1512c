// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package detools

// Error is a decoder error code. Codes occupy 1..27; the value returned
// by Status is the negated code.
type Error int

const (
	NotImplemented       Error = 1
	NotDone              Error = 2
	BadPatchType         Error = 3
	BadCompression       Error = 4
	InternalError        Error = 5
	LZMAInit             Error = 6
	LZMADecode           Error = 7
	OutOfMemory          Error = 8
	CorruptPatch         Error = 9
	IOFailed             Error = 10
	AlreadyDone          Error = 11
	FileOpenFailed       Error = 12
	FileCloseFailed      Error = 13
	FileReadFailed       Error = 14
	FileWriteFailed      Error = 15
	FileSeekFailed       Error = 16
	FileTellFailed       Error = 17
	ShortHeader          Error = 18
	NotEnoughPatchData   Error = 19
	HeatshrinkSink       Error = 20
	HeatshrinkPoll       Error = 21
	StepSetFailed        Error = 22
	StepGetFailed        Error = 23
	AlreadyFailed        Error = 24
	CorruptPatchOverflow Error = 25
	CorruptPatchCRLEKind Error = 26
	HeatshrinkHeader     Error = 27
)

// MaxCode is the highest code owned by the decoder.
const MaxCode = int(HeatshrinkHeader)

func (e Error) Error() string {
	return "detools: " + ErrorString(int(e))
}

// Status returns the negative status code of e.
func (e Error) Status() int {
	return -int(e)
}

var errorStrings = [...]string{
	0:                    "OK.",
	NotImplemented:       "Function not implemented.",
	NotDone:              "Not done.",
	BadPatchType:         "Bad patch type.",
	BadCompression:       "Bad compression.",
	InternalError:        "Internal error.",
	LZMAInit:             "LZMA init.",
	LZMADecode:           "LZMA decode.",
	OutOfMemory:          "Out of memory.",
	CorruptPatch:         "Corrupt patch.",
	IOFailed:             "Input/output failed.",
	AlreadyDone:          "Already done.",
	FileOpenFailed:       "File open failed.",
	FileCloseFailed:      "File close failed.",
	FileReadFailed:       "File read failed.",
	FileWriteFailed:      "File write failed.",
	FileSeekFailed:       "File seek failed.",
	FileTellFailed:       "File tell failed.",
	ShortHeader:          "Short header.",
	NotEnoughPatchData:   "Not enough patch data.",
	HeatshrinkSink:       "Heatshrink sink.",
	HeatshrinkPoll:       "Heatshrink poll.",
	StepSetFailed:        "Step set failed.",
	StepGetFailed:        "Step get failed.",
	AlreadyFailed:        "Already failed.",
	CorruptPatchOverflow: "Corrupt patch, overflow.",
	CorruptPatchCRLEKind: "Corrupt patch, CRLE kind.",
	HeatshrinkHeader:     "Heatshrink header.",
}

// ErrorString returns a human readable description of a decoder code.
// The sign of code is ignored.
func ErrorString(code int) string {
	if code < 0 {
		code = -code
	}
	if code < len(errorStrings) {
		return errorStrings[code]
	}
	return "Unknown error."
}
