// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package detools applies sequential delta patches in the detools format.
//
// A patch starts with one header byte (patch type in bits 4-6, compression
// in bits 0-3) followed by the destination size as an unsigned varint.
// The body is a sequence of chunks:
//
//	diff size | diff bytes | extra size | extra bytes | source adjustment
//
// Diff bytes are added (mod 256) to the same number of source bytes, extra
// bytes are copied verbatim and the adjustment moves the source cursor.
// Chunk sizes and the adjustment use the signed varint encoding: the first
// byte carries the sign in bit 6 and six value bits, every following byte
// seven value bits, and bit 7 flags a continuation.
package detools

const (
	PatchTypeSequential = 0
	PatchTypeInPlace    = 1

	CompressionNone       = 0
	CompressionLZMA       = 1
	CompressionCRLE       = 2
	CompressionHeatshrink = 4
)

// Header returns the header byte for the given patch type and compression.
func Header(patchType, compression int) byte {
	return byte(patchType&0x7)<<4 | byte(compression&0xf)
}

func checkHeader(b byte) error {
	patchType := int(b>>4) & 0x7
	compression := int(b) & 0xf

	if patchType != PatchTypeSequential {
		return BadPatchType
	}
	switch compression {
	case CompressionNone:
		return nil
	case CompressionLZMA, CompressionCRLE, CompressionHeatshrink:
		return NotImplemented
	default:
		return BadCompression
	}
}

// varint decodes one size incrementally, one byte at a time.
type varint struct {
	signed  bool
	started bool
	neg     bool
	shift   uint
	value   uint64
}

func (v *varint) reset(signed bool) {
	*v = varint{signed: signed}
}

// push consumes b and reports whether the value is complete.
func (v *varint) push(b byte) (bool, error) {
	switch {
	case !v.started && v.signed:
		v.started = true
		v.neg = b&0x40 != 0
		v.value = uint64(b & 0x3f)
		v.shift = 6
	case !v.started:
		v.started = true
		v.value = uint64(b & 0x7f)
		v.shift = 7
	default:
		if v.shift > 56 {
			return false, CorruptPatchOverflow
		}
		v.value |= uint64(b&0x7f) << v.shift
		v.shift += 7
	}
	if v.value > 1<<62 {
		return false, CorruptPatchOverflow
	}
	return b&0x80 == 0, nil
}

func (v *varint) int64() int64 {
	if v.neg {
		return -int64(v.value)
	}
	return int64(v.value)
}

// AppendUsize appends the unsigned encoding of n to b.
func AppendUsize(b []byte, n uint64) []byte {
	for n >= 0x80 {
		b = append(b, byte(n)|0x80)
		n >>= 7
	}
	return append(b, byte(n))
}

// AppendSize appends the signed encoding of n to b.
func AppendSize(b []byte, n int64) []byte {
	var first byte
	u := uint64(n)
	if n < 0 {
		first = 0x40
		u = uint64(-n)
	}
	first |= byte(u & 0x3f)
	u >>= 6
	if u == 0 {
		return append(b, first)
	}
	b = append(b, first|0x80)
	return AppendUsize(b, u)
}
