// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package detools

// chunkSize bounds the scratch buffers and every callback transfer.
const chunkSize = 512

// Callbacks gives the decoder access to the source and destination images.
// Errors returned by a callback abort decoding and are handed back to the
// caller unchanged.
type Callbacks interface {
	// ReadSource fills p with the next len(p) bytes of the source image.
	ReadSource(p []byte) error
	// SeekSource moves the source cursor by offset bytes.
	SeekSource(offset int) error
	// WriteDest appends p to the destination image. p is only valid for
	// the duration of the call.
	WriteDest(p []byte) error
}

// PatchReader supplies patch bytes for ApplyPatch.
type PatchReader interface {
	// ReadPatch fills p with the next len(p) bytes of the patch.
	ReadPatch(p []byte) error
}

type state int

const (
	stateHeader state = iota
	stateToSize
	stateDiffSize
	stateDiffData
	stateExtraSize
	stateExtraData
	stateAdjustment
	stateDone
)

// Patcher is a push-based sequential patch decoder. Patch bytes may be
// handed to Process in chunks of any size, including one byte at a time.
type Patcher struct {
	cb Callbacks

	state     state
	size      varint
	toSize    int64
	toOffset  int64
	chunkLeft int64
	consumed  int64
	finalized bool
	err       error

	from [chunkSize]byte
	to   [chunkSize]byte
}

// NewPatcher returns a decoder writing through cb.
func NewPatcher(cb Callbacks) *Patcher {
	return &Patcher{cb: cb}
}

// Done reports whether the whole destination image has been produced.
func (p *Patcher) Done() bool {
	return p.state == stateDone
}

// ToSize returns the destination size announced by the patch header.
func (p *Patcher) ToSize() int64 {
	return p.toSize
}

// Written returns the number of destination bytes produced so far.
func (p *Patcher) Written() int64 {
	return p.toOffset
}

// Consumed returns the number of patch bytes processed so far.
func (p *Patcher) Consumed() int64 {
	return p.consumed
}

// Process decodes data. After the first failure every call returns
// AlreadyFailed.
func (p *Patcher) Process(data []byte) error {
	if p.err != nil {
		return AlreadyFailed
	}
	if p.finalized {
		return AlreadyDone
	}
	if err := p.process(data); err != nil {
		p.err = err
		return err
	}
	return nil
}

func (p *Patcher) process(data []byte) error {
	for len(data) > 0 {
		switch p.state {
		case stateHeader:
			if err := checkHeader(data[0]); err != nil {
				return err
			}
			p.advance(&data, 1)
			p.size.reset(false)
			p.state = stateToSize

		case stateToSize:
			done, err := p.pushSize(&data)
			if err != nil {
				return err
			}
			if done {
				p.toSize = p.size.int64()
				p.nextChunk()
			}

		case stateDiffSize, stateExtraSize:
			done, err := p.pushSize(&data)
			if err != nil {
				return err
			}
			if !done {
				continue
			}
			n := p.size.int64()
			if n < 0 || p.toOffset+n > p.toSize {
				return CorruptPatch
			}
			p.chunkLeft = n
			if p.state == stateDiffSize {
				p.state = stateDiffData
			} else {
				p.state = stateExtraData
			}
			if n == 0 {
				p.endData()
			}

		case stateDiffData:
			n := p.take(data)
			from := p.from[:n]
			if err := p.cb.ReadSource(from); err != nil {
				return err
			}
			to := p.to[:n]
			for i := range to {
				to[i] = from[i] + data[i]
			}
			if err := p.cb.WriteDest(to); err != nil {
				return err
			}
			p.produced(&data, n)

		case stateExtraData:
			n := p.take(data)
			copy(p.to[:n], data[:n])
			if err := p.cb.WriteDest(p.to[:n]); err != nil {
				return err
			}
			p.produced(&data, n)

		case stateAdjustment:
			done, err := p.pushSize(&data)
			if err != nil {
				return err
			}
			if !done {
				continue
			}
			if off := p.size.int64(); off != 0 {
				if err := p.cb.SeekSource(int(off)); err != nil {
					return err
				}
			}
			p.nextChunk()

		case stateDone:
			return AlreadyDone
		}
	}
	return nil
}

func (p *Patcher) advance(data *[]byte, n int) {
	*data = (*data)[n:]
	p.consumed += int64(n)
}

func (p *Patcher) pushSize(data *[]byte) (bool, error) {
	done, err := p.size.push((*data)[0])
	if err != nil {
		return false, err
	}
	p.advance(data, 1)
	return done, nil
}

// take returns how many bytes of data belong to the current chunk.
func (p *Patcher) take(data []byte) int {
	n := int64(len(data))
	if n > p.chunkLeft {
		n = p.chunkLeft
	}
	if n > chunkSize {
		n = chunkSize
	}
	return int(n)
}

func (p *Patcher) produced(data *[]byte, n int) {
	p.advance(data, n)
	p.toOffset += int64(n)
	p.chunkLeft -= int64(n)
	if p.chunkLeft == 0 {
		p.endData()
	}
}

func (p *Patcher) endData() {
	if p.state == stateDiffData {
		p.size.reset(true)
		p.state = stateExtraSize
		return
	}
	p.size.reset(true)
	p.state = stateAdjustment
}

func (p *Patcher) nextChunk() {
	if p.toOffset == p.toSize {
		p.state = stateDone
		return
	}
	p.size.reset(true)
	p.state = stateDiffSize
}

// Finalize completes decoding and returns the destination size. It fails
// with NotEnoughPatchData when the patch ended early.
func (p *Patcher) Finalize() (int64, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.finalized {
		return 0, AlreadyDone
	}
	if p.state == stateHeader {
		p.err = ShortHeader
		return 0, p.err
	}
	if p.state != stateDone {
		p.err = NotEnoughPatchData
		return 0, p.err
	}
	p.finalized = true
	return p.toSize, nil
}

// ApplyPatch decodes a patch of patchSize bytes pulled from patch,
// returning the destination size.
func ApplyPatch(cb Callbacks, patch PatchReader, patchSize int64) (int64, error) {
	p := NewPatcher(cb)
	var buf [chunkSize]byte

	for left := patchSize; left > 0 && !p.Done(); {
		n := int64(len(buf))
		if n > left {
			n = left
		}
		if err := patch.ReadPatch(buf[:n]); err != nil {
			return 0, err
		}
		if err := p.Process(buf[:n]); err != nil {
			return 0, err
		}
		left -= n
	}
	return p.Finalize()
}
