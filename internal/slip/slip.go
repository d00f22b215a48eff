// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package slip implements the byte-stuffing framing used on every bridge
// transport: a frame is its escaped payload followed by a single END byte.
package slip

import "errors"

const (
	END    byte = 0xC0
	ESC    byte = 0xDB
	ESCEnd byte = 0xDC
	ESCEsc byte = 0xDD
)

var (
	ErrBadEscape     = errors.New("slip: invalid escape sequence")
	ErrFrameTooLarge = errors.New("slip: frame exceeds limit")
)

// Encode escapes payload and appends the END delimiter. No leading END is
// written.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/8+1)
	for _, b := range payload {
		switch b {
		case END:
			out = append(out, ESC, ESCEnd)
		case ESC:
			out = append(out, ESC, ESCEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, END)
}

// Decoder turns a live byte stream back into frames. A Decoder belongs to
// exactly one connection and is not safe for concurrent use.
//
// MaxFrame bounds the accumulator; zero means unbounded, in which case an
// unterminated frame grows without limit.
type Decoder struct {
	MaxFrame int

	buf       []byte
	escaping  bool
	skipping  bool
	discarded uint64
	lastErr   error
}

// NewDecoder returns a Decoder with the given accumulator limit (0 = none).
func NewDecoder(maxFrame int) *Decoder {
	return &Decoder{MaxFrame: maxFrame}
}

// Feed consumes data in order and calls emit for every completed frame. The
// slice handed to emit is owned by the callee.
func (d *Decoder) Feed(data []byte, emit func(frame []byte)) {
	for _, b := range data {
		if d.skipping {
			// oversized frame: drop everything up to the next delimiter
			if b == END {
				d.skipping = false
			}
			continue
		}
		if d.escaping {
			d.escaping = false
			switch b {
			case ESCEnd:
				d.push(END)
			case ESCEsc:
				d.push(ESC)
			default:
				d.discard(ErrBadEscape)
			}
			continue
		}
		switch b {
		case END:
			if len(d.buf) == 0 {
				continue
			}
			frame := d.buf
			d.buf = nil
			if emit != nil {
				emit(frame)
			}
		case ESC:
			d.escaping = true
		default:
			d.push(b)
		}
	}
}

func (d *Decoder) push(b byte) {
	if d.MaxFrame > 0 && len(d.buf) >= d.MaxFrame {
		d.discard(ErrFrameTooLarge)
		d.skipping = true
		d.escaping = false
		return
	}
	d.buf = append(d.buf, b)
}

func (d *Decoder) discard(reason error) {
	d.buf = nil
	d.discarded++
	d.lastErr = reason
}

// Reset drops any partial frame and escape state.
func (d *Decoder) Reset() {
	d.buf = nil
	d.escaping = false
	d.skipping = false
}

// Pending reports how many bytes of an unfinished frame are buffered.
func (d *Decoder) Pending() int { return len(d.buf) }

// Discarded counts accumulators thrown away because of corruption or the
// MaxFrame limit.
func (d *Decoder) Discarded() uint64 { return d.discarded }

// Err returns the reason for the most recent discard, if any.
func (d *Decoder) Err() error { return d.lastErr }

// Decode runs a fresh unbounded decoder over data and returns every
// completed frame.
func Decode(data []byte) [][]byte {
	var frames [][]byte
	var d Decoder
	d.Feed(data, func(f []byte) { frames = append(frames, f) })
	return frames
}
