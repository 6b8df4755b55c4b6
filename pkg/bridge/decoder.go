// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"time"
)

// ErrCRCMismatch is returned when a frame's CRC does not match its contents
var ErrCRCMismatch = errors.New("CRC mismatch")

// Decoder states
const (
	stateIdle   = iota // waiting for START
	stateLength        // next byte is the body length
	stateBody          // collecting body and CRC
	stateEnd           // complete, waiting for END
)

// Decoder rebuilds packets from a byte stream one byte at a time. Line
// noise between frames is ignored and a START byte always resynchronizes.
type Decoder struct {
	state   int
	escaped bool
	want    int    // bytes of body+CRC still expected
	inner   []byte // unescaped length | body | crc
	raw     []byte // wire bytes of the current frame
	last    []byte // wire bytes of the last good frame
}

// NewDecoder creates a decoder waiting for a START byte
func NewDecoder() *Decoder {
	return &Decoder{
		inner: make([]byte, 0, MaxPacketSize),
		raw:   make([]byte, 0, 2*MaxPacketSize+2),
	}
}

// Reset drops any partial frame
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escaped = false
	d.want = 0
	d.inner = d.inner[:0]
	d.raw = d.raw[:0]
}

// Pending returns the wire bytes of the frame in progress
func (d *Decoder) Pending() []byte {
	return d.raw
}

// LastFrame returns the wire bytes, framing included, of the last packet
// DecodeByte returned
func (d *Decoder) LastFrame() []byte {
	return d.last
}

// fail resets the decoder and reports a framing error
func (d *Decoder) fail(format string, args ...any) error {
	d.Reset()
	return fmt.Errorf(format, args...)
}

// DecodeByte feeds one byte. It returns a packet when b completes a valid
// frame and an error when b breaks the current frame.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	switch {
	case d.escaped:
		d.escaped = false
		b ^= EscXor
	case b == StartByte:
		d.Reset()
		d.raw = append(d.raw, b)
		d.state = stateLength
		return nil, nil
	case b == EndByte:
		if d.state == stateIdle {
			return nil, d.fail("END byte outside a frame")
		}
		d.raw = append(d.raw, b)
		return d.finish()
	case b == EscByte:
		if d.state != stateIdle {
			d.raw = append(d.raw, b)
			d.escaped = true
		}
		return nil, nil
	}

	if d.state == stateIdle {
		return nil, nil
	}
	d.raw = append(d.raw, b)

	switch d.state {
	case stateLength:
		if int(b) > MaxPayloadSize {
			return nil, d.fail("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.inner = append(d.inner, b)
		d.want = int(b) + 2
		d.state = stateBody
	case stateBody:
		d.inner = append(d.inner, b)
		d.want--
		if d.want == 0 {
			d.state = stateEnd
		}
	case stateEnd:
		return nil, d.fail("expected END byte, got 0x%02X", b)
	}
	return nil, nil
}

// finish checks the CRC and decodes the message body
func (d *Decoder) finish() (*Packet, error) {
	if d.state != stateEnd {
		return nil, d.fail("frame ended early: %d bytes missing", d.want)
	}

	n := len(d.inner)
	got := uint16(d.inner[n-2])<<8 | uint16(d.inner[n-1])
	if want := CalculateCRC(d.inner[:n-2]); got != want {
		return nil, d.fail("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, want, got)
	}

	body := d.inner[1 : n-2]
	p := &Packet{size: len(body), crc: got, received: time.Now()}
	p.msgType, p.fields, p.err = unmarshalMessage(body)

	d.last = append(d.last[:0], d.raw...)
	d.Reset()
	return p, nil
}
