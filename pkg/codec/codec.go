// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package codec builds and parses the over-the-air payload of a link frame.
//
// Payload layout:
//
//	[PPM sub-frame][stream selector + stream bytes][FEC parity]
//
// The PPM sub-frame is present when PPM relay is enabled. In PPM-only mode
// the frame carries no stream and ends with an additive checksum instead of
// FEC parity.
package codec

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/radiolink/pkg/linkstats"
)

// StreamID selects which byte stream a payload belongs to
type StreamID uint8

// Streams multiplexed over the link
const (
	StreamPrimary StreamID = 0
	StreamAux     StreamID = 1
	NumStreams             = 2
)

// String returns the stream name
func (s StreamID) String() string {
	switch s {
	case StreamPrimary:
		return "primary"
	case StreamAux:
		return "aux"
	default:
		return fmt.Sprintf("stream(%d)", uint8(s))
	}
}

// PPMOnlyFrameLen is the size of a PPM-only payload
const PPMOnlyFrameLen = PPMFrameLen + 1

// Codec errors
var (
	ErrFrameTooSmall = errors.New("max packet length too small for frame layout")
	ErrNoFEC         = errors.New("stream frames require an FEC envelope")
)

// StreamSource supplies queued stream bytes to the encoder
type StreamSource interface {
	// Buffered returns the number of bytes waiting on a stream
	Buffered(id StreamID) int
	// Read moves up to len(p) bytes of a stream into p
	Read(id StreamID, p []byte) int
}

// Layout describes which parts a frame carries
type Layout struct {
	PPMOnly bool // PPM sub-frame with checksum, no stream
	PPMSend bool // outgoing frames carry a PPM sub-frame
	PPMRecv bool // incoming frames carry a PPM sub-frame
}

// Decoded is the content of a received frame
type Decoded struct {
	PPM    *PPMFrame
	Stream StreamID
	Data   []byte
}

// Codec turns queued data into frames and frames back into data.
// It is owned by a single link driver and is not safe for concurrent use.
type Codec struct {
	fec    FEC
	layout Layout
	maxLen int
	turn   StreamID
}

// New creates a codec. fec may be nil only for PPM-only layouts.
func New(fec FEC, layout Layout, maxLen int) (*Codec, error) {
	if layout.PPMOnly {
		layout.PPMSend, layout.PPMRecv = true, true
		if maxLen < PPMOnlyFrameLen {
			return nil, fmt.Errorf("%w: %d < %d", ErrFrameTooSmall, maxLen, PPMOnlyFrameLen)
		}
		return &Codec{layout: layout, maxLen: maxLen}, nil
	}
	if fec == nil {
		return nil, ErrNoFEC
	}
	c := &Codec{fec: fec, layout: layout, maxLen: maxLen}
	if c.streamCapacity() < 0 {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooSmall, maxLen)
	}
	return c, nil
}

// Layout returns the frame layout
func (c *Codec) Layout() Layout {
	return c.layout
}

func (c *Codec) ppmLen(send bool) int {
	if send {
		return PPMFrameLen
	}
	return 0
}

// streamCapacity returns how many stream bytes fit in an outgoing frame
func (c *Codec) streamCapacity() int {
	fixed := c.ppmLen(c.layout.PPMSend) + 1
	for n := c.maxLen; n >= 0; n-- {
		if fixed+n+c.fec.Overhead(fixed+n) <= c.maxLen {
			return n
		}
	}
	return -1
}

// Encode builds the next outgoing frame. ppm is used when the layout sends
// PPM. hasData reports whether the frame carries anything beyond an empty
// housekeeping stream.
func (c *Codec) Encode(ppm *PPMFrame, src StreamSource) (frame []byte, hasData bool, err error) {
	if ppm == nil {
		failsafe := FailsafePPM()
		ppm = &failsafe
	}

	if c.layout.PPMOnly {
		frame = ppm.appendTo(make([]byte, 0, PPMOnlyFrameLen))
		frame = append(frame, ppmChecksum(frame))
		return frame, true, nil
	}

	payload := make([]byte, 0, c.maxLen)
	if c.layout.PPMSend {
		payload = ppm.appendTo(payload)
		hasData = true
	}

	// Alternate streams each opportunity, falling back to whichever has data
	id := c.turn
	c.turn ^= 1
	if src != nil && src.Buffered(id) == 0 && src.Buffered(id^1) > 0 {
		id ^= 1
	}
	payload = append(payload, byte(id))

	if src != nil {
		buf := make([]byte, c.streamCapacity())
		n := src.Read(id, buf)
		if n > 0 {
			payload = append(payload, buf[:n]...)
			hasData = true
		}
	}

	frame, err = c.fec.Encode(payload)
	if err != nil {
		return nil, false, err
	}
	return frame, hasData, nil
}

// Decode parses a received frame. The outcome is always meaningful; the
// Decoded value is only valid for Good and Corrected.
func (c *Codec) Decode(frame []byte) (Decoded, linkstats.Outcome) {
	var d Decoded

	if c.layout.PPMOnly {
		if len(frame) != PPMOnlyFrameLen || ppmChecksum(frame[:PPMFrameLen]) != frame[PPMFrameLen] {
			failsafe := FailsafePPM()
			d.PPM = &failsafe
			return d, linkstats.Error
		}
		var ppm PPMFrame
		_ = ppm.UnmarshalBinary(frame)
		d.PPM = &ppm
		return d, linkstats.Good
	}

	payload, outcome := c.fec.Decode(frame)
	if outcome == linkstats.Error {
		return d, outcome
	}

	if c.layout.PPMRecv {
		var ppm PPMFrame
		if err := ppm.UnmarshalBinary(payload); err != nil {
			return Decoded{}, linkstats.Error
		}
		d.PPM = &ppm
		payload = payload[PPMFrameLen:]
	}

	if len(payload) < 1 || StreamID(payload[0]) >= NumStreams {
		return Decoded{}, linkstats.Error
	}
	d.Stream = StreamID(payload[0])
	d.Data = payload[1:]
	return d, outcome
}
