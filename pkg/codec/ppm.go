// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package codec

import "fmt"

// PPM channel constants
const (
	PPMChannels = 8
	PPMMinUs    = 990
	PPMMaxUs    = 2010
	ppmMaxCode  = 511

	// PPMFrameLen is the size of a PPM sub-frame without checksum
	PPMFrameLen = 1 + PPMChannels
)

// PPM sentinel values
const (
	PPMTimeout int16 = 0  // no signal / failsafe
	PPMInvalid int16 = -1 // no valid input on the sending side
)

// PPMFrame holds one set of control channel samples in microseconds
type PPMFrame struct {
	Channels [PPMChannels]int16
}

// FailsafePPM returns a frame with every channel set to PPMTimeout
func FailsafePPM() PPMFrame {
	var f PPMFrame
	for i := range f.Channels {
		f.Channels[i] = PPMTimeout
	}
	return f
}

// EncodePPMValue maps a sample in microseconds to the 9-bit wire code.
// Out of range samples are clamped, sentinels map to the reserved code 0.
func EncodePPMValue(us int16) uint16 {
	switch {
	case us == PPMTimeout || us == PPMInvalid:
		return 0
	case us <= PPMMinUs:
		return 1
	case us >= PPMMaxUs:
		return ppmMaxCode
	}
	span := PPMMaxUs - PPMMinUs
	scaled := (int(us-PPMMinUs)*(ppmMaxCode-1) + span/2) / span
	return uint16(scaled + 1)
}

// DecodePPMValue maps a 9-bit wire code back to microseconds.
// The reserved code 0 decodes to PPMTimeout.
func DecodePPMValue(code uint16) int16 {
	if code == 0 {
		return PPMTimeout
	}
	if code > ppmMaxCode {
		code = ppmMaxCode
	}
	span := PPMMaxUs - PPMMinUs
	us := PPMMinUs + (int(code-1)*span+(ppmMaxCode-1)/2)/(ppmMaxCode-1)
	return int16(us)
}

// MarshalBinary packs the frame as one LSB byte followed by bits 8..1 of
// every channel code
func (f PPMFrame) MarshalBinary() ([]byte, error) {
	return f.appendTo(make([]byte, 0, PPMFrameLen)), nil
}

func (f PPMFrame) appendTo(dst []byte) []byte {
	var lsb byte
	start := len(dst)
	dst = append(dst, 0)
	for i, us := range f.Channels {
		code := EncodePPMValue(us)
		lsb |= byte(code&1) << i
		dst = append(dst, byte(code>>1))
	}
	dst[start] = lsb
	return dst
}

// UnmarshalBinary is the inverse of MarshalBinary
func (f *PPMFrame) UnmarshalBinary(data []byte) error {
	if len(data) < PPMFrameLen {
		return fmt.Errorf("PPM frame too short: %d bytes (need %d)", len(data), PPMFrameLen)
	}
	lsb := data[0]
	for i := range f.Channels {
		code := uint16(data[i+1])<<1 | uint16(lsb>>i&1)
		f.Channels[i] = DecodePPMValue(code)
	}
	return nil
}

// ppmChecksum is the additive checksum used in PPM-only frames
func ppmChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
