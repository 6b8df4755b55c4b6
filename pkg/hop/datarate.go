// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hop derives the frequency hopping channel table shared by both
// ends of a radio link.
//
// The table is a pure function of the coordinator ID, the datarate and the
// configured channel range, so a coordinator and its peers compute the same
// hop sequence without ever exchanging it over the air.
package hop

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel limits
const (
	MinChannel  = 0
	MaxChannel  = 250
	MaxChannels = 32 // table capacity
)

// Envelope sizes used to derive the maximum frame length
const (
	MaxFrameLen      = 64 // chip FIFO size
	EnvelopeOverhead = 15 // 6 preamble, 2 sync, 4 header, 1 length, 2 CRC
)

// Datarate selects one of the supported over-the-air bit rates
type Datarate int

// Datarate values
const (
	Rate9600 Datarate = iota
	Rate19200
	Rate32000
	Rate57600
	Rate64000
	Rate100000
	Rate128000
	Rate192000
	Rate256000
)

// Profile holds the per-datarate timing and channel plan
type Profile struct {
	BitsPerSecond int
	PacketPeriod  uint32 // ms per send slot
	PPMPeriod     uint32 // ms per send slot in PPM-only mode
	Spacing       int    // distance between usable channels
	Guard         int    // channels left unused at both band edges
}

var profiles = [...]Profile{
	Rate9600:   {9600, 80, 26, 1, 2},
	Rate19200:  {19200, 40, 25, 1, 2},
	Rate32000:  {32000, 25, 25, 1, 3},
	Rate57600:  {57600, 15, 15, 2, 3},
	Rate64000:  {64000, 13, 13, 2, 3},
	Rate100000: {100000, 10, 10, 2, 4},
	Rate128000: {128000, 8, 8, 3, 4},
	Rate192000: {192000, 6, 6, 3, 5},
	Rate256000: {256000, 5, 5, 4, 5},
}

// Datarates returns every supported datarate, slowest first
func Datarates() []Datarate {
	rates := make([]Datarate, len(profiles))
	for i := range profiles {
		rates[i] = Datarate(i)
	}
	return rates
}

// Valid reports whether d names a supported datarate
func (d Datarate) Valid() bool {
	return d >= 0 && int(d) < len(profiles)
}

// Profile returns the profile for d. Unknown datarates fall back to 9600.
func (d Datarate) Profile() Profile {
	if !d.Valid() {
		return profiles[Rate9600]
	}
	return profiles[d]
}

// BitsPerSecond returns the over-the-air bit rate
func (d Datarate) BitsPerSecond() int {
	return d.Profile().BitsPerSecond
}

// PacketPeriod returns the send slot length in milliseconds
func (d Datarate) PacketPeriod(ppmOnly bool) uint32 {
	p := d.Profile()
	if ppmOnly {
		return p.PPMPeriod
	}
	return p.PacketPeriod
}

// MaxPacketLen returns the largest payload that fits in one send slot
func (d Datarate) MaxPacketLen(ppmOnly bool) int {
	slotBytes := d.BitsPerSecond()*int(d.PacketPeriod(ppmOnly))/8000 - EnvelopeOverhead
	if slotBytes > MaxFrameLen {
		return MaxFrameLen
	}
	if slotBytes < 0 {
		return 0
	}
	return slotBytes
}

// PreambleOffset is the time in ms between the start of a transmission
// and the moment the receiver sees the packet start
func (d Datarate) PreambleOffset() uint32 {
	bps := d.BitsPerSecond()
	return uint32((35000 + bps - 1) / bps)
}

// ParseDatarate converts a bit rate such as "57600" or "57.6k" to a Datarate
func ParseDatarate(s string) (Datarate, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	mult := 1.0
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid datarate %q: %w", s, err)
	}
	return FromBitsPerSecond(int(f * mult))
}

// FromBitsPerSecond looks up the datarate with exactly bps bits per second
func FromBitsPerSecond(bps int) (Datarate, error) {
	for i, p := range profiles {
		if p.BitsPerSecond == bps {
			return Datarate(i), nil
		}
	}
	return 0, fmt.Errorf("unsupported datarate: %d bps", bps)
}

// String implements fmt.Stringer and pflag.Value
func (d Datarate) String() string {
	return strconv.Itoa(d.BitsPerSecond())
}

// Set implements pflag.Value
func (d *Datarate) Set(s string) error {
	v, err := ParseDatarate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Type implements pflag.Value
func (d *Datarate) Type() string {
	return "datarate"
}
