// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hop

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
)

// ErrNoChannels is returned when the configured range leaves fewer than two
// usable channels for the selected datarate
var ErrNoChannels = errors.New("channel range too narrow for datarate")

// KeyedStream is a deterministic byte generator seeded by a public key.
// It hashes an incrementing counter and hands out the digest bytes one at a
// time, hashing the next counter value when the digest is used up.
type KeyedStream struct {
	mac     hash.Hash
	counter uint32
	digest  []byte
	pos     int
}

// NewKeyedStream creates a byte stream keyed by the given 32-bit ID
func NewKeyedStream(key uint32) *KeyedStream {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], key)
	return &KeyedStream{mac: hmac.New(sha1.New, k[:])}
}

// Byte returns the next byte of the stream
func (s *KeyedStream) Byte() byte {
	if s.pos >= len(s.digest) {
		var msg [4]byte
		binary.BigEndian.PutUint32(msg[:], s.counter)
		s.counter++
		s.mac.Reset()
		s.mac.Write(msg[:])
		s.digest = s.mac.Sum(s.digest[:0])
		s.pos = 0
	}
	b := s.digest[s.pos]
	s.pos++
	return b
}

// Bounds returns the first and last usable channel for a configured range
func Bounds(rate Datarate, minChan, maxChan uint8) (lo, hi int) {
	p := rate.Profile()
	lo = int(minChan) + p.Guard
	hi = int(maxChan) - p.Guard
	if hi > MaxChannel {
		hi = MaxChannel
	}
	return lo, hi
}

// GenerateChannelTable returns the hop sequence for a link.
//
// Usable channels are enumerated from the guarded range at the datarate's
// spacing, shuffled with a Fisher-Yates pass driven by a KeyedStream keyed
// with the coordinator ID, truncated to MaxChannels and rounded down to an
// even count.
func GenerateChannelTable(coordinatorID uint32, rate Datarate, minChan, maxChan uint8) ([]uint8, error) {
	lo, hi := Bounds(rate, minChan, maxChan)
	spacing := rate.Profile().Spacing

	var chans []uint8
	for c := lo; c <= hi; c += spacing {
		chans = append(chans, uint8(c))
	}

	stream := NewKeyedStream(coordinatorID)
	count := len(chans)
	for i := 0; i < count; i++ {
		rnd := int(stream.Byte())
		r := i + rnd%(count-i)
		chans[i], chans[r] = chans[r], chans[i]
	}

	if count > MaxChannels {
		count = MaxChannels
	}
	count &^= 1
	if count < 2 {
		return nil, fmt.Errorf("%w: %d..%d at %s bps", ErrNoChannels, minChan, maxChan, rate)
	}
	return chans[:count], nil
}
