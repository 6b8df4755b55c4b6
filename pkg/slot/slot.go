// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package slot keeps the shared link clock and decides which channel is in
// use and whose turn it is to transmit.
//
// Time is counted in milliseconds. The coordinator's clock is the link
// clock; a peer adds a learned skew to its local clock. Send slots are one
// packet period long: on a two-way link the coordinator owns the slot at
// link time 1 mod 2P and the peer the slot P later.
package slot

// Scheduler holds the timing state of one link end.
// It is not safe for concurrent use.
type Scheduler struct {
	coordinator    bool
	oneWay         bool
	period         uint32
	numChannels    uint32
	preambleOffset uint32
	skew           uint32
}

// Config configures a Scheduler
type Config struct {
	Coordinator    bool
	OneWay         bool
	PacketPeriod   uint32 // ms
	NumChannels    int
	PreambleOffset uint32 // ms
}

// New creates a scheduler
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		coordinator:    cfg.Coordinator,
		oneWay:         cfg.OneWay,
		period:         cfg.PacketPeriod,
		numChannels:    uint32(cfg.NumChannels),
		preambleOffset: cfg.PreambleOffset,
	}
	if s.period == 0 {
		s.period = 1
	}
	if s.numChannels == 0 {
		s.numChannels = 1
	}
	return s
}

// PacketPeriod returns the slot length in ms
func (s *Scheduler) PacketPeriod() uint32 {
	return s.period
}

// HopCycle returns the time to visit every channel once
func (s *Scheduler) HopCycle() uint32 {
	return s.period * s.numChannels
}

// Skew returns the learned clock skew in ms
func (s *Scheduler) Skew() uint32 {
	return s.skew
}

// ResetSkew forgets the learned skew
func (s *Scheduler) ResetSkew() {
	s.skew = 0
}

// CoordinatorTime converts a local tick count to link time
func (s *Scheduler) CoordinatorTime(local uint32) uint32 {
	if s.coordinator {
		return local
	}
	return local + s.skew
}

// HopIndex returns the position in the channel table for a local time
func (s *Scheduler) HopIndex(local uint32) int {
	return int(s.CoordinatorTime(local) / s.period % s.numChannels)
}

// Synchronize learns the skew from a packet that started arriving at local
// time packetStart while tuned to the given channel index. Coordinators
// never adjust their clock.
func (s *Scheduler) Synchronize(packetStart uint32, channelIndex int) {
	if s.coordinator {
		return
	}
	cycle := s.HopCycle()
	delta := packetStart % cycle
	s.skew = cycle - delta + s.preambleOffset + s.period*uint32(channelIndex)
}

// TimeToSend reports whether local time now starts one of our send slots
func (s *Scheduler) TimeToSend(local uint32) bool {
	t := s.CoordinatorTime(local)
	if s.oneWay {
		return s.coordinator && (t-1)%s.period == 0
	}
	if s.coordinator {
		t--
	} else {
		t += s.period - 1
	}
	return t%(2*s.period) == 0
}

// SlotSince reports whether a send slot started in (last, now]. Only the
// most recent two packet periods are examined, so a long stall yields at
// most one slot.
func (s *Scheduler) SlotSince(last, now uint32) bool {
	span := now - last
	if span > 2*s.period {
		span = 2 * s.period
	}
	for i := uint32(0); i < span; i++ {
		if s.TimeToSend(now - i) {
			return true
		}
	}
	return false
}
