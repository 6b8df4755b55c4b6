// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTimeToSend_CoordinatorSlots(t *testing.T) {
	s := New(Config{Coordinator: true, PacketPeriod: 5, NumChannels: 32})

	var slots []uint32
	for ts := uint32(0); ts < 30; ts++ {
		if s.TimeToSend(ts) {
			slots = append(slots, ts)
		}
	}
	assert.Equal(t, []uint32{1, 11, 21}, slots)
}

func TestTimeToSend_PeerSlots(t *testing.T) {
	s := New(Config{PacketPeriod: 5, NumChannels: 32})

	var slots []uint32
	for ts := uint32(0); ts < 30; ts++ {
		if s.TimeToSend(ts) {
			slots = append(slots, ts)
		}
	}
	assert.Equal(t, []uint32{6, 16, 26}, slots)
}

func TestTimeToSend_OneWay(t *testing.T) {
	coord := New(Config{Coordinator: true, OneWay: true, PacketPeriod: 5, NumChannels: 32})
	peer := New(Config{OneWay: true, PacketPeriod: 5, NumChannels: 32})

	count := 0
	for ts := uint32(0); ts < 50; ts++ {
		if coord.TimeToSend(ts) {
			count++
		}
		assert.False(t, peer.TimeToSend(ts), "peer must never send on a one-way link")
	}
	assert.Equal(t, 10, count)
}

func TestTimeToSend_Alternation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		period := uint32(rapid.IntRange(1, 100).Draw(t, "period"))
		start := rapid.Uint32Range(0, 1<<31).Draw(t, "start")
		coord := New(Config{Coordinator: true, PacketPeriod: period, NumChannels: 8})
		peer := New(Config{PacketPeriod: period, NumChannels: 8})

		coordSlots, peerSlots := 0, 0
		for i := uint32(0); i < 2*period; i++ {
			ts := start + i
			c, p := coord.TimeToSend(ts), peer.TimeToSend(ts)
			if c && p {
				t.Fatalf("both ends send at %d", ts)
			}
			if c {
				coordSlots++
			}
			if p {
				peerSlots++
			}
		}
		if coordSlots != 1 || peerSlots != 1 {
			t.Fatalf("window at %d: %d coordinator, %d peer slots", start, coordSlots, peerSlots)
		}
	})
}

func TestSynchronize_LocksPeerToCoordinator(t *testing.T) {
	const period, channels, offset = 5, 32, 1
	coord := New(Config{Coordinator: true, PacketPeriod: period, NumChannels: channels})
	peer := New(Config{PacketPeriod: period, NumChannels: channels, PreambleOffset: offset})

	// The peer's clock runs localOffset ms ahead of the link clock. The
	// coordinator starts sending on channel index 0 at link time 161 and the
	// peer sees the packet start one preamble later.
	const sent = 161
	const localOffset = 12345
	assert.Equal(t, 0, coord.HopIndex(sent))
	assert.True(t, coord.TimeToSend(sent))
	peer.Synchronize(sent+offset+localOffset, 0)

	cycle := peer.HopCycle()
	for dt := uint32(0); dt < 1000; dt += 7 {
		linkTime := uint32(sent + offset + dt)
		estimate := peer.CoordinatorTime(linkTime + localOffset)
		// Residual error is the coordinator's 1 ms slot offset at most
		residual := (linkTime%cycle + cycle - estimate%cycle) % cycle
		assert.LessOrEqual(t, residual, uint32(1))
	}
}

func TestSynchronize_CoordinatorIgnores(t *testing.T) {
	s := New(Config{Coordinator: true, PacketPeriod: 5, NumChannels: 4, PreambleOffset: 1})
	s.Synchronize(1234, 0)
	assert.Zero(t, s.Skew())
	assert.Equal(t, uint32(99), s.CoordinatorTime(99))
}

func TestHopIndex(t *testing.T) {
	s := New(Config{Coordinator: true, PacketPeriod: 10, NumChannels: 4})
	assert.Equal(t, 0, s.HopIndex(9))
	assert.Equal(t, 1, s.HopIndex(10))
	assert.Equal(t, 3, s.HopIndex(39))
	assert.Equal(t, 0, s.HopIndex(40))
	assert.Equal(t, uint32(40), s.HopCycle())
}

func TestSlotSince(t *testing.T) {
	s := New(Config{Coordinator: true, PacketPeriod: 5, NumChannels: 32})
	assert.True(t, s.SlotSince(0, 1))
	assert.False(t, s.SlotSince(1, 5))
	assert.True(t, s.SlotSince(8, 12))
	assert.False(t, s.SlotSince(11, 11))
	// A long stall still reports the slot inside the last two periods
	assert.True(t, s.SlotSince(0, 1000))
}
