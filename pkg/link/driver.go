// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"time"

	"github.com/Thermoquad/radiolink/pkg/codec"
)

// TickInterval is how often Run polls when no interrupt arrives
const TickInterval = time.Millisecond

// Run drives the link until ctx is cancelled or the device halts. It posts
// EventInitialize on entry.
func (d *Device) Run(ctx context.Context) error {
	d.Post(EventInitialize)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-ticker.C:
		}
		d.Poll()
		if err := d.Err(); err != nil {
			return err
		}
	}
}

// Inject processes ev immediately. It must only be called from the driver
// goroutine.
func (d *Device) Inject(ev Event) {
	d.lastEvent = d.clock.Millis()
	d.dispatch(ev)
	d.publish()
}

// Poll runs one iteration of the driver: queued events, the supervisor,
// channel hopping, the transaction timeout and the send slot check. It
// must only be called from the driver goroutine.
func (d *Device) Poll() {
	now := d.clock.Millis()

	drained := false
	for done := false; !done; {
		select {
		case ev := <-d.events:
			if ev == EventInternalInterrupt && !d.state.operational() {
				continue
			}
			drained = true
			d.lastEvent = now
			d.dispatch(ev)
		default:
			done = true
		}
	}

	if !drained && d.supervised() && now-d.lastEvent > d.supervisorTimeout() {
		d.log.Warn("no radio events, resetting", "idle_ms", now-d.lastEvent)
		d.flushEvents()
		d.lastEvent = now
		d.dispatch(EventError)
	}

	// Coordinators never hop back to the sync channel, so their latch is
	// only re-evaluated here
	if d.cfg.Coordinator() && d.state.operational() && d.tracker.CheckTimeout(now) {
		d.dropLink()
	}

	if d.state.operational() && d.state != StateTxStart && d.state != StateTxData {
		if d.hop(now) {
			d.dispatch(EventRxMode)
		}
	}

	if d.state.inTransaction() && now-d.packetStart > TransactionPeriods*d.sched.PacketPeriod() {
		d.log.Debug("transaction timeout", "state", d.state)
		d.dispatch(EventTimeout)
	}

	if d.sched.SlotSince(d.lastSlot, now) && d.state == StateRxMode {
		d.sendDue = true
		d.dispatch(EventTxStart)
	}
	d.lastSlot = now

	d.publish()
}

// supervisorTimeout is the longest the driver waits for a radio event. Slow
// datarates space packets further apart than SupervisorTimeout, so it
// stretches to cover SupervisorPeriods packet periods.
func (d *Device) supervisorTimeout() uint32 {
	if t := SupervisorPeriods * d.sched.PacketPeriod(); t > SupervisorTimeout {
		return t
	}
	return SupervisorTimeout
}

// dropLink reports a lost partner and substitutes failsafe PPM input
func (d *Device) dropLink() {
	d.log.Info("link lost", "last_contact", d.tracker.LastContact())
	d.setPPMInput(codec.FailsafePPM())
}

// supervised reports whether the event supervisor watches the current state
func (d *Device) supervised() bool {
	return d.state != StateUninitialized && d.state != StateFatalError
}

func (d *Device) flushEvents() {
	for {
		select {
		case <-d.events:
		default:
			return
		}
	}
}

// hop selects the channel for now and retunes if it changed. Peers stay on
// the synchronization channel until connected and drop back to it when the
// connection times out. It returns true if the radio was retuned.
func (d *Device) hop(now uint32) bool {
	idx := 0
	if d.cfg.Coordinator() || d.tracker.IsConnected() {
		idx = d.sched.HopIndex(now)
	}
	if idx != d.channelIndex && !d.cfg.Coordinator() && d.tracker.TimedOut(now) {
		if d.tracker.CheckTimeout(now) {
			d.dropLink()
		}
		idx = 0
	}
	d.channelIndex = idx

	ch := d.table[idx]
	if ch == d.channel {
		return false
	}
	d.channel = ch
	if err := d.transport.SetChannel(ch); err != nil {
		d.log.Warn("set channel failed", "channel", ch, "error", err)
	}
	return true
}
