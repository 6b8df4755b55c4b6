// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package linkstats tracks the outcome of recent receive attempts and
// derives link quality and connection state from them.
package linkstats

import "fmt"

// Outcome classifies one receive attempt
type Outcome uint8

// Outcome codes, two bits each in the history
const (
	Good      Outcome = 0
	Corrected Outcome = 1
	Error     Outcome = 2
	Failure   Outcome = 3
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case Good:
		return "good"
	case Corrected:
		return "corrected"
	case Error:
		return "error"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// History sizing
const (
	HistoryWords   = 4
	codesPerWord   = 16
	HistoryLen     = HistoryWords * codesPerWord
	QualityBase    = 64
	QualityDownMax = 20 // at or below this the link is considered down
)

// LinkState is the latched connection state
type LinkState int

// Link states
const (
	Disconnected LinkState = iota
	Connected
)

// String returns the state name
func (s LinkState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Counts are the per-outcome totals over the history window
type Counts struct {
	Good      int
	Corrected int
	Error     int
	Failure   int
}

// Tracker holds the outcome history and the connection latch.
// It is not safe for concurrent use.
type Tracker struct {
	history     [HistoryWords]uint32
	filled      int
	timeout     uint32
	lastContact uint32
	state       LinkState
}

// NewTracker creates a tracker whose connection expires after timeout ms
// without contact
func NewTracker(timeout uint32) *Tracker {
	return &Tracker{timeout: timeout}
}

// Reset clears the history and drops the connection
func (t *Tracker) Reset() {
	t.history = [HistoryWords]uint32{}
	t.filled = 0
	t.lastContact = 0
	t.state = Disconnected
}

// Record shifts one outcome into the history; the oldest falls off the end
func (t *Tracker) Record(o Outcome) {
	for i := HistoryWords - 1; i > 0; i-- {
		t.history[i] = t.history[i]<<2 | t.history[i-1]>>30
	}
	t.history[0] = t.history[0]<<2 | uint32(o&3)
	if t.filled < HistoryLen {
		t.filled++
	}
}

// Counts recomputes the totals from the history
func (t *Tracker) Counts() Counts {
	var c Counts
	for n := 0; n < t.filled; n++ {
		word := t.history[n/codesPerWord]
		switch Outcome(word >> (2 * (n % codesPerWord)) & 3) {
		case Good:
			c.Good++
		case Corrected:
			c.Corrected++
		case Error:
			c.Error++
		case Failure:
			c.Failure++
		}
	}
	return c
}

// Quality returns 64 + good - error - failure over the history window
func (t *Tracker) Quality() int {
	c := t.Counts()
	return QualityBase + c.Good - c.Error - c.Failure
}

// Contact records a valid packet from the bound partner at now (ms)
func (t *Tracker) Contact(now uint32) {
	t.lastContact = now
	t.state = Connected
}

// LastContact returns the time of the last valid packet
func (t *Tracker) LastContact() uint32 {
	return t.lastContact
}

// TimedOut reports whether the last contact is at least timeout ms old
func (t *Tracker) TimedOut(now uint32) bool {
	return now-t.lastContact >= t.timeout
}

// IsConnected reports the latched link state
func (t *Tracker) IsConnected() bool {
	return t.state == Connected
}

// State returns the latched link state
func (t *Tracker) State() LinkState {
	return t.state
}

// CheckTimeout flips a connected link to disconnected once the last contact
// has aged out. It returns true if the state changed.
func (t *Tracker) CheckTimeout(now uint32) bool {
	if t.state == Connected && t.TimedOut(now) {
		t.state = Disconnected
		return true
	}
	return false
}
