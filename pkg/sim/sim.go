// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim connects simulated radios through a shared in-memory air.
//
// A transmission reaches every other radio that is armed for reception on
// the same channel, at the same datarate, with a matching header ID. The
// sender reports the frame as sent at once. Without WithAirtime the frame
// is delivered at once too; with it, receivers see the packet start one
// preamble offset later, as a real chip would. Each radio implements
// link.Transport.
package sim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/Thermoquad/radiolink/pkg/link"
)

// ErrNoSerial is returned by radios created without a serial number
var ErrNoSerial = errors.New("simulated radio has no serial number")

// Air is the shared medium
type Air struct {
	mu     sync.Mutex
	radios []*Radio
	mutate func(frame []byte) []byte
	drop   func(frame []byte) bool

	airtime  bool
	now      uint32
	inFlight []flight

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// flight is a frame on its way to the receivers
type flight struct {
	from    *Radio
	frame   []byte
	dest    uint32
	channel uint8
	rate    hop.Datarate
	due     uint32
}

// AirOption configures an Air
type AirOption func(*Air)

// WithMutator rewrites every delivered frame, per receiver. The function
// receives a private copy.
func WithMutator(fn func(frame []byte) []byte) AirOption {
	return func(a *Air) { a.mutate = fn }
}

// WithDropper drops a delivery when fn returns true
func WithDropper(fn func(frame []byte) bool) AirOption {
	return func(a *Air) { a.drop = fn }
}

// WithAirtime holds every frame for the preamble offset of its datarate.
// Receivers must still be listening when the frame lands. Time only moves
// when Advance is called.
func WithAirtime() AirOption {
	return func(a *Air) { a.airtime = true }
}

// NewAir creates an empty medium
func NewAir(opts ...AirOption) *Air {
	a := &Air{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Delivered returns the number of frames handed to receivers
func (a *Air) Delivered() uint64 {
	return a.delivered.Load()
}

// Dropped returns the number of deliveries suppressed by the dropper
func (a *Air) Dropped() uint64 {
	return a.dropped.Load()
}

// Advance moves air time forward by ms and lands every frame that is due
func (a *Air) Advance(ms uint32) {
	a.mu.Lock()
	a.now += ms
	var due []flight
	pending := a.inFlight[:0]
	for _, f := range a.inFlight {
		if int32(a.now-f.due) >= 0 {
			due = append(due, f)
		} else {
			pending = append(pending, f)
		}
	}
	a.inFlight = pending
	a.mu.Unlock()

	for _, f := range due {
		a.land(f)
	}
}

// Run advances air time once per millisecond until ctx is cancelled
func (a *Air) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Advance(1)
		}
	}
}

// transmit puts frame on the air
func (a *Air) transmit(from *Radio, frame []byte, dest uint32, channel uint8, rate hop.Datarate) {
	f := flight{from: from, frame: append([]byte(nil), frame...), dest: dest, channel: channel, rate: rate}
	if !a.airtime {
		a.land(f)
		return
	}
	a.mu.Lock()
	f.due = a.now + rate.PreambleOffset()
	a.inFlight = append(a.inFlight, f)
	a.mu.Unlock()
}

// land hands a frame to every listening radio that matches
func (a *Air) land(f flight) {
	a.mu.Lock()
	radios := append([]*Radio(nil), a.radios...)
	a.mu.Unlock()

	frame := f.frame
	for _, r := range radios {
		if r == f.from {
			continue
		}
		if a.drop != nil && a.drop(frame) {
			a.dropped.Add(1)
			continue
		}
		payload := append([]byte(nil), frame...)
		if a.mutate != nil {
			payload = a.mutate(payload)
		}
		if r.deliver(payload, f.dest, f.channel, f.rate) {
			a.delivered.Add(1)
		}
	}
}

// Radio is a simulated chip attached to an Air
type Radio struct {
	air      *Air
	identity link.ChipIdentity
	serial   []byte
	rssi     int8

	mu       sync.Mutex
	handler  link.InterruptHandler
	token    any
	rate     hop.Datarate
	channel  uint8
	header   uint32
	maxLen   int
	por      bool
	rxArmed  bool
	rx       []byte
	rxLen    int
	rxDone   bool
	txSent   bool
	received uint64
	sent     uint64
}

// RadioOption configures a Radio
type RadioOption func(*Radio)

// WithIdentity overrides the reported chip identity
func WithIdentity(id link.ChipIdentity) RadioOption {
	return func(r *Radio) { r.identity = id }
}

// WithSerial sets the serial number reported to the driver
func WithSerial(serial []byte) RadioOption {
	return func(r *Radio) { r.serial = serial }
}

// WithRSSI sets the signal strength reported for received frames
func WithRSSI(rssi int8) RadioOption {
	return func(r *Radio) { r.rssi = rssi }
}

// NewRadio attaches a new radio to the air
func (a *Air) NewRadio(opts ...RadioOption) *Radio {
	r := &Radio{
		air:      a,
		identity: link.ExpectedChip,
		rssi:     -60,
		maxLen:   hop.MaxFrameLen,
	}
	for _, opt := range opts {
		opt(r)
	}
	a.mu.Lock()
	a.radios = append(a.radios, r)
	a.mu.Unlock()
	return r
}

// interrupt raises the radio's interrupt line
func (r *Radio) interrupt() {
	r.mu.Lock()
	h, token := r.handler, r.token
	r.mu.Unlock()
	if h != nil {
		h(token)
	}
}

// deliver accepts frame if the radio is listening for it
func (r *Radio) deliver(frame []byte, dest uint32, channel uint8, rate hop.Datarate) bool {
	r.mu.Lock()
	if !r.rxArmed || r.channel != channel || r.rate != rate || r.header != dest || len(frame) > r.maxLen {
		r.mu.Unlock()
		return false
	}
	r.rxArmed = false
	r.rx = frame
	r.rxLen = len(frame)
	r.rxDone = true
	r.received++
	r.mu.Unlock()

	r.interrupt()
	return true
}

// PowerOnReset simulates the chip losing power
func (r *Radio) PowerOnReset() {
	r.mu.Lock()
	r.por = true
	r.rxArmed = false
	r.mu.Unlock()
	r.interrupt()
}

// Channel returns the channel the radio is tuned to
func (r *Radio) Channel() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// Counts returns the frames this radio sent and received
func (r *Radio) Counts() (sent, received uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent, r.received
}

// Reset clears pending frames and the power-on-reset flag
func (r *Radio) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.por = false
	r.rxArmed = false
	r.rx, r.rxLen, r.rxDone = nil, 0, false
	r.txSent = false
	return nil
}

// Identify implements link.Transport
func (r *Radio) Identify() (link.ChipIdentity, error) {
	return r.identity, nil
}

// SerialNumber returns ErrNoSerial unless WithSerial was given
func (r *Radio) SerialNumber() ([]byte, error) {
	if len(r.serial) == 0 {
		return nil, ErrNoSerial
	}
	return r.serial, nil
}

// Configure stores the header filter and maximum packet length
func (r *Radio) Configure(cfg link.RadioConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = cfg.HeaderID
	r.maxLen = cfg.MaxPacketLen
	return nil
}

// SetDatarateProfile implements link.Transport
func (r *Radio) SetDatarateProfile(rate hop.Datarate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = rate
	return nil
}

// SetChannel implements link.Transport
func (r *Radio) SetChannel(ch uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = ch
	return nil
}

// ReadStatus reports false once after PowerOnReset
func (r *Radio) ReadStatus() (link.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	por := r.por
	r.por = false
	return link.Status{RSSI: r.rssi}, !por
}

// ArmReceiver listens for the next frame and discards any partial one
func (r *Radio) ArmReceiver() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxArmed = true
	r.rx, r.rxLen, r.rxDone = nil, 0, false
	return nil
}

// PollRx implements link.Transport
func (r *Radio) PollRx(dst []byte) link.RxResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(dst, r.rx)
	r.rx = r.rx[n:]
	if r.rxDone && len(r.rx) == 0 {
		r.rxDone = false
		return link.RxResult{Status: link.RxPacketComplete, N: n, Length: r.rxLen}
	}
	return link.RxResult{Status: link.RxMoreData, N: n}
}

// ArmTransmitter puts the whole frame on the air immediately
func (r *Radio) ArmTransmitter(frame []byte, dest uint32) (int, error) {
	r.mu.Lock()
	r.rxArmed = false
	r.txSent = false
	channel, rate := r.channel, r.rate
	r.mu.Unlock()

	r.air.transmit(r, frame, dest, channel, rate)

	r.mu.Lock()
	r.txSent = true
	r.sent++
	r.mu.Unlock()
	r.interrupt()
	return len(frame), nil
}

// PollTx reports TxSent once per ArmTransmitter
func (r *Radio) PollTx(pending []byte) (link.TxStatus, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txSent {
		r.txSent = false
		return link.TxSent, 0
	}
	return link.TxNeedsMoreData, 0
}

// RegisterInterrupt implements link.Transport
func (r *Radio) RegisterInterrupt(h link.InterruptHandler, token any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler, r.token = h, token
}
