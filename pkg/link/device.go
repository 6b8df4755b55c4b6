// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link drives a half-duplex frequency hopping radio link.
//
// A Device owns one radio Transport. A single driver goroutine (Run, or a
// caller invoking Poll) executes the state machine; the interrupt handler
// only queues an event and wakes the driver. Application calls such as
// TransmitBytes, SetPPMOutput, Stats and the configuration setters are safe
// from any goroutine.
package link

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/radiolink/pkg/codec"
	"github.com/Thermoquad/radiolink/pkg/linkstats"
	"github.com/Thermoquad/radiolink/pkg/slot"
	"github.com/charmbracelet/log"
)

// EventQueueCapacity bounds the driver event queue
const EventQueueCapacity = 16

// ErrChipMismatch is the fatal error raised when the chip identity is wrong
var ErrChipMismatch = errors.New("unsupported radio chip")

// Clock supplies the millisecond tick count the link schedules against.
// It wraps at 2^32.
type Clock interface {
	Millis() uint32
}

type systemClock struct {
	start time.Time
}

func (c systemClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// NewSystemClock returns a clock counting ms from now
func NewSystemClock() Clock {
	return systemClock{start: time.Now()}
}

// ReceiveHandler is called on the driver goroutine with each received
// stream payload. data is owned by the handler.
type ReceiveHandler func(stream codec.StreamID, data []byte)

// Stats is a point-in-time view of the link
type Stats struct {
	State        State  `cbor:"0,keyasint" json:"state"`
	Connected    bool   `cbor:"1,keyasint" json:"connected"`
	LinkQuality  int    `cbor:"2,keyasint" json:"link_quality"`
	RxGood       int    `cbor:"3,keyasint" json:"rx_good"`
	RxCorrected  int    `cbor:"4,keyasint" json:"rx_corrected"`
	RxError      int    `cbor:"5,keyasint" json:"rx_error"`
	RxFailure    int    `cbor:"6,keyasint" json:"rx_failure"`
	RSSI         int8   `cbor:"7,keyasint" json:"rssi"`
	Channel      uint8  `cbor:"8,keyasint" json:"channel"`
	ChannelIndex int    `cbor:"9,keyasint" json:"channel_index"`
	ClockSkew    uint32 `cbor:"10,keyasint" json:"clock_skew"`
	TxPackets    uint32 `cbor:"11,keyasint" json:"tx_packets"`
	RxPackets    uint32 `cbor:"12,keyasint" json:"rx_packets"`
	TxBytes      uint32 `cbor:"13,keyasint" json:"tx_bytes"`
	RxBytes      uint32 `cbor:"14,keyasint" json:"rx_bytes"`
	TxFailures   uint32 `cbor:"15,keyasint" json:"tx_failures"`
	Timeouts     uint32 `cbor:"16,keyasint" json:"timeouts"`
	Resets       uint32 `cbor:"17,keyasint" json:"resets"`
	Dropped      uint32 `cbor:"18,keyasint" json:"dropped"`
}

// counters are the driver-owned totals that survive re-initialization
type counters struct {
	txPackets  uint32
	rxPackets  uint32
	txBytes    uint32
	rxBytes    uint32
	txFailures uint32
	timeouts   uint32
	resets     uint32
}

// Device is one end of a radio link
type Device struct {
	transport Transport
	fec       codec.FEC
	log       *log.Logger
	clock     Clock
	onReceive ReceiveHandler
	onFatal   func(error)

	events  chan Event
	wake    chan struct{}
	dropped atomic.Uint32
	streams *streamQueues

	// Driver goroutine only
	state        State
	cfg          Config
	table        []uint8
	channelIndex int
	channel      uint8
	sched        *slot.Scheduler
	tracker      *linkstats.Tracker
	codec        *codec.Codec
	rxBuf        []byte
	txBuf        []byte
	txPos        int
	packetStart  uint32
	lastEvent    uint32
	lastSlot     uint32
	sendDue      bool
	rssi         int8
	counters     counters

	mu       sync.Mutex
	pending  *Config
	active   Config
	ppmOut   codec.PPMFrame
	ppmIn    codec.PPMFrame
	snapshot Stats
	fatalErr error
}

// Option configures a Device
type Option func(*Device)

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(d *Device) { d.log = l }
}

// WithClock sets the tick source
func WithClock(c Clock) Option {
	return func(d *Device) { d.clock = c }
}

// WithFEC replaces the default Reed-Solomon envelope
func WithFEC(f codec.FEC) Option {
	return func(d *Device) { d.fec = f }
}

// WithReceiveHandler sets the callback for received stream data
func WithReceiveHandler(h ReceiveHandler) Option {
	return func(d *Device) { d.onReceive = h }
}

// WithFatalHandler sets the callback invoked once on entering the fatal
// state
func WithFatalHandler(h func(error)) Option {
	return func(d *Device) { d.onFatal = h }
}

// New creates a device on a transport and registers its interrupt handler.
// The device stays uninitialized until Run starts or EventInitialize is
// posted.
func New(t Transport, cfg Config, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		transport: t,
		events:    make(chan Event, EventQueueCapacity),
		wake:      make(chan struct{}, 1),
		streams:   newStreamQueues(StreamBufferSize),
		tracker:   linkstats.NewTracker(ConnectTimeout),
		state:     StateUninitialized,
		ppmOut:    codec.FailsafePPM(),
		ppmIn:     codec.FailsafePPM(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = log.Default().WithPrefix("link")
	}
	if d.clock == nil {
		d.clock = NewSystemClock()
	}
	if d.fec == nil {
		rs, err := codec.NewReedSolomon()
		if err != nil {
			return nil, err
		}
		d.fec = rs
	}

	if err := d.applyConfig(cfg); err != nil {
		return nil, err
	}
	d.active = d.cfg
	d.publish()

	t.RegisterInterrupt(HandleInterrupt, d)
	return d, nil
}

// HandleInterrupt is the InterruptHandler registered with the transport.
// The token is the *Device the interrupt belongs to.
func HandleInterrupt(token any) {
	if d, ok := token.(*Device); ok {
		d.Post(EventInternalInterrupt)
	}
}

// Post queues an event for the driver without blocking. It returns false
// and counts a drop if the queue is full.
func (d *Device) Post(ev Event) bool {
	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
		return false
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// applyConfig installs cfg and rebuilds everything derived from it
func (d *Device) applyConfig(cfg Config) error {
	table, err := cfg.ChannelTable()
	if err != nil {
		return err
	}
	var fec codec.FEC
	if !cfg.PPMOnly {
		fec = d.fec
	}
	c, err := codec.New(fec, cfg.Layout(), cfg.MaxPacketLen())
	if err != nil {
		return err
	}

	d.cfg = cfg
	d.table = table
	d.codec = c
	d.sched = slot.New(cfg.schedulerConfig(len(table)))
	d.channelIndex = 0
	d.channel = table[0]
	if cap(d.rxBuf) < cfg.MaxPacketLen() {
		d.rxBuf = make([]byte, 0, cfg.MaxPacketLen())
	}
	return nil
}

// TransmitBytes queues data on a stream and returns how many bytes were
// accepted. Bytes beyond the free queue space are not accepted.
func (d *Device) TransmitBytes(stream codec.StreamID, data []byte) int {
	return d.streams.Write(stream, data)
}

// SetPPMOutput sets the channel values sent in outgoing PPM sub-frames.
// Missing channels are sent as timed out.
func (d *Device) SetPPMOutput(values []int16) {
	var f codec.PPMFrame
	copy(f.Channels[:], values)
	for i := len(values); i < codec.PPMChannels; i++ {
		f.Channels[i] = codec.PPMTimeout
	}
	d.mu.Lock()
	d.ppmOut = f
	d.mu.Unlock()
}

// PPMInput returns the last received PPM channel values
func (d *Device) PPMInput() []int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int16, codec.PPMChannels)
	copy(out, d.ppmIn.Channels[:])
	return out
}

// Stats returns the statistics published at the end of the last poll
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.snapshot
	s.Dropped = d.dropped.Load()
	return s
}

// State returns the state published at the end of the last poll
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot.State
}

// Err returns the fatal error, if the device has halted
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatalErr
}

// Config returns the configuration that the next initialization will use
func (d *Device) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		return *d.pending
	}
	return d.active
}

// ChannelTable returns a copy of the active hop table
func (d *Device) ChannelTable() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	table, _ := d.active.ChannelTable()
	return table
}

// Configure validates cfg, stores it and requests re-initialization
func (d *Device) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.pending = &cfg
	d.mu.Unlock()

	if !d.Post(EventInitialize) {
		return fmt.Errorf("event queue full, configuration deferred")
	}
	return nil
}

// Update applies fn to the current configuration and reconfigures
func (d *Device) Update(fn func(*Config)) error {
	cfg := d.Config()
	fn(&cfg)
	return d.Configure(cfg)
}

// takePending returns the pending config, if any, and clears it
func (d *Device) takePending() (Config, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return Config{}, false
	}
	cfg := *d.pending
	d.pending = nil
	return cfg, true
}

func (d *Device) ppmOutput() codec.PPMFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ppmOut
}

func (d *Device) setPPMInput(f codec.PPMFrame) {
	d.mu.Lock()
	d.ppmIn = f
	d.mu.Unlock()
}

// publish copies driver state into the shared snapshot
func (d *Device) publish() {
	c := d.tracker.Counts()
	s := Stats{
		State:        d.state,
		Connected:    d.tracker.IsConnected(),
		LinkQuality:  d.tracker.Quality(),
		RxGood:       c.Good,
		RxCorrected:  c.Corrected,
		RxError:      c.Error,
		RxFailure:    c.Failure,
		RSSI:         d.rssi,
		Channel:      d.channel,
		ChannelIndex: d.channelIndex,
		ClockSkew:    d.sched.Skew(),
		TxPackets:    d.counters.txPackets,
		RxPackets:    d.counters.rxPackets,
		TxBytes:      d.counters.txBytes,
		RxBytes:      d.counters.rxBytes,
		TxFailures:   d.counters.txFailures,
		Timeouts:     d.counters.timeouts,
		Resets:       d.counters.resets,
	}
	d.mu.Lock()
	d.snapshot = s
	d.active = d.cfg
	d.mu.Unlock()
}
