// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/charmbracelet/log"
)

// Transport defaults
const (
	DefaultIdentifyTimeout = 500 * time.Millisecond
	ArmLoad                = 32 // frame bytes carried by ARM_TX
)

// Transport errors
var (
	ErrTimeout  = errors.New("radio adapter did not answer")
	ErrNoSerial = errors.New("radio adapter reported no serial number")
)

type identity struct {
	chip   link.ChipIdentity
	serial []byte
}

// Transport implements link.Transport against a radio adapter reached over
// a byte stream. Run must be running for replies and interrupts to arrive.
type Transport struct {
	conn            io.ReadWriter
	log             *log.Logger
	identifyTimeout time.Duration

	wmu   sync.Mutex
	ident chan identity

	mu      sync.Mutex
	handler link.InterruptHandler
	token   any
	status  link.Status
	por     bool
	serial  []byte
	rx      []byte
	rxLen   int
	rxDone  bool
	rxFail  bool
	txFree  int
	txSent  bool
	txFail  bool
}

// Option configures a Transport
type Option func(*Transport)

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithIdentifyTimeout sets how long Identify waits for IDENT
func WithIdentifyTimeout(d time.Duration) Option {
	return func(t *Transport) { t.identifyTimeout = d }
}

// NewTransport creates a transport on conn
func NewTransport(conn io.ReadWriter, opts ...Option) *Transport {
	t := &Transport{
		conn:            conn,
		identifyTimeout: DefaultIdentifyTimeout,
		ident:           make(chan identity, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = log.Default().WithPrefix("bridge")
	}
	return t
}

// Run reads and dispatches adapter messages until the connection fails or
// ctx is cancelled. A blocked read only returns once the connection is
// closed.
func (t *Transport) Run(ctx context.Context) error {
	decoder := NewDecoder()
	buf := make([]byte, 256)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := t.conn.Read(buf)
		for i := 0; i < n; i++ {
			packet, derr := decoder.DecodeByte(buf[i])
			if derr != nil {
				t.log.Debug("frame error", "error", derr)
				continue
			}
			if packet != nil {
				t.handle(packet)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bridge read: %w", err)
		}
	}
}

// handle applies one adapter message and raises the interrupt
func (t *Transport) handle(p *Packet) {
	if errs := ValidatePacket(p); len(errs) > 0 {
		t.log.Warn("invalid message", "type", FormatMessageType(p.Type()), "error", errs[0].Message)
		return
	}
	m := p.Fields()

	t.mu.Lock()
	switch p.Type() {
	case MsgIdent:
		t.mu.Unlock()
		devType, _ := m.Uint(0)
		version, _ := m.Uint(1)
		serial, _ := m.Bytes(2)
		id := identity{
			chip:   link.ChipIdentity{DeviceType: uint8(devType), Version: uint8(version)},
			serial: serial,
		}
		select {
		case t.ident <- id:
		default:
		}
		return

	case MsgStatus:
		irq, _ := m.Uint(0)
		status, _ := m.Uint(1)
		rssi, _ := m.Int(2)
		por, _ := m.Bool(3)
		t.status = link.Status{InterruptFlags: uint16(irq), DeviceStatus: uint8(status), RSSI: int8(rssi)}
		t.por = t.por || por

	case MsgRxData:
		data, _ := m.Bytes(0)
		t.rx = append(t.rx, data...)

	case MsgRxDone:
		length, _ := m.Uint(0)
		t.rxLen = int(length)
		t.rxDone = true

	case MsgTxNeed:
		free, _ := m.Uint(0)
		t.txFree = int(free)

	case MsgTxSent:
		t.txSent = true

	case MsgFail:
		code, _ := m.Uint(0)
		switch FailCode(code) {
		case FailRx:
			t.rxFail = true
		case FailTx:
			t.txFail = true
		case FailOverflow:
			t.rxFail, t.txFail = true, true
		case FailChipReset:
			t.por = true
		default:
			t.log.Warn("adapter rejected command", "code", FormatFailCode(FailCode(code)))
		}

	default:
		t.mu.Unlock()
		t.log.Debug("unexpected message", "type", FormatMessageType(p.Type()))
		return
	}
	h, token := t.handler, t.token
	t.mu.Unlock()

	if h != nil {
		h(token)
	}
}

func (t *Transport) send(p *Packet) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}

func (t *Transport) clearRx() {
	t.rx = t.rx[:0]
	t.rxLen = 0
	t.rxDone = false
	t.rxFail = false
}

// Reset resets the chip and forgets all transfer state
func (t *Transport) Reset() error {
	t.mu.Lock()
	t.clearRx()
	t.txFree, t.txSent, t.txFail = 0, false, false
	t.por = false
	t.mu.Unlock()
	return t.send(NewReset())
}

// Identify asks the adapter for the chip identity and serial number
func (t *Transport) Identify() (link.ChipIdentity, error) {
	select {
	case <-t.ident:
	default:
	}
	if err := t.send(NewIdentify()); err != nil {
		return link.ChipIdentity{}, err
	}

	timer := time.NewTimer(t.identifyTimeout)
	defer timer.Stop()
	select {
	case id := <-t.ident:
		t.mu.Lock()
		t.serial = id.serial
		t.mu.Unlock()
		return id.chip, nil
	case <-timer.C:
		return link.ChipIdentity{}, ErrTimeout
	}
}

// SerialNumber returns the serial reported by the last IDENT
func (t *Transport) SerialNumber() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.serial) == 0 {
		return nil, ErrNoSerial
	}
	return append([]byte(nil), t.serial...), nil
}

// Configure programs addressing and framing
func (t *Transport) Configure(cfg link.RadioConfig) error {
	return t.send(NewConfigure(cfg.HeaderID, cfg.MaxPacketLen, cfg.SyncWord, cfg.PreambleNibbles))
}

// SetDatarateProfile loads the modem profile for rate
func (t *Transport) SetDatarateProfile(rate hop.Datarate) error {
	return t.send(NewSetProfile(rate.BitsPerSecond()))
}

// SetChannel tunes the radio
func (t *Transport) SetChannel(ch uint8) error {
	return t.send(NewSetChannel(ch))
}

// ReadStatus returns the latest STATUS and clears a latched power-on reset
func (t *Transport) ReadStatus() (link.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	por := t.por
	t.por = false
	return t.status, !por
}

// ArmReceiver clears received data and enters receive mode
func (t *Transport) ArmReceiver() error {
	t.mu.Lock()
	t.clearRx()
	t.mu.Unlock()
	return t.send(NewArmRx())
}

// PollRx moves buffered RX_DATA bytes into dst
func (t *Transport) PollRx(dst []byte) link.RxResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rxFail {
		t.clearRx()
		return link.RxResult{Status: link.RxFail}
	}
	n := copy(dst, t.rx)
	t.rx = t.rx[n:]
	if t.rxDone && len(t.rx) == 0 {
		length := t.rxLen
		t.clearRx()
		return link.RxResult{Status: link.RxPacketComplete, N: n, Length: length}
	}
	return link.RxResult{Status: link.RxMoreData, N: n}
}

// ArmTransmitter sends the start of frame with ARM_TX
func (t *Transport) ArmTransmitter(frame []byte, dest uint32) (int, error) {
	n := min(len(frame), ArmLoad)
	t.mu.Lock()
	t.txFree, t.txSent, t.txFail = 0, false, false
	t.mu.Unlock()

	if err := t.send(NewArmTx(dest, append([]byte(nil), frame[:n]...))); err != nil {
		return 0, err
	}
	return n, nil
}

// PollTx sends as much of pending as the adapter has room for
func (t *Transport) PollTx(pending []byte) (link.TxStatus, int) {
	t.mu.Lock()
	if t.txFail {
		t.txFail = false
		t.mu.Unlock()
		return link.TxFail, 0
	}
	if len(pending) == 0 {
		sent := t.txSent
		t.txSent = false
		t.mu.Unlock()
		if sent {
			return link.TxSent, 0
		}
		return link.TxNeedsMoreData, 0
	}
	chunk := min(len(pending), t.txFree)
	t.txFree -= chunk
	t.mu.Unlock()

	if chunk == 0 {
		return link.TxNeedsMoreData, 0
	}
	if err := t.send(NewTxFill(append([]byte(nil), pending[:chunk]...))); err != nil {
		t.log.Warn("tx fill failed", "error", err)
		return link.TxFail, 0
	}
	return link.TxNeedsMoreData, chunk
}

// RegisterInterrupt installs the handler raised for every adapter event
func (t *Transport) RegisterInterrupt(h link.InterruptHandler, token any) {
	t.mu.Lock()
	t.handler, t.token = h, token
	t.mu.Unlock()
}
