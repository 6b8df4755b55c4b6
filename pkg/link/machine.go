// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"

	"github.com/Thermoquad/radiolink/pkg/codec"
	"github.com/Thermoquad/radiolink/pkg/linkstats"
)

// dispatch runs one external event and every event the entry actions yield
// until the machine waits again
func (d *Device) dispatch(ev Event) {
	for ev != EventNone {
		next, ok := Transition(d.state, ev)
		if !ok {
			d.log.Debug("event dropped", "state", d.state, "event", ev)
			return
		}
		d.log.Debug("transition", "from", d.state, "event", ev, "to", next)
		d.state = next
		ev = d.enter(next)
	}
}

// enter runs the entry action of s and returns the event it yields
func (d *Device) enter(s State) Event {
	switch s {
	case StateInitializing:
		return d.enterInitializing()
	case StateRxMode:
		return d.enterRxMode()
	case StateRxData:
		return d.enterRxData()
	case StateRxFailure:
		d.tracker.Record(linkstats.Failure)
		d.endTransaction()
		return EventRxMode
	case StateTxStart:
		return d.enterTxStart()
	case StateTxData:
		return d.enterTxData()
	case StateTxFailure:
		d.counters.txFailures++
		d.endTransaction()
		return EventRxMode
	case StateTimeout:
		d.counters.timeouts++
		d.endTransaction()
		return EventRxMode
	case StateError:
		d.counters.resets++
		d.endTransaction()
		return EventInitialize
	case StateFatalError:
		d.enterFatal()
	}
	return EventNone
}

func (d *Device) endTransaction() {
	d.rxBuf = d.rxBuf[:0]
	d.txBuf = nil
	d.txPos = 0
}

func (d *Device) enterInitializing() Event {
	now := d.clock.Millis()
	cfg := d.cfg
	if pending, ok := d.takePending(); ok {
		cfg = pending
	}

	d.endTransaction()
	d.tracker.Reset()
	d.sendDue = false
	d.lastEvent = now
	d.lastSlot = now
	d.setPPMInput(codec.FailsafePPM())

	if err := d.transport.Reset(); err != nil {
		d.log.Warn("radio reset failed", "error", err)
		return EventNone
	}
	id, err := d.transport.Identify()
	if err != nil {
		d.log.Warn("radio identify failed", "error", err)
		return EventNone
	}
	if id != ExpectedChip {
		d.setFatal(fmt.Errorf("%w: type 0x%02X version 0x%02X", ErrChipMismatch, id.DeviceType, id.Version))
		return EventFatalError
	}

	if cfg.DeviceID == 0 {
		if sn, ok := d.transport.(SerialNumberer); ok {
			serial, err := sn.SerialNumber()
			if err != nil {
				d.log.Warn("serial number unavailable", "error", err)
			} else {
				cfg.DeviceID = DeriveDeviceID(serial)
				d.log.Info("derived device ID", "id", fmt.Sprintf("0x%08X", cfg.DeviceID))
			}
		}
	}
	if err := d.applyConfig(cfg); err != nil {
		d.setFatal(fmt.Errorf("apply config: %w", err))
		return EventFatalError
	}

	if err := d.transport.SetDatarateProfile(cfg.Datarate); err != nil {
		d.log.Warn("set datarate failed", "error", err)
		return EventNone
	}
	rc := RadioConfig{
		HeaderID:        cfg.LinkID(),
		MaxPacketLen:    cfg.MaxPacketLen(),
		SyncWord:        DefaultSyncWord,
		PreambleNibbles: DefaultPreambleNibbles,
	}
	if err := d.transport.Configure(rc); err != nil {
		d.log.Warn("configure failed", "error", err)
		return EventNone
	}
	if err := d.transport.SetChannel(d.channel); err != nil {
		d.log.Warn("set channel failed", "error", err)
		return EventNone
	}

	d.log.Info("radio initialized",
		"role", cfg.Role,
		"link", fmt.Sprintf("0x%08X", cfg.LinkID()),
		"datarate", cfg.Datarate,
		"channels", len(d.table))
	return EventInitialized
}

func (d *Device) enterRxMode() Event {
	d.endTransaction()
	if err := d.transport.ArmReceiver(); err != nil {
		d.log.Warn("arm receiver failed", "error", err)
		return EventError
	}
	return EventNone
}

func (d *Device) enterRxData() Event {
	status, ok := d.transport.ReadStatus()
	if !ok {
		d.log.Warn("radio reported power-on reset")
		return EventError
	}
	d.rssi = status.RSSI

	if len(d.rxBuf) == 0 {
		d.packetStart = d.clock.Millis()
	}
	maxLen := d.cfg.MaxPacketLen()
	free := d.rxBuf[len(d.rxBuf):maxLen]
	res := d.transport.PollRx(free)
	d.rxBuf = d.rxBuf[:len(d.rxBuf)+min(res.N, len(free))]

	switch res.Status {
	case RxPacketComplete:
		if res.Length != len(d.rxBuf) {
			d.log.Debug("length mismatch", "declared", res.Length, "received", len(d.rxBuf))
			return EventRxError
		}
		return d.receive()
	case RxFail:
		return EventRxError
	default:
		if len(d.rxBuf) >= maxLen {
			d.log.Debug("receive overflow", "len", len(d.rxBuf))
			return EventRxError
		}
		return EventNone
	}
}

// receive decodes a complete frame and delivers its contents
func (d *Device) receive() Event {
	now := d.clock.Millis()
	d.counters.rxPackets++

	dec, outcome := d.codec.Decode(d.rxBuf)
	d.tracker.Record(outcome)
	if outcome == linkstats.Error {
		if dec.PPM != nil {
			d.setPPMInput(*dec.PPM)
		}
		d.log.Debug("frame rejected", "len", len(d.rxBuf))
		return EventRxComplete
	}

	d.tracker.Contact(now)
	if !d.cfg.Coordinator() && d.channelIndex == 0 {
		d.sched.Synchronize(d.packetStart, 0)
	}
	if dec.PPM != nil && d.codec.Layout().PPMRecv {
		d.setPPMInput(*dec.PPM)
	}
	if len(dec.Data) > 0 {
		d.counters.rxBytes += uint32(len(dec.Data))
		if d.onReceive != nil {
			data := make([]byte, len(dec.Data))
			copy(data, dec.Data)
			d.onReceive(dec.Stream, data)
		}
	}
	d.log.Debug("frame received", "outcome", outcome, "stream", dec.Stream, "bytes", len(dec.Data))
	return EventRxComplete
}

func (d *Device) enterTxStart() Event {
	if !d.sendDue {
		return EventRxMode
	}
	d.sendDue = false
	// A peer keeps its queue until the coordinator has been heard
	if !d.cfg.Coordinator() && !d.tracker.IsConnected() {
		return EventRxMode
	}

	ppm := d.ppmOutput()
	frame, hasData, err := d.codec.Encode(&ppm, d.streams)
	if err != nil {
		d.log.Warn("encode failed", "error", err)
		return EventTxError
	}
	if !hasData && !d.cfg.Coordinator() {
		return EventRxMode
	}

	d.packetStart = d.clock.Millis()
	d.txBuf = frame
	n, err := d.transport.ArmTransmitter(frame, d.cfg.LinkID())
	if err != nil {
		d.log.Warn("arm transmitter failed", "error", err)
		return EventTxError
	}
	d.txPos = n
	d.counters.txPackets++
	return EventNone
}

func (d *Device) enterTxData() Event {
	if _, ok := d.transport.ReadStatus(); !ok {
		d.log.Warn("radio reported power-on reset")
		return EventError
	}

	status, n := d.transport.PollTx(d.txBuf[d.txPos:])
	d.txPos += n
	switch status {
	case TxSent:
		d.counters.txBytes += uint32(len(d.txBuf))
		d.endTransaction()
		return EventRxComplete
	case TxFail:
		return EventTxError
	default:
		return EventNone
	}
}

func (d *Device) setFatal(err error) {
	d.mu.Lock()
	if d.fatalErr == nil {
		d.fatalErr = err
	}
	d.mu.Unlock()
}

func (d *Device) enterFatal() {
	d.endTransaction()
	err := d.Err()
	if err == nil {
		err = fmt.Errorf("fatal radio error")
		d.setFatal(err)
	}
	d.log.Error("link halted", "error", err)
	if d.onFatal != nil {
		d.onFatal(err)
	}
}
