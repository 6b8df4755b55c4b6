// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/sigurn/crc8"
)

// Status is a snapshot of the chip's interrupt and device status registers
type Status struct {
	InterruptFlags uint16
	DeviceStatus   uint8
	RSSI           int8
}

// RxStatus is the result of polling the receiver
type RxStatus int

// Receiver poll results
const (
	RxMoreData RxStatus = iota
	RxPacketComplete
	RxFail
)

// RxResult reports what PollRx copied and whether the packet is complete
type RxResult struct {
	Status RxStatus
	N      int // bytes copied into dst
	Length int // declared packet length, valid with RxPacketComplete
}

// TxStatus is the result of polling the transmitter
type TxStatus int

// Transmitter poll results
const (
	TxNeedsMoreData TxStatus = iota
	TxSent
	TxFail
)

// ChipIdentity is the device type and version reported by the chip
type ChipIdentity struct {
	DeviceType uint8
	Version    uint8
}

// ExpectedChip is the only chip identity the driver will operate
var ExpectedChip = ChipIdentity{DeviceType: 0x08, Version: 0x06}

// RadioConfig is the addressing and framing programmed at initialization
type RadioConfig struct {
	HeaderID        uint32 // transmitted and required on receive
	MaxPacketLen    int
	SyncWord        uint16
	PreambleNibbles int
}

// Default framing
const (
	DefaultSyncWord        = 0x2DD4
	DefaultPreambleNibbles = 12
)

// InterruptHandler is invoked by a transport when the chip raises its
// interrupt line. The token is the value given at registration, passed back
// unchanged. Handlers must not block.
type InterruptHandler func(token any)

// Transport is the register-level interface to the radio chip.
//
// All methods are called from the link driver goroutine only, except the
// registered interrupt handler which a transport may call from any
// goroutine.
type Transport interface {
	// Reset performs a software reset and waits for the chip to come up
	Reset() error
	// Identify reads the device type and version registers
	Identify() (ChipIdentity, error)
	// Configure programs addressing, sync word, preamble and header checks
	Configure(cfg RadioConfig) error
	// SetDatarateProfile programs the modem register table for a datarate
	SetDatarateProfile(rate hop.Datarate) error
	// SetChannel tunes to a hop channel
	SetChannel(ch uint8) error
	// ReadStatus reads and clears the interrupt status. It returns false if
	// the chip reports a power-on reset.
	ReadStatus() (Status, bool)
	// ArmReceiver clears the receive FIFO and enters receive mode
	ArmReceiver() error
	// PollRx moves available received bytes into dst
	PollRx(dst []byte) RxResult
	// ArmTransmitter loads the start of frame and begins transmission. It
	// returns how many bytes were loaded.
	ArmTransmitter(frame []byte, dest uint32) (int, error)
	// PollTx loads as much of pending as fits into the FIFO and reports
	// progress
	PollTx(pending []byte) (TxStatus, int)
	// RegisterInterrupt installs the interrupt handler
	RegisterInterrupt(h InterruptHandler, token any)
}

// SerialNumberer is implemented by transports that can read a hardware
// serial number
type SerialNumberer interface {
	SerialNumber() ([]byte, error)
}

// DeriveDeviceID folds a serial number into a 32-bit device ID using four
// CRC-8 lanes, one per output byte
func DeriveDeviceID(serial []byte) uint32 {
	table := crc8.MakeTable(crc8.CRC8)
	var lanes [4][]byte
	for i, b := range serial {
		lanes[i%4] = append(lanes[i%4], b)
	}
	var id uint32
	for i, lane := range lanes {
		id |= uint32(crc8.Checksum(lane, table)) << (8 * (3 - i))
	}
	return id
}
