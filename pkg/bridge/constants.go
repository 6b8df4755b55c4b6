// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge tunnels the radio chip interface over a byte stream.
//
// A radio adapter (a microcontroller wired to the chip) is attached by USB
// serial or reachable over WebSocket. The host sends it register-level
// commands and the adapter answers with status, received bytes and
// transmit progress. Every message is a byte-stuffed frame:
//
//	0x7E | stuffed(length | cbor[type, map] | crc16) | 0x7F
//
// The CRC is CRC-16/CCITT-FALSE over the length byte and the CBOR payload.
package bridge

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPayloadSize = 200
	MaxPacketSize  = 1 + MaxPayloadSize + 2 // length + payload + crc
)

// Message types - Commands (Host → Radio) 0x10-0x1F
const (
	MsgReset      = 0x10
	MsgIdentify   = 0x11
	MsgConfigure  = 0x12
	MsgSetProfile = 0x13
	MsgSetChannel = 0x14
	MsgArmRx      = 0x15
	MsgArmTx      = 0x16
	MsgTxFill     = 0x17
)

// Message types - Radio Data (Radio → Host) 0x30-0x3F
const (
	MsgIdent  = 0x30
	MsgStatus = 0x31
	MsgRxData = 0x32
	MsgRxDone = 0x33
	MsgTxNeed = 0x34
	MsgTxSent = 0x35
)

// Message types - Errors (Radio → Host) 0xE0-0xEF
const (
	MsgFail = 0xE0
)

// FailCode is the reason carried by a FAIL message
type FailCode int

// Fail codes
const (
	FailRx        FailCode = 0x00 // receive aborted (CRC, header mismatch)
	FailTx        FailCode = 0x01 // transmit aborted
	FailCommand   FailCode = 0x02 // malformed or unknown command
	FailOverflow  FailCode = 0x03 // FIFO overflow or underflow
	FailChipReset FailCode = 0x04 // chip lost power
)
