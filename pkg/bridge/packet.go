// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import "time"

// Packet is one bridge message, either built locally or decoded off the
// wire
type Packet struct {
	msgType  uint8
	fields   Fields
	size     int // CBOR body bytes, wire packets only
	crc      uint16
	received time.Time
	err      error
}

// NewMessage builds a packet to send
func NewMessage(msgType uint8, f Fields) *Packet {
	return &Packet{msgType: msgType, fields: f}
}

// Type returns the message type
func (p *Packet) Type() uint8 { return p.msgType }

// Fields returns the payload, nil when the message has none
func (p *Packet) Fields() Fields { return p.fields }

// Size returns the CBOR body length of a received packet
func (p *Packet) Size() int { return p.size }

// CRC returns the frame check value of a received packet
func (p *Packet) CRC() uint16 { return p.crc }

// Received returns when the decoder completed the packet
func (p *Packet) Received() time.Time { return p.received }

// Err returns the error from decoding the message body. The frame itself
// passed its CRC, so the type and fields are unusable but the framing is
// intact.
func (p *Packet) Err() error { return p.err }

// FromRadio reports whether the message travels radio to host
func (p *Packet) FromRadio() bool {
	return p.msgType >= MsgIdent
}
