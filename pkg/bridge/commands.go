// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

// Command builder functions create Packet structs ready for encoding.
// These are convenience wrappers around NewMessage that keep
// payload keys in one place.

// NewReset creates a RESET packet (0x10).
// The adapter performs a software reset of the chip.
func NewReset() *Packet {
	return NewMessage(MsgReset, nil)
}

// NewIdentify creates an IDENTIFY packet (0x11).
// The adapter answers with IDENT.
func NewIdentify() *Packet {
	return NewMessage(MsgIdentify, nil)
}

// NewConfigure creates a CONFIGURE packet (0x12).
// headerID is transmitted on every frame and required on receive.
func NewConfigure(headerID uint32, maxLen int, syncWord uint16, preambleNibbles int) *Packet {
	payload := Fields{
		0: uint64(headerID),
		1: uint64(maxLen),
		2: uint64(syncWord),
		3: uint64(preambleNibbles),
	}
	return NewMessage(MsgConfigure, payload)
}

// NewSetProfile creates a SET_PROFILE packet (0x13).
// The adapter loads the modem register table for the bit rate.
func NewSetProfile(bitsPerSecond int) *Packet {
	payload := Fields{
		0: uint64(bitsPerSecond),
	}
	return NewMessage(MsgSetProfile, payload)
}

// NewSetChannel creates a SET_CHANNEL packet (0x14).
func NewSetChannel(channel uint8) *Packet {
	payload := Fields{
		0: uint64(channel),
	}
	return NewMessage(MsgSetChannel, payload)
}

// NewArmRx creates an ARM_RX packet (0x15).
// The adapter clears the receive FIFO and enters receive mode.
func NewArmRx() *Packet {
	return NewMessage(MsgArmRx, nil)
}

// NewArmTx creates an ARM_TX packet (0x16) carrying the start of a frame.
func NewArmTx(dest uint32, data []byte) *Packet {
	payload := Fields{
		0: uint64(dest),
		1: data,
	}
	return NewMessage(MsgArmTx, payload)
}

// NewTxFill creates a TX_FILL packet (0x17) with the next part of a frame.
func NewTxFill(data []byte) *Packet {
	payload := Fields{
		0: data,
	}
	return NewMessage(MsgTxFill, payload)
}

// NewIdent creates an IDENT packet (0x30).
func NewIdent(deviceType, version uint8, serial []byte) *Packet {
	payload := Fields{
		0: uint64(deviceType),
		1: uint64(version),
	}
	if len(serial) > 0 {
		payload[2] = serial
	}
	return NewMessage(MsgIdent, payload)
}

// NewStatus creates a STATUS packet (0x31).
func NewStatus(irqFlags uint16, deviceStatus uint8, rssi int8, powerOnReset bool) *Packet {
	payload := Fields{
		0: uint64(irqFlags),
		1: uint64(deviceStatus),
		2: int64(rssi),
		3: powerOnReset,
	}
	return NewMessage(MsgStatus, payload)
}

// NewRxData creates an RX_DATA packet (0x32).
func NewRxData(data []byte) *Packet {
	return NewMessage(MsgRxData, Fields{0: data})
}

// NewRxDone creates an RX_DONE packet (0x33) with the declared frame length.
func NewRxDone(length int) *Packet {
	return NewMessage(MsgRxDone, Fields{0: uint64(length)})
}

// NewTxNeed creates a TX_NEED packet (0x34) with the free FIFO space.
func NewTxNeed(free int) *Packet {
	return NewMessage(MsgTxNeed, Fields{0: uint64(free)})
}

// NewTxSent creates a TX_SENT packet (0x35).
func NewTxSent() *Packet {
	return NewMessage(MsgTxSent, nil)
}

// NewFail creates a FAIL packet (0xE0).
func NewFail(code FailCode) *Packet {
	return NewMessage(MsgFail, Fields{0: uint64(code)})
}
