// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"strings"
	"time"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	at := p.Received()
	if at.IsZero() {
		at = time.Now()
	}
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", at.Format("15:04:05.000"), FormatMessageType(p.Type()), p.Type(), p.Size())
	if err := p.Err(); err != nil {
		return result + fmt.Sprintf("  (parse error: %v)\n", err)
	}
	return result + FormatFields(p.Type(), p.Fields())
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Commands (0x10-0x1F)
	case MsgReset:
		return "RESET"
	case MsgIdentify:
		return "IDENTIFY"
	case MsgConfigure:
		return "CONFIGURE"
	case MsgSetProfile:
		return "SET_PROFILE"
	case MsgSetChannel:
		return "SET_CHANNEL"
	case MsgArmRx:
		return "ARM_RX"
	case MsgArmTx:
		return "ARM_TX"
	case MsgTxFill:
		return "TX_FILL"

	// Radio Data (0x30-0x3F)
	case MsgIdent:
		return "IDENT"
	case MsgStatus:
		return "STATUS"
	case MsgRxData:
		return "RX_DATA"
	case MsgRxDone:
		return "RX_DONE"
	case MsgTxNeed:
		return "TX_NEED"
	case MsgTxSent:
		return "TX_SENT"

	// Errors (0xE0-0xEF)
	case MsgFail:
		return "FAIL"

	default:
		return "UNKNOWN"
	}
}

// FormatFields renders a payload according to its message type
func FormatFields(msgType uint8, m Fields) string {
	switch msgType {
	case MsgReset, MsgIdentify, MsgArmRx, MsgTxSent:
		return "  (no payload)\n"

	case MsgConfigure:
		// 0 => header id, 1 => max len, 2 => sync word, 3 => preamble nibbles
		header, _ := m.Uint(0)
		maxLen, _ := m.Uint(1)
		sync, _ := m.Uint(2)
		preamble, _ := m.Uint(3)
		return fmt.Sprintf("  Header: 0x%08X, MaxLen: %d, Sync: 0x%04X, Preamble: %d nibbles\n",
			header, maxLen, sync, preamble)

	case MsgSetProfile:
		bps, _ := m.Uint(0)
		return fmt.Sprintf("  Datarate: %d bps\n", bps)

	case MsgSetChannel:
		ch, _ := m.Uint(0)
		return fmt.Sprintf("  Channel: %d\n", ch)

	case MsgArmTx:
		dest, _ := m.Uint(0)
		data, _ := m.Bytes(1)
		return fmt.Sprintf("  Dest: 0x%08X, Bytes: %s\n", dest, formatHex(data))

	case MsgTxFill, MsgRxData:
		data, _ := m.Bytes(0)
		return fmt.Sprintf("  Bytes: %s\n", formatHex(data))

	case MsgIdent:
		devType, _ := m.Uint(0)
		version, _ := m.Uint(1)
		serial, hasSerial := m.Bytes(2)
		if hasSerial {
			return fmt.Sprintf("  Type: 0x%02X, Version: 0x%02X, Serial: %s\n", devType, version, formatHex(serial))
		}
		return fmt.Sprintf("  Type: 0x%02X, Version: 0x%02X\n", devType, version)

	case MsgStatus:
		// 0 => irq flags, 1 => device status, 2 => rssi, 3 => power-on reset
		irq, _ := m.Uint(0)
		status, _ := m.Uint(1)
		rssi, _ := m.Int(2)
		por, _ := m.Bool(3)
		result := fmt.Sprintf("  IRQ: 0x%04X, Status: 0x%02X, RSSI: %d", irq, status, rssi)
		if por {
			result += " [POWER-ON RESET]"
		}
		return result + "\n"

	case MsgRxDone:
		length, _ := m.Uint(0)
		return fmt.Sprintf("  Length: %d\n", length)

	case MsgTxNeed:
		free, _ := m.Uint(0)
		return fmt.Sprintf("  Free: %d\n", free)

	case MsgFail:
		code, _ := m.Uint(0)
		return fmt.Sprintf("  Code: %s (%d)\n", FormatFailCode(FailCode(code)), code)

	default:
		if len(m) == 0 {
			return "  (no payload)\n"
		}
		return fmt.Sprintf("  %v\n", m)
	}
}

// FormatFailCode returns the human-readable name for a fail code
func FormatFailCode(code FailCode) string {
	switch code {
	case FailRx:
		return "RX"
	case FailTx:
		return "TX"
	case FailCommand:
		return "COMMAND"
	case FailOverflow:
		return "OVERFLOW"
	case FailChipReset:
		return "CHIP_RESET"
	default:
		return "UNKNOWN"
	}
}

func formatHex(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
