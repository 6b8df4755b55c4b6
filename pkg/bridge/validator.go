// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"

	"github.com/Thermoquad/radiolink/pkg/hop"
)

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyMissingField AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyInvalidValue
	AnomalyDecodeError
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket validates packet structure and detects anomalies
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p *Packet) []ValidationError {
	if err := p.Err(); err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: fmt.Sprintf("CBOR decode failed: %v", err),
		}}
	}

	m := p.Fields()
	switch p.Type() {
	case MsgConfigure:
		return validateConfigure(m)
	case MsgSetProfile:
		return validateSetProfile(m)
	case MsgSetChannel:
		return validateChannel(m)
	case MsgArmTx:
		return validateFrameBytes("ARM_TX", m, 1)
	case MsgTxFill, MsgRxData:
		return validateFrameBytes(FormatMessageType(p.Type()), m, 0)
	case MsgIdent:
		return requireFields("IDENT", m, 0, 1)
	case MsgStatus:
		return requireFields("STATUS", m, 0, 1, 2, 3)
	case MsgRxDone:
		return validateRxDone(m)
	case MsgTxNeed:
		return requireFields("TX_NEED", m, 0)
	}
	return nil
}

func requireFields(name string, m Fields, keys ...int) []ValidationError {
	var errors []ValidationError
	for _, k := range keys {
		if !m.Has(k) {
			errors = append(errors, ValidationError{
				Type:    AnomalyMissingField,
				Message: fmt.Sprintf("%s missing field %d", name, k),
				Details: map[string]interface{}{"key": k},
			})
		}
	}
	return errors
}

func validateConfigure(m Fields) []ValidationError {
	errors := requireFields("CONFIGURE", m, 0, 1, 2, 3)
	if maxLen, ok := m.Uint(1); ok && maxLen > hop.MaxFrameLen {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("CONFIGURE max length %d exceeds FIFO size %d", maxLen, hop.MaxFrameLen),
			Details: map[string]interface{}{"max_len": maxLen, "max": hop.MaxFrameLen},
		})
	}
	return errors
}

func validateSetProfile(m Fields) []ValidationError {
	bps, ok := m.Uint(0)
	if !ok {
		return requireFields("SET_PROFILE", m, 0)
	}
	if _, err := hop.FromBitsPerSecond(int(bps)); err != nil {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("SET_PROFILE unsupported datarate %d", bps),
			Details: map[string]interface{}{"bps": bps},
		}}
	}
	return nil
}

func validateChannel(m Fields) []ValidationError {
	ch, ok := m.Uint(0)
	if !ok {
		return requireFields("SET_CHANNEL", m, 0)
	}
	if ch > hop.MaxChannel {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("SET_CHANNEL channel=%d (max %d)", ch, hop.MaxChannel),
			Details: map[string]interface{}{"channel": ch, "max": hop.MaxChannel},
		}}
	}
	return nil
}

func validateFrameBytes(name string, m Fields, key int) []ValidationError {
	data, ok := m.Bytes(key)
	if !ok {
		return requireFields(name, m, key)
	}
	if len(data) > hop.MaxFrameLen {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("%s carries %d bytes (max %d)", name, len(data), hop.MaxFrameLen),
			Details: map[string]interface{}{"length": len(data), "max": hop.MaxFrameLen},
		}}
	}
	return nil
}

func validateRxDone(m Fields) []ValidationError {
	length, ok := m.Uint(0)
	if !ok {
		return requireFields("RX_DONE", m, 0)
	}
	if length == 0 || length > hop.MaxFrameLen {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("RX_DONE length=%d (valid 1-%d)", length, hop.MaxFrameLen),
			Details: map[string]interface{}{"length": length, "max": hop.MaxFrameLen},
		}}
	}
	return nil
}
