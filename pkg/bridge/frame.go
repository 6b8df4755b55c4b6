// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
)

// ErrIncompleteEscape is returned by Unstuff for a trailing escape byte
var ErrIncompleteEscape = errors.New("incomplete escape sequence")

// Encode encodes p as a complete frame
func Encode(p *Packet) ([]byte, error) {
	return EncodeMessage(p.msgType, p.fields)
}

// EncodeMessage builds the frame for one message, framing bytes included
func EncodeMessage(msgType uint8, f Fields) ([]byte, error) {
	body, err := marshalMessage(msgType, f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", FormatMessageType(msgType), err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%s body is %d bytes, max %d", FormatMessageType(msgType), len(body), MaxPayloadSize)
	}

	// length | body | crc, CRC over length and body
	inner := make([]byte, 0, len(body)+3)
	inner = append(inner, byte(len(body)))
	inner = append(inner, body...)
	crc := CalculateCRC(inner)
	inner = append(inner, byte(crc>>8), byte(crc))

	out := make([]byte, 0, 2*len(inner)+2)
	out = append(out, StartByte)
	out = appendStuffed(out, inner)
	return append(out, EndByte), nil
}

func needsEscape(b byte) bool {
	return b == StartByte || b == EndByte || b == EscByte
}

// appendStuffed appends data to dst with framing bytes escaped
func appendStuffed(dst, data []byte) []byte {
	for _, b := range data {
		if needsEscape(b) {
			dst = append(dst, EscByte, b^EscXor)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Unstuff reverses the escaping applied inside a frame
func Unstuff(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != EscByte {
			out = append(out, data[i])
			continue
		}
		i++
		if i == len(data) {
			return nil, ErrIncompleteEscape
		}
		out = append(out, data[i]^EscXor)
	}
	return out, nil
}
