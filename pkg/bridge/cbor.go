// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Fields is a message payload keyed by small integers
type Fields map[int]interface{}

// message is the CBOR body of every frame: [type, fields|null]
type message struct {
	_      struct{} `cbor:",toarray"`
	Type   uint8
	Fields Fields
}

func marshalMessage(msgType uint8, f Fields) ([]byte, error) {
	if len(f) == 0 {
		f = nil // encodes as null
	}
	return cbor.Marshal(message{Type: msgType, Fields: f})
}

func unmarshalMessage(body []byte) (uint8, Fields, error) {
	if len(body) == 0 {
		return 0, nil, fmt.Errorf("empty message body")
	}
	var m message
	if err := cbor.Unmarshal(body, &m); err != nil {
		return 0, nil, fmt.Errorf("decode message: %w", err)
	}
	return m.Type, m.Fields, nil
}

// Uint returns field key as an unsigned integer
func (f Fields) Uint(key int) (uint64, bool) {
	switch v := f[key].(type) {
	case uint64:
		return v, true
	case int64:
		return uint64(v), v >= 0
	}
	return 0, false
}

// Int returns field key as a signed integer
func (f Fields) Int(key int) (int64, bool) {
	switch v := f[key].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

// Bool returns field key as a bool
func (f Fields) Bool(key int) (bool, bool) {
	v, ok := f[key].(bool)
	return v, ok
}

// Bytes returns field key as a byte string
func (f Fields) Bytes(key int) ([]byte, bool) {
	v, ok := f[key].([]byte)
	return v, ok
}

// Has reports whether key is present
func (f Fields) Has(key int) bool {
	_, ok := f[key]
	return ok
}
