// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package irq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warthog618/go-gpiocdev"
)

func TestEdgeHandler_FallingOnly(t *testing.T) {
	var tokens []any
	h := edgeHandler(func(token any) { tokens = append(tokens, token) }, "radio")

	h(gpiocdev.LineEvent{Type: gpiocdev.LineEventRisingEdge})
	h(gpiocdev.LineEvent{Type: gpiocdev.LineEventFallingEdge})
	h(gpiocdev.LineEvent{Type: gpiocdev.LineEventFallingEdge})

	assert.Equal(t, []any{"radio", "radio"}, tokens)
}

func TestWatch_NilHandler(t *testing.T) {
	_, err := Watch("gpiochip0", 0, nil, nil)
	assert.Error(t, err)
}
