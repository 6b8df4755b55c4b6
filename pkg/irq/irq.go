// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package irq watches a GPIO line wired to the radio's active-low interrupt
// output and forwards each falling edge to a link interrupt handler.
package irq

import (
	"fmt"

	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/warthog618/go-gpiocdev"
)

// Watcher owns a requested interrupt line
type Watcher struct {
	line *gpiocdev.Line
}

// Watch requests offset on chip (for example "gpiochip0") with falling edge
// detection. handler is called with token from the gpiocdev event goroutine
// for every edge, so it must not block.
func Watch(chip string, offset int, handler link.InterruptHandler, token any) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("irq: nil handler")
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithConsumer("radiolink"),
		gpiocdev.WithEventHandler(edgeHandler(handler, token)),
	)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", chip, offset, err)
	}
	return &Watcher{line: line}, nil
}

func edgeHandler(handler link.InterruptHandler, token any) func(gpiocdev.LineEvent) {
	return func(evt gpiocdev.LineEvent) {
		if evt.Type == gpiocdev.LineEventFallingEdge {
			handler(token)
		}
	}
}

// Close releases the line
func (w *Watcher) Close() error {
	return w.line.Close()
}
