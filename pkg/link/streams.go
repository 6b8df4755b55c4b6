// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"sync"

	"github.com/Thermoquad/radiolink/pkg/codec"
)

// StreamBufferSize is the capacity of each outgoing stream queue
const StreamBufferSize = 1024

// streamQueues buffers outgoing stream bytes between the application and
// the driver. It implements codec.StreamSource.
type streamQueues struct {
	mu   sync.Mutex
	size int
	bufs [codec.NumStreams][]byte
}

func newStreamQueues(size int) *streamQueues {
	return &streamQueues{size: size}
}

// Write queues as much of data as fits and returns the count accepted
func (q *streamQueues) Write(id codec.StreamID, data []byte) int {
	if int(id) >= codec.NumStreams {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(len(data), q.size-len(q.bufs[id]))
	if n <= 0 {
		return 0
	}
	q.bufs[id] = append(q.bufs[id], data[:n]...)
	return n
}

func (q *streamQueues) Buffered(id codec.StreamID) int {
	if int(id) >= codec.NumStreams {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs[id])
}

func (q *streamQueues) Read(id codec.StreamID, p []byte) int {
	if int(id) >= codec.NumStreams {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n := copy(p, q.bufs[id])
	q.bufs[id] = q.bufs[id][n:]
	if len(q.bufs[id]) == 0 {
		q.bufs[id] = q.bufs[id][:0:0]
	}
	return n
}
