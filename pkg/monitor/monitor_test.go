// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls atomic.Uint32
}

func (c *countingSource) Stats() link.Stats {
	n := c.calls.Add(1)
	return link.Stats{
		State:       link.StateRxMode,
		Connected:   true,
		LinkQuality: 90,
		RSSI:        -71,
		Channel:     42,
		TxPackets:   n,
	}
}

func newTestServer(src StatsSource) *Server {
	return NewServer(src,
		WithLogger(log.NewWithOptions(io.Discard, log.Options{})),
		WithInterval(5*time.Millisecond))
}

// ============================================================
// Encoding
// ============================================================

func TestStats_EncodeDecode(t *testing.T) {
	in := link.Stats{
		State:       link.StateTxData,
		Connected:   true,
		LinkQuality: 77,
		RxGood:      40,
		RxCorrected: 3,
		RSSI:        -90,
		Channel:     201,
		ClockSkew:   135,
		Resets:      2,
	}
	data, err := EncodeStats(in)
	require.NoError(t, err)

	out, err := DecodeStats(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeStats_Garbage(t *testing.T) {
	_, err := DecodeStats([]byte{0xFF, 0x00})
	assert.Error(t, err)
}

// ============================================================
// Broadcast
// ============================================================

func TestServer_StreamsSnapshots(t *testing.T) {
	src := &countingSource{}
	srv := newTestServer(src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + StatsPath
	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	first, err := client.Next()
	require.NoError(t, err)
	assert.Equal(t, link.StateRxMode, first.State)
	assert.Equal(t, int8(-71), first.RSSI)
	assert.Equal(t, uint8(42), first.Channel)

	second, err := client.Next()
	require.NoError(t, err)
	assert.Greater(t, second.TxPackets, first.TxPackets)
}

func TestServer_SlowClientDoesNotBlock(t *testing.T) {
	srv := newTestServer(&countingSource{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	slow, err := srv.subscribe()
	require.NoError(t, err)
	fast, err := srv.subscribe()
	require.NoError(t, err)

	// Drain only the fast client well past the slow client's buffer
	for i := 0; i < DefaultClientBuf*3; i++ {
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("broadcast stalled behind a slow client")
		}
	}
	assert.Len(t, slow, DefaultClientBuf)
}

func TestServer_ClosesClientsOnStop(t *testing.T) {
	srv := newTestServer(&countingSource{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(stopped)
	}()

	ch, err := srv.subscribe()
	require.NoError(t, err)
	cancel()
	<-stopped

	for range ch {
	}
	_, err = srv.subscribe()
	assert.ErrorIs(t, err, ErrServerStopped)
}

func TestDefaultServiceName(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultServiceName(), "radiolink"))
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name string
		host string
		ips  []net.IP
		text map[string]string
		want string
	}{
		{"host only", "pi.local.", nil, nil, "ws://pi.local:8080/stats"},
		{"prefers ipv4", "pi.local.", []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.1.20")}, nil, "ws://192.168.1.20:8080/stats"},
		{"ipv6 only", "pi.local.", []net.IP{net.ParseIP("fe80::1")}, nil, "ws://pi.local:8080/stats"},
		{"custom path", "pi.local.", nil, map[string]string{"path": "/link"}, "ws://pi.local:8080/link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointURL(tt.host, tt.ips, 8080, tt.text))
		})
	}
}
