// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor publishes link statistics to WebSocket subscribers.
//
// Every interval the server takes a link.Stats snapshot, encodes it as CBOR
// and hands it to each connected client. A client that has not drained its
// previous snapshots misses the new one; the broadcast never blocks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Defaults
const (
	DefaultInterval  = 250 * time.Millisecond
	DefaultClientBuf = 4
	StatsPath        = "/stats"
	writeTimeout     = 2 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrServerStopped is returned when a client connects after Run has exited
var ErrServerStopped = errors.New("monitor server stopped")

// StatsSource supplies snapshots, usually a *link.Device
type StatsSource interface {
	Stats() link.Stats
}

// Server broadcasts statistics snapshots
type Server struct {
	source    StatsSource
	log       *log.Logger
	interval  time.Duration
	clientBuf int
	upgrader  websocket.Upgrader

	register   chan chan []byte
	unregister chan chan []byte
	clients    map[chan []byte]struct{}
	done       chan struct{}
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithInterval sets the broadcast period
func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClientBuffer sets how many snapshots may queue per client
func WithClientBuffer(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.clientBuf = size
		}
	}
}

// NewServer creates a server for source. Run must be active for clients
// to be served.
func NewServer(source StatsSource, opts ...Option) *Server {
	s := &Server{
		source:     source,
		interval:   DefaultInterval,
		clientBuf:  DefaultClientBuf,
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		clients:    make(map[chan []byte]struct{}),
		done:       make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.Default().WithPrefix("monitor")
	}
	return s
}

// Run broadcasts snapshots until ctx is cancelled
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			for ch := range s.clients {
				close(ch)
			}
			return
		case ch := <-s.register:
			s.clients[ch] = struct{}{}
			s.log.Debug("client subscribed", "clients", len(s.clients))
		case ch := <-s.unregister:
			if _, ok := s.clients[ch]; ok {
				delete(s.clients, ch)
				close(ch)
			}
		case <-ticker.C:
			if len(s.clients) == 0 {
				continue
			}
			data, err := EncodeStats(s.source.Stats())
			if err != nil {
				s.log.Warn("encode stats", "error", err)
				continue
			}
			s.broadcast(data)
		}
	}
}

func (s *Server) broadcast(data []byte) {
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

func (s *Server) subscribe() (chan []byte, error) {
	ch := make(chan []byte, s.clientBuf)
	select {
	case s.register <- ch:
		return ch, nil
	case <-s.done:
		return nil, ErrServerStopped
	}
}

func (s *Server) unsubscribe(ch chan []byte) {
	select {
	case s.unregister <- ch:
	case <-s.done:
	}
}

// Handler returns an http.Handler serving StatsPath
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(StatsPath, s.serveStats)
	return mux
}

func (s *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ch, err := s.subscribe()
	if err != nil {
		return
	}
	defer s.unsubscribe(ch)
	s.log.Info("stats client connected", "remote", r.RemoteAddr)

	// Reader only exists to notice the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			s.log.Info("stats client disconnected", "remote", r.RemoteAddr)
			return
		case data, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.log.Debug("write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

// ListenAndServe serves the stats endpoint on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: handshakeTimeout}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	s.log.Info("serving statistics", "addr", addr, "path", StatsPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stats server: %w", err)
	}
	return nil
}

// EncodeStats encodes a snapshot for the wire
func EncodeStats(st link.Stats) ([]byte, error) {
	return cbor.Marshal(st)
}

// DecodeStats decodes a snapshot received from a server
func DecodeStats(data []byte) (link.Stats, error) {
	var st link.Stats
	if err := cbor.Unmarshal(data, &st); err != nil {
		return link.Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}

// Client receives snapshots from a server
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a stats endpoint (ws://host:port/stats)
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stats connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stats connection failed: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks for the next snapshot
func (c *Client) Next() (link.Stats, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return link.Stats{}, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return DecodeStats(data)
	}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
