// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Thermoquad/radiolink/pkg/bridge"
	"github.com/Thermoquad/radiolink/pkg/codec"
	"github.com/Thermoquad/radiolink/pkg/irq"
	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/Thermoquad/radiolink/pkg/monitor"
	"github.com/spf13/cobra"
)

var (
	linkOpts        linkFlags
	linkTUI         bool
	linkStatsListen string
	linkAnnounce    bool
	linkIRQChip     string
	linkIRQLine     int
	linkStatsEvery  time.Duration
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Run a link end over a bridge adapter",
	Long: `Run a coordinator or peer on a radio reached through a bridge adapter.

Bytes read from stdin are queued on the primary stream and bytes received on
the primary stream are written to stdout. Aux stream traffic is logged.

With --tui, a live statistics view replaces stdin/stdout and lines typed into
it are sent on the primary stream.

Examples:
  radiolink link --port /dev/ttyUSB0 --device-id 0x1000
  radiolink link --url ws://adapter.local/bridge --role peer --coordinator-id 0x1000 --tui
  radiolink link --config peer.yaml --stats-listen :8080 --announce`,
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkOpts.register(linkCmd.Flags())
	linkCmd.Flags().BoolVar(&linkTUI, "tui", false, "Show a live statistics view")
	linkCmd.Flags().StringVar(&linkStatsListen, "stats-listen", "", "Serve statistics over WebSocket on this address (e.g. :8080)")
	linkCmd.Flags().BoolVar(&linkAnnounce, "announce", false, "Announce the statistics endpoint with DNS-SD")
	linkCmd.Flags().StringVar(&linkIRQChip, "irq-chip", "", "GPIO chip wired to the radio nIRQ line (e.g. gpiochip0)")
	linkCmd.Flags().IntVar(&linkIRQLine, "irq-line", -1, "GPIO line offset of the radio nIRQ line")
	linkCmd.Flags().DurationVar(&linkStatsEvery, "stats-interval", 5*time.Second, "Statistics log interval without --tui (0 disables)")
}

func runLink(cmd *cobra.Command, args []string) error {
	file, cfg, err := linkOpts.resolve(cmd.Flags())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("stats-listen") {
		file.StatsListen = linkStatsListen
	}
	if cmd.Flags().Changed("announce") {
		file.Announce = linkAnnounce
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	transport := bridge.NewTransport(conn, bridge.WithLogger(logger.WithPrefix("bridge")))
	go func() {
		if err := transport.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("bridge stopped", "error", err)
			stop()
		}
	}()

	dev, err := link.New(transport, cfg,
		link.WithLogger(logger.WithPrefix("link")),
		link.WithReceiveHandler(receiveToStdout(linkTUI)),
		link.WithFatalHandler(func(err error) { logger.Error("radio halted", "error", err) }),
	)
	if err != nil {
		return err
	}

	if linkIRQChip != "" {
		if linkIRQLine < 0 {
			return fmt.Errorf("--irq-line is required with --irq-chip")
		}
		w, err := irq.Watch(linkIRQChip, linkIRQLine, link.HandleInterrupt, dev)
		if err != nil {
			return err
		}
		defer w.Close()
		logger.Info("watching nIRQ", "chip", linkIRQChip, "line", linkIRQLine)
	}

	if file.StatsListen != "" {
		if err := startStatsServer(ctx, dev, file.StatsListen, file.Announce); err != nil {
			return err
		}
	}

	logger.Info("starting link", "connection", connInfo, "role", cfg.Role, "datarate", cfg.Datarate)

	runErr := make(chan error, 1)
	go func() { runErr <- dev.Run(ctx) }()

	if linkTUI {
		title := fmt.Sprintf("RADIOLINK - %s", cfg.Role)
		send := func(line string) int { return dev.TransmitBytes(codec.StreamPrimary, []byte(line)) }
		if err := runStatsTUI(title, connInfo, []statsSource{{name: cfg.Role.String(), stats: dev.Stats}}, send); err != nil {
			return err
		}
		stop()
	} else {
		go pumpStdin(ctx, dev)
		if linkStatsEvery > 0 {
			go logStats(ctx, linkStatsEvery, statsSource{name: cfg.Role.String(), stats: dev.Stats})
		}
	}

	err = <-runErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// receiveToStdout writes primary stream data to stdout unless a TUI owns
// the terminal
func receiveToStdout(tui bool) link.ReceiveHandler {
	return func(stream codec.StreamID, data []byte) {
		if stream == codec.StreamPrimary && !tui {
			os.Stdout.Write(data)
			return
		}
		logger.Info("received", "stream", stream, "bytes", len(data), "data", strconv.Quote(string(data)))
	}
}

// pumpStdin queues stdin on the primary stream, waiting while the queue
// is full
func pumpStdin(ctx context.Context, dev *link.Device) {
	buf := make([]byte, link.StreamBufferSize)
	for {
		n, err := os.Stdin.Read(buf)
		pending := buf[:n]
		for len(pending) > 0 {
			queued := dev.TransmitBytes(codec.StreamPrimary, pending)
			pending = pending[queued:]
			if len(pending) == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("stdin read failed", "error", err)
			}
			return
		}
	}
}

func logStats(ctx context.Context, every time.Duration, sources ...statsSource) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, src := range sources {
				logger.Info(formatStatsLine(src.name, src.stats()))
			}
		}
	}
}

// startStatsServer serves dev's statistics and optionally announces them
func startStatsServer(ctx context.Context, src monitor.StatsSource, addr string, announce bool) error {
	srv := monitor.NewServer(src, monitor.WithLogger(logger.WithPrefix("monitor")))
	go srv.Run(ctx)
	go func() {
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			logger.Error("statistics server stopped", "error", err)
		}
	}()

	if !announce {
		return nil
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("--stats-listen %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("--stats-listen %q: invalid port", addr)
	}
	return monitor.Announce(ctx, "", port, logger.WithPrefix("dns-sd"))
}
