// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/radiolink/pkg/bridge"
	"github.com/spf13/cobra"
)

var (
	bridgeLogShowRaw    bool
	bridgeLogStatsEvery time.Duration
)

var bridgeLogCmd = &cobra.Command{
	Use:   "bridge_log",
	Short: "Display bridge adapter traffic in human-readable format",
	Long: `Continuously decode and display bridge messages as they arrive from the
adapter, flagging frames that fail to decode or validate.

Nothing is sent to the adapter, so this can be attached to a tap of a link
that another process is driving.`,
	RunE: runBridgeLog,
}

func init() {
	rootCmd.AddCommand(bridgeLogCmd)
	bridgeLogCmd.Flags().BoolVar(&bridgeLogShowRaw, "raw", false, "Also print the raw bytes of each frame")
	bridgeLogCmd.Flags().DurationVar(&bridgeLogStatsEvery, "stats-interval", 0, "Print a statistics summary at this interval (0 = only on exit)")
}

func runBridgeLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the reader on Ctrl+C so the summary still prints
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Radiolink - Bridge Log\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	err = logBridgeTraffic(conn, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// logBridgeTraffic prints every frame read from r until it fails, followed
// by a statistics summary
func logBridgeTraffic(r io.Reader, out io.Writer) error {
	decoder := bridge.NewDecoder()
	stats := bridge.NewStatistics()
	buf := make([]byte, 256)
	lastSummary := time.Now()

	defer func() {
		fmt.Fprintf(out, "\n%s", stats)
	}()

	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			packet, derr := decoder.DecodeByte(buf[i])
			if derr != nil {
				stats.Update(nil, derr, nil)
				fmt.Fprintf(out, "[ERROR] %v\n", derr)
				continue
			}
			if packet == nil {
				continue
			}
			invalid := bridge.ValidatePacket(packet)
			stats.Update(packet, nil, invalid)

			fmt.Fprint(out, bridge.FormatPacket(packet))
			for _, v := range invalid {
				fmt.Fprintf(out, "  [INVALID] %s\n", v.Message)
			}
			if bridgeLogShowRaw {
				fmt.Fprintf(out, "  raw: % X\n", decoder.LastFrame())
			}
		}

		if bridgeLogStatsEvery > 0 && time.Since(lastSummary) >= bridgeLogStatsEvery {
			fmt.Fprintf(out, "\n%s\n", stats)
			lastSummary = time.Now()
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				logger.Info("connection closed")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}
