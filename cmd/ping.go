// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/radiolink/pkg/bridge"
	"github.com/spf13/cobra"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure bridge round trip time with IDENTIFY requests",
	Long: `Send IDENTIFY requests to the radio adapter and time each IDENT reply.

This exercises both directions of the bridge without touching the radio
configuration, which makes it useful for checking a WebSocket relay or a
long serial cable before running a link.

Exit codes:
  0 - All pings answered
  1 - One or more pings timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Radiolink - Bridge Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	transport := bridge.NewTransport(conn,
		bridge.WithLogger(logger.WithPrefix("bridge")),
		bridge.WithIdentifyTimeout(pingTimeout),
	)
	go func() {
		if err := transport.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "READ FAILED: %v\n", err)
			os.Exit(2)
		}
	}()

	answered := 0
	var total time.Duration
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		id, err := transport.Identify()
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			rtt := time.Since(start)
			total += rtt
			answered++
			fmt.Printf("IDENT type=0x%02X version=0x%02X, rtt=%v\n", id.DeviceType, id.Version, rtt.Round(time.Microsecond))
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, answered, float64(pingCount-answered)/float64(pingCount)*100)
	if answered > 0 {
		fmt.Printf("average rtt %v\n", (total / time.Duration(answered)).Round(time.Microsecond))
	}

	if answered < pingCount {
		os.Exit(1)
	}
	return nil
}
