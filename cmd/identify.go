// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/radiolink/pkg/bridge"
	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/spf13/cobra"
)

var identifyTimeout time.Duration

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Check that a radio adapter answers and carries the expected chip",
	Long: `Reset the radio adapter, ask it to identify itself and print the chip
identity, serial number and the device ID derived from that serial.

Exit codes:
  0 - Adapter answered with the expected chip
  1 - No answer before timeout, or an unsupported chip
  2 - Connection error

Useful for checking the wiring of a new adapter before running a link.`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().DurationVar(&identifyTimeout, "timeout", 2*time.Second, "Time to wait for the adapter to identify")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Radiolink - Adapter Identify\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s\n\n", identifyTimeout)

	transport := bridge.NewTransport(conn,
		bridge.WithLogger(logger.WithPrefix("bridge")),
		bridge.WithIdentifyTimeout(identifyTimeout),
	)
	runErr := make(chan error, 1)
	go func() { runErr <- transport.Run(ctx) }()

	if err := transport.Reset(); err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		os.Exit(2)
	}

	id, err := transport.Identify()
	if err != nil {
		select {
		case rerr := <-runErr:
			fmt.Fprintf(os.Stderr, "Read error: %v\n", rerr)
			os.Exit(2)
		default:
		}
		if errors.Is(err, bridge.ErrTimeout) {
			fmt.Fprintf(os.Stderr, "TIMEOUT: adapter did not identify within %s\n", identifyTimeout)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Identify failed: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Chip:      type 0x%02X, version 0x%02X\n", id.DeviceType, id.Version)
	if serial, err := transport.SerialNumber(); err == nil {
		fmt.Printf("Serial:    % X\n", serial)
		fmt.Printf("Device ID: 0x%08X\n", link.DeriveDeviceID(serial))
	} else {
		fmt.Printf("Serial:    unavailable (%v)\n", err)
	}

	if id != link.ExpectedChip {
		fmt.Fprintf(os.Stderr, "\nUNSUPPORTED: expected type 0x%02X, version 0x%02X\n",
			link.ExpectedChip.DeviceType, link.ExpectedChip.Version)
		os.Exit(1)
	}
	fmt.Printf("\nSUCCESS: supported chip\n")
	return nil
}
