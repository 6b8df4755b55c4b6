// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/radiolink/pkg/monitor"
	"github.com/spf13/cobra"
)

var discoveryTimeout time.Duration

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find running links that announce their statistics",
	Long: `Browse the local network for links started with
"radiolink link --stats-listen ... --announce" and print the statistics URL
of each one. The URL can be passed to "radiolink watch --stats-url".

Examples:
  radiolink discovery
  radiolink discovery --timeout 10s

Exit codes:
  0 - At least one link found
  1 - No links found before timeout
  2 - Browse error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().DurationVar(&discoveryTimeout, "timeout", 5*time.Second, "How long to browse")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	fmt.Printf("Radiolink - Link Discovery\n")
	fmt.Printf("Service: %s\n", monitor.ServiceType)
	fmt.Printf("Timeout: %s\n", discoveryTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	err := monitor.Browse(ctx, func(e monitor.Endpoint) {
		mu.Lock()
		defer mu.Unlock()
		// Responders answer once per interface
		if seen[e.URL] {
			return
		}
		seen[e.URL] = true

		fmt.Printf("\nLink found:\n")
		fmt.Printf("  Name: %s\n", e.Name)
		fmt.Printf("  Host: %s\n", e.Host)
		fmt.Printf("  URL:  %s\n", e.URL)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "BROWSE FAILED: %v\n", err)
		os.Exit(2)
	}

	mu.Lock()
	found := len(seen)
	mu.Unlock()

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Links found: %d\n", found)
	if found == 0 {
		fmt.Printf("No links discovered. Check that the link runs with --announce.\n")
		os.Exit(1)
	}
	return nil
}
