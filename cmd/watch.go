// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/Thermoquad/radiolink/pkg/monitor"
	"github.com/spf13/cobra"
)

var (
	watchURL string
	watchTUI bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show statistics published by a running link",
	Long: `Connect to the statistics endpoint of "radiolink link --stats-listen" and
display each snapshot.

Examples:
  radiolink watch --stats-url ws://raspberrypi.local:8080/stats
  radiolink watch --stats-url ws://localhost:8080/stats --tui`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchURL, "stats-url", "ws://localhost:8080"+monitor.StatsPath, "Statistics endpoint")
	watchCmd.Flags().BoolVar(&watchTUI, "tui", true, "Show a live statistics view")
}

// remoteStats holds the most recent snapshot received from a server
type remoteStats struct {
	mu     sync.Mutex
	latest link.Stats
}

func (r *remoteStats) set(st link.Stats) {
	r.mu.Lock()
	r.latest = st
	r.mu.Unlock()
}

func (r *remoteStats) Stats() link.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := monitor.Dial(ctx, watchURL)
	if err != nil {
		return err
	}
	defer client.Close()
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	if !watchTUI {
		for {
			st, err := client.Next()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("statistics stream: %w", err)
			}
			fmt.Println(formatStatsLine("remote", st))
		}
	}

	remote := &remoteStats{}
	recvErr := make(chan error, 1)
	go func() {
		for {
			st, err := client.Next()
			if err != nil {
				recvErr <- err
				stop()
				return
			}
			remote.set(st)
		}
	}()

	if err := runStatsTUI("RADIOLINK - REMOTE", watchURL, []statsSource{{name: "remote", stats: remote.Stats}}, nil); err != nil {
		return err
	}
	select {
	case err := <-recvErr:
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("statistics stream: %w", err)
		}
	default:
	}
	return nil
}
