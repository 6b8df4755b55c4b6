// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/spf13/cobra"
)

var (
	channelsCoordinatorID uint32
	channelsDatarate      = hop.Rate64000
	channelsMin           uint8
	channelsMax           uint8
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Print the hop table for a coordinator",
	Long: `Generate and print the channel hop table a coordinator and its peers use.

The table depends only on the coordinator ID, the datarate and the channel
range, so both ends of a link derive the same sequence independently.`,
	RunE: runChannels,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.Flags().Uint32Var(&channelsCoordinatorID, "coordinator-id", 0, "Coordinator ID the table is keyed with")
	channelsCmd.Flags().Var(&channelsDatarate, "datarate", "Air datarate in bits per second")
	channelsCmd.Flags().Uint8Var(&channelsMin, "min", hop.MinChannel, "Lowest channel")
	channelsCmd.Flags().Uint8Var(&channelsMax, "max", hop.MaxChannel, "Highest channel")
}

func runChannels(cmd *cobra.Command, args []string) error {
	table, err := hop.GenerateChannelTable(channelsCoordinatorID, channelsDatarate, channelsMin, channelsMax)
	if err != nil {
		return err
	}
	writeChannelTable(cmd.OutOrStdout(), channelsCoordinatorID, channelsDatarate, table)
	return nil
}

func writeChannelTable(w io.Writer, coordinatorID uint32, rate hop.Datarate, table []uint8) {
	p := rate.Profile()
	fmt.Fprintf(w, "Coordinator: 0x%08X\n", coordinatorID)
	fmt.Fprintf(w, "Datarate:    %d bps (spacing %d, guard %d)\n", p.BitsPerSecond, p.Spacing, p.Guard)
	fmt.Fprintf(w, "Hop cycle:   %d channels x %d ms\n\n", len(table), rate.PacketPeriod(false))

	var row []string
	for i, ch := range table {
		row = append(row, fmt.Sprintf("%2d:%3d", i, ch))
		if len(row) == 8 || i == len(table)-1 {
			fmt.Fprintln(w, strings.Join(row, "  "))
			row = row[:0]
		}
	}
}
