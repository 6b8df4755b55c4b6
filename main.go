// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Radiolink - frequency-hopping packet radio link
//
// Runs a coordinator or peer end of a hopping link over a bridge adapter,
// simulates a link in memory, and inspects link statistics and bridge
// traffic.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/radiolink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
