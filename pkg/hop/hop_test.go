// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hop

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// ============================================================
// Datarate Tests
// ============================================================

func TestParseDatarate(t *testing.T) {
	tests := []struct {
		in      string
		want    Datarate
		wantErr bool
	}{
		{"9600", Rate9600, false},
		{"57600", Rate57600, false},
		{"57.6k", Rate57600, false},
		{"256K", Rate256000, false},
		{"1200", 0, true},
		{"fast", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDatarate(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseDatarate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDatarateFlagValue(t *testing.T) {
	var d Datarate
	if err := d.Set("128000"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if d != Rate128000 {
		t.Errorf("expected Rate128000, got %v", d)
	}
	if d.String() != "128000" {
		t.Errorf("String() = %q", d.String())
	}
	if d.Type() != "datarate" {
		t.Errorf("Type() = %q", d.Type())
	}
}

func TestMaxPacketLen(t *testing.T) {
	for _, rate := range Datarates() {
		if got := rate.MaxPacketLen(false); got != MaxFrameLen {
			t.Errorf("%s: MaxPacketLen = %d, want %d", rate, got, MaxFrameLen)
		}
	}
	// 9600 bps for 26 ms is 31 bytes on air, 16 after the envelope
	if got := Rate9600.MaxPacketLen(true); got != 16 {
		t.Errorf("9600 PPM-only MaxPacketLen = %d, want 16", got)
	}
}

func TestPreambleOffset(t *testing.T) {
	if got := Rate9600.PreambleOffset(); got != 4 {
		t.Errorf("9600 offset = %d, want 4", got)
	}
	if got := Rate256000.PreambleOffset(); got != 1 {
		t.Errorf("256000 offset = %d, want 1", got)
	}
}

// ============================================================
// Keyed Stream Tests
// ============================================================

func TestKeyedStream_Deterministic(t *testing.T) {
	a := NewKeyedStream(0x1000)
	b := NewKeyedStream(0x1000)
	// Run past one digest to cover the re-hash path
	for i := 0; i < 100; i++ {
		if x, y := a.Byte(), b.Byte(); x != y {
			t.Fatalf("byte %d differs: 0x%02X != 0x%02X", i, x, y)
		}
	}
}

func TestKeyedStream_KeyMatters(t *testing.T) {
	a := NewKeyedStream(1)
	b := NewKeyedStream(2)
	same := true
	for i := 0; i < 20; i++ {
		if a.Byte() != b.Byte() {
			same = false
		}
	}
	if same {
		t.Error("different keys produced identical streams")
	}
}

// ============================================================
// Channel Table Tests
// ============================================================

func TestGenerateChannelTable_Coordinator1000(t *testing.T) {
	first, err := GenerateChannelTable(0x1000, Rate9600, 0, 250)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GenerateChannelTable(0x1000, Rate9600, 0, 250)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(first) != MaxChannels {
		t.Errorf("expected %d channels, got %d", MaxChannels, len(first))
	}
	if len(first)%2 != 0 {
		t.Errorf("table length %d is odd", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("tables differ at %d: %d != %d", i, first[i], second[i])
		}
	}
}

func TestGenerateChannelTable_NarrowRange(t *testing.T) {
	// Guard of 5 on each side leaves nothing between 100 and 108
	_, err := GenerateChannelTable(42, Rate256000, 100, 108)
	if !errors.Is(err, ErrNoChannels) {
		t.Errorf("expected ErrNoChannels, got %v", err)
	}
}

func TestGenerateChannelTable_SmallRangeRoundsDown(t *testing.T) {
	// 9600: guard 2, spacing 1 -> channels 12..18 (7) -> 6
	table, err := GenerateChannelTable(7, Rate9600, 10, 20)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(table) != 6 {
		t.Errorf("expected 6 channels, got %d", len(table))
	}
}

func TestGenerateChannelTable_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.Uint32().Draw(t, "coordinator")
		rate := Datarate(rapid.IntRange(0, int(Rate256000)).Draw(t, "rate"))
		minChan := uint8(rapid.IntRange(MinChannel, MaxChannel).Draw(t, "min"))
		maxChan := uint8(rapid.IntRange(int(minChan), MaxChannel).Draw(t, "max"))

		table, err := GenerateChannelTable(id, rate, minChan, maxChan)
		if err != nil {
			if !errors.Is(err, ErrNoChannels) {
				t.Fatalf("unexpected error: %v", err)
			}
			return
		}
		again, _ := GenerateChannelTable(id, rate, minChan, maxChan)

		if len(table)%2 != 0 || len(table) > MaxChannels {
			t.Fatalf("bad table length %d", len(table))
		}
		lo, hi := Bounds(rate, minChan, maxChan)
		seen := make(map[uint8]bool)
		for i, c := range table {
			if again[i] != c {
				t.Fatalf("not reproducible at %d", i)
			}
			if seen[c] {
				t.Fatalf("duplicate channel %d", c)
			}
			seen[c] = true
			if int(c) < lo || int(c) > hi {
				t.Fatalf("channel %d outside [%d, %d]", c, lo, hi)
			}
		}
	})
}
