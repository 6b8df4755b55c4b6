// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peerYAML = `
role: peer
device_id: 0x2000
coordinator_id: 0x1000
datarate: 57600
min_channel: 10
max_channel: 200
ppm_recv: true
stats_listen: ":8080"
announce: true
`

func TestDecode_Peer(t *testing.T) {
	f, err := Decode(strings.NewReader(peerYAML))
	require.NoError(t, err)
	assert.Equal(t, ":8080", f.StatsListen)
	assert.True(t, f.Announce)

	cfg, err := f.LinkConfig()
	require.NoError(t, err)
	assert.Equal(t, link.RolePeer, cfg.Role)
	assert.Equal(t, uint32(0x2000), cfg.DeviceID)
	assert.Equal(t, uint32(0x1000), cfg.CoordinatorID)
	assert.Equal(t, hop.Rate57600, cfg.Datarate)
	assert.Equal(t, uint8(10), cfg.MinChannel)
	assert.Equal(t, uint8(200), cfg.MaxChannel)
	assert.True(t, cfg.PPMRecv)
	assert.False(t, cfg.PPMSend)
}

func TestDecode_EmptyUsesDefaults(t *testing.T) {
	f, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), f)

	cfg, err := f.LinkConfig()
	require.NoError(t, err)
	assert.Equal(t, link.DefaultConfig(), cfg)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "colour: blue\n"},
		{"unknown role", "role: observer\n"},
		{"unsupported datarate", "datarate: 1200\n"},
		{"peer without coordinator", "role: peer\n"},
		{"inverted range", "min_channel: 200\nmax_channel: 10\n"},
		{"range too narrow", "datarate: 256000\nmin_channel: 100\nmax_channel: 101\n"},
		{"not yaml", "role: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Peer")
	require.NoError(t, err)
	assert.Equal(t, link.RolePeer, r)

	r, err = ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, link.RoleCoordinator, r)

	_, err = ParseRole("relay")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestLoad_FileRoundTrip(t *testing.T) {
	want, err := Decode(strings.NewReader(peerYAML))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))

	path := filepath.Join(t.TempDir(), "radiolink.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
