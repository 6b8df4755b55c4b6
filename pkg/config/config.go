// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads radiolink configuration files.
//
// Example:
//
//	role: peer
//	device_id: 0x2000
//	coordinator_id: 0x1000
//	datarate: 57600
//	min_channel: 0
//	max_channel: 250
//	ppm_recv: true
//	stats_listen: ":8080"
//	announce: true
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/Thermoquad/radiolink/pkg/link"
	"gopkg.in/yaml.v3"
)

// ErrUnknownRole is returned for a role other than coordinator or peer
var ErrUnknownRole = errors.New("unknown role")

// File mirrors the YAML document
type File struct {
	Role          string `yaml:"role"`
	DeviceID      uint32 `yaml:"device_id"`
	CoordinatorID uint32 `yaml:"coordinator_id"`
	Datarate      int    `yaml:"datarate"` // bits per second
	MinChannel    uint8  `yaml:"min_channel"`
	MaxChannel    uint8  `yaml:"max_channel"`
	OneWay        bool   `yaml:"one_way"`
	PPMOnly       bool   `yaml:"ppm_only"`
	PPMSend       bool   `yaml:"ppm_send"`
	PPMRecv       bool   `yaml:"ppm_recv"`
	StatsListen   string `yaml:"stats_listen"`
	Announce      bool   `yaml:"announce"`
}

// Default returns the values used for keys a file leaves out
func Default() File {
	d := link.DefaultConfig()
	return File{
		Role:       d.Role.String(),
		Datarate:   d.Datarate.BitsPerSecond(),
		MinChannel: d.MinChannel,
		MaxChannel: d.MaxChannel,
	}
}

// Load reads and validates a configuration file
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses a YAML document on top of Default. Unknown keys are
// rejected.
func Decode(r io.Reader) (File, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse config: %w", err)
	}
	if _, err := cfg.LinkConfig(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// Encode writes cfg as YAML
func Encode(w io.Writer, cfg File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// ParseRole parses "coordinator" or "peer"
func ParseRole(s string) (link.Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coordinator", "":
		return link.RoleCoordinator, nil
	case "peer":
		return link.RolePeer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// LinkConfig converts the file to a validated link configuration
func (f File) LinkConfig() (link.Config, error) {
	role, err := ParseRole(f.Role)
	if err != nil {
		return link.Config{}, err
	}
	rate, err := hop.FromBitsPerSecond(f.Datarate)
	if err != nil {
		return link.Config{}, err
	}
	cfg := link.Config{
		Role:          role,
		DeviceID:      f.DeviceID,
		CoordinatorID: f.CoordinatorID,
		Datarate:      rate,
		MinChannel:    f.MinChannel,
		MaxChannel:    f.MaxChannel,
		OneWay:        f.OneWay,
		PPMOnly:       f.PPMOnly,
		PPMSend:       f.PPMSend,
		PPMRecv:       f.PPMRecv,
	}
	if err := cfg.Validate(); err != nil {
		return link.Config{}, fmt.Errorf("invalid link config: %w", err)
	}
	return cfg, nil
}
