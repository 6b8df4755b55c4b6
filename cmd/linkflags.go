// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/radiolink/pkg/config"
	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/spf13/pflag"
)

// linkFlags are the link settings a command accepts on the command line.
// A flag only overrides the config file when it was given explicitly.
type linkFlags struct {
	role          string
	deviceID      uint32
	coordinatorID uint32
	datarate      hop.Datarate
	minChannel    uint8
	maxChannel    uint8
	oneWay        bool
	ppmOnly       bool
	ppmSend       bool
	ppmRecv       bool
}

func (f *linkFlags) register(fs *pflag.FlagSet) {
	d := link.DefaultConfig()
	f.datarate = d.Datarate

	fs.StringVar(&f.role, "role", d.Role.String(), "Link role (coordinator or peer)")
	fs.Uint32Var(&f.deviceID, "device-id", 0, "Device ID (0 derives one from the radio serial)")
	fs.Uint32Var(&f.coordinatorID, "coordinator-id", 0, "Coordinator a peer binds to")
	fs.Var(&f.datarate, "datarate", "Air datarate in bits per second (e.g. 57600 or 57.6k)")
	fs.Uint8Var(&f.minChannel, "min-channel", d.MinChannel, "Lowest channel of the hop range")
	fs.Uint8Var(&f.maxChannel, "max-channel", d.MaxChannel, "Highest channel of the hop range")
	fs.BoolVar(&f.oneWay, "one-way", false, "Only the coordinator transmits")
	fs.BoolVar(&f.ppmOnly, "ppm-only", false, "Frames carry PPM values only")
	fs.BoolVar(&f.ppmSend, "ppm-send", false, "Outgoing frames carry PPM values")
	fs.BoolVar(&f.ppmRecv, "ppm-recv", false, "Incoming frames carry PPM values")
}

// resolve loads --config when given and applies explicitly set flags on top
func (f *linkFlags) resolve(fs *pflag.FlagSet) (config.File, link.Config, error) {
	file := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.File{}, link.Config{}, err
		}
		file = loaded
	}

	overrides := map[string]func(){
		"role":           func() { file.Role = f.role },
		"device-id":      func() { file.DeviceID = f.deviceID },
		"coordinator-id": func() { file.CoordinatorID = f.coordinatorID },
		"datarate":       func() { file.Datarate = f.datarate.BitsPerSecond() },
		"min-channel":    func() { file.MinChannel = f.minChannel },
		"max-channel":    func() { file.MaxChannel = f.maxChannel },
		"one-way":        func() { file.OneWay = f.oneWay },
		"ppm-only":       func() { file.PPMOnly = f.ppmOnly },
		"ppm-send":       func() { file.PPMSend = f.ppmSend },
		"ppm-recv":       func() { file.PPMRecv = f.ppmRecv },
	}
	fs.Visit(func(fl *pflag.Flag) {
		if apply, ok := overrides[fl.Name]; ok {
			apply()
		}
	})

	cfg, err := file.LinkConfig()
	if err != nil {
		return config.File{}, link.Config{}, fmt.Errorf("link configuration: %w", err)
	}
	return file, cfg, nil
}
