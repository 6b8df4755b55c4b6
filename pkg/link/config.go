// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/radiolink/pkg/codec"
	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/Thermoquad/radiolink/pkg/slot"
)

// Role selects which end of the link a device plays
type Role int

// Link roles
const (
	RoleCoordinator Role = iota
	RolePeer
)

// String returns the role name
func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RolePeer:
		return "peer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Timing constants in ms
const (
	ConnectTimeout     = 500 // link drops after this long without contact
	SupervisorTimeout  = 150 // shortest silence before the chip is reset
	SupervisorPeriods  = 4   // supervisor never fires sooner than this many packet periods
	TransactionPeriods = 3   // transaction timeout in packet periods
)

// Configuration errors
var (
	ErrNoCoordinator = errors.New("peer requires a coordinator ID")
	ErrBadDatarate   = errors.New("unknown datarate")
	ErrChannelRange  = errors.New("invalid channel range")
)

// Config is the link configuration. Changes take effect on the next
// initialization.
type Config struct {
	Role          Role
	DeviceID      uint32 // 0 derives an ID from the transport serial number
	CoordinatorID uint32 // coordinator a peer is bound to
	Datarate      hop.Datarate
	MinChannel    uint8
	MaxChannel    uint8
	OneWay        bool // only the coordinator transmits
	PPMOnly       bool
	PPMSend       bool
	PPMRecv       bool
}

// DefaultConfig returns a coordinator configuration using the full band
func DefaultConfig() Config {
	return Config{
		Role:       RoleCoordinator,
		Datarate:   hop.Rate64000,
		MinChannel: hop.MinChannel,
		MaxChannel: hop.MaxChannel,
	}
}

// Coordinator reports whether the config is for the coordinator end
func (c Config) Coordinator() bool {
	return c.Role == RoleCoordinator
}

// LinkID is the coordinator ID the link is keyed on. It seeds the channel
// table and is the header ID on every frame.
func (c Config) LinkID() uint32 {
	if c.Coordinator() {
		return c.DeviceID
	}
	return c.CoordinatorID
}

// Layout returns the frame layout
func (c Config) Layout() codec.Layout {
	return codec.Layout{PPMOnly: c.PPMOnly, PPMSend: c.PPMSend, PPMRecv: c.PPMRecv}
}

// PacketPeriod returns the send slot length in ms
func (c Config) PacketPeriod() uint32 {
	return c.Datarate.PacketPeriod(c.PPMOnly)
}

// MaxPacketLen returns the largest frame the datarate can carry in one slot
func (c Config) MaxPacketLen() int {
	return c.Datarate.MaxPacketLen(c.PPMOnly)
}

// ChannelTable generates the hop table for this config
func (c Config) ChannelTable() ([]uint8, error) {
	return hop.GenerateChannelTable(c.LinkID(), c.Datarate, c.MinChannel, c.MaxChannel)
}

// Validate checks that the config can produce a working link
func (c Config) Validate() error {
	if !c.Datarate.Valid() {
		return fmt.Errorf("%w: %d", ErrBadDatarate, int(c.Datarate))
	}
	if c.Role != RoleCoordinator && c.Role != RolePeer {
		return fmt.Errorf("unknown role %d", int(c.Role))
	}
	if c.Role == RolePeer && c.CoordinatorID == 0 {
		return ErrNoCoordinator
	}
	if c.MinChannel > c.MaxChannel || c.MaxChannel > hop.MaxChannel {
		return fmt.Errorf("%w: %d..%d", ErrChannelRange, c.MinChannel, c.MaxChannel)
	}
	if _, err := c.ChannelTable(); err != nil {
		return err
	}
	if _, err := codec.New(nil, c.Layout(), c.MaxPacketLen()); err != nil && !errors.Is(err, codec.ErrNoFEC) {
		return err
	}
	return nil
}

// schedulerConfig returns the slot timing for this config and table size
func (c Config) schedulerConfig(numChannels int) slot.Config {
	return slot.Config{
		Coordinator:    c.Coordinator(),
		OneWay:         c.OneWay,
		PacketPeriod:   c.PacketPeriod(),
		NumChannels:    numChannels,
		PreambleOffset: c.Datarate.PreambleOffset(),
	}
}
