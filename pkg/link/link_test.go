// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"io"
	"testing"

	"github.com/Thermoquad/radiolink/pkg/codec"
	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================================
// Test doubles
// ============================================================================

type manualClock struct {
	ms uint32
}

func (c *manualClock) Millis() uint32 { return c.ms }

type mockTransport struct {
	identity ChipIdentity
	resetErr error
	serial   []byte
	por      bool

	resets   int
	armedRx  int
	datarate hop.Datarate
	config   RadioConfig
	channels []uint8

	rx       []byte
	rxStatus RxStatus

	sent     [][]byte
	dest     uint32
	txStatus TxStatus

	handler InterruptHandler
	token   any
}

func newMockTransport() *mockTransport {
	return &mockTransport{identity: ExpectedChip, rxStatus: RxPacketComplete, txStatus: TxSent}
}

func (m *mockTransport) Reset() error {
	m.resets++
	return m.resetErr
}

func (m *mockTransport) Identify() (ChipIdentity, error) { return m.identity, nil }

func (m *mockTransport) Configure(cfg RadioConfig) error {
	m.config = cfg
	return nil
}

func (m *mockTransport) SetDatarateProfile(rate hop.Datarate) error {
	m.datarate = rate
	return nil
}

func (m *mockTransport) SetChannel(ch uint8) error {
	m.channels = append(m.channels, ch)
	return nil
}

func (m *mockTransport) ReadStatus() (Status, bool) {
	return Status{RSSI: -40}, !m.por
}

func (m *mockTransport) ArmReceiver() error {
	m.armedRx++
	return nil
}

func (m *mockTransport) PollRx(dst []byte) RxResult {
	n := copy(dst, m.rx)
	res := RxResult{Status: m.rxStatus, N: n, Length: len(m.rx)}
	m.rx = nil
	return res
}

func (m *mockTransport) ArmTransmitter(frame []byte, dest uint32) (int, error) {
	m.sent = append(m.sent, append([]byte(nil), frame...))
	m.dest = dest
	return len(frame), nil
}

func (m *mockTransport) PollTx(pending []byte) (TxStatus, int) {
	return m.txStatus, len(pending)
}

func (m *mockTransport) RegisterInterrupt(h InterruptHandler, token any) {
	m.handler, m.token = h, token
}

func (m *mockTransport) SerialNumber() ([]byte, error) {
	if m.serial == nil {
		return nil, errors.New("no serial")
	}
	return m.serial, nil
}

// fire raises the chip interrupt
func (m *mockTransport) fire() {
	m.handler(m.token)
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func peerConfig(rate hop.Datarate) Config {
	cfg := DefaultConfig()
	cfg.Role = RolePeer
	cfg.DeviceID = 0x2000
	cfg.CoordinatorID = 0x1000
	cfg.Datarate = rate
	return cfg
}

func coordinatorConfig(rate hop.Datarate) Config {
	cfg := DefaultConfig()
	cfg.DeviceID = 0x1000
	cfg.Datarate = rate
	return cfg
}

func newTestDevice(t *testing.T, cfg Config, opts ...Option) (*Device, *mockTransport, *manualClock) {
	t.Helper()
	m := newMockTransport()
	clk := &manualClock{}
	opts = append([]Option{WithClock(clk), WithLogger(quietLogger())}, opts...)
	d, err := New(m, cfg, opts...)
	require.NoError(t, err)
	return d, m, clk
}

// ============================================================================
// Transition table
// ============================================================================

func TestTransition_Listed(t *testing.T) {
	tests := []struct {
		state State
		event Event
		want  State
	}{
		{StateUninitialized, EventInitialize, StateInitializing},
		{StateInitializing, EventInitialized, StateRxMode},
		{StateRxMode, EventInternalInterrupt, StateRxData},
		{StateRxData, EventRxComplete, StateTxStart},
		{StateRxData, EventRxError, StateRxFailure},
		{StateRxFailure, EventRxMode, StateRxMode},
		{StateTxStart, EventInternalInterrupt, StateTxData},
		{StateTxData, EventRxComplete, StateRxMode},
		{StateTxData, EventTxError, StateTxFailure},
		{StateTxFailure, EventRxMode, StateRxMode},
		{StateTimeout, EventRxMode, StateRxMode},
		{StateError, EventInitialize, StateInitializing},
		{StateRxMode, EventFatalError, StateFatalError},
	}
	for _, tt := range tests {
		got, ok := Transition(tt.state, tt.event)
		assert.True(t, ok, "%s + %s", tt.state, tt.event)
		assert.Equal(t, tt.want, got, "%s + %s", tt.state, tt.event)
	}
}

func TestTransition_FatalIsTerminal(t *testing.T) {
	for e := EventNone; e < numEvents; e++ {
		_, ok := Transition(StateFatalError, e)
		assert.False(t, ok, e.String())
	}
}

func TestDispatch_UnlistedPairLeavesState(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := State(rapid.IntRange(0, int(numStates)-1).Draw(rt, "state"))
		e := Event(rapid.IntRange(1, int(numEvents)-1).Draw(rt, "event"))
		if _, ok := Transition(s, e); ok {
			return
		}

		d, m, _ := newTestDevice(t, peerConfig(hop.Rate64000))
		d.state = s
		d.dispatch(e)
		if d.state != s {
			rt.Fatalf("%s + %s moved to %s", s, e, d.state)
		}
		if m.resets != 0 || m.armedRx != 0 || len(m.sent) != 0 {
			rt.Fatalf("%s + %s touched the radio", s, e)
		}
	})
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "RX_MODE", StateRxMode.String())
	assert.Equal(t, "INT_RECEIVED", EventInternalInterrupt.String())
	assert.Equal(t, "STATE(99)", State(99).String())
}

// ============================================================================
// Configuration
// ============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"default", func(*Config) {}, nil},
		{"peer without coordinator", func(c *Config) { c.Role = RolePeer }, ErrNoCoordinator},
		{"bad datarate", func(c *Config) { c.Datarate = hop.Datarate(42) }, ErrBadDatarate},
		{"inverted range", func(c *Config) { c.MinChannel, c.MaxChannel = 20, 10 }, ErrChannelRange},
		{"too narrow", func(c *Config) { c.MinChannel, c.MaxChannel = 100, 101 }, hop.ErrNoChannels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DeviceID = 1
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfig_LinkID(t *testing.T) {
	assert.Equal(t, uint32(0x1000), coordinatorConfig(hop.Rate64000).LinkID())
	assert.Equal(t, uint32(0x1000), peerConfig(hop.Rate64000).LinkID())
}

func TestDeriveDeviceID(t *testing.T) {
	serial := []byte("RL-000123-ABCD")
	id := DeriveDeviceID(serial)
	assert.NotZero(t, id)
	assert.Equal(t, id, DeriveDeviceID(serial))
	assert.NotEqual(t, id, DeriveDeviceID([]byte("RL-000124-ABCD")))
}

// ============================================================================
// Initialization
// ============================================================================

func TestInitialize_ProgramsRadio(t *testing.T) {
	d, m, _ := newTestDevice(t, coordinatorConfig(hop.Rate128000))

	d.Inject(EventInitialize)

	assert.Equal(t, StateRxMode, d.State())
	assert.Equal(t, 1, m.resets)
	assert.Equal(t, hop.Rate128000, m.datarate)
	assert.Equal(t, uint32(0x1000), m.config.HeaderID)
	assert.Equal(t, hop.Rate128000.MaxPacketLen(false), m.config.MaxPacketLen)
	assert.Equal(t, d.ChannelTable()[0], m.channels[0])
	assert.Equal(t, 1, m.armedRx)
}

func TestInitialize_DerivesDeviceID(t *testing.T) {
	cfg := coordinatorConfig(hop.Rate64000)
	cfg.DeviceID = 0
	m := newMockTransport()
	m.serial = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	d, err := New(m, cfg, WithClock(&manualClock{}), WithLogger(quietLogger()))
	require.NoError(t, err)

	d.Inject(EventInitialize)

	want := DeriveDeviceID(m.serial)
	assert.Equal(t, want, m.config.HeaderID)
	assert.Equal(t, want, d.Config().DeviceID)
}

func TestInitialize_ChipMismatchIsFatal(t *testing.T) {
	var fatal error
	d, m, _ := newTestDevice(t, coordinatorConfig(hop.Rate64000), WithFatalHandler(func(err error) { fatal = err }))
	m.identity = ChipIdentity{DeviceType: 0x07, Version: 0x06}

	d.Inject(EventInitialize)

	assert.Equal(t, StateFatalError, d.State())
	assert.ErrorIs(t, d.Err(), ErrChipMismatch)
	assert.ErrorIs(t, fatal, ErrChipMismatch)

	// Nothing leaves the fatal state
	d.Inject(EventInitialize)
	d.Inject(EventError)
	assert.Equal(t, StateFatalError, d.State())
	assert.Equal(t, 1, m.resets)
}

func TestInitialize_ResetFailureWaitsForSupervisor(t *testing.T) {
	d, m, clk := newTestDevice(t, peerConfig(hop.Rate64000))
	m.resetErr = errors.New("spi timeout")

	d.Inject(EventInitialize)
	assert.Equal(t, StateInitializing, d.State())

	m.resetErr = nil
	clk.ms = SupervisorTimeout + 1
	d.Poll()

	assert.Equal(t, StateRxMode, d.State())
	assert.Equal(t, uint32(1), d.Stats().Resets)
}

// ============================================================================
// Receive
// ============================================================================

func TestReceive_PPMOnlyFrame(t *testing.T) {
	cfg := peerConfig(hop.Rate9600)
	cfg.PPMOnly = true
	cfg.OneWay = true
	d, m, clk := newTestDevice(t, cfg)
	d.Inject(EventInitialize)

	enc, err := codec.New(nil, codec.Layout{PPMOnly: true}, cfg.MaxPacketLen())
	require.NoError(t, err)
	ppm := codec.PPMFrame{Channels: [codec.PPMChannels]int16{1000, 1200, 1500, 1800, 2000, 1500, 1500, 1500}}
	frame, _, err := enc.Encode(&ppm, nil)
	require.NoError(t, err)
	require.Len(t, frame, codec.PPMOnlyFrameLen)

	clk.ms = 10
	m.rx = frame
	m.fire()
	d.Poll()

	s := d.Stats()
	assert.Equal(t, 1, s.RxGood)
	assert.Equal(t, 0, s.RxError)
	assert.Equal(t, 65, s.LinkQuality)
	assert.True(t, s.Connected)
	assert.Equal(t, uint32(1), s.RxPackets)
	assert.Equal(t, StateRxMode, s.State)

	in := d.PPMInput()
	for i, want := range ppm.Channels {
		assert.InDelta(t, want, in[i], 2, "channel %d", i)
	}
}

func TestReceive_BadChecksumRecordsError(t *testing.T) {
	cfg := peerConfig(hop.Rate9600)
	cfg.PPMOnly = true
	cfg.OneWay = true
	d, m, clk := newTestDevice(t, cfg)
	d.Inject(EventInitialize)

	frame := make([]byte, codec.PPMOnlyFrameLen)
	frame[0] = 0x55
	frame[codec.PPMOnlyFrameLen-1] = 0xAA

	clk.ms = 5
	m.rx = frame
	m.fire()
	d.Poll()

	s := d.Stats()
	assert.Equal(t, 1, s.RxError)
	assert.Equal(t, 63, s.LinkQuality)
	assert.False(t, s.Connected)
	for _, v := range d.PPMInput() {
		assert.Equal(t, codec.PPMTimeout, v)
	}
}

func TestReceive_LengthMismatchIsFailure(t *testing.T) {
	d, m, _ := newTestDevice(t, peerConfig(hop.Rate64000))
	d.Inject(EventInitialize)

	m.rx = []byte{1, 2, 3}
	m.rxStatus = RxFail
	m.fire()
	d.Poll()

	s := d.Stats()
	assert.Equal(t, 1, s.RxFailure)
	assert.Equal(t, StateRxMode, s.State)
}

func TestReceive_PowerOnResetReinitializes(t *testing.T) {
	d, m, _ := newTestDevice(t, peerConfig(hop.Rate64000))
	d.Inject(EventInitialize)

	m.por = true
	m.fire()
	d.Poll()

	assert.Equal(t, uint32(1), d.Stats().Resets)
	assert.Equal(t, 2, m.resets)
}

func TestReceive_InterruptIgnoredBeforeInit(t *testing.T) {
	d, m, _ := newTestDevice(t, peerConfig(hop.Rate64000))
	m.fire()
	d.Poll()
	assert.Equal(t, StateUninitialized, d.State())
	assert.Zero(t, m.armedRx)
}

// ============================================================================
// Transmit
// ============================================================================

func TestTransmit_StreamReachesPeer(t *testing.T) {
	var got []byte
	var gotStream codec.StreamID
	coord, cm, cclk := newTestDevice(t, coordinatorConfig(hop.Rate256000))
	peer, pm, pclk := newTestDevice(t, peerConfig(hop.Rate256000), WithReceiveHandler(func(s codec.StreamID, data []byte) {
		gotStream, got = s, data
	}))
	coord.Inject(EventInitialize)
	peer.Inject(EventInitialize)

	assert.Equal(t, 5, coord.TransmitBytes(codec.StreamAux, []byte("hello")))

	// Coordinator slot at t=1
	cclk.ms = 1
	coord.Poll()
	require.Len(t, cm.sent, 1)
	assert.Equal(t, uint32(0x1000), cm.dest)
	assert.Equal(t, StateTxStart, coord.State())

	cm.fire()
	coord.Poll()
	assert.Equal(t, StateRxMode, coord.State())
	cs := coord.Stats()
	assert.Equal(t, uint32(1), cs.TxPackets)
	assert.Equal(t, uint32(len(cm.sent[0])), cs.TxBytes)

	pclk.ms = 100
	pm.rx = cm.sent[0]
	pm.fire()
	peer.Poll()

	assert.Equal(t, codec.StreamAux, gotStream)
	assert.Equal(t, []byte("hello"), got)
	ps := peer.Stats()
	assert.Equal(t, 1, ps.RxGood)
	assert.Equal(t, uint32(5), ps.RxBytes)
	assert.True(t, ps.Connected)
}

func TestTransmit_PeerWithoutDataStaysQuiet(t *testing.T) {
	d, m, clk := newTestDevice(t, peerConfig(hop.Rate256000))
	d.Inject(EventInitialize)

	for clk.ms = 1; clk.ms < 40; clk.ms++ {
		d.Poll()
	}
	assert.Empty(t, m.sent)
	assert.Equal(t, StateRxMode, d.State())
}

func TestTransmit_FailureCounted(t *testing.T) {
	d, m, clk := newTestDevice(t, coordinatorConfig(hop.Rate256000))
	d.Inject(EventInitialize)
	m.txStatus = TxFail

	clk.ms = 1
	d.Poll()
	m.fire()
	d.Poll()

	assert.Equal(t, uint32(1), d.Stats().TxFailures)
	assert.Equal(t, StateRxMode, d.State())
}

func TestTransmit_TransactionTimeout(t *testing.T) {
	d, _, clk := newTestDevice(t, coordinatorConfig(hop.Rate256000))
	d.Inject(EventInitialize)

	clk.ms = 1
	d.Poll()
	require.Equal(t, StateTxStart, d.State())

	// No interrupt arrives; three packet periods later the transaction ends
	clk.ms = 1 + 3*5 + 1
	d.Poll()

	s := d.Stats()
	assert.Equal(t, uint32(1), s.Timeouts)
	assert.Zero(t, s.Resets)
}

func TestTransmitBytes_BoundedQueue(t *testing.T) {
	d, _, _ := newTestDevice(t, coordinatorConfig(hop.Rate64000))
	big := make([]byte, StreamBufferSize+100)
	assert.Equal(t, StreamBufferSize, d.TransmitBytes(codec.StreamPrimary, big))
	assert.Zero(t, d.TransmitBytes(codec.StreamPrimary, []byte{1}))
	assert.Zero(t, d.TransmitBytes(codec.StreamID(5), []byte{1}))
}

func TestSetPPMOutput_FillsMissingChannels(t *testing.T) {
	d, _, _ := newTestDevice(t, coordinatorConfig(hop.Rate64000))
	d.SetPPMOutput([]int16{1500, 1600})
	out := d.ppmOutput()
	assert.Equal(t, int16(1500), out.Channels[0])
	assert.Equal(t, int16(1600), out.Channels[1])
	assert.Equal(t, codec.PPMTimeout, out.Channels[2])
}

// ============================================================================
// Supervisor and hopping
// ============================================================================

func TestSupervisor_ResetsSilentRadio(t *testing.T) {
	d, m, clk := newTestDevice(t, peerConfig(hop.Rate64000))
	d.Inject(EventInitialize)

	clk.ms = SupervisorTimeout
	d.Poll()
	assert.Zero(t, d.Stats().Resets)

	clk.ms = SupervisorTimeout + 1
	d.Poll()

	s := d.Stats()
	assert.Equal(t, uint32(1), s.Resets)
	assert.Equal(t, StateRxMode, s.State)
	assert.Equal(t, 2, m.resets)
}

func TestSupervisor_StretchesForSlowDatarates(t *testing.T) {
	d, m, clk := newTestDevice(t, peerConfig(hop.Rate9600))
	d.Inject(EventInitialize)
	limit := SupervisorPeriods * hop.Rate9600.PacketPeriod(false)
	require.Greater(t, limit, uint32(SupervisorTimeout))

	// Slots are 160 ms apart at 9600, so 150 ms of silence is normal
	clk.ms = SupervisorTimeout + 1
	d.Poll()
	clk.ms = limit
	d.Poll()
	assert.Zero(t, d.Stats().Resets)

	clk.ms = limit + 1
	d.Poll()
	assert.Equal(t, uint32(1), d.Stats().Resets)
	assert.Equal(t, 2, m.resets)
}

func TestConnection_CoordinatorTimesOut(t *testing.T) {
	cfg := coordinatorConfig(hop.Rate9600)
	cfg.PPMOnly = true
	d, m, clk := newTestDevice(t, cfg)
	d.Inject(EventInitialize)

	enc, err := codec.New(nil, codec.Layout{PPMOnly: true}, cfg.MaxPacketLen())
	require.NoError(t, err)
	ppm := codec.PPMFrame{Channels: [codec.PPMChannels]int16{1500, 1500, 1500, 1500, 1500, 1500, 1500, 1500}}
	frame, _, err := enc.Encode(&ppm, nil)
	require.NoError(t, err)

	clk.ms = 10
	m.rx = frame
	m.fire()
	d.Poll()
	require.True(t, d.Stats().Connected)

	// The radio keeps completing transmissions but the peer stays silent
	live := func(until uint32) {
		for clk.ms < until {
			clk.ms++
			d.Poll()
			if d.State() == StateTxStart {
				m.fire()
			}
		}
	}
	live(10 + ConnectTimeout - 1)
	assert.True(t, d.Stats().Connected)
	assert.Equal(t, int16(1500), d.PPMInput()[0])

	live(10 + ConnectTimeout)
	s := d.Stats()
	assert.False(t, s.Connected)
	assert.Zero(t, s.Resets)
	assert.NotEmpty(t, m.sent)
	for _, v := range d.PPMInput() {
		assert.Equal(t, codec.PPMTimeout, v)
	}
}

func TestHop_CoordinatorFollowsClock(t *testing.T) {
	d, m, clk := newTestDevice(t, coordinatorConfig(hop.Rate64000))
	d.Inject(EventInitialize)
	table := d.ChannelTable()
	period := hop.Rate64000.PacketPeriod(false)

	clk.ms = period * 3
	d.Poll()

	assert.Equal(t, 3, d.Stats().ChannelIndex)
	assert.Equal(t, table[3], m.channels[len(m.channels)-1])
}

func TestHop_DisconnectedPeerStaysOnSyncChannel(t *testing.T) {
	d, _, clk := newTestDevice(t, peerConfig(hop.Rate64000))
	d.Inject(EventInitialize)
	table := d.ChannelTable()

	for clk.ms = 1; clk.ms < 100; clk.ms += 7 {
		d.Poll()
		assert.Equal(t, 0, d.Stats().ChannelIndex)
		assert.Equal(t, table[0], d.Stats().Channel)
	}
}

func TestReconfigure_AppliesOnInitialize(t *testing.T) {
	d, m, _ := newTestDevice(t, coordinatorConfig(hop.Rate64000))
	d.Inject(EventInitialize)

	require.NoError(t, d.Update(func(c *Config) { c.Datarate = hop.Rate9600 }))
	assert.Equal(t, hop.Rate9600, d.Config().Datarate)
	d.Poll()

	assert.Equal(t, hop.Rate9600, m.datarate)
	assert.Equal(t, 2, m.resets)
	assert.Zero(t, d.Stats().Resets)

	assert.Error(t, d.Update(func(c *Config) { c.MinChannel, c.MaxChannel = 5, 1 }))
}

func TestPost_OverflowCountsDrops(t *testing.T) {
	d, _, _ := newTestDevice(t, peerConfig(hop.Rate64000))
	for i := 0; i < EventQueueCapacity; i++ {
		assert.True(t, d.Post(EventRxMode))
	}
	assert.False(t, d.Post(EventRxMode))
	assert.Equal(t, uint32(1), d.Stats().Dropped)
}
