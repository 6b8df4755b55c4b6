// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/radiolink/pkg/codec"
	"github.com/Thermoquad/radiolink/pkg/hop"
	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/Thermoquad/radiolink/pkg/sim"
	"github.com/spf13/cobra"
)

var (
	simDatarate      = hop.Rate64000
	simCoordinatorID uint32
	simCorrupt       float64
	simLoss          float64
	simDuration      time.Duration
	simTUI           bool
	simStatsListen   string
	simOneWay        bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a coordinator and a peer over a simulated air link",
	Long: `Run a coordinator and a bound peer against in-memory radios.

The coordinator sends a numbered message on the primary stream every second
and the peer echoes everything it receives back on the aux stream. Frames
can be corrupted or lost on the way to exercise FEC, link quality and
reacquisition.

Examples:
  radiolink simulate --datarate 256000 --duration 30s
  radiolink simulate --corrupt 0.2 --loss 0.05 --tui`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Var(&simDatarate, "datarate", "Air datarate in bits per second")
	simulateCmd.Flags().Uint32Var(&simCoordinatorID, "coordinator-id", 0xC0FFEE, "Coordinator ID")
	simulateCmd.Flags().Float64Var(&simCorrupt, "corrupt", 0, "Probability that a delivered frame has a byte flipped")
	simulateCmd.Flags().Float64Var(&simLoss, "loss", 0, "Probability that a delivery is lost")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	simulateCmd.Flags().BoolVar(&simTUI, "tui", false, "Show a live statistics view")
	simulateCmd.Flags().StringVar(&simStatsListen, "stats-listen", "", "Serve the peer's statistics over WebSocket on this address")
	simulateCmd.Flags().BoolVar(&simOneWay, "one-way", false, "Only the coordinator transmits")
}

// lockedRand is shared by the air hooks, which run on both driver goroutines
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

// airOptions builds the corruption and loss hooks
func airOptions(corrupt, loss float64, rng *lockedRand) []sim.AirOption {
	var opts []sim.AirOption
	if corrupt > 0 {
		opts = append(opts, sim.WithMutator(func(frame []byte) []byte {
			if len(frame) > 0 && rng.Float64() < corrupt {
				frame[rng.IntN(len(frame))] ^= byte(1 + rng.IntN(255))
			}
			return frame
		}))
	}
	if loss > 0 {
		opts = append(opts, sim.WithDropper(func([]byte) bool { return rng.Float64() < loss }))
	}
	return opts
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simCorrupt < 0 || simCorrupt > 1 || simLoss < 0 || simLoss > 1 {
		return fmt.Errorf("--corrupt and --loss must be between 0 and 1")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if simDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simDuration)
		defer cancel()
	}

	rng := &lockedRand{rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))}
	air := sim.NewAir(append(airOptions(simCorrupt, simLoss, rng), sim.WithAirtime())...)
	go air.Run(ctx)

	coordCfg := link.DefaultConfig()
	coordCfg.DeviceID = simCoordinatorID
	coordCfg.Datarate = simDatarate
	coordCfg.OneWay = simOneWay

	peerCfg := coordCfg
	peerCfg.Role = link.RolePeer
	peerCfg.DeviceID = 0
	peerCfg.CoordinatorID = simCoordinatorID

	var peer *link.Device
	coord, err := link.New(air.NewRadio(), coordCfg,
		link.WithLogger(logger.WithPrefix("coordinator")),
		link.WithReceiveHandler(func(stream codec.StreamID, data []byte) {
			logger.Debug("coordinator received", "stream", stream, "data", string(data))
		}),
	)
	if err != nil {
		return err
	}
	peer, err = link.New(air.NewRadio(sim.WithSerial([]byte("SIM-PEER-0001"))), peerCfg,
		link.WithLogger(logger.WithPrefix("peer")),
		link.WithReceiveHandler(func(stream codec.StreamID, data []byte) {
			logger.Debug("peer received", "stream", stream, "data", string(data))
			if !simOneWay {
				peer.TransmitBytes(codec.StreamAux, data)
			}
		}),
	)
	if err != nil {
		return err
	}

	if simStatsListen != "" {
		if err := startStatsServer(ctx, peer, simStatsListen, false); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, dev := range []*link.Device{coord, peer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				errs <- err
				stop()
			}
		}()
	}
	go generateTraffic(ctx, coord)

	sources := []statsSource{
		{name: "coordinator", stats: coord.Stats},
		{name: "peer", stats: peer.Stats},
	}
	if simTUI {
		info := fmt.Sprintf("Simulated air @ %s bps, corrupt %.0f%%, loss %.0f%%", simDatarate, simCorrupt*100, simLoss*100)
		if err := runStatsTUI("RADIOLINK - SIMULATION", info, sources, nil); err != nil {
			return err
		}
		stop()
	} else {
		go logStats(ctx, time.Second, sources...)
	}

	wg.Wait()
	close(errs)
	for _, s := range sources {
		fmt.Println(formatStatsLine(s.name, s.stats()))
	}
	fmt.Printf("Air: %d delivered, %d dropped\n", air.Delivered(), air.Dropped())
	return <-errs
}

// generateTraffic queues a numbered message on the coordinator each second
func generateTraffic(ctx context.Context, coord *link.Device) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coord.TransmitBytes(codec.StreamPrimary, []byte(fmt.Sprintf("message %d\n", seq)))
		}
	}
}
