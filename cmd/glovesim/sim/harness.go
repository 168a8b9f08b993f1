/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package sim drives a PRIMARY and a SECONDARY session.Session against each
other in one process, over an in-memory lossy/jittery transport, fake motor
drivers, and real-timer-backed hardware timers — the benchtop harness
spec.md §9 calls for so the core can be exercised end to end without real
gloves.
*/
package sim

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/macrocycle"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/session"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/wire"
)

// Config parameterizes one end-to-end benchtop run.
type Config struct {
	NumFingers        int
	Duration          time.Duration
	Profile           macrocycle.ProfileParams
	SecondaryDriftPPM float64
	MinLatency        time.Duration
	MaxLatency        time.Duration
	DropProbability   float64
	Seed              int64
	PingInterval      time.Duration
	LoopPeriod        time.Duration
}

// DefaultConfig returns a reasonable 4-finger benchtop configuration.
func DefaultConfig() Config {
	return Config{
		NumFingers: 4,
		Duration:   10 * time.Second,
		Profile: macrocycle.ProfileParams{
			NumFingers:      4,
			BurstDurationMS: 80,
			InterBurstMS:    40,
			JitterFraction:  0.1,
			Mirrored:        true,
			Kind:            macrocycle.PatternRandomPermutation,
			AmpMin:          60,
			AmpMax:          100,
			FixedFreqHz:     150,
		},
		SecondaryDriftPPM: 25,
		MinLatency:        10 * time.Millisecond,
		MaxLatency:        50 * time.Millisecond,
		DropProbability:   0.02,
		Seed:              1,
		PingInterval:      150 * time.Millisecond,
		LoopPeriod:        time.Millisecond,
	}
}

// Harness bundles the two sessions and the transports wiring them together.
type Harness struct {
	Primary   *session.Session
	Secondary *session.Session

	primaryTransport   *MemTransport
	secondaryTransport *MemTransport
	primaryMotor       *LoggingMotor
	secondaryMotor     *LoggingMotor
}

// NewHarness builds a Harness from cfg. It does not start any goroutines;
// call Run to drive it.
func NewHarness(cfg Config) *Harness {
	seedSrc := rand.New(rand.NewSource(cfg.Seed))
	primaryRNG := rand.New(rand.NewSource(seedSrc.Int63()))
	secondaryRNG := rand.New(rand.NewSource(seedSrc.Int63()))

	tA, tB := NewMemTransportPair(seedSrc.Int63(), cfg.MinLatency, cfg.MaxLatency, cfg.DropProbability)
	primaryTransport := tA.(*MemTransport)
	secondaryTransport := tB.(*MemTransport)

	primaryMotor := NewLoggingMotor("PRIMARY", cfg.NumFingers)
	secondaryMotor := NewLoggingMotor("SECONDARY", cfg.NumFingers)

	sessCfg := session.DefaultConfig()
	primary := session.New(sessCfg, session.RolePrimary, NewVirtualClock(0), tA, primaryMotor, &WallTimer{}, primaryRNG)
	secondary := session.New(sessCfg, session.RoleSecondary, NewVirtualClock(cfg.SecondaryDriftPPM), tB, secondaryMotor, &WallTimer{}, secondaryRNG)

	return &Harness{
		Primary:            primary,
		Secondary:          secondary,
		primaryTransport:   primaryTransport,
		secondaryTransport: secondaryTransport,
		primaryMotor:       primaryMotor,
		secondaryMotor:     secondaryMotor,
	}
}

// Run drives both sessions' main loops, the SECONDARY's periodic PING
// initiation, and starts therapy on the PRIMARY once the clock synchronizer
// reports valid. It returns when ctx is done or a fatal session error
// occurs.
func (h *Harness) Run(ctx context.Context, cfg Config) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.mainLoop(ctx, h.Primary, cfg.LoopPeriod) })
	g.Go(func() error { return h.mainLoop(ctx, h.Secondary, cfg.LoopPeriod) })
	g.Go(func() error { return h.pingLoop(ctx, cfg.PingInterval) })
	g.Go(func() error { return h.startWhenSynced(ctx, cfg) })

	return g.Wait()
}

func (h *Harness) mainLoop(ctx context.Context, s *session.Session, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Poll(); err != nil {
				return err
			}
		}
	}
}

// pingLoop has the SECONDARY periodically initiate a PTP-style exchange, per
// spec.md §4.B.1 ("in practice the SECONDARY ... initiates periodically").
func (h *Harness) pingLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ping := h.Secondary.InitiatePing()
			if err := h.secondaryTransport.Send(wire.Frame(wire.EncodePing(ping))); err != nil {
				log.Debugf("glovesim: ping send dropped: %v", err)
			}
		}
	}
}

// startWhenSynced waits for the PRIMARY's synchronizer to become valid, then
// starts one therapy session for cfg.Duration.
func (h *Harness) startWhenSynced(ctx context.Context, cfg Config) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !h.Primary.SyncValid() {
				continue
			}
			log.Infof("glovesim: clock synchronizer valid, starting therapy session")
			if err := h.Primary.StartSession(cfg.Profile, int(cfg.Duration.Seconds())); err != nil {
				log.Warningf("glovesim: failed to start session: %v", err)
				continue
			}
			return nil
		}
	}
}
