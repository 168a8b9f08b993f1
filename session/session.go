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
Package session wires the clock, synchronizer, planner, and scheduler
together behind the external operations a firmware main loop calls: the PTP
probes, the therapy controls, and a single per-iteration Poll. It is the only
place that decides what a PRIMARY device's main loop does versus a
SECONDARY's, and the only place a fatal error is allowed to surface.
*/
package session

import (
	"errors"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/capability"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/clock"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/clocksync"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/glovestats"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/macrocycle"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/scheduler"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/wire"
)

// ErrClockUnreadable is the single fatal condition the core surfaces. An
// upper-layer therapy state machine is expected to treat it as a transition
// out of RUNNING; Session never recovers from it on its own.
var ErrClockUnreadable = errors.New("session: clock counter unreadable")

// ClockCounter is the fourth injected capability (§6 "Clock counter"): a
// free-running 32-bit microsecond hardware counter that can report its own
// unreachability, unlike clock.RawCounter which is documented as
// never-failing. Session treats a single failed read as fatal.
type ClockCounter interface {
	Read() (value uint32, ok bool)
}

// Config bundles the per-component configuration a Session wires together.
type Config struct {
	Sync      clocksync.Config
	Planner   macrocycle.Config
	Scheduler scheduler.Config
}

// DefaultConfig returns the default configuration for every wired component.
func DefaultConfig() Config {
	return Config{
		Sync:      clocksync.DefaultConfig(),
		Planner:   macrocycle.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
	}
}

// Session is the top-level orchestrator a firmware main loop drives.
type Session struct {
	role Role

	counter     ClockCounter
	clk         *clock.Source
	sync        *clocksync.Synchronizer
	planner     *macrocycle.Planner
	sched       *scheduler.Scheduler
	xport       capability.Transport
	registry    *glovestats.Registry
	inboundBuf  []byte
	clockFailed bool
}

// Role designates whether this Session drives (Primary) or follows
// (Secondary) therapy; spec.md describes both behaviors but never names a
// Go type for the distinction.
type Role = macrocycle.Role

// The two device roles.
const (
	RolePrimary   = macrocycle.RolePrimary
	RoleSecondary = macrocycle.RoleSecondary
)

// New builds a Session wiring every component together. rng seeds the
// planner's pattern generator; production firmware seeds it from hardware
// entropy at boot, tests inject a deterministic source.
func New(cfg Config, role Role, counter ClockCounter, xport capability.Transport, motor capability.MotorDriver, timer capability.HardwareTimer, rng *rand.Rand) *Session {
	registry := glovestats.NewRegistry()
	clk := clock.NewSource(func() uint32 {
		v, _ := counter.Read()
		return v
	})
	sync := clocksync.New(cfg.Sync, clk, &registry.Sync)
	sched := scheduler.New(cfg.Scheduler, timer, motor, &registry.Scheduler)
	planner := macrocycle.NewPlanner(cfg.Planner, clk, sync, rng, &registry.Planner, role)

	return &Session{
		role:     role,
		counter:  counter,
		clk:      clk,
		sync:     sync,
		planner:  planner,
		sched:    sched,
		xport:    xport,
		registry: registry,
	}
}

// --- synchronizer probes ---------------------------------------------------

// InitiatePing begins a new PTP-style exchange as the initiator.
func (s *Session) InitiatePing() wire.Ping { return s.sync.InitiatePing() }

// OnPingReceived responds to an inbound PING.
func (s *Session) OnPingReceived(p wire.Ping) wire.Pong { return s.sync.OnPingReceived(p) }

// OnPongReceived completes an exchange this Session initiated.
func (s *Session) OnPongReceived(p wire.Pong) bool { return s.sync.OnPongReceived(p) }

// SyncValid reports whether the clock synchronizer currently has a
// trustworthy offset.
func (s *Session) SyncValid() bool { return s.sync.Valid() }

// SyncStats reports the synchronizer's current drift-corrected offset and
// measured one-way latency, for diagnostic tooling. valid mirrors SyncValid;
// offsetUS is 0 when not valid.
func (s *Session) SyncStats() (offsetUS int64, latencyUS float64, valid bool) {
	offsetUS, valid = s.sync.CorrectedOffset(s.clk.Now())
	latencyUS = s.sync.MeasuredLatency()
	return offsetUS, latencyUS, valid
}

// --- planner controls -------------------------------------------------------

// StartSession begins therapy with the given pattern parameters.
func (s *Session) StartSession(params macrocycle.ProfileParams, durationS int) error {
	return s.planner.StartSession(params, durationS)
}

// Pause suspends the session: the scheduler is cancelled (deactivating every
// finger it knows to be vibrating) and the planner stops advancing.
func (s *Session) Pause() {
	s.sched.CancelAll()
	s.planner.Pause()
}

// Resume continues a paused session from a freshly generated macrocycle.
func (s *Session) Resume() { s.planner.Resume() }

// Stop ends the session and cancels any in-flight activations.
func (s *Session) Stop() {
	s.sched.CancelAll()
	s.planner.Stop()
}

// Registry exposes the observable counters for this session.
func (s *Session) Registry() *glovestats.Registry { return s.registry }

// --- main loop ---------------------------------------------------------

// Poll drives one main-loop iteration: reads the clock, dispatches inbound
// transport messages, advances the planner and scheduler. Once the clock
// counter capability fails a read, this and every later Poll return
// ErrClockUnreadable — the only error this core ever propagates to an upper
// layer.
func (s *Session) Poll() error {
	if s.clockFailed {
		return ErrClockUnreadable
	}
	if _, ok := s.counter.Read(); !ok {
		s.clockFailed = true
		log.Errorf("session: clock counter unreadable, halting")
		return ErrClockUnreadable
	}
	now := s.clk.Now()

	s.drainInbound(now)
	if s.role == RolePrimary {
		s.planner.Tick(now, s.sched, s.xport)
	}
	s.planner.Poll(now, s.sched)
	s.sched.Poll(now)
	return nil
}

func (s *Session) drainInbound(now uint64) {
	for {
		msg, ok := s.xport.Receive()
		if !ok {
			break
		}
		s.inboundBuf = append(s.inboundBuf, msg...)
	}
	messages, remainder := wire.Split(s.inboundBuf)
	s.inboundBuf = append(s.inboundBuf[:0], remainder...)

	for _, body := range messages {
		if len(body) == 0 {
			continue
		}
		switch {
		case hasPrefix(body, "PING:"):
			if ping, err := wire.DecodePing(body); err == nil {
				pong := s.sync.OnPingReceived(ping)
				if err := s.xport.Send(wire.Frame(wire.EncodePong(pong))); err != nil {
					log.Warningf("session: failed to send PONG: %v", err)
				}
			} else {
				log.Debugf("session: discarding malformed PING: %v", err)
			}
		case hasPrefix(body, "PONG:"):
			if pong, err := wire.DecodePong(body); err == nil {
				s.sync.OnPongReceived(pong)
			} else {
				log.Debugf("session: discarding malformed PONG: %v", err)
			}
		case hasPrefix(body, "MC:"):
			if err := s.planner.OnInboundMessage(body, now, s.sched); err != nil {
				log.Debugf("session: planner refused inbound macrocycle: %v", err)
			}
		default:
			log.Debugf("session: discarding message with unrecognized tag: %q", string(body))
		}
	}
}

func hasPrefix(body []byte, prefix string) bool {
	if len(body) < len(prefix) {
		return false
	}
	return string(body[:len(prefix)]) == prefix
}
