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
Package macrocycle generates batches of timed haptic events ("macrocycles"),
serializes them to the peer, and drives the three-state lifecycle
(IDLE/ACTIVE/WAITING_RELAX) described in spec.md §3/§4.C. A Planner plays
either the PRIMARY role (generating and transmitting macrocycles) or the
SECONDARY role (consuming inbound macrocycles), but both walk the same
lifecycle.
*/
package macrocycle

import (
	"errors"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/capability"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/clock"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/clocksync"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/glovestats"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/scheduler"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/wire"
)

// ErrSyncNotValid is returned when a session start (or an inbound
// macrocycle) is refused because the clock synchronizer is not yet valid.
var ErrSyncNotValid = errors.New("macrocycle: clock synchronizer not valid")

// Role designates whether this Planner drives (PRIMARY) or follows
// (SECONDARY) therapy.
type Role int

// The two device roles.
const (
	RolePrimary Role = iota
	RoleSecondary
)

// Lifecycle is the planner's three-state machine, per spec.md §3.
type Lifecycle int

// The three lifecycle states (WAITING_RELAX is its own name; there is no
// separate "done" state, the cycle simply repeats).
const (
	LifecycleIdle Lifecycle = iota
	LifecycleActive
	LifecycleWaitingRelax
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleIdle:
		return "IDLE"
	case LifecycleActive:
		return "ACTIVE"
	case LifecycleWaitingRelax:
		return "WAITING_RELAX"
	}
	return "UNKNOWN"
}

// Config collects the planner's tunables.
type Config struct {
	NumFingers      int // NUM_FINGERS
	MaxEvents       int // MAX_EVENTS_PER_MACROCYCLE
	BaseFrequencyHz int
	FrequencyStepHz int
	GraceWindow     time.Duration // past-due tolerance, ~ one main-loop period
}

// DefaultConfig returns reasonable defaults for a 4-finger glove.
func DefaultConfig() Config {
	return Config{
		NumFingers:      4,
		MaxEvents:       12,
		BaseFrequencyHz: 150,
		FrequencyStepHz: 10,
		GraceWindow:     5 * time.Millisecond,
	}
}

func frequencyHzForOffset(cfg Config, offset int8) int {
	return cfg.BaseFrequencyHz + int(offset)*cfg.FrequencyStepHz
}

func frequencyOffsetForHz(cfg Config, hz int) int8 {
	if cfg.FrequencyStepHz == 0 {
		return 0
	}
	steps := (hz - cfg.BaseFrequencyHz) / cfg.FrequencyStepHz
	if steps > 127 {
		steps = 127
	} else if steps < -128 {
		steps = -128
	}
	return int8(steps)
}

type plannedEvent struct {
	deltaMS       uint32
	localFinger   uint8
	peerFinger    uint8
	amplitude     uint8
	frequencyOffset int8
}

// Planner owns the current macrocycle and lifecycle state exclusively.
type Planner struct {
	cfg      Config
	clk      *clock.Source
	sync     *clocksync.Synchronizer
	rng      *rand.Rand
	counters *glovestats.PlannerCounters
	role     Role

	params   ProfileParams
	running  bool
	paused   bool
	state    Lifecycle

	seqGen         uint32
	lastAcceptedSeq uint32
	hasAccepted     bool

	relaxUntil uint64
	startedAt  uint64
	durationUS uint64
}

// NewPlanner builds a Planner for the given role.
func NewPlanner(cfg Config, clk *clock.Source, sync *clocksync.Synchronizer, rng *rand.Rand, counters *glovestats.PlannerCounters, role Role) *Planner {
	return &Planner{cfg: cfg, clk: clk, sync: sync, rng: rng, counters: counters, role: role}
}

// StartSession begins therapy with the given pattern parameters for
// durationS seconds (0 meaning run until Stop is called).
func (p *Planner) StartSession(params ProfileParams, durationS int) error {
	if !p.sync.Valid() {
		p.counters.SyncNotValidRefused.Add(1)
		return ErrSyncNotValid
	}
	p.params = params
	p.running = true
	p.paused = false
	p.state = LifecycleIdle
	p.startedAt = p.clk.Now()
	p.durationUS = uint64(durationS) * 1_000_000
	p.hasAccepted = false
	return nil
}

// Pause suspends the session. The caller (the session orchestrator) is
// responsible for calling scheduler.CancelAll() and deactivating motors;
// Pause itself only marks the planner paused so Tick/Poll stop advancing.
func (p *Planner) Pause() {
	p.paused = true
}

// Resume continues a paused session. Per spec.md §8 scenario 5, the next
// macrocycle is generated from scratch — there is no partial replay — which
// falls out naturally from resetting state to IDLE.
func (p *Planner) Resume() {
	p.paused = false
	p.state = LifecycleIdle
}

// Stop ends the session.
func (p *Planner) Stop() {
	p.running = false
	p.paused = false
	p.state = LifecycleIdle
}

// State returns the current lifecycle state.
func (p *Planner) State() Lifecycle { return p.state }

// Running reports whether a session is active (including while paused).
func (p *Planner) Running() bool { return p.running }

// Paused reports whether the session is currently paused.
func (p *Planner) Paused() bool { return p.paused }

// Elapsed returns the time since StartSession was called.
func (p *Planner) Elapsed() time.Duration {
	if !p.running {
		return 0
	}
	return time.Duration(p.clk.Now()-p.startedAt) * time.Microsecond
}

// Remaining returns the time left in the session, or 0 if the session has
// no fixed duration or has already elapsed.
func (p *Planner) Remaining() time.Duration {
	if !p.running || p.durationUS == 0 {
		return 0
	}
	elapsedUS := p.clk.Now() - p.startedAt
	if elapsedUS >= p.durationUS {
		return 0
	}
	return time.Duration(p.durationUS-elapsedUS) * time.Microsecond
}

// composeCycle concatenates three patterns into one macrocycle batch,
// capped at cfg.MaxEvents, per spec.md §4.C.2.
func (p *Planner) composeCycle() []plannedEvent {
	events := make([]plannedEvent, 0, p.cfg.MaxEvents)
	var cumulativeMS uint32
	nominalStep := p.params.BurstDurationMS + p.params.InterBurstMS

outer:
	for pattern := 0; pattern < 3; pattern++ {
		primary, contralateral := generateHandOrders(p.params, p.rng)
		for i := 0; i < len(primary); i++ {
			if len(events) >= p.cfg.MaxEvents {
				break outer
			}
			if pattern > 0 || i > 0 {
				cumulativeMS += uint32(jitteredStepMS(nominalStep, p.params.JitterFraction, p.rng))
			}
			amplitude := p.params.AmpMin
			if p.params.AmpMax > p.params.AmpMin {
				amplitude = p.params.AmpMin + p.rng.Intn(p.params.AmpMax-p.params.AmpMin+1)
			}
			var freqOffset int8
			if p.params.FreqRandomized && p.params.FreqMax > p.params.FreqMin {
				hz := p.params.FreqMin + p.rng.Intn(p.params.FreqMax-p.params.FreqMin+1)
				freqOffset = frequencyOffsetForHz(p.cfg, hz)
			} else {
				freqOffset = frequencyOffsetForHz(p.cfg, p.params.FixedFreqHz)
			}
			events = append(events, plannedEvent{
				deltaMS:         cumulativeMS,
				localFinger:     uint8(primary[i]),
				peerFinger:      uint8(contralateral[i]),
				amplitude:       uint8(amplitude),
				frequencyOffset: freqOffset,
			})
		}
	}
	return events
}

// Tick drives the PRIMARY side: composing and transmitting a new macrocycle
// on entry to IDLE, and letting Poll advance ACTIVE/WAITING_RELAX.
func (p *Planner) Tick(now uint64, sched *scheduler.Scheduler, xport capability.Transport) {
	if p.role != RolePrimary || !p.running || p.paused {
		return
	}
	p.Poll(now, sched)
	if p.state != LifecycleIdle {
		return
	}
	if p.durationUS != 0 && now >= p.startedAt && now-p.startedAt >= p.durationUS {
		log.Infof("macrocycle: session duration elapsed, stopping")
		p.Stop()
		return
	}
	if !p.sync.Valid() {
		p.counters.SyncNotValidRefused.Add(1)
		return
	}
	p.startCycle(now, sched, xport)
}

func (p *Planner) startCycle(now uint64, sched *scheduler.Scheduler, xport capability.Transport) {
	lead := p.sync.AdaptiveLeadTime()
	baseLocal := now + uint64(lead.Microseconds())
	events := p.composeCycle()

	seq := p.seqGen
	p.seqGen++

	wireEvents := make([]wire.MCEvent, len(events))
	for i, e := range events {
		localFire := baseLocal + uint64(e.deltaMS)*1000
		if err := sched.Schedule(now, scheduler.Activation{
			LocalFireTimeUS: localFire,
			Finger:          e.localFinger,
			Amplitude:       e.amplitude,
			DurationMS:      uint32(p.params.BurstDurationMS),
			FrequencyHz:     frequencyHzForOffset(p.cfg, e.frequencyOffset),
		}); err != nil {
			log.Warningf("macrocycle: failed to schedule local event %d: %v", i, err)
		}
		wireEvents[i] = wire.MCEvent{
			DeltaMS:    e.deltaMS,
			Finger:     e.peerFinger,
			Amplitude:  e.amplitude,
			FreqOffset: e.frequencyOffset,
		}
	}

	peerBaseUS, _ := p.sync.LocalToPeer(baseLocal)
	offsetUS, _ := p.sync.CorrectedOffset(now)
	msg := wire.Macrocycle{
		Seq:        seq,
		BaseTimeMS: peerBaseUS / 1000,
		OffsetUS:   offsetUS,
		DurationMS: uint32(p.params.BurstDurationMS),
		Events:     wireEvents,
	}
	if err := xport.Send(wire.Frame(wire.EncodeMacrocycle(msg))); err != nil {
		p.counters.TransportSendFailed.Add(1)
		log.Warningf("macrocycle: failed to transmit macrocycle seq=%d: %v", seq, err)
	}
	p.state = LifecycleActive
}

// OnInboundMessage parses and schedules an inbound MC wire message on the
// SECONDARY side. now is this device's current local time, used for the
// past-due grace-window check.
func (p *Planner) OnInboundMessage(body []byte, now uint64, sched *scheduler.Scheduler) error {
	if p.role != RoleSecondary {
		return nil
	}
	if !p.running || p.paused {
		return nil
	}
	if !p.sync.Valid() {
		p.counters.SyncNotValidRefused.Add(1)
		return ErrSyncNotValid
	}
	mc, err := wire.DecodeMacrocycle(body)
	if err != nil {
		p.counters.MalformedMacrocycle.Add(1)
		log.Debugf("macrocycle: discarding malformed message: %v", err)
		return nil
	}
	if p.hasAccepted && mc.Seq <= p.lastAcceptedSeq {
		p.counters.StaleSequenceID.Add(1)
		log.Debugf("macrocycle: discarding stale seq=%d (last accepted %d)", mc.Seq, p.lastAcceptedSeq)
		return nil
	}
	p.lastAcceptedSeq = mc.Seq
	p.hasAccepted = true

	baseTimePeerUS := mc.BaseTimeMS * 1000
	var dropped int64
	for _, e := range mc.Events {
		peerFire := baseTimePeerUS + uint64(e.DeltaMS)*1000
		localFire, ok := p.sync.PeerToLocal(peerFire)
		if !ok {
			dropped++
			continue
		}
		if localFire+uint64(p.cfg.GraceWindow.Microseconds()) < now {
			dropped++
			continue
		}
		if err := sched.Schedule(now, scheduler.Activation{
			LocalFireTimeUS: localFire,
			Finger:          e.Finger,
			Amplitude:       e.Amplitude,
			DurationMS:      mc.DurationMS,
			FrequencyHz:     frequencyHzForOffset(p.cfg, e.FreqOffset),
		}); err != nil {
			log.Warningf("macrocycle: failed to schedule inbound event: %v", err)
		}
	}
	if dropped > 0 {
		p.counters.PastDueEventsDropped.Add(dropped)
		log.Warningf("macrocycle: dropped %d past-due events from seq=%d", dropped, mc.Seq)
	}
	p.state = LifecycleActive
	return nil
}

// Poll advances ACTIVE -> WAITING_RELAX -> IDLE for either role; it must be
// called on every main-loop iteration.
func (p *Planner) Poll(now uint64, sched *scheduler.Scheduler) {
	if !p.running || p.paused {
		return
	}
	switch p.state {
	case LifecycleActive:
		if sched.SchedulingComplete() {
			p.enterRelax(now)
		}
	case LifecycleWaitingRelax:
		if now >= p.relaxUntil {
			p.counters.CyclesCompleted.Add(1)
			p.state = LifecycleIdle
		}
	}
}

// Counters exposes the read-only observable counters for this planner.
func (p *Planner) Counters() *glovestats.PlannerCounters {
	return p.counters
}

func (p *Planner) enterRelax(now uint64) {
	n := p.params.NumFingers
	if n == 0 {
		n = p.cfg.NumFingers
	}
	relaxMS := 2 * n * (p.params.BurstDurationMS + p.params.InterBurstMS)
	p.relaxUntil = now + uint64(relaxMS)*1000
	p.state = LifecycleWaitingRelax
}
