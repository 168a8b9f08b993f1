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

package macrocycle

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/clock"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/clocksync"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/glovestats"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/scheduler"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/wire"
)

// --- fakes shared across tests -------------------------------------------

type fakeTransport struct {
	sent    [][]byte
	sendErr error
}

func (f *fakeTransport) Send(msg []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), msg...))
	return nil
}

func (f *fakeTransport) Receive() ([]byte, bool) { return nil, false }

type fakeTimer struct {
	armed bool
	isr   func()
}

func (t *fakeTimer) Arm(delay time.Duration, isr func()) bool {
	t.armed = true
	t.isr = isr
	return true
}
func (t *fakeTimer) Stop() { t.armed = false }

type fakeMotor struct {
	activated []uint8
}

func (m *fakeMotor) Activate(finger uint8, amplitude uint8, durationMS uint32, frequencyHz int) bool {
	m.activated = append(m.activated, finger)
	return true
}
func (m *fakeMotor) Deactivate(finger uint8) bool { return true }
func (m *fakeMotor) IsEnabled(finger uint8) bool  { return true }

func newValidSynchronizer(t *testing.T, clk *clock.Source) *clocksync.Synchronizer {
	t.Helper()
	s := clocksync.New(clocksync.DefaultConfig(), clk, &glovestats.SyncCounters{})
	// Five clean round trips to cross MinValidSamples with a stable ring.
	for i := 0; i < 5; i++ {
		ping := s.InitiatePing()
		pong := wire.Pong{Seq: ping.Seq, T2: ping.T1 + 5000, T3: ping.T1 + 10000}
		require.True(t, s.OnPongReceived(pong))
	}
	require.True(t, s.Valid())
	return s
}

func basicProfile() ProfileParams {
	return ProfileParams{
		NumFingers:      4,
		BurstDurationMS: 80,
		InterBurstMS:    20,
		Kind:            PatternSequential,
		AmpMin:          80,
		AmpMax:          80,
		FixedFreqHz:     150,
	}
}

// --- pattern generation ---------------------------------------------------

func TestFisherYatesIsPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	order := fisherYates(4, rng)
	seen := make(map[int]bool)
	for _, v := range order {
		require.False(t, seen[v])
		seen[v] = true
	}
	require.Len(t, order, 4)
}

func TestSequentialOrderReversed(t *testing.T) {
	require.Equal(t, []int{0, 1, 2, 3}, sequentialOrder(4, false))
	require.Equal(t, []int{3, 2, 1, 0}, sequentialOrder(4, true))
}

func TestGenerateHandOrdersMirroredAlwaysMatches(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := ProfileParams{NumFingers: 4, Kind: PatternMirrored, RandomizedOrder: true}
	primary, contralateral := generateHandOrders(p, rng)
	require.Equal(t, primary, contralateral)
}

func TestGenerateHandOrdersSequentialNonMirroredIsReversed(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := ProfileParams{NumFingers: 4, Kind: PatternSequential, Mirrored: false}
	primary, contralateral := generateHandOrders(p, rng)
	require.Equal(t, []int{0, 1, 2, 3}, primary)
	require.Equal(t, []int{3, 2, 1, 0}, contralateral)
}

func TestJitteredStepMSNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		require.GreaterOrEqual(t, jitteredStepMS(100, 0.9, rng), 0)
	}
}

func TestJitteredStepMSZeroJitterIsNominal(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	require.Equal(t, 100, jitteredStepMS(100, 0, rng))
}

// --- lifecycle / PRIMARY Tick ---------------------------------------------

func TestStartSessionRefusedWhenSyncNotValid(t *testing.T) {
	raw := func() uint32 { return 0 }
	clk := clock.NewSource(raw)
	sync := clocksync.New(clocksync.DefaultConfig(), clk, &glovestats.SyncCounters{})
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(1)), counters, RolePrimary)

	err := p.StartSession(basicProfile(), 0)
	require.ErrorIs(t, err, ErrSyncNotValid)
	require.EqualValues(t, 1, counters.SyncNotValidRefused.Load())
}

func TestPrimaryTickTransmitsAndSchedulesLocally(t *testing.T) {
	var now uint32
	clk := clock.NewSource(func() uint32 { return now })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(7)), counters, RolePrimary)

	require.NoError(t, p.StartSession(basicProfile(), 0))

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})
	xport := &fakeTransport{}

	p.Tick(clk.Now(), sched, xport)

	require.Equal(t, LifecycleActive, p.State())
	require.Len(t, xport.sent, 1)
	require.False(t, sched.SchedulingComplete())

	sent := string(xport.sent[0])
	require.Contains(t, sent, "MC:0|")
}

func TestPrimaryTickDoesNotStartSecondCycleWhileActive(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(7)), counters, RolePrimary)
	require.NoError(t, p.StartSession(basicProfile(), 0))

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})
	xport := &fakeTransport{}

	p.Tick(clk.Now(), sched, xport)
	p.Tick(clk.Now(), sched, xport)
	require.Len(t, xport.sent, 1, "a second Tick while ACTIVE must not start a new cycle")
}

func TestPlannerEntersRelaxThenIdleAndCountsCycleComplete(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(7)), counters, RolePrimary)
	require.NoError(t, p.StartSession(basicProfile(), 0))

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})
	xport := &fakeTransport{}

	p.Tick(0, sched, xport)
	// Drain the scheduler until it reports complete.
	for i := 0; i < 64 && !sched.SchedulingComplete(); i++ {
		if timer.isr != nil {
			timer.isr()
		}
		sched.Poll(uint64(i) * 200000)
	}
	require.True(t, sched.SchedulingComplete())

	p.Poll(0, sched)
	require.Equal(t, LifecycleWaitingRelax, p.State())

	p.Poll(100_000_000, sched) // far beyond any relax window
	require.Equal(t, LifecycleIdle, p.State())
	require.EqualValues(t, 1, counters.CyclesCompleted.Load())
}

// --- SECONDARY OnInboundMessage --------------------------------------------

func TestSecondaryRejectsStaleSequence(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(1)), counters, RoleSecondary)
	p.running = true

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})

	msg := wire.EncodeMacrocycle(wire.Macrocycle{Seq: 5, BaseTimeMS: 0, DurationMS: 100, Events: []wire.MCEvent{{DeltaMS: 0, Finger: 0, Amplitude: 80}}})
	require.NoError(t, p.OnInboundMessage(msg, clk.Now(), sched))
	require.EqualValues(t, 0, counters.StaleSequenceID.Load())

	stale := wire.EncodeMacrocycle(wire.Macrocycle{Seq: 5, BaseTimeMS: 0, DurationMS: 100, Events: []wire.MCEvent{{DeltaMS: 0, Finger: 0, Amplitude: 80}}})
	require.NoError(t, p.OnInboundMessage(stale, clk.Now(), sched))
	require.EqualValues(t, 1, counters.StaleSequenceID.Load())
}

func TestSecondaryCountsMalformedMacrocycle(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(1)), counters, RoleSecondary)
	p.running = true

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})

	require.NoError(t, p.OnInboundMessage([]byte("garbage"), clk.Now(), sched))
	require.EqualValues(t, 1, counters.MalformedMacrocycle.Load())
}

// Scenario 4: a macrocycle whose translated local fire time is 200ms in the
// past has all events dropped, and the counter increments by the event
// count.
func TestSecondaryDropsAllEventsWhenTranslatedFireTimeIsFarInThePast(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(1)), counters, RoleSecondary)
	p.running = true

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})

	now := clk.Now()
	pastPeerMS := (now / 1000) // the helper's offset is 7.5ms, so this translates to a local time at or before now
	msg := wire.EncodeMacrocycle(wire.Macrocycle{
		Seq:        1,
		BaseTimeMS: pastPeerMS,
		DurationMS: 100,
		Events: []wire.MCEvent{
			{DeltaMS: 0, Finger: 0, Amplitude: 80},
			{DeltaMS: 10, Finger: 1, Amplitude: 80},
		},
	})
	// Advance local clock 200ms past the macrocycle's base time before it is
	// processed.
	laterNow := now + 200_000
	require.NoError(t, p.OnInboundMessage(msg, laterNow, sched))
	require.EqualValues(t, 2, counters.PastDueEventsDropped.Load())
	require.True(t, sched.SchedulingComplete())
}

func TestSecondarySchedulesEventsWithinGraceWindow(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(1)), counters, RoleSecondary)
	p.running = true

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})

	now := clk.Now()
	futureMS := (now / 1000) + 50 // 50ms in the future
	msg := wire.EncodeMacrocycle(wire.Macrocycle{
		Seq:        1,
		BaseTimeMS: futureMS,
		DurationMS: 100,
		Events:     []wire.MCEvent{{DeltaMS: 0, Finger: 0, Amplitude: 80}},
	})
	require.NoError(t, p.OnInboundMessage(msg, now, sched))
	require.EqualValues(t, 0, counters.PastDueEventsDropped.Load())
	require.False(t, sched.SchedulingComplete())
}

// --- Pause/Resume (scenario 5) ---------------------------------------------

func TestPauseThenResumeStartsFreshCycle(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(7)), counters, RolePrimary)
	require.NoError(t, p.StartSession(basicProfile(), 0))

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})
	xport := &fakeTransport{}

	p.Tick(0, sched, xport)
	require.Equal(t, LifecycleActive, p.State())

	p.Pause()
	sched.CancelAll()
	require.True(t, p.Paused())
	require.True(t, sched.SchedulingComplete())

	p.Resume()
	require.False(t, p.Paused())
	require.Equal(t, LifecycleIdle, p.State())

	p.Tick(0, sched, xport)
	require.Len(t, xport.sent, 2, "resume must generate the next macrocycle from scratch")
}

func TestPlannerIgnoresInboundWhilePaused(t *testing.T) {
	clk := clock.NewSource(func() uint32 { return 0 })
	sync := newValidSynchronizer(t, clk)
	counters := &glovestats.PlannerCounters{}
	p := NewPlanner(DefaultConfig(), clk, sync, rand.New(rand.NewSource(7)), counters, RoleSecondary)
	p.running = true
	p.Pause()

	timer := &fakeTimer{}
	motor := &fakeMotor{}
	sched := scheduler.New(scheduler.DefaultConfig(), timer, motor, &glovestats.SchedulerCounters{})

	msg := wire.EncodeMacrocycle(wire.Macrocycle{Seq: 1, BaseTimeMS: 0, DurationMS: 100, Events: []wire.MCEvent{{DeltaMS: 0, Finger: 0, Amplitude: 80}}})
	require.NoError(t, p.OnInboundMessage(msg, clk.Now(), sched))
	require.True(t, sched.SchedulingComplete(), "paused planner must not schedule inbound events")
}

// --- frequency mapping -----------------------------------------------------

func TestFrequencyOffsetRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	hz := frequencyHzForOffset(cfg, 5)
	require.Equal(t, int8(5), frequencyOffsetForHz(cfg, hz))
}
