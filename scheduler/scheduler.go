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
Package scheduler fires each planned haptic activation at its local
microsecond fire time, handing a hardware-timer ISR off to main-loop context
for the actual motor activation. The ISR and the main loop share exactly one
datum: an atomic "activation pending" flag, set with a release store in the
ISR and cleared with an acquire load in Poll. Everything else the Scheduler
owns is single-threaded and touched only from main-loop context.
*/
package scheduler

import (
	"sort"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/capability"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/glovestats"
)

// Config collects the scheduler's tunables.
type Config struct {
	Capacity       int           // bounded pending-queue size, = max events per macrocycle
	MinArmingDelay time.Duration // MIN_ARMING_DELAY_US
}

// DefaultConfig returns the scheduler defaults named in the core's
// configuration table.
func DefaultConfig() Config {
	return Config{
		Capacity:       12,
		MinArmingDelay: 50 * time.Microsecond,
	}
}

// Activation is one scheduled motor activation.
type Activation struct {
	LocalFireTimeUS uint64
	Finger          uint8
	Amplitude       uint8
	DurationMS      uint32
	FrequencyHz     int
}

// Scheduler owns the pending queue and the single armed hardware timer. It
// is not safe for concurrent use from more than one main-loop goroutine;
// OnTimerISR is the only method safe to call from interrupt context.
type Scheduler struct {
	cfg      Config
	timer    capability.HardwareTimer
	motor    capability.MotorDriver
	counters *glovestats.SchedulerCounters

	pending []Activation // ascending LocalFireTimeUS; ties broken by arrival order
	armed   bool
	pendingFlag atomic.Bool
	activeFingers map[uint8]bool
}

// New builds a Scheduler around the given hardware timer and motor driver.
func New(cfg Config, timer capability.HardwareTimer, motor capability.MotorDriver, counters *glovestats.SchedulerCounters) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		timer:         timer,
		motor:         motor,
		counters:      counters,
		pending:       make([]Activation, 0, cfg.Capacity),
		activeFingers: make(map[uint8]bool),
	}
}

// Schedule enqueues an activation in fire-time order. now is this device's
// current local time, used to compute the arm delay if this activation
// becomes the new earliest pending one. Schedule returns an error only when
// the queue is at capacity; the caller (the planner) is expected to log and
// count this, never to treat it as fatal.
func (s *Scheduler) Schedule(now uint64, a Activation) error {
	if len(s.pending) >= s.cfg.Capacity {
		return errFull
	}
	idx := sort.Search(len(s.pending), func(i int) bool {
		return s.pending[i].LocalFireTimeUS > a.LocalFireTimeUS
	})
	s.pending = append(s.pending, Activation{})
	copy(s.pending[idx+1:], s.pending[idx:])
	s.pending[idx] = a
	if s.armed && idx == 0 && !s.pendingFlag.Load() {
		// The armed timer belongs to a later activation; re-arm for this one.
		s.timer.Stop()
		s.armed = false
	}
	if !s.armed {
		s.armNext(now)
	}
	return nil
}

var errFull = schedulerError("scheduler: pending queue at capacity")

type schedulerError string

func (e schedulerError) Error() string { return string(e) }

// OnTimerISR is the only method safe to call from interrupt context. It sets
// the pending flag and returns; it must never touch the motor driver,
// transport, or pending queue directly.
func (s *Scheduler) OnTimerISR() {
	s.pendingFlag.Store(true)
}

// Poll performs the main-loop hand-off: test the pending flag, stop the
// timer, dequeue and activate the earliest activation, then arm the next
// one. It must be called on every main-loop iteration.
func (s *Scheduler) Poll(now uint64) {
	if !s.pendingFlag.Load() {
		return
	}
	s.pendingFlag.Store(false)
	s.timer.Stop()
	s.armed = false

	if len(s.pending) == 0 {
		return
	}
	a := s.pending[0]
	s.pending = s.pending[1:]

	if s.motor.IsEnabled(a.Finger) {
		if s.motor.Activate(a.Finger, a.Amplitude, a.DurationMS, a.FrequencyHz) {
			s.activeFingers[a.Finger] = true
			s.counters.ActivationsFired.Add(1)
		} else {
			s.counters.MotorActivateFailed.Add(1)
			log.Warningf("scheduler: motor activate failed for finger %d", a.Finger)
		}
	}

	s.armNext(now)
}

// armNext arms the hardware timer for the earliest remaining activation, if
// any, floored at MinArmingDelay above now.
func (s *Scheduler) armNext(now uint64) {
	if len(s.pending) == 0 {
		return
	}
	next := s.pending[0]
	delay := s.cfg.MinArmingDelay
	if next.LocalFireTimeUS > now {
		if d := time.Duration(next.LocalFireTimeUS-now) * time.Microsecond; d > delay {
			delay = d
		}
	}
	if s.timer.Arm(delay, s.OnTimerISR) {
		s.armed = true
		return
	}
	s.counters.TimerArmFailed.Add(1)
	log.Warningf("scheduler: timer arm failed, firing immediately")
	s.pendingFlag.Store(true)
}

// SchedulingComplete reports whether the pending queue is empty and no
// timer is armed — the planner uses this to transition out of ACTIVE.
func (s *Scheduler) SchedulingComplete() bool {
	return len(s.pending) == 0 && !s.armed
}

// CancelAll stops the timer, empties the pending queue, and deactivates
// every finger this scheduler last knows to be vibrating. It is idempotent.
func (s *Scheduler) CancelAll() {
	s.timer.Stop()
	s.armed = false
	s.pendingFlag.Store(false)
	s.pending = s.pending[:0]
	for finger, active := range s.activeFingers {
		if !active {
			continue
		}
		if !s.motor.Deactivate(finger) {
			s.counters.MotorDeactivateFailed.Add(1)
			log.Warningf("scheduler: motor deactivate failed for finger %d", finger)
		}
		s.activeFingers[finger] = false
	}
}
