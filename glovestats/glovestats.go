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
Package glovestats holds the read-only observable counters the core exposes
for every non-fatal error category, one field per kind named in the core's
error handling design. Nothing here is ever surfaced to the mobile app
directly; a higher layer (or the benchtop exporter) chooses whether and how
to report it.
*/
package glovestats

import "sync/atomic"

// SyncCounters tracks the clock synchronizer's non-fatal conditions.
type SyncCounters struct {
	PoorRTTRejected        atomic.Int64
	OffsetOutlierRejected  atomic.Int64
	NegativeRTTClamped     atomic.Int64
	UnknownPong            atomic.Int64
	LatencyOutlierRejected atomic.Int64
	DowngradedNotValid     atomic.Int64
}

// PlannerCounters tracks the macrocycle planner's non-fatal conditions.
type PlannerCounters struct {
	TransportSendFailed   atomic.Int64
	MalformedMacrocycle   atomic.Int64
	StaleSequenceID       atomic.Int64
	PastDueEventsDropped  atomic.Int64
	SyncNotValidRefused   atomic.Int64
	CyclesCompleted       atomic.Int64
}

// SchedulerCounters tracks the execution scheduler's non-fatal conditions.
type SchedulerCounters struct {
	MotorActivateFailed   atomic.Int64
	MotorDeactivateFailed atomic.Int64
	TimerArmFailed        atomic.Int64
	ActivationsFired      atomic.Int64
}

// Registry bundles every component's counters and flattens them into a
// snapshot map, in the shape facebook/time's ptp/sptp/stats exporter expects
// from FetchCounters, so a benchtop exporter can publish them unchanged.
type Registry struct {
	Sync      SyncCounters
	Planner   PlannerCounters
	Scheduler SchedulerCounters
}

// Snapshot returns a flat name->value map of every counter's current value.
func (r *Registry) Snapshot() map[string]int64 {
	return map[string]int64{
		"sync.poor_rtt_rejected":         r.Sync.PoorRTTRejected.Load(),
		"sync.offset_outlier_rejected":   r.Sync.OffsetOutlierRejected.Load(),
		"sync.negative_rtt_clamped":      r.Sync.NegativeRTTClamped.Load(),
		"sync.unknown_pong":              r.Sync.UnknownPong.Load(),
		"sync.latency_outlier_rejected":  r.Sync.LatencyOutlierRejected.Load(),
		"sync.downgraded_not_valid":      r.Sync.DowngradedNotValid.Load(),
		"planner.transport_send_failed":  r.Planner.TransportSendFailed.Load(),
		"planner.malformed_macrocycle":   r.Planner.MalformedMacrocycle.Load(),
		"planner.stale_sequence_id":      r.Planner.StaleSequenceID.Load(),
		"planner.past_due_events_dropped": r.Planner.PastDueEventsDropped.Load(),
		"planner.sync_not_valid_refused": r.Planner.SyncNotValidRefused.Load(),
		"planner.cycles_completed":       r.Planner.CyclesCompleted.Load(),
		"scheduler.motor_activate_failed":   r.Scheduler.MotorActivateFailed.Load(),
		"scheduler.motor_deactivate_failed": r.Scheduler.MotorDeactivateFailed.Load(),
		"scheduler.timer_arm_failed":        r.Scheduler.TimerArmFailed.Load(),
		"scheduler.activations_fired":       r.Scheduler.ActivationsFired.Load(),
	}
}

// NewRegistry builds an empty counter registry.
func NewRegistry() *Registry {
	return &Registry{}
}
