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

package sim

import "time"

// VirtualClock implements session.ClockCounter on top of the host's own
// monotonic wall clock, scaled by a fixed drift to stand in for a second
// device's independent crystal oscillator. It never fails to read: a glove's
// hardware counter is a pure observation, and the benchtop harness has
// nothing to fail in its place.
type VirtualClock struct {
	start    time.Time
	driftPPM float64
}

// NewVirtualClock builds a VirtualClock starting now, running driftPPM parts
// per million faster (positive) or slower (negative) than real time.
func NewVirtualClock(driftPPM float64) *VirtualClock {
	return &VirtualClock{start: time.Now(), driftPPM: driftPPM}
}

// Read returns the elapsed microseconds since construction, scaled by drift,
// truncated to the 32-bit hardware counter's width.
func (c *VirtualClock) Read() (uint32, bool) {
	elapsedUS := float64(time.Since(c.start).Microseconds())
	scaled := elapsedUS * (1 + c.driftPPM/1e6)
	return uint32(uint64(scaled)), true
}
