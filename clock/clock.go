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
Package clock composes the device's free-running 32-bit microsecond hardware
counter into a 64-bit, strictly non-decreasing microsecond clock that survives
counter wraparound.
*/
package clock

import log "github.com/sirupsen/logrus"

// RawCounter reads the free-running 32-bit microsecond hardware counter.
// Implementations must never block and must never themselves fail: if the
// underlying capability is unreachable, the caller is expected to treat that
// as the fatal "clock source unreadable" condition and never construct a
// Source in the first place.
type RawCounter func() uint32

// Source composes successive RawCounter readings into a 64-bit microsecond
// timestamp. It detects 32-bit wraparound by noticing a raw reading lower
// than the last one observed; each wrap increments an internal overflow
// counter. Source must be polled at least once per wrap period (~71.6
// minutes); the synchronizer and planner's own polling cadence guarantees
// this in practice.
type Source struct {
	raw      RawCounter
	lastRaw  uint32
	overflow uint32
	started  bool
}

// NewSource builds a clock Source around the given hardware counter
// capability.
func NewSource(raw RawCounter) *Source {
	return &Source{raw: raw}
}

// Now returns the current composed 64-bit microsecond timestamp. It is
// strictly non-decreasing across calls within a single run.
func (s *Source) Now() uint64 {
	r := s.raw()
	if !s.started {
		s.started = true
		s.lastRaw = r
		return uint64(r)
	}
	if r < s.lastRaw {
		s.overflow++
		log.Debugf("clock: wraparound detected, overflow counter now %d", s.overflow)
	}
	s.lastRaw = r
	return uint64(s.overflow)<<32 | uint64(r)
}

// ResetOverflow clears the overflow counter and wrap-detection state. It
// exists only for test harnesses; production firmware never calls it.
func (s *Source) ResetOverflow() {
	s.overflow = 0
	s.started = false
}
