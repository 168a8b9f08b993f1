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

import (
	"sync"
	"time"
)

// WallTimer is a capability.HardwareTimer backed by a real Go timer. Arm
// reports false ("hardware busy") if a timer is already pending, exactly
// like the single-armed-timer contract in spec.md §4.D.1; Stop cancels a
// pending timer and is safe to call when none is armed.
type WallTimer struct {
	mu sync.Mutex
	t  *time.Timer
}

// Arm schedules isr to run after delay. It returns false without scheduling
// anything if a timer is already armed.
func (w *WallTimer) Arm(delay time.Duration, isr func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		return false
	}
	w.t = time.AfterFunc(delay, isr)
	return true
}

// Stop cancels the pending timer, if any. Not ISR-safe on real hardware; the
// scheduler only ever calls it from main-loop context.
func (w *WallTimer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
		w.t = nil
	}
}
