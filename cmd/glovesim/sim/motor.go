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

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
)

// LoggingMotor is a capability.MotorDriver that narrates every activation to
// the log instead of driving real I2C hardware, colored by device role the
// way ptp/simpleclient colors its client/server send and receive narration.
type LoggingMotor struct {
	mu      sync.Mutex
	label   string
	paintFn func(format string, a ...interface{}) string
	enabled map[uint8]bool
}

// NewLoggingMotor builds a LoggingMotor for a device role ("PRIMARY" or
// "SECONDARY") with numFingers fingers, all enabled.
func NewLoggingMotor(label string, numFingers int) *LoggingMotor {
	paint := color.GreenString
	if label == "SECONDARY" {
		paint = color.BlueString
	}
	enabled := make(map[uint8]bool, numFingers)
	for i := 0; i < numFingers; i++ {
		enabled[uint8(i)] = true
	}
	return &LoggingMotor{label: label, paintFn: paint, enabled: enabled}
}

// SetEnabled toggles whether a finger responds to activation; disabled
// fingers are silently skipped by the scheduler, per spec.md §6.
func (m *LoggingMotor) SetEnabled(finger uint8, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[finger] = enabled
}

// Activate narrates the vibration burst and always succeeds.
func (m *LoggingMotor) Activate(finger uint8, amplitude uint8, durationMS uint32, frequencyHz int) bool {
	log.Infof(m.paintFn("%s: finger %d buzz amp=%d freq=%dHz dur=%dms", m.label, finger, amplitude, frequencyHz, durationMS))
	return true
}

// Deactivate narrates the motor stopping and always succeeds.
func (m *LoggingMotor) Deactivate(finger uint8) bool {
	log.Infof(m.paintFn("%s: finger %d stop", m.label, finger))
	return true
}

// IsEnabled reports whether the given finger currently responds to
// activation.
func (m *LoggingMotor) IsEnabled(finger uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[finger]
}
