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
Package capability defines the narrow capability interfaces the core
components use to reach collaborators (the wireless transport, the motor
driver, the hardware timer). The core never reaches into a collaborator's
internals or a global singleton; every collaborator is injected at
construction as one of these interfaces, so the same core can be driven by
mocks in tests and by real hardware/transport bindings in firmware.
*/
package capability

import "time"

// Transport is a connection-oriented, reliable, ordered byte stream to the
// peer device, framed by the caller. Send is best-effort: the transport may
// drop a message when disconnected, and the core is responsible for
// tolerating that (§4.C.5 / §7: counted, non-fatal). Receive returns a whole
// framed message if one is available, or ok=false if nothing is pending;
// framing is the transport's responsibility.
type Transport interface {
	Send(msg []byte) error
	Receive() (msg []byte, ok bool)
}

// MotorDriver activates and deactivates a single finger's vibrotactile
// motor. Both operations may fail (returning false); failures are counted
// by the caller and are never fatal. IsEnabled gates activation — disabled
// fingers are silently skipped by the scheduler.
type MotorDriver interface {
	Activate(finger uint8, amplitude uint8, durationMS uint32, frequencyHz int) bool
	Deactivate(finger uint8) bool
	IsEnabled(finger uint8) bool
}

// HardwareTimer arms a single one-shot timer that invokes isr when it
// fires. Arm returns false if the hardware is busy (already armed); Stop is
// not safe to call from ISR context on this platform and must only be
// called from the main loop.
type HardwareTimer interface {
	Arm(delay time.Duration, isr func()) bool
	Stop()
}
