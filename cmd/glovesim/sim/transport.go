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
	"math/rand"
	"sync"
	"time"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/capability"
)

// MemTransport is an in-process capability.Transport standing in for the
// wireless link between the two gloves. Messages are delivered to its peer
// after a jittered one-way latency (the ~10-50ms link spec.md §1 describes)
// and may be dropped outright, exercising the core's "transport send
// failure" and "past-due event" paths without any real radio.
type MemTransport struct {
	mu    sync.Mutex
	inbox [][]byte
	peer  *MemTransport

	rng                    *rand.Rand
	minLatency, maxLatency time.Duration
	dropProbability        float64
}

// NewMemTransportPair builds two MemTransports wired to each other, each
// side using its own independently-seeded jitter/drop source so concurrent
// Send calls from the two sessions' main loops never share a *rand.Rand.
func NewMemTransportPair(seed int64, minLatency, maxLatency time.Duration, dropProbability float64) (a, b capability.Transport) {
	ta := &MemTransport{
		rng:             rand.New(rand.NewSource(seed)),
		minLatency:      minLatency,
		maxLatency:      maxLatency,
		dropProbability: dropProbability,
	}
	tb := &MemTransport{
		rng:             rand.New(rand.NewSource(seed + 1)),
		minLatency:      minLatency,
		maxLatency:      maxLatency,
		dropProbability: dropProbability,
	}
	ta.peer = tb
	tb.peer = ta
	return ta, tb
}

// Send best-effort delivers msg to the peer after a jittered one-way
// latency; it may drop the message entirely, matching the "transport may
// drop when disconnected" contract in spec.md §6.
func (t *MemTransport) Send(msg []byte) error {
	if t.dropProbability > 0 && t.rng.Float64() < t.dropProbability {
		return errSimulatedDrop
	}
	delay := t.minLatency
	if t.maxLatency > t.minLatency {
		delay += time.Duration(t.rng.Int63n(int64(t.maxLatency - t.minLatency + 1)))
	}
	cp := append([]byte(nil), msg...)
	peer := t.peer
	time.AfterFunc(delay, func() {
		peer.mu.Lock()
		peer.inbox = append(peer.inbox, cp)
		peer.mu.Unlock()
	})
	return nil
}

// Receive returns the oldest pending message, if any, without blocking.
func (t *MemTransport) Receive() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbox) == 0 {
		return nil, false
	}
	msg := t.inbox[0]
	t.inbox = t.inbox[1:]
	return msg, true
}

type simError string

func (e simError) Error() string { return string(e) }

const errSimulatedDrop = simError("sim: transport simulated a dropped send")
