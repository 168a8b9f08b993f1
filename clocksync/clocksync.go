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
Package clocksync implements the PTP-style four-timestamp exchange between
PRIMARY and SECONDARY, and maintains the filtered offset and drift-rate
estimate used to convert between the two devices' microsecond clocks. It is
the only component allowed to cross between peer-time and local-time.
*/
package clocksync

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/clock"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/glovestats"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/wire"
)

// Config collects the tunables from the core's configuration table.
type Config struct {
	RTTQualityThreshold time.Duration // RTT_QUALITY_THRESHOLD_US
	OutlierMultiple     float64       // OUTLIER_MULT
	RingCapacity        int           // OFFSET_SAMPLE_CAP
	MinValidSamples     int           // MIN_VALID_SAMPLES
	EMAWeight           float64       // EMA_WEIGHT
	DriftClampUSPerMS   float64       // DRIFT_CLAMP_US_PER_MS
	LeadMin             time.Duration // LEAD_MIN_US
	LeadMax             time.Duration // LEAD_MAX_US
	ProcessingOverhead  time.Duration // PROCESSING_OVERHEAD_US
	LeadVarianceK       float64       // scales sqrt(rtt_variance) in the lead formula
	OutlierDeviation    time.Duration // offset-vs-median outlier bound (~5ms)
	MaxSampleAge        time.Duration // age beyond which the synchronizer downgrades to not valid
}

// DefaultConfig returns the configuration constants named in the core's
// configuration table.
func DefaultConfig() Config {
	return Config{
		RTTQualityThreshold: 120 * time.Millisecond,
		OutlierMultiple:     3,
		RingCapacity:        10,
		MinValidSamples:     5,
		EMAWeight:           0.3,
		DriftClampUSPerMS:   0.1,
		LeadMin:             65 * time.Millisecond,
		LeadMax:             150 * time.Millisecond,
		ProcessingOverhead:  20 * time.Millisecond,
		LeadVarianceK:       1.0,
		OutlierDeviation:    5 * time.Millisecond,
		MaxSampleAge:        2 * time.Second,
	}
}

// Synchronizer owns the offset ring and drift estimate exclusively; no
// other component is permitted to mutate this state.
type Synchronizer struct {
	cfg      Config
	clk      *clock.Source
	counters *glovestats.SyncCounters

	samples *pairWindow

	driftRate         float64
	lastOffsetUS      int64
	lastSampleLocalTS uint64
	haveLast          bool

	latencyEMA       float64
	latencyWarmCount int
	latencySum       float64
	latencySmoothed  bool
	lastRawLatency   float64

	genSeq  uint16
	pending map[uint16]uint64
}

// New builds a Synchronizer around the given clock source and counter set.
func New(cfg Config, clk *clock.Source, counters *glovestats.SyncCounters) *Synchronizer {
	return &Synchronizer{
		cfg:      cfg,
		clk:      clk,
		counters: counters,
		samples:  newPairWindow(cfg.RingCapacity),
		pending:  make(map[uint16]uint64),
	}
}

// InitiatePing begins a four-timestamp exchange as the initiator, recording
// t1 against a freshly allocated sequence id.
func (s *Synchronizer) InitiatePing() wire.Ping {
	seq := s.genSeq
	s.genSeq++
	t1 := s.clk.Now()
	s.pending[seq] = t1
	return wire.Ping{Seq: seq, T1: t1}
}

// OnPingReceived responds to an inbound PING as the responder, stamping t2
// on receipt and t3 just before the PONG is handed to the transport.
func (s *Synchronizer) OnPingReceived(p wire.Ping) wire.Pong {
	t2 := s.clk.Now()
	t3 := s.clk.Now()
	log.Debugf("clocksync: responding to PING seq=%d t1=%d with t2=%d t3=%d", p.Seq, p.T1, t2, t3)
	return wire.Pong{Seq: p.Seq, T2: t2, T3: t3}
}

// OnPongReceived completes a four-timestamp exchange as the initiator. A
// PONG whose sequence id has no matching outstanding PING is discarded and
// counted; it reports whether the sample was accepted into the ring (a
// sample can be paired but still rejected by quality/outlier filtering).
func (s *Synchronizer) OnPongReceived(p wire.Pong) bool {
	t1, ok := s.pending[p.Seq]
	if !ok {
		s.counters.UnknownPong.Add(1)
		log.Debugf("clocksync: discarding PONG with unknown seq=%d", p.Seq)
		return false
	}
	delete(s.pending, p.Seq)
	t4 := s.clk.Now()

	offset := ((int64(p.T2) - int64(t1)) + (int64(p.T3) - int64(t4))) / 2
	rtt := (int64(t4) - int64(t1)) - (int64(p.T3) - int64(p.T2))
	return s.admit(offset, rtt, t4)
}

// admit runs one completed exchange's (offset, rtt) sample through the
// quality and outlier filters, updates the drift estimate, and feeds the
// one-way-latency EMA used for adaptive lead time.
func (s *Synchronizer) admit(offsetUS, rttUS int64, nowUS uint64) bool {
	if rttUS < 0 {
		s.counters.NegativeRTTClamped.Add(1)
		rttUS = 0
	}
	if time.Duration(rttUS)*time.Microsecond > s.cfg.RTTQualityThreshold {
		s.counters.PoorRTTRejected.Add(1)
		log.Debugf("clocksync: rejecting sample, rtt=%dus exceeds quality threshold", rttUS)
		return false
	}
	if s.samples.count > 0 {
		median := s.samples.medianOffset()
		if math.Abs(float64(offsetUS)-median) > float64(s.cfg.OutlierDeviation.Microseconds()) {
			s.counters.OffsetOutlierRejected.Add(1)
			log.Debugf("clocksync: rejecting offset=%dus as outlier vs median=%.1f", offsetUS, median)
			return false
		}
	}

	if s.validLocked() && s.haveLast {
		deltaTimeUS := float64(nowUS - s.lastSampleLocalTS)
		if deltaTimeUS > 0 {
			instantRate := (float64(offsetUS-s.lastOffsetUS) * 1000.0) / deltaTimeUS
			s.driftRate = s.driftRate*(1-s.cfg.EMAWeight) + instantRate*s.cfg.EMAWeight
			if s.driftRate > s.cfg.DriftClampUSPerMS {
				s.driftRate = s.cfg.DriftClampUSPerMS
			} else if s.driftRate < -s.cfg.DriftClampUSPerMS {
				s.driftRate = -s.cfg.DriftClampUSPerMS
			}
		}
	}

	s.samples.add(float64(offsetUS), float64(rttUS))
	s.lastOffsetUS = offsetUS
	s.lastSampleLocalTS = nowUS
	s.haveLast = true

	s.updateLatency(float64(rttUS) / 2.0)
	return true
}

func (s *Synchronizer) updateLatency(latencyUS float64) {
	const warmupSamples = 3
	if s.latencyWarmCount < warmupSamples {
		s.latencySum += latencyUS
		s.latencyWarmCount++
		s.lastRawLatency = latencyUS
		if s.latencyWarmCount == warmupSamples {
			s.latencyEMA = s.latencySum / warmupSamples
			s.latencySmoothed = true
		}
		return
	}
	if latencyUS > s.cfg.OutlierMultiple*s.latencyEMA {
		// Raw value is recorded, smoothed value and ring count are untouched.
		s.counters.LatencyOutlierRejected.Add(1)
		s.lastRawLatency = latencyUS
		return
	}
	s.latencyEMA = s.latencyEMA*(1-s.cfg.EMAWeight) + latencyUS*s.cfg.EMAWeight
	s.lastRawLatency = latencyUS
}

// MeasuredLatency returns the current smoothed one-way-latency estimate, or
// 0 before the 3-sample warm-up completes.
func (s *Synchronizer) MeasuredLatency() float64 {
	if !s.latencySmoothed {
		return 0
	}
	return s.latencyEMA
}

// validLocked is Valid without the MaxSampleAge downgrade check or counter
// side effect, used internally to gate drift updates.
func (s *Synchronizer) validLocked() bool {
	return s.samples.count >= s.cfg.MinValidSamples
}

// Valid reports whether the synchronizer has enough recent samples to
// produce a trustworthy offset.
func (s *Synchronizer) Valid() bool {
	if !s.validLocked() {
		return false
	}
	if s.haveLast && s.cfg.MaxSampleAge > 0 {
		age := s.clk.Now() - s.lastSampleLocalTS
		if time.Duration(age)*time.Microsecond > s.cfg.MaxSampleAge {
			s.counters.DowngradedNotValid.Add(1)
			return false
		}
	}
	return true
}

// CorrectedOffset returns the drift-compensated offset at local time t. The
// second return value is false (and the offset a clearly-marked zero) when
// the synchronizer is not yet valid.
func (s *Synchronizer) CorrectedOffset(atUS uint64) (int64, bool) {
	if !s.Valid() {
		return 0, false
	}
	median := s.samples.medianOffset()
	elapsedUS := float64(int64(atUS) - int64(s.lastSampleLocalTS))
	corrected := median + s.driftRate*(elapsedUS/1000.0)
	return int64(math.Round(corrected)), true
}

// PeerToLocal converts a peer-time timestamp into this device's local-time
// domain. ok is false when the synchronizer is not valid.
func (s *Synchronizer) PeerToLocal(peerUS uint64) (localUS uint64, ok bool) {
	offset, ok := s.CorrectedOffset(s.clk.Now())
	if !ok {
		return 0, false
	}
	local := int64(peerUS) - offset
	if local < 0 {
		local = 0
	}
	return uint64(local), true
}

// LocalToPeer converts a local-time timestamp into the peer's time domain.
// ok is false when the synchronizer is not valid.
func (s *Synchronizer) LocalToPeer(localUS uint64) (peerUS uint64, ok bool) {
	offset, ok := s.CorrectedOffset(s.clk.Now())
	if !ok {
		return 0, false
	}
	peer := int64(localUS) + offset
	if peer < 0 {
		peer = 0
	}
	return uint64(peer), true
}

// AdaptiveLeadTime computes the lead time the planner should add to "now"
// before transmitting the next macrocycle, per the formula:
// lead = 2*one_way_latency + k*sqrt(rtt_variance) + processing_overhead,
// clamped to [LeadMin, LeadMax].
func (s *Synchronizer) AdaptiveLeadTime() time.Duration {
	latencyUS := s.MeasuredLatency()
	varianceUS2 := s.samples.varianceRTT()
	leadUS := 2*latencyUS + s.cfg.LeadVarianceK*math.Sqrt(varianceUS2) + float64(s.cfg.ProcessingOverhead.Microseconds())
	lead := time.Duration(leadUS) * time.Microsecond
	if lead < s.cfg.LeadMin {
		return s.cfg.LeadMin
	}
	if lead > s.cfg.LeadMax {
		return s.cfg.LeadMax
	}
	return lead
}

// Counters exposes the read-only observable counters for this synchronizer.
func (s *Synchronizer) Counters() *glovestats.SyncCounters {
	return s.counters
}
