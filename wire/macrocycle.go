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

package wire

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MCEvent is one wire-level macrocycle event: delta_ms,finger,amplitude[,freq_offset]
type MCEvent struct {
	DeltaMS    uint32
	Finger     uint8
	Amplitude  uint8
	FreqOffset int8
}

// Macrocycle is the wire-level form of a planner macrocycle: the ASCII line
// MC:<seq>|<base_time_ms>|<offset_high>|<offset_low>|<duration_ms>|<count>|<e0>|<e1>|...
type Macrocycle struct {
	Seq        uint32
	BaseTimeMS uint64
	OffsetUS   int64
	DurationMS uint32
	Events     []MCEvent
}

// EncodeMacrocycle serializes a Macrocycle into its unframed wire body. An
// event's freq_offset field is omitted when it is zero.
func EncodeMacrocycle(m Macrocycle) []byte {
	var b strings.Builder
	b.WriteString("MC:")
	b.WriteString(strconv.FormatUint(uint64(m.Seq), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(m.BaseTimeMS, 10))
	b.WriteByte('|')
	hi, lo := split64(uint64(m.OffsetUS))
	b.WriteString(strconv.FormatUint(uint64(hi), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(uint64(lo), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(uint64(m.DurationMS), 10))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(m.Events)))
	for _, e := range m.Events {
		b.WriteByte('|')
		b.WriteString(strconv.FormatUint(uint64(e.DeltaMS), 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatUint(uint64(e.Finger), 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatUint(uint64(e.Amplitude), 10))
		if e.FreqOffset != 0 {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(int(e.FreqOffset)))
		}
	}
	return []byte(b.String())
}

// DecodeMacrocycle parses an unframed MC message body. It is strictly
// rejectful: a malformed field, a count mismatch, or a non-monotonic
// delta_ms sequence fails the whole message.
func DecodeMacrocycle(body []byte) (Macrocycle, error) {
	s := string(body)
	if !strings.HasPrefix(s, "MC:") {
		return Macrocycle{}, errors.Errorf("wire: expected \"MC:\" prefix, got %q", s)
	}
	fields := strings.Split(strings.TrimPrefix(s, "MC:"), "|")
	if len(fields) < 6 {
		return Macrocycle{}, errors.Errorf("wire: MC expected at least 6 header fields, got %d", len(fields))
	}
	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return Macrocycle{}, errors.Wrap(err, "wire: bad MC seq")
	}
	baseTimeMS, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Macrocycle{}, errors.Wrap(err, "wire: bad MC base_time_ms")
	}
	offsetHi, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Macrocycle{}, errors.Wrap(err, "wire: bad MC offset_high")
	}
	offsetLo, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Macrocycle{}, errors.Wrap(err, "wire: bad MC offset_low")
	}
	durationMS, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return Macrocycle{}, errors.Wrap(err, "wire: bad MC duration_ms")
	}
	count, err := strconv.Atoi(fields[5])
	if err != nil || count < 0 {
		return Macrocycle{}, errors.Errorf("wire: bad MC count %q", fields[5])
	}
	eventFields := fields[6:]
	if len(eventFields) != count {
		return Macrocycle{}, errors.Errorf("wire: MC count mismatch, header says %d, got %d event fields", count, len(eventFields))
	}

	events := make([]MCEvent, 0, count)
	var lastDelta uint32
	for i, ef := range eventFields {
		parts := strings.Split(ef, ",")
		if len(parts) != 3 && len(parts) != 4 {
			return Macrocycle{}, errors.Errorf("wire: MC event %d malformed: %q", i, ef)
		}
		delta, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return Macrocycle{}, errors.Wrapf(err, "wire: MC event %d bad delta_ms", i)
		}
		if i > 0 && uint32(delta) < lastDelta {
			return Macrocycle{}, errors.Errorf("wire: MC event %d has non-monotonic delta_ms (%d < %d)", i, delta, lastDelta)
		}
		lastDelta = uint32(delta)
		finger, err := strconv.ParseUint(parts[1], 10, 8)
		if err != nil {
			return Macrocycle{}, errors.Wrapf(err, "wire: MC event %d bad finger", i)
		}
		amplitude, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return Macrocycle{}, errors.Wrapf(err, "wire: MC event %d bad amplitude", i)
		}
		var freqOffset int8
		if len(parts) == 4 {
			fo, err := strconv.ParseInt(parts[3], 10, 8)
			if err != nil {
				return Macrocycle{}, errors.Wrapf(err, "wire: MC event %d bad freq_offset", i)
			}
			freqOffset = int8(fo)
		}
		events = append(events, MCEvent{
			DeltaMS:    uint32(delta),
			Finger:     uint8(finger),
			Amplitude:  uint8(amplitude),
			FreqOffset: freqOffset,
		})
	}

	return Macrocycle{
		Seq:        uint32(seq),
		BaseTimeMS: baseTimeMS,
		OffsetUS:   int64(join64(uint32(offsetHi), uint32(offsetLo))),
		DurationMS: uint32(durationMS),
		Events:     events,
	}, nil
}
