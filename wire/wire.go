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
Package wire implements the ASCII, pipe-delimited message grammar shared by
the clock synchronizer (PING/PONG) and the macrocycle planner (MC), framed by
the transport's end-of-message byte. Parsing is rejectful: any malformed
field, wrong field count, or violated ordering invariant fails the whole
message rather than partially decoding it.
*/
package wire

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FrameByte terminates every message on the wire transport.
const FrameByte = 0x04

// Split breaks a buffer containing zero or more framed messages into
// individual message bodies (without the frame byte). A trailing partial
// message (no frame byte yet seen) is returned as the second value so the
// caller can keep buffering it.
func Split(buf []byte) (messages [][]byte, remainder []byte) {
	start := 0
	for i, b := range buf {
		if b == FrameByte {
			messages = append(messages, buf[start:i])
			start = i + 1
		}
	}
	return messages, buf[start:]
}

// Frame appends the end-of-message framing byte to msg.
func Frame(msg []byte) []byte {
	out := make([]byte, len(msg)+1)
	copy(out, msg)
	out[len(msg)] = FrameByte
	return out
}

// Ping is the wire-level PING probe: PING:<seq>|<t1_high>|<t1_low>
type Ping struct {
	Seq uint16
	T1  uint64
}

// Pong is the wire-level PONG reply: PONG:<seq>|<t2_high>|<t2_low>|<t3_high>|<t3_low>
type Pong struct {
	Seq uint16
	T2  uint64
	T3  uint64
}

// EncodePing serializes a Ping into its unframed wire body.
func EncodePing(p Ping) []byte {
	hi, lo := split64(p.T1)
	return []byte(joinFields("PING", p.Seq, hi, lo))
}

// EncodePong serializes a Pong into its unframed wire body.
func EncodePong(p Pong) []byte {
	t2hi, t2lo := split64(p.T2)
	t3hi, t3lo := split64(p.T3)
	return []byte(joinFields("PONG", p.Seq, t2hi, t2lo, t3hi, t3lo))
}

// DecodePing parses an unframed PING message body.
func DecodePing(body []byte) (Ping, error) {
	fields, err := splitTagged(body, "PING", 3)
	if err != nil {
		return Ping{}, err
	}
	seq, err := parseUint16(fields[0], "seq")
	if err != nil {
		return Ping{}, err
	}
	hi, err := parseUint32(fields[1], "t1_high")
	if err != nil {
		return Ping{}, err
	}
	lo, err := parseUint32(fields[2], "t1_low")
	if err != nil {
		return Ping{}, err
	}
	return Ping{Seq: seq, T1: join64(hi, lo)}, nil
}

// DecodePong parses an unframed PONG message body.
func DecodePong(body []byte) (Pong, error) {
	fields, err := splitTagged(body, "PONG", 5)
	if err != nil {
		return Pong{}, err
	}
	seq, err := parseUint16(fields[0], "seq")
	if err != nil {
		return Pong{}, err
	}
	t2hi, err := parseUint32(fields[1], "t2_high")
	if err != nil {
		return Pong{}, err
	}
	t2lo, err := parseUint32(fields[2], "t2_low")
	if err != nil {
		return Pong{}, err
	}
	t3hi, err := parseUint32(fields[3], "t3_high")
	if err != nil {
		return Pong{}, err
	}
	t3lo, err := parseUint32(fields[4], "t3_low")
	if err != nil {
		return Pong{}, err
	}
	return Pong{Seq: seq, T2: join64(t2hi, t2lo), T3: join64(t3hi, t3lo)}, nil
}

func split64(v uint64) (hi, lo uint32) {
	return uint32(v >> 32), uint32(v)
}

func join64(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

func joinFields(tag string, seq uint16, rest ...uint32) string {
	var b strings.Builder
	b.WriteString(tag)
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(seq), 10))
	for _, v := range rest {
		b.WriteByte('|')
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return b.String()
}

// splitTagged validates the "TAG:" prefix and returns exactly wantFields
// pipe-delimited fields after it.
func splitTagged(body []byte, tag string, wantFields int) ([]string, error) {
	s := string(body)
	prefix := tag + ":"
	if !strings.HasPrefix(s, prefix) {
		return nil, errors.Errorf("wire: expected %q prefix, got %q", prefix, s)
	}
	rest := strings.TrimPrefix(s, prefix)
	fields := strings.Split(rest, "|")
	if len(fields) != wantFields {
		return nil, errors.Errorf("wire: %s expected %d fields, got %d", tag, wantFields, len(fields))
	}
	return fields, nil
}

func parseUint16(s, name string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "wire: bad %s field %q", name, s)
	}
	return uint16(v), nil
}

func parseUint32(s, name string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "wire: bad %s field %q", name, s)
	}
	return uint32(v), nil
}
