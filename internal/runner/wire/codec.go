// Copyright 2026 The Actor Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Frame is one decoded wire message: a version tag, a kind tag
// identifying the payload's Go type, and the payload itself. Each field
// that has one is length-prefixed with a uvarint (spec.md §4.5: "Framed
// binary messages, versioned"); the payload is JSON rather than a
// bespoke binary layout, which keeps every envelope's Go struct the
// single source of truth for its wire shape.
type Frame struct {
	Version Version
	Kind    Kind
	Payload json.RawMessage
}

// Encode serializes f as [2-byte version][uvarint len + kind][uvarint
// len + JSON payload], suitable for a single binary websocket message.
func Encode(f Frame) ([]byte, error) {
	buf := make([]byte, 2, 2+len(f.Kind)+len(f.Payload)+20)
	binary.BigEndian.PutUint16(buf, uint16(f.Version))

	buf = appendUvarintBytes(buf, []byte(f.Kind))
	buf = appendUvarintBytes(buf, f.Payload)
	return buf, nil
}

// Decode parses a frame previously produced by Encode.
func Decode(b []byte) (Frame, error) {
	if len(b) < 2 {
		return Frame{}, fmt.Errorf("wire: frame too short: %d bytes", len(b))
	}
	version := Version(binary.BigEndian.Uint16(b))
	rest := b[2:]

	kindBytes, rest, err := readUvarintBytes(rest)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: read kind: %w", err)
	}
	payload, rest, err := readUvarintBytes(rest)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: read payload: %w", err)
	}
	if len(rest) != 0 {
		return Frame{}, fmt.Errorf("wire: %d trailing bytes after frame", len(rest))
	}

	return Frame{Version: version, Kind: Kind(kindBytes), Payload: payload}, nil
}

// EncodeFrame marshals payload to JSON and encodes the resulting frame in
// one step, the form every caller outside this package actually uses.
func EncodeFrame(version Version, kind Kind, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s payload: %w", kind, err)
	}
	return Encode(Frame{Version: version, Kind: kind, Payload: b})
}

func appendUvarintBytes(buf []byte, b []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf = append(buf, lenBuf[:n]...)
	return append(buf, b...)
}

func readUvarintBytes(b []byte) ([]byte, []byte, error) {
	length, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, nil, fmt.Errorf("malformed uvarint length")
	}
	b = b[n:]
	if uint64(len(b)) < length {
		return nil, nil, fmt.Errorf("length %d exceeds remaining %d bytes", length, len(b))
	}
	return b[:length], b[length:], nil
}
