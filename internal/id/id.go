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

// Package id implements the engine's 128-bit datacenter-tagged identifier,
// used for actors, runners, and workflow instances (spec.md §6).
package id

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit identifier whose upper two bytes carry a datacenter label,
// with the remaining 14 bytes a random body. This lets any process identify
// an ID's home datacenter without a lookup.
type ID [16]byte

// Nil is the sentinel zero-value ID.
var Nil ID

// New generates a fresh random ID tagged with the given datacenter label.
func New(datacenterLabel uint16) ID {
	var id ID
	id[0] = byte(datacenterLabel >> 8)
	id[1] = byte(datacenterLabel)

	body := uuid.New()
	copy(id[2:], body[2:16])
	return id
}

// Datacenter returns the datacenter label embedded in the ID's upper bytes.
func (id ID) Datacenter() uint16 {
	return uint16(id[0])<<8 | uint16(id[1])
}

// IsNil reports whether id is the nil sentinel.
func (id ID) IsNil() bool {
	return id == Nil
}

// String renders the ID as lowercase hex, printable and stable across
// processes.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Parse decodes a hex-encoded ID produced by String.
func Parse(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("id: invalid hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("id: expected %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MustParse is like Parse but panics on error; intended for constants and
// tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as plain
// hex strings in JSON.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value implements driver.Valuer so IDs can be written to the KV store's
// backing SQL database as their hex string form.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	default:
		return fmt.Errorf("id: unsupported scan type %T", src)
	}
}
