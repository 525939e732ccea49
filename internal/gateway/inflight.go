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

package gateway

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// inFlightIDCacheCapacity bounds the table used to guarantee 4-byte
// in-flight-request-id uniqueness, per spec.md §5.
const inFlightIDCacheCapacity = 10_000_000

// maxInFlightIDAttempts is how many times the gateway retries drawing a
// fresh 4-byte id before giving up, per spec.md §4.6 ("≤100 retries").
const maxInFlightIDAttempts = 100

// DefaultInFlightLimit is the default per-IP concurrent-request cap.
const DefaultInFlightLimit = 100

// InFlightTracker enforces a per-client-IP concurrent request cap and hands
// out collision-checked 4-byte in-flight request ids.
type InFlightTracker struct {
	limit int

	mu     sync.Mutex
	counts map[string]int
	ids    *lru.Cache[uint32, struct{}]
}

// NewInFlightTracker constructs a tracker capping each client IP at limit
// concurrent requests.
func NewInFlightTracker(limit int) *InFlightTracker {
	cache, err := lru.New[uint32, struct{}](inFlightIDCacheCapacity)
	if err != nil {
		panic(err)
	}
	return &InFlightTracker{limit: limit, counts: make(map[string]int), ids: cache}
}

// Reserve increments clientIP's in-flight count and allocates a unique
// 4-byte request id, returning ok=false without mutating state if the IP is
// already at its cap. Release must be called exactly once per successful
// Reserve.
func (t *InFlightTracker) Reserve(clientIP string) (reqID uint32, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.counts[clientIP] >= t.limit {
		return 0, false, nil
	}

	id, err := t.freshID()
	if err != nil {
		return 0, false, err
	}

	t.counts[clientIP]++
	t.ids.Add(id, struct{}{})
	return id, true, nil
}

// Release decrements clientIP's in-flight count and frees reqID for reuse.
func (t *InFlightTracker) Release(clientIP string, reqID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.counts[clientIP] > 0 {
		t.counts[clientIP]--
	}
	if t.counts[clientIP] == 0 {
		delete(t.counts, clientIP)
	}
	t.ids.Remove(reqID)
}

// freshID draws a random 4-byte id not already present in the cache.
// Callers must hold t.mu.
func (t *InFlightTracker) freshID() (uint32, error) {
	var buf [4]byte
	for attempt := 0; attempt < maxInFlightIDAttempts; attempt++ {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("gateway: generate in-flight request id: %w", err)
		}
		id := binary.BigEndian.Uint32(buf[:])
		if !t.ids.Contains(id) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("gateway: could not allocate a unique in-flight request id after %d attempts", maxInFlightIDAttempts)
}
