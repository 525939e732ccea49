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

package keys

import (
	"bytes"
	"sort"
	"testing"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/stretchr/testify/require"
)

func TestNsRunnerAlloc_OrdersByVersionDescThenSlotsDescThenPingAsc(t *testing.T) {
	ns := id.New(1)
	runnerA := id.New(1)
	runnerB := id.New(1)
	runnerC := id.New(1)

	// Higher version should sort first regardless of slots.
	kHighVersion := NsRunnerAlloc(ns, "web", 5, 100, 1000, runnerA)
	kLowVersion := NsRunnerAlloc(ns, "web", 3, 900, 1000, runnerB)
	require.True(t, bytes.Compare(kHighVersion, kLowVersion) < 0)

	// Within the same version, more remaining slots sorts first.
	kMoreSlots := NsRunnerAlloc(ns, "web", 5, 900, 1000, runnerA)
	kFewerSlots := NsRunnerAlloc(ns, "web", 5, 100, 1000, runnerB)
	require.True(t, bytes.Compare(kMoreSlots, kFewerSlots) < 0)

	// Within the same version and slots, older ping sorts first.
	kOlderPing := NsRunnerAlloc(ns, "web", 5, 100, 500, runnerA)
	kNewerPing := NsRunnerAlloc(ns, "web", 5, 100, 1500, runnerC)
	require.True(t, bytes.Compare(kOlderPing, kNewerPing) < 0)
}

func TestNsRunnerAlloc_ScanYieldsPriorityOrder(t *testing.T) {
	ns := id.New(1)
	r1, r2, r3 := id.New(1), id.New(1), id.New(1)

	entries := [][]byte{
		NsRunnerAlloc(ns, "web", 3, 500, 100, r1),
		NsRunnerAlloc(ns, "web", 5, 200, 100, r2),
		NsRunnerAlloc(ns, "web", 5, 800, 100, r3),
	}
	sorted := append([][]byte(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	// Expect: r3 (v5, 800 slots) first, then r2 (v5, 200 slots), then r1 (v3).
	require.True(t, bytes.Equal(sorted[0], entries[2]))
	require.True(t, bytes.Equal(sorted[1], entries[1]))
	require.True(t, bytes.Equal(sorted[2], entries[0]))
}

func TestDecodeRunnerAlloc_RoundTrip(t *testing.T) {
	ns := id.New(1)
	runner := id.New(1)
	key := NsRunnerAlloc(ns, "web", 7, 333, 99999, runner)
	prefixLen := len(NsRunnerAllocPrefix(ns, "web"))

	version, slots, pingTs, gotRunner, err := DecodeRunnerAlloc(key, prefixLen)
	require.NoError(t, err)
	require.Equal(t, uint32(7), version)
	require.Equal(t, uint32(333), slots)
	require.Equal(t, int64(99999), pingTs)
	require.Equal(t, runner, gotRunner)
}

func TestDecodeRunnerActor_RoundTrip(t *testing.T) {
	runner := id.New(1)
	actor := id.New(1)
	key := RunnerActor(runner, actor)

	gotRunner, gotActor, err := DecodeRunnerActor(key)
	require.NoError(t, err)
	require.Equal(t, runner, gotRunner)
	require.Equal(t, actor, gotActor)
}

func TestDecodePendingActor_RoundTrip(t *testing.T) {
	ns := id.New(1)
	actor := id.New(1)
	key := NsPendingActor(ns, "web", 123456, actor)
	prefixLen := len(NsPendingActorPrefix(ns, "web"))

	ts, gotActor, err := DecodePendingActor(key, prefixLen)
	require.NoError(t, err)
	require.Equal(t, int64(123456), ts)
	require.Equal(t, actor, gotActor)
}

func TestPendingActor_FIFOByTsThenActorID(t *testing.T) {
	ns := id.New(1)
	a1, a2 := id.New(1), id.New(1)

	earlier := NsPendingActor(ns, "web", 100, a1)
	later := NsPendingActor(ns, "web", 200, a2)
	require.True(t, bytes.Compare(earlier, later) < 0)
}

func TestPrefixEnd_BoundsRangeScan(t *testing.T) {
	ns := id.New(1)
	prefix := NsRunnerAllocPrefix(ns, "web")
	end := NsRunnerAllocEnd(ns, "web")

	inside := NsRunnerAlloc(ns, "web", 1, 1, 1, id.New(1))
	require.True(t, bytes.Compare(inside, prefix) >= 0)
	require.True(t, bytes.Compare(inside, end) < 0)

	// A key from a different runner name must fall outside the range.
	other := NsRunnerAllocPrefix(ns, "web2")
	require.True(t, bytes.Compare(other, end) >= 0)
}

func TestActorByNameKey_DistinctForDifferentNamespaces(t *testing.T) {
	ns1, ns2 := id.New(1), id.New(2)
	k1 := ActorByNameKey(ns1, "worker", "k1")
	k2 := ActorByNameKey(ns2, "worker", "k1")
	require.False(t, bytes.Equal(k1, k2))
}

func TestNsServerlessOutbound_ScopedToNamespaceAndRunnerName(t *testing.T) {
	ns := id.New(1)
	prefix := NsServerlessOutboundPrefix(ns, "web")
	end := NsServerlessOutboundEnd(ns, "web")

	inside := NsServerlessOutbound(ns, "web", id.New(1))
	require.True(t, bytes.Compare(inside, prefix) >= 0)
	require.True(t, bytes.Compare(inside, end) < 0)

	other := NsServerlessOutboundPrefix(ns, "web2")
	require.True(t, bytes.Compare(other, end) >= 0)
}

func TestNsServerlessPoolError_DistinctPerRunnerName(t *testing.T) {
	ns := id.New(1)
	k1 := NsServerlessPoolError(ns, "web")
	k2 := NsServerlessPoolError(ns, "worker")
	require.False(t, bytes.Equal(k1, k2))
}
