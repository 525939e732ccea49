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

// Package keys encodes the typed key families of spec.md §6's "Persisted
// layout" into flat byte strings ordered so that range scans over a
// subspace come back in the right priority order without any
// post-processing. Every key starts with a single-byte family tag so
// families never collide lexicographically.
package keys

import (
	"encoding/binary"
	"fmt"

	"github.com/rivet-gg/actor-engine/internal/id"
)

// Family tags, one byte each. Order matters only within a family's own
// scans; tags just need to be distinct.
const (
	tagActor                  byte = 0x01
	tagActorIndexByNameKey     byte = 0x02
	tagRunner                  byte = 0x03
	tagRunnerActor             byte = 0x04
	tagNsActiveRunner          byte = 0x05
	tagNsAllRunner             byte = 0x06
	tagNsRunnerAlloc           byte = 0x07
	tagNsPendingActor          byte = 0x08
	tagNsRunnerByKey           byte = 0x09
	tagNsServerlessSlots       byte = 0x0a
	tagSignal                  byte = 0x0b
	tagWorkflow                byte = 0x0c
	tagHistory                 byte = 0x0d
	tagActorsByName            byte = 0x0e
	tagActorConnectable        byte = 0x0f
	tagNsServerlessPoolError   byte = 0x10
	tagNsServerlessOutbound    byte = 0x11
)

func appendID(b []byte, v id.ID) []byte { return append(b, v[:]...) }

func appendString(b []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	b = append(b, lenBuf[:]...)
	return append(b, s...)
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

// Actor returns the key for an actor's primary data record.
func Actor(actorID id.ID) []byte {
	return appendID([]byte{tagActor}, actorID)
}

// ActorByNameKey returns the unique-index key enforcing
// (namespace, name, key) uniqueness (spec.md §3's Actor invariant).
func ActorByNameKey(namespaceID id.ID, name, key string) []byte {
	b := appendID([]byte{tagActorIndexByNameKey}, namespaceID)
	b = appendString(b, name)
	return appendString(b, key)
}

// Runner returns the key for a runner's primary data record.
func Runner(runnerID id.ID) []byte {
	return appendID([]byte{tagRunner}, runnerID)
}

// RunnerActorPrefix returns the subspace prefix for every actor a runner
// currently holds; RunnerActor appends the actor id.
func RunnerActorPrefix(runnerID id.ID) []byte {
	return appendID([]byte{tagRunnerActor}, runnerID)
}

// RunnerActor returns the actor-to-runner index key recording that
// actorID is allocated onto runnerID, value-encoded as its generation.
func RunnerActor(runnerID, actorID id.ID) []byte {
	return appendID(RunnerActorPrefix(runnerID), actorID)
}

// RunnerActorEnd returns the exclusive end of a runner's actor-ownership
// subspace, suitable as a GetRange End — used by the runner workflow's
// FetchRemainingActors scan.
func RunnerActorEnd(runnerID id.ID) []byte {
	return prefixEnd(RunnerActorPrefix(runnerID))
}

// NsAllRunnerPrefix is the subspace of every runner ever registered for
// (namespace, runnerName), used by draining sweeps.
func NsAllRunnerPrefix(namespaceID id.ID, runnerName string) []byte {
	b := appendID([]byte{tagNsAllRunner}, namespaceID)
	return appendString(b, runnerName)
}

// NsAllRunner indexes a runner under its namespace and name.
func NsAllRunner(namespaceID id.ID, runnerName string, runnerID id.ID) []byte {
	return appendID(NsAllRunnerPrefix(namespaceID, runnerName), runnerID)
}

// NsActiveRunnerPrefix is the subspace of runners currently eligible
// (connected, not draining/expired) for (namespace, runnerName).
func NsActiveRunnerPrefix(namespaceID id.ID, runnerName string) []byte {
	b := appendID([]byte{tagNsActiveRunner}, namespaceID)
	return appendString(b, runnerName)
}

// NsActiveRunner indexes an active runner.
func NsActiveRunner(namespaceID id.ID, runnerName string, runnerID id.ID) []byte {
	return appendID(NsActiveRunnerPrefix(namespaceID, runnerName), runnerID)
}

// NsRunnerAllocPrefix is the subspace prefix for the allocation index of
// (namespace, runnerName): a forward scan over this prefix yields
// candidates in priority order (spec.md §3's Allocation index).
func NsRunnerAllocPrefix(namespaceID id.ID, runnerName string) []byte {
	b := appendID([]byte{tagNsRunnerAlloc}, namespaceID)
	return appendString(b, runnerName)
}

// NsRunnerAllocEnd returns the exclusive end of the allocation-index
// subspace for (namespace, runnerName) — the prefix with its last byte
// incremented, suitable as a GetRange End.
func NsRunnerAllocEnd(namespaceID id.ID, runnerName string) []byte {
	return prefixEnd(NsRunnerAllocPrefix(namespaceID, runnerName))
}

// NsRunnerAlloc builds the full allocation-index key. The component order
// is load-bearing: within a (namespace, runnerName) subspace, a forward
// byte-order scan yields highest version first (version is stored
// bit-flipped so descending numeric order becomes ascending byte order),
// then within a version, highest remaining_millislots first, then lowest
// last_ping_ts (older pings sort first, a minor tie-break), then runner_id.
func NsRunnerAlloc(namespaceID id.ID, runnerName string, version uint32, remainingMillislots uint32, lastPingTs int64, runnerID id.ID) []byte {
	b := NsRunnerAllocPrefix(namespaceID, runnerName)
	b = appendU32(b, ^version)
	b = appendU32(b, ^remainingMillislots)
	b = appendU64(b, uint64(lastPingTs))
	return appendID(b, runnerID)
}

// NsPendingActorPrefix is the subspace prefix for the pending-actor FIFO
// queue of (namespace, runnerName).
func NsPendingActorPrefix(namespaceID id.ID, runnerName string) []byte {
	b := appendID([]byte{tagNsPendingActor}, namespaceID)
	return appendString(b, runnerName)
}

// NsPendingActorEnd returns the exclusive end of the pending-queue
// subspace, suitable as a GetRange End.
func NsPendingActorEnd(namespaceID id.ID, runnerName string) []byte {
	return prefixEnd(NsPendingActorPrefix(namespaceID, runnerName))
}

// NsPendingActor builds a pending-queue key. Component order (ts then
// actor_id) gives strict FIFO ordering with a deterministic tie-break,
// per spec.md §3.
func NsPendingActor(namespaceID id.ID, runnerName string, ts int64, actorID id.ID) []byte {
	b := NsPendingActorPrefix(namespaceID, runnerName)
	b = appendU64(b, uint64(ts))
	return appendID(b, actorID)
}

// ActorsByNamePrefix is the subspace listing every actor created under
// (namespace, name), populated once AddIndexesAndSetCreateComplete runs —
// actors only become visible to list queries at that point, per spec.md
// §4.2 step 4.
func ActorsByNamePrefix(namespaceID id.ID, name string) []byte {
	b := appendID([]byte{tagActorsByName}, namespaceID)
	return appendString(b, name)
}

// ActorsByName indexes actorID under (namespace, name).
func ActorsByName(namespaceID id.ID, name string, actorID id.ID) []byte {
	return appendID(ActorsByNamePrefix(namespaceID, name), actorID)
}

// ActorConnectablePrefix is the subspace of actors currently reachable by
// the gateway for (namespace, name) — present iff the actor's
// connectable_ts is set (spec.md §3's Actor invariant).
func ActorConnectablePrefix(namespaceID id.ID, name string) []byte {
	b := appendID([]byte{tagActorConnectable}, namespaceID)
	return appendString(b, name)
}

// ActorConnectable indexes a connectable actor under (namespace, name).
func ActorConnectable(namespaceID id.ID, name string, actorID id.ID) []byte {
	return appendID(ActorConnectablePrefix(namespaceID, name), actorID)
}

// NsRunnerByKey resolves a runner by its process-identity key — the
// primary handle gateways use to find a specific runner process.
func NsRunnerByKey(namespaceID id.ID, runnerName, key string) []byte {
	b := appendID([]byte{tagNsRunnerByKey}, namespaceID)
	b = appendString(b, runnerName)
	return appendString(b, key)
}

// NsServerlessDesiredSlots is the autoscaler's demand counter for
// (namespace, runnerName).
func NsServerlessDesiredSlots(namespaceID id.ID, runnerName string) []byte {
	b := appendID([]byte{tagNsServerlessSlots}, namespaceID)
	return appendString(b, runnerName)
}

// NsServerlessPoolError is the most recent RunnerPoolError recorded for
// (namespace, runnerName)'s serverless pool, surfaced by the REST API and
// consulted by the gateway for the actor_runner_failed fail-fast path
// (spec.md §4.7).
func NsServerlessPoolError(namespaceID id.ID, runnerName string) []byte {
	b := appendID([]byte{tagNsServerlessPoolError}, namespaceID)
	return appendString(b, runnerName)
}

// NsServerlessOutboundPrefix is the subspace of outbound SSE connections
// currently in flight for (namespace, runnerName), keyed by the outbound
// workflow's own id so the autoscaler can count and enumerate them.
func NsServerlessOutboundPrefix(namespaceID id.ID, runnerName string) []byte {
	b := appendID([]byte{tagNsServerlessOutbound}, namespaceID)
	return appendString(b, runnerName)
}

// NsServerlessOutboundEnd returns the exclusive end of the outbound
// subspace, suitable as a GetRange End.
func NsServerlessOutboundEnd(namespaceID id.ID, runnerName string) []byte {
	return prefixEnd(NsServerlessOutboundPrefix(namespaceID, runnerName))
}

// NsServerlessOutbound indexes one in-flight outbound connection under
// its namespace/runner-name pool.
func NsServerlessOutbound(namespaceID id.ID, runnerName string, outboundID id.ID) []byte {
	return appendID(NsServerlessOutboundPrefix(namespaceID, runnerName), outboundID)
}

// Signal returns the key under which a published signal addressed to
// workflowID, with the given signal id, is buffered until consumed.
func Signal(workflowID, signalID id.ID) []byte {
	b := appendID([]byte{tagSignal}, workflowID)
	return appendID(b, signalID)
}

// SignalPrefix is the subspace of every signal pending for a workflow.
func SignalPrefix(workflowID id.ID) []byte {
	return appendID([]byte{tagSignal}, workflowID)
}

// SignalEnd returns the exclusive end of a workflow's pending-signal
// subspace, suitable as a GetRange End.
func SignalEnd(workflowID id.ID) []byte {
	return prefixEnd(SignalPrefix(workflowID))
}

// Workflow returns the key for a workflow instance's root record (state,
// wake_deadline_ts, wake_signals, wake_sub_workflow_id, worker_id,
// silence_ts, output, error, prune_idx — see spec.md §6).
func Workflow(workflowID id.ID) []byte {
	return appendID([]byte{tagWorkflow}, workflowID)
}

// WorkflowPrefix is the subspace of every workflow instance's root record,
// scanned by the worker poller to find due instances.
func WorkflowPrefix() []byte {
	return []byte{tagWorkflow}
}

// WorkflowEnd returns the exclusive end of the workflow-record subspace.
func WorkflowEnd() []byte {
	return prefixEnd(WorkflowPrefix())
}

// HistoryPrefix is the subspace of every history entry for a workflow.
func HistoryPrefix(workflowID id.ID) []byte {
	return appendID([]byte{tagHistory}, workflowID)
}

// HistoryEnd returns the exclusive end of a workflow's history subspace.
func HistoryEnd(workflowID id.ID) []byte {
	return prefixEnd(HistoryPrefix(workflowID))
}

// History builds the key for a single history entry, addressed by its
// deterministic location string (spec.md §4.1's location path).
func History(workflowID id.ID, location string) []byte {
	return appendString(HistoryPrefix(workflowID), location)
}

// prefixEnd returns the lexicographically-smallest byte string that is
// strictly greater than every string with the given prefix, by
// incrementing the last byte that isn't already 0xff (dropping any 0xff
// suffix first). It is the idiomatic Go way (used by etcd and others) to
// turn a prefix into a GetRange exclusive end.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	// Every byte was 0xff; there is no finite successor, so the range is
	// unbounded above.
	return nil
}

// ErrInvalidKey is returned by decoders when a raw key does not match the
// family's expected shape.
var ErrInvalidKey = fmt.Errorf("keys: invalid key encoding")
