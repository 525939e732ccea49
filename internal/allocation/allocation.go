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

// Package allocation implements the transactional matching engine shared
// by the actor workflow's self-allocate path and the runner workflow's
// drain path: pick a live, high-version, recently-pinged runner with a
// free slot for a waiting actor, or fall back to an explicit FIFO pending
// queue. The whole procedure is one kvstore transaction body; callers run
// it inside their own Store.Run closure (typically from a workflow
// Activity) so it composes with the rest of that activity's writes.
package allocation

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// DefaultEligibleThreshold bounds how stale a runner's last_ping_ts may be
// before the allocator treats it as unavailable (spec.md §3's Runner
// eligibility invariant).
const DefaultEligibleThreshold = 15 * time.Second

// Outcome classifies what Allocate did for one actor.
type Outcome int

const (
	// Allocated means the actor was given a runner slot immediately.
	Allocated Outcome = iota
	// Pending means no slot was free; the actor was enqueued.
	Pending
	// Sleep means the actor's crash policy says to go to sleep rather than
	// wait in the queue (spec.md §4.3 step 5).
	Sleep
)

func (o Outcome) String() string {
	switch o {
	case Allocated:
		return "allocated"
	case Pending:
		return "pending"
	case Sleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// Result is what Allocate (or a single step of Drain) produced for one
// actor.
type Result struct {
	Outcome             Outcome
	RunnerID             id.ID
	RunnerWorkflowID      id.ID
	ProtocolVersion      uint16
	PendingAllocationTs int64
}

// Request describes the actor asking for a slot.
type Request struct {
	NamespaceID  id.ID
	RunnerName   string
	ActorID      id.ID
	Generation   uint32
	CrashPolicy  models.CrashPolicy

	// ForceAllocate bypasses the Sleep crash-policy gate in step 5 (used by
	// reschedule_actor when force_reschedule or wake_for_alarm is set).
	ForceAllocate bool

	// HasValidServerless mirrors the namespace's runner config: when true,
	// a Sleep-policy actor with no free slot still enqueues instead of
	// sleeping, since the autoscaler may bring up a slot for it.
	HasValidServerless bool
}

// addOneOperand is the little-endian int64 +1 mutation operand for the
// serverless desired-slots counter (kvstore.MutationAdd semantics).
var addOneOperand = encodeDelta(1)

// addNegOneOperand is the symmetric -1, applied by
// BumpServerlessDesiredSlots when an actor's caller passes delta -1.
var addNegOneOperand = encodeDelta(-1)

func encodeDelta(n int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n))
	return buf
}

// BumpServerlessDesiredSlots applies delta (±1) to a namespace/runner-name
// pair's autoscaler demand counter. Exposed separately from Allocate
// because the actor workflow's wrapper (not this package) decides when to
// call it — once after Allocate/Pending, and symmetrically from Deallocate
// when an actor releases its slot.
func BumpServerlessDesiredSlots(tx kvstore.Tx, namespaceID id.ID, runnerName string, delta int64) {
	key := keys.NsServerlessDesiredSlots(namespaceID, runnerName)
	if delta == 1 {
		tx.AtomicOp(key, addOneOperand, kvstore.MutationAdd)
		return
	}
	if delta == -1 {
		tx.AtomicOp(key, addNegOneOperand, kvstore.MutationAdd)
		return
	}
	tx.AtomicOp(key, encodeDelta(delta), kvstore.MutationAdd)
}

// DesiredServerlessSlots reads the current value of the autoscaler demand
// counter BumpServerlessDesiredSlots maintains for (namespace, runnerName).
// A missing key means no actor has ever requested a serverless slot here.
func DesiredServerlessSlots(ctx context.Context, tx kvstore.Tx, namespaceID id.ID, runnerName string) (int64, error) {
	b, err := tx.Get(ctx, keys.NsServerlessDesiredSlots(namespaceID, runnerName), kvstore.Serializable)
	if err != nil {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("allocation: malformed desired-slots counter (%d bytes)", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// Allocate runs the spec.md §4.3 matching procedure for one actor: try to
// claim a free runner slot immediately, otherwise enqueue (or sleep, per
// crash policy). now is injected rather than read from time.Now so the
// caller's workflow clock stays the single source of truth.
func Allocate(ctx context.Context, tx kvstore.Tx, now time.Time, eligibleThreshold time.Duration, req Request) (Result, error) {
	if req.HasValidServerless {
		BumpServerlessDesiredSlots(tx, req.NamespaceID, req.RunnerName, 1)
	}

	// Step 2: a non-empty pending queue means new arrivals must not jump
	// ahead of it, regardless of whether a slot looks free right now.
	queueNonEmpty, err := pendingQueueNonEmpty(ctx, tx, req.NamespaceID, req.RunnerName)
	if err != nil {
		return Result{}, err
	}

	if !queueNonEmpty {
		cand, err := claimCandidate(ctx, tx, now, eligibleThreshold, req.NamespaceID, req.RunnerName, req.ActorID, req.Generation)
		if err != nil {
			return Result{}, err
		}
		if cand != nil {
			return Result{
				Outcome:          Allocated,
				RunnerID:         cand.RunnerID,
				RunnerWorkflowID: cand.WorkflowID,
				ProtocolVersion:  cand.ProtocolVersion,
			}, nil
		}
	}

	// Step 5: no slot available (or the queue already had priority).
	if req.CrashPolicy == models.CrashPolicySleep && !req.ForceAllocate && !req.HasValidServerless {
		return Result{Outcome: Sleep}, nil
	}

	pendingAllocationTs := now.UnixMilli()
	tx.Set(keys.NsPendingActor(req.NamespaceID, req.RunnerName, pendingAllocationTs, req.ActorID), marshalGeneration(req.Generation))
	return Result{Outcome: Pending, PendingAllocationTs: pendingAllocationTs}, nil
}

func pendingQueueNonEmpty(ctx context.Context, tx kvstore.Tx, namespaceID id.ID, runnerName string) (bool, error) {
	rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
		Begin: keys.NsPendingActorPrefix(namespaceID, runnerName),
		End:   keys.NsPendingActorEnd(namespaceID, runnerName),
		Limit: 1,
		Mode:  kvstore.StreamExact,
	}, kvstore.Snapshot)
	if err != nil {
		return false, fmt.Errorf("allocation: check pending queue: %w", err)
	}
	return len(rows) > 0, nil
}

// claimedCandidate is an allocation-index row that survived eligibility
// filtering and was claimed (conflicted, deleted, reinserted updated).
type claimedCandidate struct {
	RunnerID        id.ID
	WorkflowID      id.ID
	ProtocolVersion uint16
}

// claimCandidate scans the allocation index for (namespaceID, runnerName)
// under snapshot isolation, honoring the "stop once version drops below
// the first-observed highest version" rule, and claims the first eligible
// row it finds by adding a read conflict on that row alone, deleting it,
// and reinserting it with one fewer slot. Returns nil, nil if no row
// qualifies.
func claimCandidate(ctx context.Context, tx kvstore.Tx, now time.Time, eligibleThreshold time.Duration, namespaceID id.ID, runnerName string, actorID id.ID, generation uint32) (*claimedCandidate, error) {
	prefixLen := len(keys.NsRunnerAllocPrefix(namespaceID, runnerName))
	rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
		Begin: keys.NsRunnerAllocPrefix(namespaceID, runnerName),
		End:   keys.NsRunnerAllocEnd(namespaceID, runnerName),
	}, kvstore.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("allocation: scan allocation index: %w", err)
	}

	var highestVersion uint32
	haveHighest := false

	for _, row := range rows {
		version, remainingMillislots, lastPingTs, runnerID, err := keys.DecodeRunnerAlloc(row.Key, prefixLen)
		if err != nil {
			continue
		}

		if !haveHighest {
			highestVersion = version
			haveHighest = true
		} else if version < highestVersion {
			break
		}

		if remainingMillislots == 0 {
			break
		}
		if now.Sub(time.UnixMilli(lastPingTs)) > eligibleThreshold {
			// Skip without a read conflict: another actor may still use
			// this runner once it re-pings.
			continue
		}

		var entry models.AllocationIndexEntry
		if err := json.Unmarshal(row.Value, &entry); err != nil {
			continue
		}

		tx.AddReadConflictKey(row.Key)
		tx.Clear(row.Key)

		newRemainingSlots := entry.RemainingSlots - 1
		newRemainingMillislots := uint32(0)
		if entry.TotalSlots > 0 {
			newRemainingMillislots = (newRemainingSlots * 1000) / entry.TotalSlots
		}
		newKey := keys.NsRunnerAlloc(namespaceID, runnerName, version, newRemainingMillislots, lastPingTs, runnerID)
		newValue, err := json.Marshal(models.AllocationIndexEntry{
			WorkflowID:      entry.WorkflowID,
			RemainingSlots:  newRemainingSlots,
			TotalSlots:      entry.TotalSlots,
			ProtocolVersion: entry.ProtocolVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("allocation: encode updated index entry: %w", err)
		}
		tx.Set(newKey, newValue)

		if err := updateRunnerRemainingSlots(ctx, tx, runnerID, newRemainingSlots); err != nil {
			return nil, err
		}
		tx.Set(keys.RunnerActor(runnerID, actorID), marshalGeneration(generation))

		return &claimedCandidate{RunnerID: runnerID, WorkflowID: entry.WorkflowID, ProtocolVersion: entry.ProtocolVersion}, nil
	}

	return nil, nil
}

func updateRunnerRemainingSlots(ctx context.Context, tx kvstore.Tx, runnerID id.ID, newRemainingSlots uint32) error {
	raw, err := tx.Get(ctx, keys.Runner(runnerID), kvstore.Serializable)
	if err != nil {
		return fmt.Errorf("allocation: load runner %s: %w", runnerID, err)
	}
	var runner models.Runner
	if err := json.Unmarshal(raw, &runner); err != nil {
		return fmt.Errorf("allocation: decode runner %s: %w", runnerID, err)
	}
	runner.RemainingSlots = newRemainingSlots
	b, err := json.Marshal(runner)
	if err != nil {
		return fmt.Errorf("allocation: encode runner %s: %w", runnerID, err)
	}
	tx.Set(keys.Runner(runnerID), b)
	return nil
}

func marshalGeneration(generation uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, generation)
	return buf
}

// DecodeGeneration is the inverse of marshalGeneration, used by callers
// reading back a pending_actor or runner_actor index value.
func DecodeGeneration(value []byte) uint32 {
	if len(value) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(value)
}
