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

package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// DrainLimit bounds how many pending-queue entries one DrainPendingActors
// call inspects, so a runner workflow activity with a very deep queue
// still returns promptly; the caller's workflow loops, calling again,
// until RemainingPending stops shrinking.
const DrainLimit = 256

// ActorAllocation is one actor that the drain found a slot for — the
// caller signals the actor's workflow with this after the transaction
// commits, never before (signaling from inside the transaction would
// notify a waiter of an allocation that a later conflict could still roll
// back).
type ActorAllocation struct {
	ActorID          id.ID
	RunnerID         id.ID
	RunnerWorkflowID id.ID
	ProtocolVersion  uint16
	Generation       uint32
}

// DrainResult is what one DrainPendingActors pass produced.
type DrainResult struct {
	// Allocated holds one entry per pending actor the drain matched to a
	// runner this pass, in queue order.
	Allocated []ActorAllocation
	// RemainingPending is how many queue entries were left unmatched (fed
	// back as a gauge metric by the caller).
	RemainingPending int
}

// DrainPendingActors is the runner workflow's drain entry point (spec.md
// §4.3's "Drain entry point"): it walks the FIFO pending queue for
// (namespaceID, runnerName) in order and, for each entry, repeats the same
// candidate scan Allocate uses, except it additionally conflicts on the
// pending-queue key itself so a concurrent Allocate call racing to enqueue
// behind the ones already drained cannot be silently dropped.
//
// Unlike claimCandidate, a queue entry that finds no eligible runner is
// simply left in place (not re-enqueued) and the scan continues to the
// next entry — an actor stuck behind a temporarily-exhausted runner
// class must not block actors behind it that could still match a
// different remaining slot.
func DrainPendingActors(ctx context.Context, tx kvstore.Tx, now time.Time, eligibleThreshold time.Duration, namespaceID id.ID, runnerName string) (DrainResult, error) {
	rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
		Begin: keys.NsPendingActorPrefix(namespaceID, runnerName),
		End:   keys.NsPendingActorEnd(namespaceID, runnerName),
		Limit: DrainLimit,
		Mode:  kvstore.StreamIterator,
	}, kvstore.Snapshot)
	if err != nil {
		return DrainResult{}, fmt.Errorf("allocation: drain scan pending queue: %w", err)
	}

	var result DrainResult
	for _, row := range rows {
		_, actorID, err := keys.DecodePendingActor(row.Key, len(keys.NsPendingActorPrefix(namespaceID, runnerName)))
		if err != nil {
			continue
		}
		generation := DecodeGeneration(row.Value)

		cand, err := claimCandidate(ctx, tx, now, eligibleThreshold, namespaceID, runnerName, actorID, generation)
		if err != nil {
			return DrainResult{}, err
		}
		if cand == nil {
			result.RemainingPending++
			continue
		}

		// Conflict on the pending-queue key too: claimCandidate already
		// conflicted on the allocation-index row it consumed, but this key
		// also needs to be in the read-conflict set so a concurrent delete
		// of the same row (e.g. Destroy clearing a pending allocation)
		// aborts this transaction instead of racing it.
		tx.AddReadConflictKey(row.Key)
		tx.Clear(row.Key)

		result.Allocated = append(result.Allocated, ActorAllocation{
			ActorID:          actorID,
			RunnerID:         cand.RunnerID,
			RunnerWorkflowID: cand.WorkflowID,
			ProtocolVersion:  cand.ProtocolVersion,
			Generation:       generation,
		})
	}

	return result, nil
}

// ClearPendingAllocation removes actorID's entry from the pending queue
// for (namespaceID, runnerName) at pendingAllocationTs, used by the actor
// workflow's Destroy handling while an allocation is still outstanding
// (spec.md §4.3's "Wrapper in the actor workflow"). It reports whether the
// entry was still present: false means an Allocate for this actor is
// already in flight and must be drained (the caller's own Listen for
// Allocate|Destroy) rather than assumed canceled.
func ClearPendingAllocation(ctx context.Context, tx kvstore.Tx, namespaceID id.ID, runnerName string, pendingAllocationTs int64, actorID id.ID) (bool, error) {
	key := keys.NsPendingActor(namespaceID, runnerName, pendingAllocationTs, actorID)
	ok, err := tx.Exists(ctx, key, kvstore.Serializable)
	if err != nil {
		return false, fmt.Errorf("allocation: check pending allocation: %w", err)
	}
	if !ok {
		return false, nil
	}
	tx.Clear(key)
	return true, nil
}
