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

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rivet-gg/actor-engine/internal/allocation"
	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// initRunner backs the Init activity (spec.md §4.4): on a fresh connect it
// writes the runner's full data record and every namespace index; on
// reconnect (the caller supplied a RunnerID that already has a record) it
// keeps remaining_slots and refreshes identity fields that may have
// changed across a redeploy (version, total_slots, protocol_version).
func initRunner(ctx context.Context, tx kvstore.Tx, now int64, workflowID id.ID, in CreateInput) (models.Runner, error) {
	runnerID := in.RunnerID
	if runnerID.IsNil() {
		runnerID = workflowID
	}

	var r models.Runner
	existing, err := tx.Get(ctx, keys.Runner(runnerID), kvstore.Serializable)
	switch {
	case err == nil:
		if unmarshalErr := json.Unmarshal(existing, &r); unmarshalErr != nil {
			return models.Runner{}, fmt.Errorf("runner: decode existing runner %s: %w", runnerID, unmarshalErr)
		}
		r.Name = in.Name
		r.Key = in.Key
		r.Version = in.Version
		r.TotalSlots = in.TotalSlots
		r.ProtocolVersion = in.ProtocolVersion
		r.WorkflowID = workflowID
		r.DrainTs = 0
		r.ExpiredTs = 0
	case err == kvstore.ErrNotFound:
		r = models.Runner{
			RunnerID:        runnerID,
			NamespaceID:     in.NamespaceID,
			Name:            in.Name,
			Key:             in.Key,
			Version:         in.Version,
			TotalSlots:      in.TotalSlots,
			RemainingSlots:  in.TotalSlots,
			CreateTs:        now,
			ProtocolVersion: in.ProtocolVersion,
			WorkflowID:      workflowID,
		}
		tx.Set(keys.NsAllRunner(in.NamespaceID, in.Name, runnerID), []byte{1})
	default:
		return models.Runner{}, fmt.Errorf("runner: load runner %s: %w", runnerID, err)
	}

	r.LastPingTs = now
	r.ConnectedTs = now

	if err := putRunner(tx, &r); err != nil {
		return models.Runner{}, err
	}
	tx.Set(keys.NsActiveRunner(in.NamespaceID, in.Name, runnerID), []byte{1})
	insertAllocIndex(tx, &r)

	entry := models.RunnerByKeyEntry{RunnerID: runnerID, WorkflowID: workflowID}
	eb, err := json.Marshal(entry)
	if err != nil {
		return models.Runner{}, fmt.Errorf("runner: encode runner_by_key entry: %w", err)
	}
	tx.Set(keys.NsRunnerByKey(in.NamespaceID, in.Name, in.Key), eb)

	return r, nil
}

func insertAllocIndex(tx kvstore.Tx, r *models.Runner) {
	key := keys.NsRunnerAlloc(r.NamespaceID, r.Name, r.Version, r.RemainingMillislots(), r.LastPingTs, r.RunnerID)
	entry := models.AllocationIndexEntry{
		WorkflowID:      r.WorkflowID,
		RemainingSlots:  r.RemainingSlots,
		TotalSlots:      r.TotalSlots,
		ProtocolVersion: r.ProtocolVersion,
	}
	b, _ := json.Marshal(entry)
	tx.Set(key, b)
}

// markEligible backs the Init signal's MarkEligible step: reinsert the
// allocation-index key from the runner's current record, so a reconnect
// that arrived mid-loop (rather than as a fresh Dispatch) becomes an
// allocation candidate again.
func markEligible(ctx context.Context, tx kvstore.Tx, runnerID id.ID) (models.Runner, error) {
	r, err := loadRunner(ctx, tx, runnerID)
	if err != nil {
		return models.Runner{}, err
	}
	insertAllocIndex(tx, &r)
	return r, nil
}

type clearPhase int

const (
	clearDraining clearPhase = iota
	clearStopped
)

// clearDb backs both ClearDb activities. Draining clears the allocation
// index key and, if runner_by_key still points at this runner, clears it
// too, so no new actor is routed here while draining. Stopped additionally
// clears the ns.active_runner index and every runner[actor] ownership
// entry — callers must fetchRemainingActors before calling this with
// clearStopped, since it clears the very keys that enumerate them.
func clearDb(ctx context.Context, tx kvstore.Tx, now int64, runnerID id.ID, phase clearPhase) (models.Runner, error) {
	r, err := loadRunner(ctx, tx, runnerID)
	if err != nil {
		return models.Runner{}, err
	}

	oldKey := keys.NsRunnerAlloc(r.NamespaceID, r.Name, r.Version, r.RemainingMillislots(), r.LastPingTs, r.RunnerID)
	tx.Clear(oldKey)

	switch phase {
	case clearDraining:
		r.DrainTs = now
		byKey, ok, err := loadRunnerByKey(ctx, tx, r.NamespaceID, r.Name, r.Key)
		if err != nil {
			return models.Runner{}, err
		}
		if ok && byKey.RunnerID == r.RunnerID {
			tx.Clear(keys.NsRunnerByKey(r.NamespaceID, r.Name, r.Key))
		}
	case clearStopped:
		r.StopTs = now
		tx.Clear(keys.NsActiveRunner(r.NamespaceID, r.Name, r.RunnerID))
		if err := clearRunnerActorSubkeys(ctx, tx, r.RunnerID); err != nil {
			return models.Runner{}, err
		}
	}

	if err := putRunner(tx, &r); err != nil {
		return models.Runner{}, err
	}
	return r, nil
}

func loadRunnerByKey(ctx context.Context, tx kvstore.Tx, namespaceID id.ID, name, key string) (models.RunnerByKeyEntry, bool, error) {
	raw, err := tx.Get(ctx, keys.NsRunnerByKey(namespaceID, name, key), kvstore.Serializable)
	if err == kvstore.ErrNotFound {
		return models.RunnerByKeyEntry{}, false, nil
	}
	if err != nil {
		return models.RunnerByKeyEntry{}, false, fmt.Errorf("runner: load runner_by_key: %w", err)
	}
	var entry models.RunnerByKeyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.RunnerByKeyEntry{}, false, fmt.Errorf("runner: decode runner_by_key: %w", err)
	}
	return entry, true, nil
}

func clearRunnerActorSubkeys(ctx context.Context, tx kvstore.Tx, runnerID id.ID) error {
	rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
		Begin: keys.RunnerActorPrefix(runnerID),
		End:   keys.RunnerActorEnd(runnerID),
	}, kvstore.Snapshot)
	if err != nil {
		return fmt.Errorf("runner: scan owned actors: %w", err)
	}
	for _, row := range rows {
		tx.Clear(row.Key)
	}
	return nil
}

// fetchRemainingActors backs both FetchRemainingActors activities: a
// range-scan over the runner's own ownership subspace, decoding each row's
// key (the actor id) and value (its generation, shared encoding with the
// pending-queue and allocation-index rows).
func fetchRemainingActors(ctx context.Context, tx kvstore.Tx, runnerID id.ID) ([]ownedActor, error) {
	rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
		Begin: keys.RunnerActorPrefix(runnerID),
		End:   keys.RunnerActorEnd(runnerID),
	}, kvstore.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("runner: scan owned actors: %w", err)
	}
	owned := make([]ownedActor, 0, len(rows))
	for _, row := range rows {
		_, actorID, err := keys.DecodeRunnerActor(row.Key)
		if err != nil {
			continue
		}
		owned = append(owned, ownedActor{ActorID: actorID, Generation: allocation.DecodeGeneration(row.Value)})
	}
	return owned, nil
}

// checkExpired backs the Timeout branch's CheckExpired activity: if the
// runner hasn't pinged within lostThreshold, stamp expired_ts.
func checkExpired(ctx context.Context, tx kvstore.Tx, now time.Time, lostThreshold time.Duration, runnerID id.ID) (bool, error) {
	r, err := loadRunner(ctx, tx, runnerID)
	if err != nil {
		return false, err
	}
	if now.Sub(time.UnixMilli(r.LastPingTs)) <= lostThreshold {
		return false, nil
	}
	r.ExpiredTs = now.UnixMilli()
	if err := putRunner(tx, &r); err != nil {
		return false, err
	}
	return true, nil
}

func loadRunner(ctx context.Context, tx kvstore.Tx, runnerID id.ID) (models.Runner, error) {
	raw, err := tx.Get(ctx, keys.Runner(runnerID), kvstore.Serializable)
	if err != nil {
		return models.Runner{}, fmt.Errorf("runner: load runner %s: %w", runnerID, err)
	}
	var r models.Runner
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Runner{}, fmt.Errorf("runner: decode runner %s: %w", runnerID, err)
	}
	return r, nil
}

func putRunner(tx kvstore.Tx, r *models.Runner) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("runner: encode runner %s: %w", r.RunnerID, err)
	}
	tx.Set(keys.Runner(r.RunnerID), b)
	return nil
}

// Ping refreshes a runner's last_ping_ts directly against the store,
// bypassing the workflow engine entirely: pings arrive far more often than
// any other runner event (spec.md §4.5's ToServerPong) and a full
// history-replay round trip per ping would swamp the workflow worker pool.
// Called directly by internal/runner/wire's pong handler. Since the
// allocation-index key encodes last_ping_ts, a ping that keeps the runner
// eligible must also reinsert that key with the refreshed value.
func Ping(ctx context.Context, store kvstore.Store, runnerID id.ID, now time.Time, eligibleThreshold time.Duration) error {
	return store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		r, err := loadRunner(ctx, tx, runnerID)
		if err != nil {
			return err
		}
		oldKey := keys.NsRunnerAlloc(r.NamespaceID, r.Name, r.Version, r.RemainingMillislots(), r.LastPingTs, r.RunnerID)
		r.LastPingTs = now.UnixMilli()
		if err := putRunner(tx, &r); err != nil {
			return err
		}
		if r.Eligible(now, eligibleThreshold) {
			tx.Clear(oldKey)
			insertAllocIndex(tx, &r)
		}
		return nil
	})
}
