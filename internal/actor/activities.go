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

package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

const (
	maxNameLength  = 255
	maxKeyLength   = 255
	maxInputLength = 1 << 20 // 1 MiB
)

// validateCreateInput enforces spec.md §4.2 step 1's name/key/input
// length and charset checks.
func validateCreateInput(in CreateInput) error {
	if in.Name == "" || len(in.Name) > maxNameLength {
		return &errors.ValidationError{Field: "name", Message: "must be 1-255 characters"}
	}
	if !isPrintableASCII(in.Name) {
		return &errors.ValidationError{Field: "name", Message: "must be printable ASCII"}
	}
	if len(in.Key) > maxKeyLength {
		return &errors.ValidationError{Field: "key", Message: "must be at most 255 characters"}
	}
	if in.Key != "" && !isPrintableASCII(in.Key) {
		return &errors.ValidationError{Field: "key", Message: "must be printable ASCII"}
	}
	if len(in.Input) > maxInputLength {
		return &errors.ValidationError{Field: "input", Message: "exceeds maximum size"}
	}
	switch in.CrashPolicy {
	case models.CrashPolicyDestroy, models.CrashPolicyRestart, models.CrashPolicySleep:
	default:
		return &errors.ValidationError{Field: "crash_policy", Message: "must be destroy, restart, or sleep"}
	}
	return nil
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// initActorRecord writes the actor's primary data record only (spec.md
// §4.2 step 2) — no list/index keys, so the actor is addressable by id
// but invisible to list queries until addIndexesAndSetCreateComplete
// runs. Returns the record so its Activity call site can hand the whole
// thing back as output: pointer mutation alone would not survive replay,
// since a replayed Activity never re-runs its body.
func initActorRecord(tx kvstore.Tx, actorID id.ID, in CreateInput, now int64) (models.Actor, error) {
	a := models.Actor{
		ActorID:            actorID,
		Name:               in.Name,
		Key:                in.Key,
		NamespaceID:        in.NamespaceID,
		RunnerNameSelector: in.RunnerNameSelector,
		CrashPolicy:        in.CrashPolicy,
		Input:              in.Input,
		CreateTs:           now,
		ForServerless:      in.ForServerless,
	}
	return a, putActor(tx, &a)
}

// addIndexesAndSetCreateComplete writes the list/index keys and marks the
// actor visible to list queries (spec.md §4.2 step 4).
func addIndexesAndSetCreateComplete(tx kvstore.Tx, a models.Actor, now int64) (models.Actor, error) {
	tx.Set(keys.ActorsByName(a.NamespaceID, a.Name, a.ActorID), []byte{1})
	if a.Key != "" {
		tx.Set(keys.ActorByNameKey(a.NamespaceID, a.Name, a.Key), a.ActorID[:])
	}
	a.CreateCompleteTs = now
	return a, putActor(tx, &a)
}

// setSleeping backs the ActorIntentSleep handler's SetSleeping activity:
// writes sleep_ts and removes the connectable index.
func setSleeping(tx kvstore.Tx, a models.Actor, now int64) (models.Actor, error) {
	a.SleepTs = now
	if a.ConnectableTs != 0 {
		tx.Clear(keys.ActorConnectable(a.NamespaceID, a.Name, a.ActorID))
		a.ConnectableTs = 0
	}
	return a, putActor(tx, &a)
}

// clearConnectable backs the ActorIntentStop handler, which marks the
// actor not-connectable without (yet) recording a sleep_ts.
func clearConnectable(tx kvstore.Tx, a models.Actor) (models.Actor, error) {
	if a.ConnectableTs == 0 {
		return a, nil
	}
	tx.Clear(keys.ActorConnectable(a.NamespaceID, a.Name, a.ActorID))
	a.ConnectableTs = 0
	return a, putActor(tx, &a)
}

// setStarted backs the ActorStateRunning handler's SetStarted activity:
// writes start_ts and the connectable index.
func setStarted(tx kvstore.Tx, a models.Actor, now int64) (models.Actor, error) {
	a.StartTs = now
	a.ConnectableTs = now
	tx.Set(keys.ActorConnectable(a.NamespaceID, a.Name, a.ActorID), []byte{1})
	return a, putActor(tx, &a)
}

// deallocate frees the actor's runner slot (spec.md §4.2's Deallocate
// activity): increments the runner's remaining_slots, reinserts (or
// clears, if the runner is no longer eligible) the allocation-index key,
// clears the actor→runner index, and clears the actor's connectable
// state. Returns whether the freed slot was a serverless slot, so the
// caller can decide whether to bump the autoscaler's desired-slots
// counter down.
func deallocate(ctx context.Context, tx kvstore.Tx, now time.Time, eligibleThreshold time.Duration, a *models.Actor) (wasServerless bool, err error) {
	if a.RunnerID.IsNil() {
		return false, nil
	}

	raw, err := tx.Get(ctx, keys.Runner(a.RunnerID), kvstore.Serializable)
	if err != nil {
		if err == kvstore.ErrNotFound {
			// The runner record is already gone (e.g. fully expired and
			// reaped); there is nothing left to free.
			a.RunnerID = id.Nil
			a.RunnerWorkflowID = id.Nil
			wasServerless = a.AllocatedServerlessSlot
			a.AllocatedServerlessSlot = false
			return wasServerless, clearActorConnectableAndPersist(tx, a)
		}
		return false, fmt.Errorf("actor: load runner %s: %w", a.RunnerID, err)
	}
	var runner models.Runner
	if err := json.Unmarshal(raw, &runner); err != nil {
		return false, fmt.Errorf("actor: decode runner %s: %w", a.RunnerID, err)
	}

	oldMillislots := runner.RemainingMillislots()
	oldKey := keys.NsRunnerAlloc(runner.NamespaceID, runner.Name, runner.Version, oldMillislots, runner.LastPingTs, runner.RunnerID)
	tx.Clear(oldKey)

	if runner.RemainingSlots < runner.TotalSlots {
		runner.RemainingSlots++
	}

	if runner.Eligible(now, eligibleThreshold) {
		newMillislots := runner.RemainingMillislots()
		newKey := keys.NsRunnerAlloc(runner.NamespaceID, runner.Name, runner.Version, newMillislots, runner.LastPingTs, runner.RunnerID)
		entry := models.AllocationIndexEntry{
			WorkflowID:      runner.WorkflowID,
			RemainingSlots:  runner.RemainingSlots,
			TotalSlots:      runner.TotalSlots,
			ProtocolVersion: runner.ProtocolVersion,
		}
		eb, err := json.Marshal(entry)
		if err != nil {
			return false, fmt.Errorf("actor: encode allocation index entry: %w", err)
		}
		tx.Set(newKey, eb)
	}

	rb, err := json.Marshal(runner)
	if err != nil {
		return false, fmt.Errorf("actor: encode runner %s: %w", runner.RunnerID, err)
	}
	tx.Set(keys.Runner(runner.RunnerID), rb)

	tx.Clear(keys.RunnerActor(runner.RunnerID, a.ActorID))

	wasServerless = a.AllocatedServerlessSlot
	a.AllocatedServerlessSlot = false
	a.RunnerID = id.Nil
	a.RunnerWorkflowID = id.Nil

	return wasServerless, clearActorConnectableAndPersist(tx, a)
}

func clearActorConnectableAndPersist(tx kvstore.Tx, a *models.Actor) error {
	if a.ConnectableTs != 0 {
		tx.Clear(keys.ActorConnectable(a.NamespaceID, a.Name, a.ActorID))
		a.ConnectableTs = 0
	}
	return putActor(tx, a)
}

// clearKeyIndex removes the local (namespace, name, key) uniqueness index,
// used by destroy so a future create can reuse the key once the external
// reservation collaborator also releases it.
func clearKeyIndex(tx kvstore.Tx, a *models.Actor) {
	if a.Key == "" {
		return
	}
	tx.Clear(keys.ActorByNameKey(a.NamespaceID, a.Name, a.Key))
}

func putActor(tx kvstore.Tx, a *models.Actor) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("actor: encode actor %s: %w", a.ActorID, err)
	}
	tx.Set(keys.Actor(a.ActorID), b)
	return nil
}

func getActor(ctx context.Context, tx kvstore.Tx, actorID id.ID) (*models.Actor, error) {
	raw, err := tx.Get(ctx, keys.Actor(actorID), kvstore.Serializable)
	if err != nil {
		return nil, fmt.Errorf("actor: load actor %s: %w", actorID, err)
	}
	var a models.Actor
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("actor: decode actor %s: %w", actorID, err)
	}
	return &a, nil
}
