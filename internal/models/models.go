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

// Package models defines the entity records persisted through
// pkg/kvstore, keyed by internal/keys. These are plain data structs;
// mutation rules live with their owning workflow.
package models

import (
	"encoding/json"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
)

// CrashPolicy governs what happens when an actor exits abnormally.
type CrashPolicy string

const (
	CrashPolicyDestroy CrashPolicy = "destroy"
	CrashPolicyRestart CrashPolicy = "restart"
	CrashPolicySleep   CrashPolicy = "sleep"
)

// Actor is the primary record for an addressable, durable compute unit.
// Mutated only by its own actor workflow; every other reader treats it as
// read-only.
type Actor struct {
	ActorID             id.ID          `json:"actor_id"`
	Name                string         `json:"name"`
	Key                 string         `json:"key,omitempty"`
	NamespaceID         id.ID          `json:"namespace_id"`
	RunnerNameSelector  string         `json:"runner_name_selector"`
	CrashPolicy         CrashPolicy    `json:"crash_policy"`
	Input               json.RawMessage `json:"input,omitempty"`
	CreateTs            int64          `json:"create_ts"`
	CreateCompleteTs    int64          `json:"create_complete_ts,omitempty"`
	StartTs             int64          `json:"start_ts,omitempty"`
	SleepTs             int64          `json:"sleep_ts,omitempty"`
	ConnectableTs       int64          `json:"connectable_ts,omitempty"`
	PendingAllocationTs int64          `json:"pending_allocation_ts,omitempty"`
	RescheduleTs        int64          `json:"reschedule_ts,omitempty"`
	DestroyTs           int64          `json:"destroy_ts,omitempty"`
	RunnerID            id.ID          `json:"runner_id,omitempty"`
	RunnerWorkflowID    id.ID          `json:"runner_workflow_id,omitempty"`
	Generation          uint32         `json:"generation"`
	ForServerless       bool           `json:"for_serverless"`
	AllocatedServerlessSlot bool       `json:"allocated_serverless_slot"`
}

// IsRunning reports whether the actor currently holds a runner slot and
// has reported Running without having been destroyed.
func (a *Actor) IsRunning() bool {
	return !a.RunnerID.IsNil() && a.ConnectableTs != 0 && a.DestroyTs == 0
}

// IsDestroyed reports whether the actor's lifecycle has terminated.
func (a *Actor) IsDestroyed() bool {
	return a.DestroyTs != 0
}

// Runner is the primary record for a connected worker process.
type Runner struct {
	RunnerID        id.ID  `json:"runner_id"`
	NamespaceID     id.ID  `json:"namespace_id"`
	Name            string `json:"name"`
	Key             string `json:"key"`
	Version         uint32 `json:"version"`
	TotalSlots      uint32 `json:"total_slots"`
	RemainingSlots  uint32 `json:"remaining_slots"`
	LastPingTs      int64  `json:"last_ping_ts"`
	CreateTs        int64  `json:"create_ts"`
	ConnectedTs     int64  `json:"connected_ts,omitempty"`
	DrainTs         int64  `json:"drain_ts,omitempty"`
	ExpiredTs       int64  `json:"expired_ts,omitempty"`
	StopTs          int64  `json:"stop_ts,omitempty"`
	ProtocolVersion uint16 `json:"protocol_version"`
	WorkflowID      id.ID  `json:"workflow_id"`
}

// RemainingMillislots computes the allocation index's priority component:
// remaining_slots scaled to a per-mille fraction of total_slots.
func (r *Runner) RemainingMillislots() uint32 {
	if r.TotalSlots == 0 {
		return 0
	}
	return (r.RemainingSlots * 1000) / r.TotalSlots
}

// Eligible reports whether this runner should carry an allocation-index
// entry: not draining, not expired, and pinged recently enough.
func (r *Runner) Eligible(now time.Time, eligibleThreshold time.Duration) bool {
	if r.DrainTs != 0 || r.ExpiredTs != 0 {
		return false
	}
	return now.Sub(time.UnixMilli(r.LastPingTs)) <= eligibleThreshold
}

// KeyReservationOutcome is the result of the external key-reservation
// collaborator call made during actor creation.
type KeyReservationOutcome int

const (
	KeyReservationSuccess KeyReservationOutcome = iota
	KeyReservationForwardToDatacenter
	KeyReservationKeyExists
)

// KeyReservationResult carries the outcome plus any data needed to react
// to it (the conflicting actor id, on KeyExists).
type KeyReservationResult struct {
	Outcome         KeyReservationOutcome
	ExistingActorID id.ID
}

// AllocationIndexEntry is the value stored alongside a
// keys.NsRunnerAlloc key.
type AllocationIndexEntry struct {
	WorkflowID      id.ID  `json:"workflow_id"`
	RemainingSlots  uint32 `json:"remaining_slots"`
	TotalSlots      uint32 `json:"total_slots"`
	ProtocolVersion uint16 `json:"protocol_version"`
}

// RunnerByKeyEntry is the value stored under keys.NsRunnerByKey.
type RunnerByKeyEntry struct {
	RunnerID   id.ID `json:"runner_id"`
	WorkflowID id.ID `json:"workflow_id"`
}
