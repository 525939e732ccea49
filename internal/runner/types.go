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

// Package runner implements the runner workflow (spec.md §4.4): the
// durable counterpart to a single connected runner process, mirroring
// internal/actor's lifecycle-loop shape onto a runner's own Init / drain /
// Main loop / teardown sequence.
package runner

import (
	"encoding/json"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
)

// Thresholds tunes the runner workflow's timing, analogous to
// internal/actor's Thresholds.
type Thresholds struct {
	// RunnerLostThreshold bounds how long the lifecycle loop waits for the
	// next signal before treating the runner as unreachable and running
	// CheckExpired (spec.md §4.4's Timeout branch).
	RunnerLostThreshold time.Duration

	// EligibleThreshold is threaded into every allocation.DrainPendingActors
	// call this workflow makes, matching the allocation engine's own
	// staleness bound (spec.md §3's Runner eligibility invariant).
	EligibleThreshold time.Duration
}

// DefaultThresholds matches internal/allocation's default eligibility
// window, with a runner-lost threshold a few ping intervals wider so one
// or two dropped pings don't immediately evict a runner's actors.
var DefaultThresholds = Thresholds{
	RunnerLostThreshold: 20 * time.Second,
	EligibleThreshold:   15 * time.Second,
}

// Deps bundles this workflow's collaborators.
type Deps struct {
	// Dispatcher delivers commands to the runner's connected process. A nil
	// Dispatcher makes every dispatch a no-op, which is useful in tests
	// that only care about the workflow's own state transitions.
	Dispatcher Dispatcher
	Thresholds Thresholds
}

// CreateInput is the runner workflow's dispatch input, populated from a
// ToServerInit wire frame (spec.md §4.5).
type CreateInput struct {
	// RunnerID pins this instance to a previously-known runner record
	// (a reconnect); the zero value means a fresh runner, whose id becomes
	// this workflow's own WorkflowID.
	RunnerID              id.ID           `json:"runner_id,omitempty"`
	NamespaceID           id.ID           `json:"namespace_id"`
	Name                  string          `json:"name"`
	Key                   string          `json:"key"`
	Version               uint32          `json:"version"`
	TotalSlots            uint32          `json:"total_slots"`
	ProtocolVersion       uint16          `json:"protocol_version"`
	PrepopulateActorNames []string        `json:"prepopulate_actor_names,omitempty"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
}

// Result is the runner workflow's terminal output.
type Result struct {
	RunnerID id.ID `json:"runner_id"`
}

// lifecycleState is the Loop state threaded through the Main dispatch
// (spec.md §4.4's LifecycleState{draining}).
type lifecycleState struct {
	Draining bool `json:"draining"`
}

// loopBreak carries no data; the loop's only outputs are side effects
// already committed by the time it breaks.
type loopBreak struct{}

// ownedActor is one row of the runner[actor] ownership index, decoded.
type ownedActor struct {
	ActorID    id.ID
	Generation uint32
}
