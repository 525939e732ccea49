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

// Package actor implements the per-actor lifecycle workflow: create,
// reserve its key, allocate it to a runner, react to runner-relayed
// events, apply crash policy on failure, sleep/wake, and destroy.
package actor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/models"
)

// Thresholds bundle the timing knobs the lifecycle loop needs. None of
// these are given numeric values by name in the source material; the
// defaults below are chosen to be operationally sane and are exposed so a
// namespace's runner config can override them.
type Thresholds struct {
	// EligibleThreshold bounds staleness of a runner's last_ping_ts for
	// allocation purposes.
	EligibleThreshold time.Duration
	// ActorStopThreshold is how long an actor gets to report
	// ActorStateStopped after being told to stop before it is presumed
	// lost.
	ActorStopThreshold time.Duration
	// ActorStartThreshold is how long a freshly (re)allocated actor gets to
	// report ActorStateRunning before it is presumed lost.
	ActorStartThreshold time.Duration
	// RetryResetDuration is the quiet period after which reschedule_state's
	// retry_count resets to zero.
	RetryResetDuration time.Duration
	// InitialRescheduleBackoff and MaxRescheduleBackoff bound the
	// exponential backoff reschedule_actor computes from retry_count.
	InitialRescheduleBackoff time.Duration
	MaxRescheduleBackoff     time.Duration
}

// DefaultThresholds matches the values used across the example reschedule
// and drain integration tests in the pack's runner/controller packages,
// generalized to this domain.
var DefaultThresholds = Thresholds{
	EligibleThreshold:        15 * time.Second,
	ActorStopThreshold:       30 * time.Second,
	ActorStartThreshold:      30 * time.Second,
	RetryResetDuration:       5 * time.Minute,
	InitialRescheduleBackoff: 500 * time.Millisecond,
	MaxRescheduleBackoff:     5 * time.Minute,
}

// KeyReservation is the external linearizable collaborator spec.md §3
// names for enforcing (namespace_id, name, key) uniqueness. A real
// implementation lives in internal/keyreservation; this package only
// depends on the interface.
type KeyReservation interface {
	Reserve(ctx context.Context, namespaceID id.ID, name, key string, actorID id.ID) (models.KeyReservationResult, error)
	Release(ctx context.Context, namespaceID id.ID, name, key string) error
}

// Deps are the collaborators the actor workflow needs beyond the
// workflow engine and kvstore transaction it already gets from *Ctx.
type Deps struct {
	KeyReservation KeyReservation
	Thresholds     Thresholds
}

// CreateInput is the actor workflow's dispatch input (spec.md §4.2 steps
// 1-6's starting parameters).
type CreateInput struct {
	NamespaceID        id.ID           `json:"namespace_id"`
	Name               string          `json:"name"`
	Key                string          `json:"key,omitempty"`
	RunnerNameSelector string          `json:"runner_name_selector"`
	CrashPolicy        models.CrashPolicy `json:"crash_policy"`
	Input              json.RawMessage `json:"input,omitempty"`
	ForServerless      bool            `json:"for_serverless"`
}

// Result is the actor workflow's terminal output.
type Result struct {
	ActorID    id.ID  `json:"actor_id"`
	Generation uint32 `json:"generation"`
	Killed     bool   `json:"killed"`
}

// rescheduleState carries the backoff bookkeeping across reschedule
// attempts (spec.md §4.2's reschedule_state).
type rescheduleState struct {
	LastRetryTs int64 `json:"last_retry_ts"`
	RetryCount  int   `json:"retry_count"`
}

// loopState is the lifecycle loop's durable, replayable state (spec.md
// §4.2's "Lifecycle loop" carries list).
type loopState struct {
	ActorID          id.ID           `json:"actor_id"`
	Generation       uint32          `json:"generation"`
	RunnerID         id.ID           `json:"runner_id,omitempty"`
	RunnerWorkflowID id.ID           `json:"runner_workflow_id,omitempty"`
	Sleeping         bool            `json:"sleeping"`
	WillWake         bool            `json:"will_wake"`
	WakeForAlarm     bool            `json:"wake_for_alarm"`
	AlarmTs          int64           `json:"alarm_ts,omitempty"`
	GCTimeoutTs      int64           `json:"gc_timeout_ts,omitempty"`
	Reschedule       rescheduleState `json:"reschedule_state"`
}

// loopBreak is what the lifecycle loop returns on exit.
type loopBreak struct {
	Generation uint32 `json:"generation"`
	Kill       bool   `json:"kill"`
}
