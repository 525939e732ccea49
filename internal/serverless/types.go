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

// Package serverless implements the serverless runner pool from spec.md
// §4.7: an autoscaler that keeps enough outbound SSE connections open to
// a user-supplied endpoint to cover the namespace's current demand, and a
// durable outbound workflow — one instance per live connection — that
// drives that connection's init/stream/drain/close lifecycle and reports
// every failure as a typed pkg/errors.RunnerPoolError.
package serverless

import (
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/runner"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// DefaultDrainGracePeriod bounds how long an outbound connection stays
// open after signaling the runner to stop, waiting for it to finish
// actors before the gateway forces it closed (spec.md §4.7 step 3).
const DefaultDrainGracePeriod = 5 * time.Second

// DefaultConnectTimeout bounds how long Connect waits for the first SSE
// event (ToServerlessServerInit) before treating the attempt as failed.
const DefaultConnectTimeout = 10 * time.Second

// DefaultRetryResetDuration is RETRY_RESET_DURATION_MS: a quiet period
// this long since the last attempt resets the backoff exponent to zero
// (spec.md §4.7 step 5).
const DefaultRetryResetDuration = 5 * time.Minute

// DefaultInitialBackoff and DefaultMaxBackoffExponent bound the
// exponential reconnect backoff (spec.md §4.7 step 5's max_exponent).
const (
	DefaultInitialBackoff     = time.Second
	DefaultMaxBackoffExponent = 6
)

// PoolConfig is a namespace's Serverless runner config (spec.md §4.7).
type PoolConfig struct {
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers,omitempty"`
	SlotsPerRunner   int               `json:"slots_per_runner"`
	MinRunners       int               `json:"min_runners"`
	MaxRunners       int               `json:"max_runners"`
	RunnersMargin    int               `json:"runners_margin"`
	RequestLifespan  time.Duration     `json:"request_lifespan"`
	DrainGracePeriod time.Duration     `json:"drain_grace_period,omitempty"`
}

// drainGracePeriod returns the configured grace period or the default
// when the config leaves it unset.
func (p PoolConfig) drainGracePeriod() time.Duration {
	if p.DrainGracePeriod > 0 {
		return p.DrainGracePeriod
	}
	return DefaultDrainGracePeriod
}

// DesiredOutbound computes ceil(desiredSlots/SlotsPerRunner) + RunnersMargin,
// clamped to [MinRunners, MaxRunners] (spec.md §4.7).
func (p PoolConfig) DesiredOutbound(desiredSlots int64) int {
	slotsPerRunner := p.SlotsPerRunner
	if slotsPerRunner <= 0 {
		slotsPerRunner = 1
	}
	need := int((desiredSlots + int64(slotsPerRunner) - 1) / int64(slotsPerRunner))
	need += p.RunnersMargin
	if need < p.MinRunners {
		need = p.MinRunners
	}
	if p.MaxRunners > 0 && need > p.MaxRunners {
		need = p.MaxRunners
	}
	if need < 0 {
		need = 0
	}
	return need
}

// Thresholds tunes the outbound workflow's timing.
type Thresholds struct {
	ConnectTimeout     time.Duration
	RetryResetDuration time.Duration
	InitialBackoff     time.Duration
	MaxBackoffExponent int
}

// DefaultThresholds matches the package-level defaults above.
var DefaultThresholds = Thresholds{
	ConnectTimeout:     DefaultConnectTimeout,
	RetryResetDuration: DefaultRetryResetDuration,
	InitialBackoff:     DefaultInitialBackoff,
	MaxBackoffExponent: DefaultMaxBackoffExponent,
}

// Deps bundles the outbound workflow's collaborators.
type Deps struct {
	// Client opens the outbound SSE connection.
	Client SSEClient

	// Dispatcher publishes ToRunnerClose once a drained connection's
	// grace period ends while still connected (spec.md §4.7 step 3) —
	// the same internal/runner.Dispatcher every runner command goes
	// through, reused rather than duplicated for this one extra command.
	Dispatcher runner.Dispatcher

	// Engine is used to signal the runner workflow directly
	// (workflow.Engine.SignalExternal), since this package's own
	// goroutine runs outside any workflow body and has no *workflow.Ctx
	// to call workflow.SignalSend from.
	Engine *workflow.Engine

	// AdminToken is attached to every outbound request so the remote
	// process's callback connection authenticates as this namespace.
	AdminToken string

	Thresholds Thresholds
}

// CreateInput is the outbound workflow's dispatch input: one instance per
// live (or retrying) connection to a namespace/runner-name's serverless
// endpoint.
type CreateInput struct {
	NamespaceID id.ID      `json:"namespace_id"`
	RunnerName  string     `json:"runner_name"`
	Config      PoolConfig `json:"config"`
}

// Result is the outbound workflow's terminal output.
type Result struct {
	RunnerID id.ID `json:"runner_id,omitempty"`
	Drained  bool  `json:"drained"`
}

// retryState carries the backoff bookkeeping across reconnect attempts,
// mirroring internal/actor's rescheduleState shape.
type retryState struct {
	Attempt       int   `json:"attempt"`
	LastAttemptTs int64 `json:"last_attempt_ts"`
}
