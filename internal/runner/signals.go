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
	"encoding/json"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// Signal names the lifecycle loop's Main dispatch listens for, alongside
// internal/actor's RunnerSignalStartActor/RunnerSignalStopActor (spec.md
// §4.4).
const (
	// SignalInit re-marks the runner eligible without re-running the Init
	// activity — used when the same process reconnects mid-loop rather
	// than arriving as a fresh Dispatch.
	SignalInit = "runner.init"

	// SignalCheckQueue re-runs the allocation drain, used to nudge a
	// runner workflow into draining its namespace's pending queue outside
	// the normal post-Init pass (e.g. after another runner's capacity
	// frees up).
	SignalCheckQueue = "runner.check_queue"

	// SignalStop begins a graceful drain.
	SignalStop = "runner.stop"
)

// StopSignal is the SignalStop payload.
type StopSignal struct {
	ResetActorRescheduling bool `json:"reset_actor_rescheduling"`
}

// SendInit notifies a runner workflow that its process reconnected.
func SendInit(c *workflow.Ctx, runnerWorkflowID id.ID) {
	workflow.SignalSend(c, runnerWorkflowID, SignalInit, struct{}{})
}

// SendCheckQueue nudges a runner workflow to re-run its allocation drain.
func SendCheckQueue(c *workflow.Ctx, runnerWorkflowID id.ID) {
	workflow.SignalSend(c, runnerWorkflowID, SignalCheckQueue, struct{}{})
}

// SendStop begins a graceful drain of runnerWorkflowID (spec.md §4.7's
// serverless pool uses this with resetActorRescheduling=true before letting
// its SSE connection close).
func SendStop(c *workflow.Ctx, runnerWorkflowID id.ID, resetActorRescheduling bool) {
	workflow.SignalSend(c, runnerWorkflowID, SignalStop, StopSignal{ResetActorRescheduling: resetActorRescheduling})
}

func decodeSignalBody(raw json.RawMessage, out any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}
