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
	"encoding/json"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// Signal names the actor workflow sends to a runner workflow, commanding
// it to relay a frame to its connected process. internal/runner listens
// for these.
const (
	RunnerSignalStartActor = "runner.start_actor"
	RunnerSignalStopActor  = "runner.stop_actor"
)

// StartActorCommand tells a runner to launch an actor.
type StartActorCommand struct {
	ActorID     id.ID           `json:"actor_id"`
	Generation  uint32          `json:"generation"`
	Name        string          `json:"name"`
	Key         string          `json:"key,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// StopActorCommand tells a runner to stop an actor it currently holds.
type StopActorCommand struct {
	ActorID    id.ID  `json:"actor_id"`
	Generation uint32 `json:"generation"`
}

func sendStartActor(c *workflow.Ctx, runnerWorkflowID id.ID, cmd StartActorCommand) {
	workflow.SignalSend(c, runnerWorkflowID, RunnerSignalStartActor, cmd)
}

func sendStopActor(c *workflow.Ctx, runnerWorkflowID id.ID, cmd StopActorCommand) {
	workflow.SignalSend(c, runnerWorkflowID, RunnerSignalStopActor, cmd)
}
