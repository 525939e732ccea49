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
	"fmt"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// lifecycleSubject is where every broadcast event for an actor is
// published; API-layer subscribers (out of this spec's scope) filter by
// the Kind field.
func lifecycleSubject(actorID id.ID) string {
	return fmt.Sprintf("actor.%s.lifecycle", actorID.String())
}

// FailureReason enumerates the ways actor creation can fail (spec.md
// §4.2 steps 1 and 3).
type FailureReason string

const (
	FailureValidation               FailureReason = "validation"
	FailureKeyReservedOtherDatacenter FailureReason = "key_reserved_in_different_datacenter"
	FailureDuplicateKey             FailureReason = "duplicate_key"
)

// LifecycleEvent is the envelope published to lifecycleSubject for every
// broadcast-worthy transition.
type LifecycleEvent struct {
	Kind            string        `json:"kind"`
	Error           string        `json:"error,omitempty"`
	Reason          FailureReason `json:"reason,omitempty"`
	ExistingActorID id.ID         `json:"existing_actor_id,omitempty"`
	RunnerID        id.ID         `json:"runner_id,omitempty"`
	StopCode        string        `json:"stop_code,omitempty"`
}

func publishFailed(c *workflow.Ctx, actorID id.ID, reason FailureReason, errMsg string, existingActorID id.ID) {
	workflow.MessagePublish(c, lifecycleSubject(actorID), LifecycleEvent{
		Kind:            "failed",
		Error:           errMsg,
		Reason:          reason,
		ExistingActorID: existingActorID,
	})
}

func publishCreateComplete(c *workflow.Ctx, actorID id.ID) {
	workflow.MessagePublish(c, lifecycleSubject(actorID), LifecycleEvent{Kind: "create_complete"})
}

func publishReady(c *workflow.Ctx, actorID, runnerID id.ID) {
	workflow.MessagePublish(c, lifecycleSubject(actorID), LifecycleEvent{Kind: "ready", RunnerID: runnerID})
}

func publishStopped(c *workflow.Ctx, actorID id.ID, stopCode string) {
	workflow.MessagePublish(c, lifecycleSubject(actorID), LifecycleEvent{Kind: "stopped", StopCode: stopCode})
}
