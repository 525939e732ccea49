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
	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// Signal names the lifecycle loop's "Main = Event | Wake | Lost | Destroy"
// dispatch listens for (spec.md §4.2).
const (
	SignalEvent   = "actor.event"
	SignalWake    = "actor.wake"
	SignalLost    = "actor.lost"
	SignalDestroy = "actor.destroy"

	// SignalAllocate is sent only while an actor is in the Pending state
	// (spec.md §4.3's "Wrapper in the actor workflow"): the drain entry
	// point found it a runner.
	SignalAllocate = "actor.allocate"
)

// AllocateSignal is the SignalAllocate payload.
type AllocateSignal struct {
	RunnerID         id.ID  `json:"runner_id"`
	RunnerWorkflowID id.ID  `json:"runner_workflow_id"`
	ProtocolVersion  uint16 `json:"protocol_version"`
}

// EventKind identifies the frame relayed from the actor's runner.
type EventKind string

const (
	EventActorIntentSleep  EventKind = "actor_intent_sleep"
	EventActorIntentStop   EventKind = "actor_intent_stop"
	EventActorStateRunning EventKind = "actor_state_running"
	EventActorStateStopped EventKind = "actor_state_stopped"
	EventActorSetAlarm     EventKind = "actor_set_alarm"
)

// EventSignal is the SignalEvent payload: a frame relayed from the
// actor's runner, addressed with the generation it was observed at so a
// stale runner's frames (from a since-rescheduled generation) are ignored.
type EventSignal struct {
	Generation uint32    `json:"generation"`
	Kind       EventKind `json:"kind"`
	StopCode   string    `json:"stop_code,omitempty"`
	AlarmSet   bool      `json:"alarm_set,omitempty"`
	AlarmTs    int64     `json:"alarm_ts,omitempty"`
}

// WakeSignal is the SignalWake payload, published when something wants
// the actor to reschedule (e.g. a user-triggered wake of a sleeping
// actor). A deadline-driven alarm expiry synthesizes this in-process
// rather than publishing it.
type WakeSignal struct{}

// LostSignal is the SignalLost payload: the runner holding this actor is
// presumed gone (failed ping, connection drop, or a gc_timeout_ts
// deadline with no ActorStateStopped). A deadline-driven gc_timeout_ts
// expiry synthesizes this in-process rather than publishing it.
type LostSignal struct {
	Generation        uint32 `json:"generation"`
	ForceReschedule   bool   `json:"force_reschedule"`
	ResetRescheduling bool   `json:"reset_rescheduling"`
}

// DestroySignal is the SignalDestroy payload: an explicit request to tear
// the actor down.
type DestroySignal struct{}

// SendEvent relays a runner frame to actorWorkflowID. Called by the
// runner workflow when it receives an Event command from its connected
// process.
func SendEvent(c *workflow.Ctx, actorWorkflowID id.ID, ev EventSignal) {
	workflow.SignalSend(c, actorWorkflowID, SignalEvent, ev)
}

// SendWake wakes a sleeping actor so it re-enters reschedule_actor.
func SendWake(c *workflow.Ctx, actorWorkflowID id.ID) {
	workflow.SignalSend(c, actorWorkflowID, SignalWake, WakeSignal{})
}

// SendLost tells the actor workflow its runner is presumed gone.
func SendLost(c *workflow.Ctx, actorWorkflowID id.ID, lost LostSignal) {
	workflow.SignalSend(c, actorWorkflowID, SignalLost, lost)
}

// SendDestroy requests the actor workflow tear down and exit.
func SendDestroy(c *workflow.Ctx, actorWorkflowID id.ID) {
	workflow.SignalSend(c, actorWorkflowID, SignalDestroy, DestroySignal{})
}
