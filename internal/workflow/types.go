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

// Package workflow implements the durable, event-sourced execution
// substrate described in spec.md §4.1. A workflow is an ordinary Go
// function; every externally-observable step it takes is recorded into a
// per-workflow history at a deterministic location, so a crashed or
// evicted run can be replayed from the start and arrive at the same point
// without repeating side effects.
package workflow

import (
	"encoding/json"

	"github.com/rivet-gg/actor-engine/internal/id"
)

// EventType identifies what kind of step a history entry records.
type EventType string

const (
	EventActivity     EventType = "activity"
	EventSignals      EventType = "signals"
	EventSignalSend   EventType = "signal_send"
	EventMessageSend  EventType = "message_send"
	EventSubWorkflow  EventType = "sub_workflow"
	EventLoop         EventType = "loop"
	EventSleep        EventType = "sleep"
	EventBranch       EventType = "branch"
	EventRemoved      EventType = "removed"
	EventVersionCheck EventType = "version_check"
)

// ActivityError records one failed attempt of an activity, with a
// monotonically incrementing count so MAX_RETRIES can be enforced across
// replays.
type ActivityError struct {
	ErrorString string `json:"error_string"`
	Ts          int64  `json:"ts"`
	Count       int    `json:"count"`
}

// HistoryEvent is a single entry in a workflow's append-only history.
// Location is the deterministic path through nested loops/branches that
// produced this event (e.g. "0.2.1"); Version lets a primitive detect
// that its declared behavior has changed since this entry was recorded.
type HistoryEvent struct {
	Location  string          `json:"location"`
	Version   uint32          `json:"version"`
	EventType EventType       `json:"event_type"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Errors    []ActivityError `json:"errors,omitempty"`

	// Signals-event specific.
	SignalIDs   []id.ID  `json:"signal_ids,omitempty"`
	SignalNames []string `json:"signal_names,omitempty"`

	// Loop-event specific.
	Iteration int             `json:"iteration,omitempty"`
	LoopState json.RawMessage `json:"loop_state,omitempty"`
	LoopDone  bool            `json:"loop_done,omitempty"`

	// Sleep-event specific.
	DeadlineTs int64 `json:"deadline_ts,omitempty"`
}

// Record is a workflow instance's root record (spec.md §3's "Workflow
// state (durable)").
type Record struct {
	WorkflowID        id.ID           `json:"workflow_id"`
	Name              string          `json:"name"`
	CreateTs          int64           `json:"create_ts"`
	RayID             string          `json:"ray_id"`
	Input             json.RawMessage `json:"input"`
	Output            json.RawMessage `json:"output,omitempty"`
	Error             string          `json:"error,omitempty"`
	WakeDeadlineTs    int64           `json:"wake_deadline_ts,omitempty"`
	WakeSignals       []string        `json:"wake_signals,omitempty"`
	WakeSubWorkflowID id.ID           `json:"wake_sub_workflow_id,omitempty"`
	Done              bool            `json:"done,omitempty"`
	WorkerID          string          `json:"worker_id,omitempty"`
	SilenceTs         int64           `json:"silence_ts,omitempty"`
	PruneIdx          int             `json:"prune_idx,omitempty"`
}

// HasWakeCondition reports whether the record is waiting on a deadline,
// signal set, or sub-workflow completion — i.e. is eligible for the
// poller to consider once that condition is met.
func (r *Record) HasWakeCondition() bool {
	return r.WakeDeadlineTs != 0 || len(r.WakeSignals) > 0 || !r.WakeSubWorkflowID.IsNil()
}
