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

// Package wire implements the versioned binary frame protocol a runner
// process speaks to the server over a websocket connection (spec.md
// §4.5), and the conversion rules between its two supported versions.
// internal/runner/wire is intentionally the only package that imports
// gorilla/websocket: the runner workflow itself (internal/runner) only
// knows about the Dispatcher interface, never about frames or the
// connection carrying them.
package wire

import (
	"encoding/json"

	"github.com/rivet-gg/actor-engine/internal/id"
)

// Version is the wire protocol's own version number, distinct from a
// runner's models.Runner.Version (its deploy generation).
type Version uint16

const (
	V1 Version = 1
	V2 Version = 2
)

// Kind tags which envelope a frame's payload decodes as; carried
// alongside Version in every frame header (see codec.go).
type Kind string

const (
	KindToClientInit       Kind = "to_client_init"
	KindToClientCommands   Kind = "to_client_commands"
	KindToClientAckEvents  Kind = "to_client_ack_events"
	KindToClientKvResponse Kind = "to_client_kv_response"
	KindToClientClose      Kind = "to_client_close"

	KindToServerInit      Kind = "to_server_init"
	KindToServerEvents    Kind = "to_server_events"
	KindToServerPong      Kind = "to_server_pong"
	KindToServerKvRequest Kind = "to_server_kv_request"
)

// Checkpoint addresses one command or event to a specific actor
// generation with a monotonic index, the unit spec.md §4.5's ack
// protocol operates on.
type Checkpoint struct {
	ActorID    id.ID  `json:"actor_id"`
	Generation uint32 `json:"generation"`
	Index      uint64 `json:"index"`
}

// ToClientInit is the server's reply to a successful ToServerInit,
// handing the runner process its assigned identity and tunables.
type ToClientInit struct {
	RunnerID   id.ID          `json:"runner_id"`
	Metadata   ToClientMeta   `json:"metadata"`
	ProtocolVersion Version   `json:"protocol_version"`
}

// ToClientMeta carries the runner-lost threshold so a runner process can
// size its own ping interval sensibly without a second round trip.
type ToClientMeta struct {
	RunnerLostThresholdMs int64 `json:"runner_lost_threshold_ms"`
}

// ActorConfig is CommandStartActor's payload: everything a runner process
// needs to actually construct the actor.
type ActorConfig struct {
	Name     string          `json:"name"`
	Key      string          `json:"key"`
	CreateTs int64           `json:"create_ts"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// CommandKind distinguishes a CommandWrapper's inner payload.
type CommandKind string

const (
	CommandStartActor CommandKind = "start_actor"
	CommandStopActor  CommandKind = "stop_actor"
)

// CommandWrapper is one entry of a ToClientCommands frame.
type CommandWrapper struct {
	Checkpoint Checkpoint      `json:"checkpoint"`
	Kind       CommandKind     `json:"kind"`
	Config     *ActorConfig    `json:"config,omitempty"`
}

// ToClientCommands relays a batch of runner commands, in assigned-index
// order (index is monotonic per-runner for every server-to-runner frame,
// shared across all commands regardless of which actor they target).
type ToClientCommands struct {
	Commands []CommandWrapper `json:"commands"`
}

// ToClientAckEvents acknowledges every ToServerEvents entry up to and
// including Index, per (actor_id, generation) — cumulative, so a runner
// process may safely drop anything at or below an acked index from its
// own resend buffer.
type ToClientAckEvents struct {
	LastEventCheckpoints []Checkpoint `json:"last_event_checkpoints"`
}

// ToClientKvResponse answers a ToServerKvRequest.
type ToClientKvResponse struct {
	RequestID id.ID           `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// ToClientClose tells the runner process to terminate its connection.
type ToClientClose struct{}

// ToServerInit is the runner process's opening handshake frame.
type ToServerInit struct {
	Name                  string          `json:"name"`
	Version               uint32          `json:"version"`
	TotalSlots            uint32          `json:"total_slots"`
	PrepopulateActorNames []string        `json:"prepopulate_actor_names,omitempty"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
}

// ActorIntentKind is EventWrapper's ActorIntent inner kind.
type ActorIntentKind string

const (
	ActorIntentSleep ActorIntentKind = "sleep"
	ActorIntentStop  ActorIntentKind = "stop"
)

// StopCode is ActorStateUpdate's Stopped outcome.
type StopCode string

const (
	StopCodeOk    StopCode = "ok"
	StopCodeError StopCode = "error"
)

// ActorState is EventWrapper's ActorStateUpdate inner kind.
type ActorState struct {
	Running bool     `json:"running,omitempty"`
	Stopped bool     `json:"stopped,omitempty"`
	Code    StopCode `json:"code,omitempty"`
	Message string   `json:"message,omitempty"`
}

// EventKind distinguishes an EventWrapper's inner payload.
type EventKind string

const (
	EventActorIntent      EventKind = "actor_intent"
	EventActorStateUpdate EventKind = "actor_state_update"
	EventActorSetAlarm    EventKind = "actor_set_alarm"
)

// EventWrapper is one entry of a ToServerEvents frame; Index is
// monotonic per (actor_id, generation), distinct from a command's
// per-runner index.
type EventWrapper struct {
	Checkpoint Checkpoint      `json:"checkpoint"`
	Kind       EventKind       `json:"kind"`
	Intent     ActorIntentKind `json:"intent,omitempty"`
	State      *ActorState     `json:"state,omitempty"`
	AlarmSet   bool            `json:"alarm_set,omitempty"`
	AlarmTs    int64           `json:"alarm_ts,omitempty"`
}

// ToServerEvents relays a batch of actor lifecycle events.
type ToServerEvents struct {
	Events []EventWrapper `json:"events"`
}

// ToServerPong is a runner process's periodic liveness frame.
type ToServerPong struct {
	Ts int64 `json:"ts"`
}

// ToServerKvRequest asks the server to perform a tunneled KV operation on
// the runner process's behalf.
type ToServerKvRequest struct {
	ActorID   id.ID           `json:"actor_id"`
	RequestID id.ID           `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// Tunnel websocket frames (spec.md §4.6): internal/gateway speaks these
// over the same connection to proxy a tunneled client websocket through
// to an actor's runner process. They live here, not in internal/gateway,
// because they are carried inside the same versioned envelope and go
// through the identical V1/V2 Convert rules as every other frame.
const (
	KindToClientWebSocketOpen  Kind = "to_client_websocket_open"
	KindToClientWebSocketMsg   Kind = "to_client_websocket_message"
	KindToClientWebSocketClose Kind = "to_client_websocket_close"

	KindToServerWebSocketOpen    Kind = "to_server_websocket_open"
	KindToServerWebSocketMsg     Kind = "to_server_websocket_message"
	KindToServerWebSocketMsgAck  Kind = "to_server_websocket_message_ack"
	KindToServerWebSocketClose   Kind = "to_server_websocket_close"
)

// ToClientWebSocketOpen asks the runner process to open a tunneled
// websocket to actorID's handler.
type ToClientWebSocketOpen struct {
	ActorID id.ID             `json:"actor_id"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ToServerWebSocketOpen answers a ToClientWebSocketOpen. CanHibernate and
// LastMsgIndex are V2-only (spec.md §4.5): a V1 runner process can never
// report hibernation support, so Convert zeroes them rather than
// refusing the frame outright.
type ToServerWebSocketOpen struct {
	CanHibernate bool  `json:"can_hibernate"`
	LastMsgIndex int64 `json:"last_msg_index"`
}

// ToClientWebSocketMessage carries one client-to-tunnel message down to
// the runner process, with a monotonic per-tunnel Index.
type ToClientWebSocketMessage struct {
	Index  uint64 `json:"index"`
	Binary bool   `json:"binary"`
	Data   []byte `json:"data"`
}

// ToServerWebSocketMessage carries one tunnel-to-client message up from
// the runner process, symmetrically indexed.
type ToServerWebSocketMessage struct {
	Index  uint64 `json:"index"`
	Binary bool   `json:"binary"`
	Data   []byte `json:"data"`
}

// ToServerWebSocketMessageAck lets a hibernation-capable runner process
// tell the gateway it can drop buffered messages at or below Index.
// V1-only connections never send this (spec.md §4.5); Convert from V2 to
// V1 therefore errors rather than silently dropping it.
type ToServerWebSocketMessageAck struct {
	Index uint64 `json:"index"`
}

// ToServerWebSocketClose reports the tunneled connection closing from
// the runner process's side. Retry is only meaningful alongside
// CanHibernate, so a V1 runner process always reports it false.
type ToServerWebSocketClose struct {
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
	Retry  bool   `json:"retry"`
}

// ToClientWebSocketClose tells the runner process the gateway's side of
// the tunnel closed.
type ToClientWebSocketClose struct {
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}
