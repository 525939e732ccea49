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

// Package gateway implements the HTTP(S)/WebSocket edge proxy from spec.md
// §4.6: resolve a route, enforce CORS/rate-limit/in-flight caps, and proxy
// to the resolved runner over pkg/pubsub rather than a direct connection
// (the "tunnel").
package gateway

import (
	"encoding/json"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
)

// Route is what a Resolver produces for one inbound request: which
// runner/actor owns it and the retry policy to apply.
type Route struct {
	RunnerID id.ID
	ActorID  id.ID
	// Path is the portion of the request path forwarded to the actor,
	// stripped of any gateway-owned prefix.
	Path string

	Retry RetryPolicy
}

// RetryPolicy governs both HTTP and WebSocket tunnel retries, per spec.md
// §4.6's "every request carries retry{max_attempts, initial_interval}".
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// DefaultRetryPolicy is used when a Resolver doesn't set one explicitly.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: 250 * time.Millisecond}

// Resolver resolves an inbound request to a Route. Implementations may
// cache results; the gateway bypasses the cache on a retry per spec.md
// §4.6 ("re-resolve the route (bypassing cache) before retrying").
type Resolver interface {
	Resolve(req ResolveRequest) (Route, error)
}

// ResolveRequest is the narrow view of an inbound request a Resolver needs,
// kept separate from *http.Request so resolution can be tested without
// constructing one.
type ResolveRequest struct {
	Host        string
	Path        string
	Method      string
	Headers     map[string][]string
	BypassCache bool
}

// Tunnel ack timeout, per spec.md §4.6 ("Wait for matching
// ToServerResponseStart within TUNNEL_ACK_TIMEOUT (2 s)").
const TunnelAckTimeout = 2 * time.Second

// WebSocketCloseLinger is how long the gateway waits after sending the
// client its close frame before actually closing the socket, per spec.md
// §4.6 ("a brief WEBSOCKET_CLOSE_LINGER (≈100 ms) to let the close frame
// flush").
const WebSocketCloseLinger = 100 * time.Millisecond

// ToClientRequestStart is published to a runner's receiver subject to begin
// a tunneled HTTP request.
type ToClientRequestStart struct {
	RequestID id.ID             `json:"request_id"`
	ActorID   id.ID             `json:"actor_id"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Body      []byte            `json:"body,omitempty"`
	Stream    bool              `json:"stream"`
}

// ToServerResponseStart is the runner's reply completing a tunneled HTTP
// request.
type ToServerResponseStart struct {
	RequestID  id.ID             `json:"request_id"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body,omitempty"`
}

// ToClientWebSocketOpen opens a tunneled WebSocket on the runner side.
type ToClientWebSocketOpen struct {
	RequestID id.ID             `json:"request_id"`
	ActorID   id.ID             `json:"actor_id"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
}

// ToServerWebSocketOpen is the runner's ack of ToClientWebSocketOpen.
type ToServerWebSocketOpen struct {
	RequestID    id.ID `json:"request_id"`
	CanHibernate bool  `json:"can_hibernate"`
	LastMsgIndex int64 `json:"last_msg_index"`
}

// ToServerWebSocketMessage carries a runner-originated message to relay to
// the external client.
type ToServerWebSocketMessage struct {
	RequestID id.ID  `json:"request_id"`
	Index     int64  `json:"index"`
	Binary    bool   `json:"binary"`
	Data      []byte `json:"data"`
}

// ToClientWebSocketMessage carries a client-originated message to relay to
// the runner.
type ToClientWebSocketMessage struct {
	RequestID id.ID  `json:"request_id"`
	Index     int64  `json:"index"`
	Binary    bool   `json:"binary"`
	Data      []byte `json:"data"`
}

// ToServerWebSocketMessageAck lets the runner tell the gateway it has
// durably received messages up to Index, so the gateway can drop its
// replay buffer up to that point.
type ToServerWebSocketMessageAck struct {
	RequestID id.ID `json:"request_id"`
	Index     int64 `json:"index"`
}

// ToServerWebSocketClose is the runner ending a tunneled WebSocket.
type ToServerWebSocketClose struct {
	RequestID id.ID  `json:"request_id"`
	Code      int    `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retry     bool   `json:"retry"`
}

// ToClientWebSocketClose tells the runner the external client closed (or
// the gateway is giving up).
type ToClientWebSocketClose struct {
	RequestID id.ID  `json:"request_id"`
	Code      int    `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
