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

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

// receiverSubject is the pub/sub subject a runner listens on, per spec.md
// §6 ("runner.receiver.<runner_id>").
func receiverSubject(runnerID id.ID) string {
	return fmt.Sprintf("runner.receiver.%s", runnerID)
}

// responseSubject is where the gateway listens for one tunneled request's
// reply. Scoped per-request (rather than per-runner) so concurrent
// requests to the same runner don't have to demux a shared channel.
func responseSubject(requestID id.ID) string {
	return fmt.Sprintf("tunnel.response.%s", requestID)
}

// Tunnel proxies HTTP traffic (WSTunnel handles WebSocket) to a runner over a pubsub.Bus,
// per spec.md §4.6.
type Tunnel struct {
	bus pubsub.Bus
}

// NewTunnel constructs a Tunnel over bus.
func NewTunnel(bus pubsub.Bus) *Tunnel {
	return &Tunnel{bus: bus}
}

// HTTPRequest carries req to runnerID/actorID and waits for the matching
// response, failing with a *pkg/errors.TunnelError on timeout.
func (t *Tunnel) HTTPRequest(ctx context.Context, runnerID, actorID id.ID, method, path string, headers map[string]string, body []byte) (*ToServerResponseStart, error) {
	requestID := id.New(runnerID.Datacenter())

	sub, err := t.bus.Subscribe(ctx, responseSubject(requestID), "")
	if err != nil {
		return nil, fmt.Errorf("gateway: subscribe tunnel response: %w", err)
	}
	defer sub.Unsubscribe()

	frame := ToClientRequestStart{
		RequestID: requestID,
		ActorID:   actorID,
		Method:    method,
		Path:      path,
		Headers:   headers,
		Body:      body,
		Stream:    false,
	}
	if err := t.bus.Publish(ctx, receiverSubject(runnerID), marshal(frame)); err != nil {
		return nil, fmt.Errorf("gateway: publish tunnel request: %w", err)
	}

	timer := time.NewTimer(TunnelAckTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			return nil, &gwerrors.TunnelError{Code: gwerrors.TunnelServiceUnavailable, Message: "response subscription closed"}
		}
		var resp ToServerResponseStart
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return nil, &gwerrors.TunnelError{Code: gwerrors.TunnelInvalidResponseBody, Message: err.Error()}
		}
		return &resp, nil
	case <-timer.C:
		return nil, &gwerrors.TunnelError{Code: gwerrors.TunnelServiceUnavailable, Message: fmt.Sprintf("no response within %s", TunnelAckTimeout)}
	case <-ctx.Done():
		return nil, &gwerrors.TunnelError{Code: gwerrors.TunnelServiceUnavailable, Message: ctx.Err().Error()}
	}
}

// PublishResponse is what a runner-side relay (internal/runner/wire, once
// it carries HTTP tunnel frames) calls to answer a tunneled HTTP request.
func (t *Tunnel) PublishResponse(ctx context.Context, resp ToServerResponseStart) error {
	return t.bus.Publish(ctx, responseSubject(resp.RequestID), marshal(resp))
}
