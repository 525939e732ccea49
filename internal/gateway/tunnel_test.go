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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivet-gg/actor-engine/internal/id"
	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

// runnerEcho subscribes to a runner's receiver subject and replies to every
// ToClientRequestStart it sees, simulating a runner-side relay.
func runnerEcho(t *testing.T, bus pubsub.Bus, runnerID id.ID, statusCode int) {
	t.Helper()
	sub, err := bus.Subscribe(context.Background(), receiverSubject(runnerID), "")
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })

	go func() {
		for msg := range sub.Messages() {
			var req ToClientRequestStart
			if json.Unmarshal(msg.Data, &req) != nil {
				continue
			}
			resp := ToServerResponseStart{RequestID: req.RequestID, StatusCode: statusCode, Body: []byte("ok")}
			_ = bus.Publish(context.Background(), responseSubject(req.RequestID), marshal(resp))
		}
	}()
}

func TestTunnel_HTTPRequestRoundTrips(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	runnerID := id.New(1)
	runnerEcho(t, bus, runnerID, 200)

	tunnel := NewTunnel(bus)
	resp, err := tunnel.HTTPRequest(context.Background(), runnerID, id.New(1), "GET", "/ping", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, []byte("ok"), resp.Body)
}

func TestTunnel_HTTPRequestTimesOutWithoutAResponder(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()

	tunnel := NewTunnel(bus)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tunnel.HTTPRequest(ctx, id.New(1), id.New(1), "GET", "/ping", nil, nil)
	require.Error(t, err)
	var te *gwerrors.TunnelError
	require.True(t, errors.As(err, &te))
}
