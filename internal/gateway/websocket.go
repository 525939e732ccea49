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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rivet-gg/actor-engine/internal/id"
	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

// wsOpenSubject/wsCloseSubject scope a tunneled WebSocket's open-ack and
// close frames the same way responseSubject scopes an HTTP response: one
// subject per request id, so concurrent tunnels don't share a channel.
func wsOpenSubject(requestID id.ID) string  { return fmt.Sprintf("tunnel.ws.open.%s", requestID) }
func wsMessageSubject(requestID id.ID) string {
	return fmt.Sprintf("tunnel.ws.message.%s", requestID)
}
func wsCloseSubject(requestID id.ID) string { return fmt.Sprintf("tunnel.ws.close.%s", requestID) }

// wsOpenAckTimeout bounds how long the gateway waits for
// ToServerWebSocketOpen before failing with WebSocketServiceUnavailable.
const wsOpenAckTimeout = 5 * time.Second

// wsOutcome is the result of one client<->runner WebSocket pairing: which
// side ended it and with what close frame, if any.
type wsOutcome struct {
	retry  bool
	code   int
	reason string
	err    error
}

// replayBuffer records the tunnel-to-client messages one Serve call has
// forwarded. Serve creates a new, empty buffer on every call, so its replay
// from last_msg_index resends nothing across a reconnect, and no
// ToServerWebSocketMessageAck handling calls dropUpTo.
type replayBuffer struct {
	mu       sync.Mutex
	messages []ToServerWebSocketMessage
}

func (b *replayBuffer) add(msg ToServerWebSocketMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

func (b *replayBuffer) dropUpTo(index int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.messages[:0]
	for _, m := range b.messages {
		if m.Index > index {
			kept = append(kept, m)
		}
	}
	b.messages = kept
}

func (b *replayBuffer) after(index int64) []ToServerWebSocketMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ToServerWebSocketMessage, 0, len(b.messages))
	for _, m := range b.messages {
		if m.Index > index {
			out = append(out, m)
		}
	}
	return out
}

// WSTunnel proxies one client WebSocket connection to a runner over
// pkg/pubsub, per spec.md §4.6's WebSocket tunnel steps.
type WSTunnel struct {
	bus pubsub.Bus
}

// NewWSTunnel constructs a WSTunnel over bus.
func NewWSTunnel(bus pubsub.Bus) *WSTunnel {
	return &WSTunnel{bus: bus}
}

// Serve drives one tunneled WebSocket connection to completion: open the
// runner side, proxy messages both ways, and propagate the terminal close.
// It returns once the pairing ends, for the caller to close the client
// socket (honoring WebSocketCloseLinger).
func (t *WSTunnel) Serve(ctx context.Context, client *websocket.Conn, runnerID, actorID id.ID, path string, headers map[string]string) wsOutcome {
	requestID := id.New(runnerID.Datacenter())

	openSub, err := t.bus.Subscribe(ctx, wsOpenSubject(requestID), "")
	if err != nil {
		return wsOutcome{err: fmt.Errorf("gateway: subscribe ws open: %w", err)}
	}
	defer openSub.Unsubscribe()

	if err := t.bus.Publish(ctx, receiverSubject(runnerID), marshal(ToClientWebSocketOpen{
		RequestID: requestID, ActorID: actorID, Path: path, Headers: headers,
	})); err != nil {
		return wsOutcome{err: fmt.Errorf("gateway: publish ws open: %w", err)}
	}

	canHibernate, lastMsgIndex, err := t.awaitOpen(ctx, openSub)
	if err != nil {
		return wsOutcome{err: &gwerrors.TunnelError{Code: gwerrors.TunnelWebSocketServiceUnavailable, Message: err.Error()}}
	}
	_ = canHibernate // read below to decide wsOutcome.retry; not returned to the caller.

	buf := &replayBuffer{}
	for _, pending := range buf.after(lastMsgIndex) {
		if err := client.WriteMessage(wsMessageType(pending.Binary), pending.Data); err != nil {
			return wsOutcome{err: fmt.Errorf("gateway: replay pending message: %w", err)}
		}
	}

	msgSub, err := t.bus.Subscribe(ctx, wsMessageSubject(requestID), "")
	if err != nil {
		return wsOutcome{err: fmt.Errorf("gateway: subscribe ws messages: %w", err)}
	}
	defer msgSub.Unsubscribe()

	closeSub, err := t.bus.Subscribe(ctx, wsCloseSubject(requestID), "")
	if err != nil {
		return wsOutcome{err: fmt.Errorf("gateway: subscribe ws close: %w", err)}
	}
	defer closeSub.Unsubscribe()

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, groupCtx := errgroup.WithContext(groupCtx)

	var outcome wsOutcome
	var outcomeOnce sync.Once
	setOutcome := func(o wsOutcome) {
		outcomeOnce.Do(func() {
			outcome = o
			// Unblocks the client->tunnel goroutine's blocking ReadMessage,
			// which has no other way to observe groupCtx's cancellation.
			_ = client.Close()
		})
		cancel()
	}

	// tunnel -> client
	g.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case msg, ok := <-msgSub.Messages():
				if !ok {
					return nil
				}
				var m ToServerWebSocketMessage
				if json.Unmarshal(msg.Data, &m) == nil {
					buf.add(m)
					if err := client.WriteMessage(wsMessageType(m.Binary), m.Data); err != nil {
						setOutcome(wsOutcome{err: fmt.Errorf("gateway: forward message to client: %w", err)})
						return nil
					}
				}
			case msg, ok := <-closeSub.Messages():
				if !ok {
					return nil
				}
				var c ToServerWebSocketClose
				if json.Unmarshal(msg.Data, &c) == nil {
					setOutcome(wsOutcome{retry: canHibernate && c.Retry, code: c.Code, reason: c.Reason})
				}
				return nil
			}
		}
	})

	// client -> tunnel
	g.Go(func() error {
		var outIndex int64
		for {
			msgType, data, err := client.ReadMessage()
			if err != nil {
				setOutcome(wsOutcome{code: websocket.CloseNormalClosure})
				return nil
			}
			outIndex++
			_ = t.bus.Publish(groupCtx, receiverSubject(runnerID), marshal(ToClientWebSocketMessage{
				RequestID: requestID, Index: outIndex, Binary: msgType == websocket.BinaryMessage, Data: data,
			}))
			select {
			case <-groupCtx.Done():
				return nil
			default:
			}
		}
	})

	_ = g.Wait()

	closeFrame := ToClientWebSocketClose{RequestID: requestID, Code: outcome.code, Reason: outcome.reason}
	if outcome.code == 0 {
		closeFrame.Reason = "ws.downstream_closed"
	}
	_ = t.bus.Publish(ctx, receiverSubject(runnerID), marshal(closeFrame))

	return outcome
}

func (t *WSTunnel) awaitOpen(ctx context.Context, sub pubsub.Subscription) (canHibernate bool, lastMsgIndex int64, err error) {
	timer := time.NewTimer(wsOpenAckTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			return false, 0, fmt.Errorf("open subscription closed")
		}
		var open ToServerWebSocketOpen
		if err := json.Unmarshal(msg.Data, &open); err != nil {
			return false, 0, fmt.Errorf("decode ws open ack: %w", err)
		}
		return open.CanHibernate, open.LastMsgIndex, nil
	case <-timer.C:
		return false, 0, fmt.Errorf("no ToServerWebSocketOpen within %s", wsOpenAckTimeout)
	case <-ctx.Done():
		return false, 0, ctx.Err()
	}
}

func wsMessageType(binary bool) int {
	if binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
