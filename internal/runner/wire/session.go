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

package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rivet-gg/actor-engine/internal/actor"
	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/runner"
	"github.com/rivet-gg/actor-engine/internal/workflow"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// Identity is everything the connection's upgrade handshake already
// resolved before a single wire frame is read: which namespace and
// runner identity this process is allowed to claim (spec.md §4.5 treats
// ToServerInit's name/version/total_slots as the only runner-provided
// fields; namespace and key come from however the process authenticated
// to reach this connection — resolved by Handler's Authenticator before
// the Session is built).
type Identity struct {
	NamespaceID id.ID
	Key         string
	// RunnerID pins a reconnect to a previously-known runner. Zero means
	// a fresh connection.
	RunnerID id.ID
}

// Session drives one runner process's websocket connection: negotiate a
// version, read the ToServerInit handshake and dispatch the runner
// workflow, then relay every subsequent frame into that workflow (or
// straight into the kv store, for pings) until the connection closes.
type Session struct {
	ws       *websocket.Conn
	identity Identity

	engine     *workflow.Engine
	store      kvstore.Store
	registry   *Registry
	thresholds runner.Thresholds
	clock      func() time.Time
	log        *slog.Logger

	conn       *Conn
	runnerID   id.ID
	workflowID id.ID
}

// NewSession constructs a Session around an already-upgraded websocket
// connection. clock defaults to time.Now if nil.
func NewSession(ws *websocket.Conn, identity Identity, engine *workflow.Engine, store kvstore.Store, registry *Registry, thresholds runner.Thresholds, logger *slog.Logger, clock func() time.Time) *Session {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ws: ws, identity: identity,
		engine: engine, store: store, registry: registry, thresholds: thresholds,
		clock: clock, log: logger,
	}
}

// Serve reads frames until the connection errors or closes, blocking the
// caller. It deregisters the session's connection from registry before
// returning, whatever the reason.
func (s *Session) Serve(ctx context.Context) error {
	defer func() {
		if !s.runnerID.IsNil() && s.conn != nil {
			s.registry.Remove(s.runnerID, s.conn)
		}
	}()

	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("wire: read message: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := Decode(data)
		if err != nil {
			s.log.Warn("wire: malformed frame", "error", err)
			continue
		}

		if err := s.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame Frame) error {
	switch frame.Kind {
	case KindToServerInit:
		return s.handleInit(ctx, frame)
	case KindToServerPong:
		return s.handlePong(ctx, frame)
	case KindToServerEvents:
		return s.handleEvents(ctx, frame)
	case KindToServerKvRequest:
		// No tunneled KV store is implemented yet; a runner process that
		// sends one gets silently ignored rather than a response it can
		// wait forever on. internal/gateway's KV tunnel will answer this
		// once it exists.
		s.log.Warn("wire: ToServerKvRequest has no handler yet")
		return nil
	default:
		s.log.Warn("wire: unhandled frame kind", "kind", frame.Kind)
		return nil
	}
}

func (s *Session) handleInit(ctx context.Context, frame Frame) error {
	if !s.runnerID.IsNil() {
		return fmt.Errorf("wire: duplicate ToServerInit on one connection")
	}

	var in ToServerInit
	if err := decodePayload(frame.Payload, &in); err != nil {
		return err
	}

	input := runner.CreateInput{
		RunnerID:              s.identity.RunnerID,
		NamespaceID:           s.identity.NamespaceID,
		Name:                  in.Name,
		Key:                   s.identity.Key,
		Version:               in.Version,
		TotalSlots:            in.TotalSlots,
		ProtocolVersion:       uint16(frame.Version),
		PrepopulateActorNames: in.PrepopulateActorNames,
		Metadata:              in.Metadata,
	}

	workflowID, err := workflow.Dispatch(ctx, s.engine, runner.Name, input)
	if err != nil {
		return fmt.Errorf("wire: dispatch runner workflow: %w", err)
	}

	runnerID := s.identity.RunnerID
	if runnerID.IsNil() {
		runnerID = workflowID
	}

	s.conn = NewConn(s.ws, frame.Version)
	s.runnerID = runnerID
	s.workflowID = workflowID
	s.registry.Add(runnerID, s.conn)

	if err := s.engine.RunOnce(ctx, workflowID); err != nil {
		return fmt.Errorf("wire: run runner workflow after init: %w", err)
	}

	return s.conn.SendInit(runnerID, s.thresholds.RunnerLostThreshold.Milliseconds())
}

func (s *Session) handlePong(ctx context.Context, frame Frame) error {
	var pong ToServerPong
	if err := decodePayload(frame.Payload, &pong); err != nil {
		return err
	}
	if s.runnerID.IsNil() {
		return fmt.Errorf("wire: ToServerPong before ToServerInit")
	}
	if err := runner.Ping(ctx, s.store, s.runnerID, s.clock(), s.thresholds.EligibleThreshold); err != nil {
		return fmt.Errorf("wire: ping: %w", err)
	}
	return nil
}

func (s *Session) handleEvents(ctx context.Context, frame Frame) error {
	if s.workflowID.IsNil() {
		return fmt.Errorf("wire: ToServerEvents before ToServerInit")
	}
	var events ToServerEvents
	if err := decodePayload(frame.Payload, &events); err != nil {
		return err
	}

	acks := make([]Checkpoint, 0, len(events.Events))
	for _, ev := range events.Events {
		sig, ok := toActorEventSignal(ev)
		if !ok {
			s.log.Warn("wire: unrecognized event wrapper", "kind", ev.Kind)
			continue
		}
		if err := s.engine.SignalExternal(ctx, ev.Checkpoint.ActorID, actor.SignalEvent, sig); err != nil {
			return fmt.Errorf("wire: relay actor event: %w", err)
		}
		if err := s.engine.RunOnce(ctx, ev.Checkpoint.ActorID); err != nil {
			return fmt.Errorf("wire: run actor workflow after event: %w", err)
		}
		acks = append(acks, ev.Checkpoint)
	}

	if len(acks) == 0 {
		return nil
	}
	return s.conn.AckEvents(acks)
}

// toActorEventSignal translates one wire EventWrapper into the payload
// internal/actor's SignalEvent expects, per spec.md §4.5's inner-kind
// table. The second return is false for an EventWrapper this version of
// the protocol doesn't recognize.
func toActorEventSignal(ev EventWrapper) (actor.EventSignal, bool) {
	sig := actor.EventSignal{Generation: ev.Checkpoint.Generation}
	switch ev.Kind {
	case EventActorIntent:
		switch ev.Intent {
		case ActorIntentSleep:
			sig.Kind = actor.EventActorIntentSleep
		case ActorIntentStop:
			sig.Kind = actor.EventActorIntentStop
		default:
			return actor.EventSignal{}, false
		}
	case EventActorStateUpdate:
		if ev.State == nil {
			return actor.EventSignal{}, false
		}
		switch {
		case ev.State.Running:
			sig.Kind = actor.EventActorStateRunning
		case ev.State.Stopped:
			sig.Kind = actor.EventActorStateStopped
			sig.StopCode = string(ev.State.Code)
		default:
			return actor.EventSignal{}, false
		}
	case EventActorSetAlarm:
		sig.Kind = actor.EventActorSetAlarm
		sig.AlarmSet = ev.AlarmSet
		sig.AlarmTs = ev.AlarmTs
	default:
		return actor.EventSignal{}, false
	}
	return sig, true
}

func decodePayload(payload []byte, out any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("wire: decode payload: %w", err)
	}
	return nil
}
