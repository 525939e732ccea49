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
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rivet-gg/actor-engine/internal/actor"
	"github.com/rivet-gg/actor-engine/internal/id"
)

// Conn is internal/runner's Dispatcher implemented over a live websocket
// connection to one runner process. It owns the connection's per-runner
// command index (spec.md §4.5: "index is monotonic per-runner for
// server→runner frames") and serializes writes, since the runner
// workflow's activities may call StartActor/StopActor from concurrent
// worker goroutines.
type Conn struct {
	ws      *websocket.Conn
	version Version

	mu        sync.Mutex
	nextIndex uint64
}

// NewConn wraps an already-upgraded websocket connection negotiated at
// version.
func NewConn(ws *websocket.Conn, version Version) *Conn {
	return &Conn{ws: ws, version: version}
}

// StartActor implements runner.Dispatcher.
func (c *Conn) StartActor(ctx context.Context, runnerID id.ID, cmd actor.StartActorCommand) error {
	return c.sendCommand(CommandWrapper{
		Checkpoint: c.nextCheckpoint(cmd.ActorID, cmd.Generation),
		Kind:       CommandStartActor,
		Config: &ActorConfig{
			Name:  cmd.Name,
			Key:   cmd.Key,
			Input: cmd.Input,
		},
	})
}

// StopActor implements runner.Dispatcher.
func (c *Conn) StopActor(ctx context.Context, runnerID id.ID, cmd actor.StopActorCommand) error {
	return c.sendCommand(CommandWrapper{
		Checkpoint: c.nextCheckpoint(cmd.ActorID, cmd.Generation),
		Kind:       CommandStopActor,
	})
}

// Close implements runner.Dispatcher by sending ToClientClose and then
// closing the underlying connection; the runner process is expected to
// close its side on receipt, but this does not wait for that.
func (c *Conn) Close(ctx context.Context, runnerID id.ID) error {
	b, err := EncodeFrame(c.version, KindToClientClose, ToClientClose{})
	if err != nil {
		return err
	}
	c.mu.Lock()
	writeErr := c.ws.WriteMessage(websocket.BinaryMessage, b)
	c.mu.Unlock()
	if writeErr != nil {
		return fmt.Errorf("wire: send ToClientClose: %w", writeErr)
	}
	return c.ws.Close()
}

// AckEvents sends a ToClientAckEvents frame, letting the runner process
// trim its resend buffer.
func (c *Conn) AckEvents(checkpoints []Checkpoint) error {
	b, err := EncodeFrame(c.version, KindToClientAckEvents, ToClientAckEvents{LastEventCheckpoints: checkpoints})
	if err != nil {
		return err
	}
	return c.write(b)
}

// SendInit sends the ToClientInit reply to a successful ToServerInit.
func (c *Conn) SendInit(runnerID id.ID, runnerLostThresholdMs int64) error {
	b, err := EncodeFrame(c.version, KindToClientInit, ToClientInit{
		RunnerID:        runnerID,
		Metadata:        ToClientMeta{RunnerLostThresholdMs: runnerLostThresholdMs},
		ProtocolVersion: c.version,
	})
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *Conn) sendCommand(cmd CommandWrapper) error {
	b, err := EncodeFrame(c.version, KindToClientCommands, ToClientCommands{Commands: []CommandWrapper{cmd}})
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *Conn) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

func (c *Conn) nextCheckpoint(actorID id.ID, generation uint32) Checkpoint {
	c.mu.Lock()
	c.nextIndex++
	idx := c.nextIndex
	c.mu.Unlock()
	return Checkpoint{ActorID: actorID, Generation: generation, Index: idx}
}
