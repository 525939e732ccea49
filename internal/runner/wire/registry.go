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

	"github.com/rivet-gg/actor-engine/internal/actor"
	"github.com/rivet-gg/actor-engine/internal/id"
)

// Registry is the single runner.Dispatcher registered on the engine: a
// runner workflow's id never changes across reconnects, but the live
// *Conn backing it does, so every dispatch has to route through
// whichever connection is current rather than be bound to one at
// Register time.
type Registry struct {
	mu    sync.RWMutex
	conns map[id.ID]*Conn
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[id.ID]*Conn)}
}

// Add registers conn as runnerID's current live connection, replacing
// (but not closing) whatever was previously registered — a reconnect
// racing a stale connection's teardown should never let the old one win.
func (reg *Registry) Add(runnerID id.ID, conn *Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.conns[runnerID] = conn
}

// Remove drops runnerID's connection, but only if conn is still the one
// registered — a connection that already lost a race to a reconnect must
// not evict the newer one on its own teardown.
func (reg *Registry) Remove(runnerID id.ID, conn *Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.conns[runnerID] == conn {
		delete(reg.conns, runnerID)
	}
}

func (reg *Registry) get(runnerID id.ID) (*Conn, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	c, ok := reg.conns[runnerID]
	return c, ok
}

// StartActor implements runner.Dispatcher.
func (reg *Registry) StartActor(ctx context.Context, runnerID id.ID, cmd actor.StartActorCommand) error {
	conn, ok := reg.get(runnerID)
	if !ok {
		return fmt.Errorf("wire: runner %s has no live connection", runnerID)
	}
	return conn.StartActor(ctx, runnerID, cmd)
}

// StopActor implements runner.Dispatcher.
func (reg *Registry) StopActor(ctx context.Context, runnerID id.ID, cmd actor.StopActorCommand) error {
	conn, ok := reg.get(runnerID)
	if !ok {
		return fmt.Errorf("wire: runner %s has no live connection", runnerID)
	}
	return conn.StopActor(ctx, runnerID, cmd)
}

// Close implements runner.Dispatcher. A runner with no live connection is
// already gone from this server's perspective, so that case is a no-op
// rather than an error — finalizeRunner always calls this on its way
// out, whether or not the process is still attached.
func (reg *Registry) Close(ctx context.Context, runnerID id.ID) error {
	conn, ok := reg.get(runnerID)
	if !ok {
		return nil
	}
	return conn.Close(ctx, runnerID)
}
