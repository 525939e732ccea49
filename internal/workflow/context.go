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

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// suspend unwinds the workflow function's goroutine stack back to
// runOnce without treating it as an error: the run ended cleanly at a
// point it cannot make further progress until an external event (a
// deadline, a signal, a sub-workflow) occurs.
type suspend struct{}

// Ctx is threaded through a workflow function and its nested closures. It
// is not safe for concurrent use by more than one primitive at a time:
// Join is the only primitive that runs several sub-executables from one
// Ctx, and it does so by cloning a child Ctx per branch.
type Ctx struct {
	std   context.Context
	tx    kvstore.Tx
	store *loadedHistory

	workflowID id.ID
	rayID      string
	clock      func() time.Time
	rec        *Record

	// location is the stack of branch/loop-iteration indices that makes
	// up this point's deterministic path.
	location []int

	// replaying is true until execution passes the last history event
	// recorded by a previous attempt; primitives consult it only for
	// logging, since the actual replay-vs-live decision is made by
	// comparing against the loaded history map.
	replaying bool

	engine *Engine
}

// StdContext returns the underlying context.Context, for passing to
// activity functions that need cancellation/deadline propagation.
func (c *Ctx) StdContext() context.Context { return c.std }

// Tx returns the kvstore transaction backing this run's attempt. Activity
// bodies use it to read/write entity records and indexes; since one
// RunOnce attempt is one kvstore transaction (spec.md §4.1), every
// activity's store writes commit or roll back atomically with the
// workflow's own Record/history update.
func (c *Ctx) Tx() kvstore.Tx { return c.tx }

// WorkflowID returns this run's workflow instance id.
func (c *Ctx) WorkflowID() id.ID { return c.workflowID }

// Now returns the engine's clock, so workflow code never calls time.Now
// directly (which would make replay nondeterministic).
func (c *Ctx) Now() time.Time { return c.clock() }

func (c *Ctx) locationString() string {
	parts := make([]string, len(c.location))
	for i, n := range c.location {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// child returns a copy of c with one more location component pushed,
// used when entering a loop iteration or a Join branch.
func (c *Ctx) child(index int) *Ctx {
	loc := make([]int, len(c.location)+1)
	copy(loc, c.location)
	loc[len(loc)-1] = index
	cp := *c
	cp.location = loc
	return &cp
}

// checkStop is invoked by every suspend-capable primitive before doing
// work, per spec.md §4.1: if the worker wants to evict this run, further
// progress is abandoned so the run can resume elsewhere.
func (c *Ctx) checkStop() {
	if c.std.Err() != nil {
		panic(suspend{})
	}
}

// CheckVersion returns the version recorded in history at the current
// location, or commits latest if no entry exists yet. This lets code
// branch on "was this location first executed under an old or new
// version of the workflow" without causing history divergence across an
// upgrade.
func CheckVersion(c *Ctx, latest uint32) uint32 {
	c.checkStop()
	loc := c.locationString()

	if ev, ok := c.store.get(loc); ok {
		if ev.EventType != EventVersionCheck {
			panic(errors.ErrHistoryDiverged(loc))
		}
		return ev.Version
	}

	ev := HistoryEvent{Location: loc, Version: latest, EventType: EventVersionCheck}
	c.store.append(ev)
	return latest
}

// requireEvent fetches the event at the current location, validating
// that it is of the expected type and at least the declared version; it
// panics with a fatal HistoryDiverged error otherwise. Returns (event,
// true) on a replay hit, or (zero, false) if this location has never been
// recorded (a live, first-time execution).
func (c *Ctx) requireEvent(loc string, want EventType, version uint32) (HistoryEvent, bool) {
	ev, ok := c.store.get(loc)
	if !ok {
		return HistoryEvent{}, false
	}
	if ev.EventType != want || ev.Version < version {
		panic(errors.ErrHistoryDiverged(loc))
	}
	return ev, true
}

func marshalAny(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("workflow: marshal: %w", err))
	}
	return b
}

func unmarshalInto[T any](raw json.RawMessage, out *T) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(fmt.Errorf("workflow: unmarshal: %w", err))
	}
}
