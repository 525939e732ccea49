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
	"encoding/json"
	"fmt"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// pendingSignal is the value stored under a keys.Signal key.
type pendingSignal struct {
	Name string          `json:"name"`
	Body json.RawMessage `json:"body"`
}

// Listen consumes one signal of name addressed to this workflow,
// returning its decoded body. If none is buffered, the run commits
// wake_signals and suspends; it resumes when SignalSend publishes a
// matching signal.
func Listen[T any](c *Ctx, name string) T {
	out := ListenN[T](c, name, 1)
	return out[0]
}

// ListenN consumes n signals of name, returning their decoded bodies in
// signal-key order (see tryConsumeOne).
func ListenN[T any](c *Ctx, name string, n int) []T {
	return listenImpl[T](c, []string{name}, n, nil)
}

// ListenUntil is like Listen but also wakes on deadline; ok is false if
// the deadline elapsed with no signal delivered.
func ListenUntil[T any](c *Ctx, name string, deadline time.Time) (T, bool) {
	out := ListenNUntil[T](c, name, 1, deadline)
	if len(out) == 0 {
		var zero T
		return zero, false
	}
	return out[0], true
}

// ListenNUntil is ListenN with a deadline; returns fewer than n entries
// (possibly zero) if the deadline elapses first.
func ListenNUntil[T any](c *Ctx, name string, n int, deadline time.Time) []T {
	return listenImpl[T](c, []string{name}, n, &deadline)
}

// ListenAny consumes the next signal whose name is in names — used by the
// actor and runner workflows' "Main = Event | Wake | Lost | Destroy"
// style dispatch, where the caller distinguishes kinds after decoding.
// The returned name identifies which of names matched.
func ListenAny(c *Ctx, names []string, deadline *time.Time) (string, json.RawMessage) {
	c.checkStop()
	loc := c.locationString()

	if ev, ok := c.requireEvent(loc, EventSignals, 0); ok {
		if len(ev.SignalNames) == 0 {
			// A prior attempt recorded a deadline-only wake (no signal).
			return "", nil
		}
		return ev.SignalNames[0], ev.Output
	}

	sig, body, ok := tryConsumeOne(c, names)
	if ok {
		c.store.append(HistoryEvent{
			Location:    loc,
			EventType:   EventSignals,
			SignalNames: []string{sig},
			Output:      body,
		})
		return sig, body
	}

	if deadline != nil {
		remaining := deadline.Sub(c.Now())
		if remaining <= inProcessSleepBudget {
			if remaining > 0 {
				select {
				case <-time.After(remaining):
				case <-c.std.Done():
					panic(suspend{})
				}
			}
			c.store.append(HistoryEvent{Location: loc, EventType: EventSignals})
			return "", nil
		}
		c.rec.WakeDeadlineTs = deadline.UnixMilli()
	}
	c.rec.WakeSignals = names
	panic(suspend{})
}

func listenImpl[T any](c *Ctx, names []string, n int, deadline *time.Time) []T {
	c.checkStop()
	loc := c.locationString()

	if ev, ok := c.requireEvent(loc, EventSignals, 0); ok {
		out := make([]T, len(ev.SignalNames))
		var bodies []json.RawMessage
		if err := json.Unmarshal(ev.Output, &bodies); err == nil {
			for i, b := range bodies {
				unmarshalInto(b, &out[i])
			}
		}
		return out
	}

	var collected []T
	var collectedNames []string
	var collectedBodies []json.RawMessage
	for len(collected) < n {
		sig, body, ok := tryConsumeOne(c, names)
		if !ok {
			break
		}
		var v T
		unmarshalInto(body, &v)
		collected = append(collected, v)
		collectedNames = append(collectedNames, sig)
		collectedBodies = append(collectedBodies, body)
	}

	if len(collected) == n || deadline == nil && len(collected) > 0 {
		bodiesJSON, _ := json.Marshal(collectedBodies)
		c.store.append(HistoryEvent{
			Location:    loc,
			EventType:   EventSignals,
			SignalNames: collectedNames,
			Output:      bodiesJSON,
		})
		return collected
	}

	if deadline != nil {
		remaining := deadline.Sub(c.Now())
		if remaining <= inProcessSleepBudget {
			if remaining > 0 {
				select {
				case <-time.After(remaining):
				case <-c.std.Done():
					panic(suspend{})
				}
			}
			bodiesJSON, _ := json.Marshal(collectedBodies)
			c.store.append(HistoryEvent{
				Location:    loc,
				EventType:   EventSignals,
				SignalNames: collectedNames,
				Output:      bodiesJSON,
			})
			return collected
		}
		c.rec.WakeDeadlineTs = deadline.UnixMilli()
	}
	c.rec.WakeSignals = names
	panic(suspend{})
}

// tryConsumeOne scans the workflow's pending-signal subspace for the
// first entry matching one of names and deletes it. Entries are scanned in
// key order, which follows the signal ids; ids are random past their
// datacenter prefix, so this is not arrival order.
func tryConsumeOne(c *Ctx, names []string) (string, json.RawMessage, bool) {
	opts := kvstore.RangeOptions{
		Begin: keys.SignalPrefix(c.workflowID),
		End:   keys.SignalEnd(c.workflowID),
	}
	rows, err := c.tx.GetRange(c.std, opts, kvstore.Snapshot)
	if err != nil {
		panic(fmt.Errorf("workflow: scan signals: %w", err))
	}
	for _, row := range rows {
		var ps pendingSignal
		if err := json.Unmarshal(row.Value, &ps); err != nil {
			continue
		}
		if !containsString(names, ps.Name) {
			continue
		}
		c.tx.Clear(row.Key)
		return ps.Name, ps.Body, true
	}
	return "", nil, false
}

func containsString(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// SignalSend publishes a signal of name to targetWorkflowID, recording
// the send in this workflow's history so replay does not re-send it.
func SignalSend[T any](c *Ctx, targetWorkflowID id.ID, name string, body T) {
	c.checkStop()
	loc := c.locationString()

	if _, ok := c.requireEvent(loc, EventSignalSend, 0); ok {
		return
	}

	signalID := c.engine.newID()
	payload, _ := json.Marshal(pendingSignal{Name: name, Body: marshalAny(body)})
	c.tx.Set(keys.Signal(targetWorkflowID, signalID), payload)

	c.store.append(HistoryEvent{Location: loc, EventType: EventSignalSend, Name: name, SignalIDs: []id.ID{signalID}})

	// Best-effort wake notification for a worker already polling this
	// workflow in-process; correctness never depends on this arriving,
	// only on the next poll sweep finding the signal key above.
	if c.engine.bus != nil {
		_ = c.engine.bus.Publish(c.std, wakeSubject(targetWorkflowID), nil)
	}
}

func wakeSubject(workflowID id.ID) string {
	return "workflow.wake." + workflowID.String()
}

// SignalExternal publishes a signal to targetWorkflowID from outside any
// running workflow — the entry point a transport component (a runner wire
// listener, the gateway's tunnel, the serverless SSE client) uses to relay
// an inbound frame into a workflow's signal queue. Unlike SignalSend, there
// is no enclosing workflow history to record this send against, so a
// redelivered frame sends a duplicate signal; callers that cannot tolerate
// that must dedupe upstream (a wire protocol's own per-(actor_id,
// generation) event index is exactly this).
func (e *Engine) SignalExternal(ctx context.Context, targetWorkflowID id.ID, name string, body any) error {
	signalID := e.newID()
	payload, err := json.Marshal(pendingSignal{Name: name, Body: marshalAny(body)})
	if err != nil {
		return fmt.Errorf("workflow: encode external signal %s: %w", name, err)
	}
	if err := e.store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		tx.Set(keys.Signal(targetWorkflowID, signalID), payload)
		return nil
	}); err != nil {
		return fmt.Errorf("workflow: send external signal %s: %w", name, err)
	}
	if e.bus != nil {
		_ = e.bus.Publish(ctx, wakeSubject(targetWorkflowID), nil)
	}
	return nil
}
