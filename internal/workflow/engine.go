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
	"log/slog"
	"sync"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

// definition is a registered workflow's decoded entry point: unmarshal the
// record's input, run body, marshal the result.
type definition struct {
	run func(c *Ctx, rawInput json.RawMessage) (json.RawMessage, error)
}

// Engine owns the workflow registry and drives instances against a
// transactional store. One Engine typically backs one daemon process;
// Workers across processes cooperate through the store and bus.
type Engine struct {
	store kvstore.Store
	bus   pubsub.Bus
	clock func() time.Time
	dcID  uint16
	log   *slog.Logger

	mu   sync.RWMutex
	defs map[string]definition
}

// NewEngine constructs an Engine. clock defaults to time.Now if nil; dcID
// tags every id.New call this engine makes (spec.md §6's datacenter-tagged
// ids).
func NewEngine(store kvstore.Store, bus pubsub.Bus, dcID uint16, logger *slog.Logger, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store: store,
		bus:   bus,
		clock: clock,
		dcID:  dcID,
		log:   logger,
		defs:  make(map[string]definition),
	}
}

func (e *Engine) newID() id.ID {
	return id.New(e.dcID)
}

// Register adds a named workflow definition. name must be stable across
// deploys: it is stored on every instance's Record and used to dispatch
// replay.
func Register[I, O any](e *Engine, name string, fn func(c *Ctx, input I) (O, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[name] = definition{
		run: func(c *Ctx, rawInput json.RawMessage) (json.RawMessage, error) {
			var input I
			unmarshalInto(rawInput, &input)
			out, err := fn(c, input)
			if err != nil {
				return nil, err
			}
			return marshalAny(out), nil
		},
	}
}

// Dispatch creates a new workflow instance of name with input, returning
// its id. The instance does not run until RunOnce is called on it (by a
// Worker's sweep or directly) — Dispatch only persists the Record.
func Dispatch[I any](ctx context.Context, e *Engine, name string, input I) (id.ID, error) {
	e.mu.RLock()
	_, ok := e.defs[name]
	e.mu.RUnlock()
	if !ok {
		return id.ID{}, fmt.Errorf("workflow: dispatch %s: not registered", name)
	}

	workflowID := e.newID()
	rec := Record{
		WorkflowID: workflowID,
		Name:       name,
		CreateTs:   e.clock().UnixMilli(),
		Input:      marshalAny(input),
	}

	err := e.store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		tx.Set(keys.Workflow(workflowID), b)
		return nil
	})
	if err != nil {
		return id.ID{}, fmt.Errorf("workflow: dispatch %s: %w", name, err)
	}
	return workflowID, nil
}

// SubWorkflowDispatch starts a child workflow of name from inside a parent
// run, recording the dispatch so replay does not start it twice. It does
// not wait for the child to finish; pair it with ListenUntil against a
// signal the child sends when it is done. No primitive in this package
// sets the parent's WakeSubWorkflowID.
func SubWorkflowDispatch[I any](c *Ctx, name string, input I) id.ID {
	c.checkStop()
	loc := c.locationString()

	if ev, ok := c.requireEvent(loc, EventSubWorkflow, 0); ok {
		var childID id.ID
		unmarshalInto(ev.Output, &childID)
		return childID
	}

	childID := c.engine.newID()
	rec := Record{
		WorkflowID: childID,
		Name:       name,
		CreateTs:   c.Now().UnixMilli(),
		RayID:      c.rayID,
		Input:      marshalAny(input),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Errorf("workflow: encode sub-workflow record: %w", err))
	}
	c.tx.Set(keys.Workflow(childID), b)

	c.store.append(HistoryEvent{Location: loc, EventType: EventSubWorkflow, Name: name, Output: marshalAny(childID)})
	return childID
}

// MessagePublish emits a fire-and-forget message on subject via the
// engine's bus, recording the send so replay does not repeat it. Unlike
// SignalSend, the payload is not addressed to a specific workflow and
// carries no delivery guarantee beyond the bus's own (used for metrics/log
// fan-out, not for workflow control flow).
func MessagePublish[T any](c *Ctx, subject string, body T) {
	c.checkStop()
	loc := c.locationString()

	if _, ok := c.requireEvent(loc, EventMessageSend, 0); ok {
		return
	}

	payload := marshalAny(body)
	if c.engine.bus != nil {
		if err := c.engine.bus.Publish(c.std, subject, payload); err != nil {
			panic(&errors.WorkflowError{Class: errors.ClassRecoverable, Message: "message publish failed", Cause: err})
		}
	}

	c.store.append(HistoryEvent{Location: loc, EventType: EventMessageSend, Name: subject, Output: payload})
}

// RunOnce drives one attempt of workflowID: it loads the Record and
// history, runs the registered definition's body from the top (replaying
// recorded steps and executing new ones live), and commits whatever the
// attempt produced — a final Output, a suspended wake condition, or a
// fatal Error — in a single transaction.
//
// A retryable error (kvstore.ErrConflict, or a panicked ClassRetryable
// WorkflowError) causes the whole attempt, including the transaction, to
// retry transparently; RunOnce only returns once an attempt has either
// committed or exhausted the store's retry budget.
func (e *Engine) RunOnce(ctx context.Context, workflowID id.ID) error {
	e.mu.RLock()
	defs := e.defs
	e.mu.RUnlock()

	return e.store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) (err error) {
		recBytes, getErr := tx.Get(ctx, keys.Workflow(workflowID), kvstore.Serializable)
		if getErr != nil {
			return fmt.Errorf("workflow: load record %s: %w", workflowID, getErr)
		}
		var rec Record
		if unmarshalErr := json.Unmarshal(recBytes, &rec); unmarshalErr != nil {
			return fmt.Errorf("workflow: decode record %s: %w", workflowID, unmarshalErr)
		}
		if rec.Done {
			return nil
		}

		def, ok := defs[rec.Name]
		if !ok {
			return fmt.Errorf("workflow: run %s: %q not registered", workflowID, rec.Name)
		}

		hist, loadErr := loadHistory(ctx, tx, workflowID)
		if loadErr != nil {
			return loadErr
		}

		rec.WakeDeadlineTs = 0
		rec.WakeSignals = nil

		c := &Ctx{
			std:        ctx,
			tx:         tx,
			store:      hist,
			workflowID: workflowID,
			rayID:      rec.RayID,
			clock:      e.clock,
			rec:        &rec,
			engine:     e,
		}

		var (
			output    json.RawMessage
			runErr    error
			suspended bool
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					switch v := r.(type) {
					case suspend:
						suspended = true
					case *errors.WorkflowError:
						if v.Class == errors.ClassRetryable {
							err = kvstore.ErrConflict
							return
						}
						runErr = v
					default:
						panic(r)
					}
				}
			}()
			output, runErr = def.run(c, rec.Input)
		}()
		if err != nil {
			return err
		}

		if flushErr := hist.flush(workflowID, tx); flushErr != nil {
			return flushErr
		}

		switch {
		case suspended:
			// rec.WakeDeadlineTs/WakeSignals were set by the primitive that
			// suspended us; persist as-is.
		case runErr != nil:
			var wfErr *errors.WorkflowError
			if asWorkflowError(runErr, &wfErr) && wfErr.Class == errors.ClassRecoverable {
				// A recoverable activity failure with no explicit deadline:
				// wake promptly so the worker's next sweep retries it.
				if rec.WakeDeadlineTs == 0 {
					rec.WakeDeadlineTs = e.clock().Add(time.Second).UnixMilli()
				}
			} else {
				rec.Done = true
				rec.Error = runErr.Error()
				e.log.Warn("workflow failed", "workflow_id", workflowID.String(), "name", rec.Name, "error", runErr.Error())
			}
		default:
			rec.Done = true
			rec.Output = output
		}

		recBytes, marshalErr := json.Marshal(rec)
		if marshalErr != nil {
			return marshalErr
		}
		tx.Set(keys.Workflow(workflowID), recBytes)
		return nil
	})
}

func asWorkflowError(err error, target **errors.WorkflowError) bool {
	return errors.As(err, target)
}

// workerLeaseDuration bounds how long a worker's claim on a workflow
// instance (workflow.worker_id + workflow.silence_ts) is honored before
// another worker may steal it — guards against a dead worker permanently
// parking an instance.
const workerLeaseDuration = 30 * time.Second

// claim attempts to take single-flight ownership of workflowID for
// workerID, so two workers racing the same poll sweep do not both execute
// the same instance's side effects. It returns false without error if the
// instance is done or already leased by a live worker.
func (e *Engine) claim(ctx context.Context, workflowID id.ID, workerID string) (bool, error) {
	claimed := false
	err := e.store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		claimed = false
		recBytes, err := tx.Get(ctx, keys.Workflow(workflowID), kvstore.Serializable)
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(recBytes, &rec); err != nil {
			return err
		}
		if rec.Done {
			return nil
		}
		now := e.clock().UnixMilli()
		if rec.WorkerID != "" && rec.WorkerID != workerID && now-rec.SilenceTs < workerLeaseDuration.Milliseconds() {
			return nil
		}
		rec.WorkerID = workerID
		rec.SilenceTs = now
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		tx.Set(keys.Workflow(workflowID), b)
		claimed = true
		return nil
	})
	return claimed, err
}

// release clears the worker_id lease after an attempt completes, whether
// it suspended, failed, or finished — the instance is always idle again
// once RunOnce returns, and the next claim (by any worker) should succeed
// immediately rather than waiting out workerLeaseDuration.
func (e *Engine) release(ctx context.Context, workflowID id.ID) error {
	return e.store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		recBytes, err := tx.Get(ctx, keys.Workflow(workflowID), kvstore.Serializable)
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(recBytes, &rec); err != nil {
			return err
		}
		if rec.WorkerID == "" {
			return nil
		}
		rec.WorkerID = ""
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		tx.Set(keys.Workflow(workflowID), b)
		return nil
	})
}
