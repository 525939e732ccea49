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

// Package actor implements the actor lifecycle workflow: creation,
// allocation onto a runner, relaying the runner's own reported state
// transitions, rescheduling after a crash or a lost runner, and eventual
// destruction.
package actor

import (
	"encoding/json"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// Name is the workflow definition name this package registers under.
const Name = "actor"

// Register wires the actor workflow into e, ready for Dispatch.
func Register(e *workflow.Engine, deps Deps) {
	workflow.Register(e, Name, func(c *workflow.Ctx, in CreateInput) (Result, error) {
		return Create(c, deps, in)
	})
}

// reserveKeyInput is the ReserveKey activity's input.
type reserveKeyInput struct {
	NamespaceID id.ID
	Name        string
	Key         string
	ActorID     id.ID
}

// Create runs the actor's creation steps (spec.md §4.2 steps 1-6) and
// then enters its lifecycle loop, returning only once the actor has been
// fully torn down.
func Create(c *workflow.Ctx, deps Deps, in CreateInput) (Result, error) {
	actorID := c.WorkflowID()

	if err := validateCreateInput(in); err != nil {
		publishFailed(c, actorID, FailureValidation, err.Error(), id.Nil)
		return Result{}, err
	}

	a := workflow.Activity(c, "InitStateAndUdb", in, func(ctx *workflow.Ctx, in CreateInput) (models.Actor, error) {
		return initActorRecord(ctx.Tx(), actorID, in, ctx.Now().UnixMilli())
	})

	if in.Key != "" {
		reservation := workflow.Activity(c, "ReserveKey", reserveKeyInput{
			NamespaceID: in.NamespaceID,
			Name:        in.Name,
			Key:         in.Key,
			ActorID:     actorID,
		}, func(ctx *workflow.Ctx, req reserveKeyInput) (models.KeyReservationResult, error) {
			if deps.KeyReservation == nil {
				return models.KeyReservationResult{Outcome: models.KeyReservationSuccess}, nil
			}
			return deps.KeyReservation.Reserve(ctx.StdContext(), req.NamespaceID, req.Name, req.Key, req.ActorID)
		})

		switch reservation.Outcome {
		case models.KeyReservationKeyExists:
			publishFailed(c, actorID, FailureDuplicateKey, "key already in use", reservation.ExistingActorID)
			return Result{ActorID: actorID}, &keyConflictError{existingActorID: reservation.ExistingActorID}
		case models.KeyReservationForwardToDatacenter:
			// A single-process engine instance has nowhere to forward a
			// create request to; a multi-datacenter deployment would route
			// this to the key's owning datacenter instead of failing it.
			publishFailed(c, actorID, FailureKeyReservedOtherDatacenter, "key is owned by another datacenter", id.Nil)
			return Result{ActorID: actorID}, &keyConflictError{otherDatacenter: true}
		}
	}

	a = workflow.Activity(c, "AddIndexesAndSetCreateComplete", a, func(ctx *workflow.Ctx, in models.Actor) (models.Actor, error) {
		return addIndexesAndSetCreateComplete(ctx.Tx(), in, ctx.Now().UnixMilli())
	})
	publishCreateComplete(c, actorID)

	st := loopState{ActorID: actorID, Generation: 0}
	spawned := spawnActor(c, deps, &a, st.Generation, false)
	switch {
	case spawned.Destroyed:
		return runDestroy(c, deps, &a, loopBreak{Generation: st.Generation, Kill: false}), nil
	case spawned.Running:
		st.RunnerID = spawned.RunnerID
		st.RunnerWorkflowID = spawned.RunnerWorkflowID
		st.GCTimeoutTs = c.Now().Add(deps.Thresholds.ActorStartThreshold).UnixMilli()
	default:
		st.Sleeping = true
	}

	brk := workflow.Loop(c, st, func(ctx *workflow.Ctx, state loopState) (loopState, workflow.LoopOutcome[loopBreak]) {
		return runLifecycleStep(ctx, deps, &a, state)
	})

	result := runDestroy(c, deps, &a, brk)
	return result, nil
}

// keyConflictError is a permanent (non-retryable) Create failure: the
// requested key is already taken, either locally or by another
// datacenter.
type keyConflictError struct {
	existingActorID id.ID
	otherDatacenter bool
}

func (e *keyConflictError) Error() string {
	if e.otherDatacenter {
		return "actor: key owned by another datacenter"
	}
	return "actor: key already exists (actor " + e.existingActorID.String() + ")"
}

// runLifecycleStep is one iteration of the running actor's main loop:
// wait for the next relevant signal, or until a deadline —
// gc_timeout_ts if set, else alarm_ts — synthesizing the
// corresponding Lost or Wake signal when a deadline fires with nothing
// delivered (spec.md §4.2).
func runLifecycleStep(c *workflow.Ctx, deps Deps, a *models.Actor, state loopState) (loopState, workflow.LoopOutcome[loopBreak]) {
	var deadline *time.Time
	switch {
	case state.GCTimeoutTs != 0:
		t := time.UnixMilli(state.GCTimeoutTs)
		deadline = &t
	case state.AlarmTs != 0:
		t := time.UnixMilli(state.AlarmTs)
		deadline = &t
	}

	name, body := workflow.ListenAny(c, []string{SignalEvent, SignalWake, SignalLost, SignalDestroy}, deadline)

	if name == "" {
		switch {
		case state.GCTimeoutTs != 0:
			name = SignalLost
			lost := LostSignal{Generation: state.Generation}
			body, _ = json.Marshal(lost)
		case state.AlarmTs != 0:
			name = SignalWake
			state.WakeForAlarm = true
			state.AlarmTs = 0
			body = nil
		default:
			return state, workflow.Continue[loopBreak]()
		}
	}

	switch name {
	case SignalEvent:
		var ev EventSignal
		decodeSignalBody(body, &ev)
		if ev.Generation != state.Generation {
			return state, workflow.Continue[loopBreak]()
		}
		return handleEvent(c, deps, a, state, ev)

	case SignalWake:
		if !state.RunnerID.IsNil() {
			state.WillWake = true
			return state, workflow.Continue[loopBreak]()
		}
		if state.Sleeping {
			state.Sleeping = false
			state.AlarmTs = 0
			if rescheduleActor(c, deps, a, &state, true, state.WakeForAlarm) {
				return state, workflow.Break(loopBreak{Generation: state.Generation, Kill: false})
			}
		}
		return state, workflow.Continue[loopBreak]()

	case SignalLost:
		var lost LostSignal
		decodeSignalBody(body, &lost)
		if lost.Generation != state.Generation {
			return state, workflow.Continue[loopBreak]()
		}
		priorWorkflowID := state.RunnerWorkflowID
		outcome := handleStopped(c, deps, a, &state, stopCause{
			failed:                true,
			forceReschedule:       lost.ForceReschedule,
			resetRescheduling:     lost.ResetRescheduling,
			priorRunnerWorkflowID: priorWorkflowID,
		})
		switch outcome {
		case stopOutcomeDestroy:
			return state, workflow.Break(loopBreak{Generation: state.Generation, Kill: false})
		case stopOutcomeSleep:
			state.Sleeping = true
		case stopOutcomeReschedule:
			if rescheduleActor(c, deps, a, &state, lost.ResetRescheduling, lost.ForceReschedule) {
				return state, workflow.Break(loopBreak{Generation: state.Generation, Kill: false})
			}
		}
		return state, workflow.Continue[loopBreak]()

	case SignalDestroy:
		return state, workflow.Break(loopBreak{Generation: state.Generation, Kill: true})

	default:
		return state, workflow.Continue[loopBreak]()
	}
}

// handleEvent dispatches a single relayed runner frame.
func handleEvent(c *workflow.Ctx, deps Deps, a *models.Actor, state loopState, ev EventSignal) (loopState, workflow.LoopOutcome[loopBreak]) {
	switch ev.Kind {
	case EventActorIntentSleep:
		*a = workflow.Activity(c, "SetSleeping", *a, func(ctx *workflow.Ctx, in models.Actor) (models.Actor, error) {
			return setSleeping(ctx.Tx(), in, ctx.Now().UnixMilli())
		})
		state.Sleeping = true
		state.WillWake = false

	case EventActorIntentStop:
		*a = workflow.Activity(c, "ClearConnectable", *a, func(ctx *workflow.Ctx, in models.Actor) (models.Actor, error) {
			return clearConnectable(ctx.Tx(), in)
		})

	case EventActorStateRunning:
		*a = workflow.Activity(c, "SetStarted", *a, func(ctx *workflow.Ctx, in models.Actor) (models.Actor, error) {
			return setStarted(ctx.Tx(), in, ctx.Now().UnixMilli())
		})
		state.GCTimeoutTs = 0
		publishReady(c, a.ActorID, state.RunnerID)

	case EventActorStateStopped:
		outcome := handleStopped(c, deps, a, &state, stopCause{
			failed:      ev.StopCode != "",
			intentSleep: state.Sleeping,
		})
		switch outcome {
		case stopOutcomeDestroy:
			publishStopped(c, a.ActorID, ev.StopCode)
			return state, workflow.Break(loopBreak{Generation: state.Generation, Kill: false})
		case stopOutcomeSleep:
			state.Sleeping = true
		case stopOutcomeReschedule:
			if rescheduleActor(c, deps, a, &state, false, false) {
				return state, workflow.Break(loopBreak{Generation: state.Generation, Kill: false})
			}
		}

	case EventActorSetAlarm:
		if ev.AlarmSet {
			state.AlarmTs = ev.AlarmTs
		} else {
			state.AlarmTs = 0
		}
	}

	return state, workflow.Continue[loopBreak]()
}
