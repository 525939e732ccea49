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

package runner

import (
	"github.com/rivet-gg/actor-engine/internal/actor"
	"github.com/rivet-gg/actor-engine/internal/allocation"
	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// Name is the workflow definition name this package registers under.
const Name = "runner"

// Register wires the runner workflow into e, ready for Dispatch.
func Register(e *workflow.Engine, deps Deps) {
	workflow.Register(e, Name, func(c *workflow.Ctx, in CreateInput) (Result, error) {
		return Create(c, deps, in)
	})
}

// Create runs the runner workflow's Init step, an immediate allocation
// drain, the Main lifecycle loop, and the after-loop teardown (spec.md
// §4.4).
func Create(c *workflow.Ctx, deps Deps, in CreateInput) (Result, error) {
	workflowID := c.WorkflowID()

	r := workflow.Activity(c, "Init", in, func(ctx *workflow.Ctx, in CreateInput) (models.Runner, error) {
		return initRunner(ctx.StdContext(), ctx.Tx(), ctx.Now().UnixMilli(), workflowID, in)
	})

	drainAndSignal(c, deps, &r)

	workflow.Loop(c, lifecycleState{}, func(ctx *workflow.Ctx, state lifecycleState) (lifecycleState, workflow.LoopOutcome[loopBreak]) {
		return runLifecycleStep(ctx, deps, &r, state)
	})

	finalizeRunner(c, deps, &r)

	return Result{RunnerID: r.RunnerID}, nil
}

// drainAndSignal runs the shared allocation-drain activity and signals
// every actor it matched (spec.md §4.3's drain entry point), invoked both
// immediately after Init and on every CheckQueue signal.
func drainAndSignal(c *workflow.Ctx, deps Deps, r *models.Runner) {
	drain := workflow.Activity(c, "AllocatePendingActors", r.RunnerID, func(ctx *workflow.Ctx, _ id.ID) (allocation.DrainResult, error) {
		return allocation.DrainPendingActors(ctx.StdContext(), ctx.Tx(), ctx.Now(), deps.Thresholds.EligibleThreshold, r.NamespaceID, r.Name)
	})
	for _, alloc := range drain.Allocated {
		workflow.SignalSend(c, alloc.ActorID, actor.SignalAllocate, actor.AllocateSignal{
			RunnerID:         alloc.RunnerID,
			RunnerWorkflowID: alloc.RunnerWorkflowID,
			ProtocolVersion:  alloc.ProtocolVersion,
		})
	}
}

// runLifecycleStep is one iteration of the runner's Main loop: wait for
// the next relevant signal or the runner_lost_threshold deadline,
// whichever comes first (spec.md §4.4).
func runLifecycleStep(c *workflow.Ctx, deps Deps, r *models.Runner, state lifecycleState) (lifecycleState, workflow.LoopOutcome[loopBreak]) {
	deadline := c.Now().Add(deps.Thresholds.RunnerLostThreshold)
	name, body := workflow.ListenAny(c, []string{
		actor.RunnerSignalStartActor,
		actor.RunnerSignalStopActor,
		SignalInit,
		SignalCheckQueue,
		SignalStop,
	}, &deadline)

	switch name {
	case actor.RunnerSignalStartActor:
		var cmd actor.StartActorCommand
		decodeSignalBody(body, &cmd)
		workflow.Activity(c, "DispatchStartActor", cmd, func(ctx *workflow.Ctx, cmd actor.StartActorCommand) (struct{}, error) {
			if deps.Dispatcher == nil {
				return struct{}{}, nil
			}
			return struct{}{}, deps.Dispatcher.StartActor(ctx.StdContext(), r.RunnerID, cmd)
		})

	case actor.RunnerSignalStopActor:
		var cmd actor.StopActorCommand
		decodeSignalBody(body, &cmd)
		workflow.Activity(c, "DispatchStopActor", cmd, func(ctx *workflow.Ctx, cmd actor.StopActorCommand) (struct{}, error) {
			if deps.Dispatcher == nil {
				return struct{}{}, nil
			}
			return struct{}{}, deps.Dispatcher.StopActor(ctx.StdContext(), r.RunnerID, cmd)
		})

	case SignalInit:
		if !state.Draining {
			*r = workflow.Activity(c, "MarkEligible", r.RunnerID, func(ctx *workflow.Ctx, runnerID id.ID) (models.Runner, error) {
				return markEligible(ctx.StdContext(), ctx.Tx(), runnerID)
			})
		}

	case SignalCheckQueue:
		drainAndSignal(c, deps, r)

	case SignalStop:
		var stop StopSignal
		decodeSignalBody(body, &stop)
		state.Draining = true

		*r = workflow.Activity(c, "ClearDbDraining", r.RunnerID, func(ctx *workflow.Ctx, runnerID id.ID) (models.Runner, error) {
			return clearDb(ctx.StdContext(), ctx.Tx(), ctx.Now().UnixMilli(), runnerID, clearDraining)
		})

		owned := workflow.Activity(c, "FetchRemainingActorsDraining", r.RunnerID, func(ctx *workflow.Ctx, runnerID id.ID) ([]ownedActor, error) {
			return fetchRemainingActors(ctx.StdContext(), ctx.Tx(), runnerID)
		})
		for _, a := range owned {
			// GoingAway is modeled as a forced Lost: the actor workflow
			// already knows how to reschedule immediately once it's told
			// its runner is gone (handleStopped's force_reschedule
			// branch), so a distinct signal kind would only duplicate that
			// logic for the draining case.
			actor.SendLost(c, a.ActorID, actor.LostSignal{
				Generation:        a.Generation,
				ForceReschedule:   true,
				ResetRescheduling: stop.ResetActorRescheduling,
			})
		}

	case "":
		expired := workflow.Activity(c, "CheckExpired", r.RunnerID, func(ctx *workflow.Ctx, runnerID id.ID) (bool, error) {
			return checkExpired(ctx.StdContext(), ctx.Tx(), ctx.Now(), deps.Thresholds.RunnerLostThreshold, runnerID)
		})
		if expired || state.Draining {
			return state, workflow.Break(loopBreak{})
		}
	}

	return state, workflow.Continue[loopBreak]()
}

// finalizeRunner runs spec.md §4.4's after-loop teardown: fetch every
// actor this runner still owns before clearing the index that enumerates
// them, tell each it's lost, then clear the runner's own state and notify
// its connected process to close.
func finalizeRunner(c *workflow.Ctx, deps Deps, r *models.Runner) {
	owned := workflow.Activity(c, "FetchRemainingActorsFinal", r.RunnerID, func(ctx *workflow.Ctx, runnerID id.ID) ([]ownedActor, error) {
		return fetchRemainingActors(ctx.StdContext(), ctx.Tx(), runnerID)
	})

	*r = workflow.Activity(c, "ClearDbStopped", r.RunnerID, func(ctx *workflow.Ctx, runnerID id.ID) (models.Runner, error) {
		return clearDb(ctx.StdContext(), ctx.Tx(), ctx.Now().UnixMilli(), runnerID, clearStopped)
	})

	for _, a := range owned {
		actor.SendLost(c, a.ActorID, actor.LostSignal{
			Generation:        a.Generation,
			ForceReschedule:   false,
			ResetRescheduling: false,
		})
	}

	workflow.Activity(c, "NotifyRunnerClose", r.RunnerID, func(ctx *workflow.Ctx, runnerID id.ID) (struct{}, error) {
		if deps.Dispatcher == nil {
			return struct{}{}, nil
		}
		return struct{}{}, deps.Dispatcher.Close(ctx.StdContext(), runnerID)
	})
}
