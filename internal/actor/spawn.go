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

package actor

import (
	"github.com/rivet-gg/actor-engine/internal/allocation"
	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// spawnOutcome is what spawnActor settled on: the actor is running on a
// runner, asleep with no runner, or was destroyed before ever getting
// one (only possible while Pending — see spawnActor's Destroy handling).
type spawnOutcome struct {
	Running          bool
	Destroyed        bool
	RunnerID         id.ID
	RunnerWorkflowID id.ID
}

// spawnActor is spec.md §4.3's allocation call plus its "Wrapper in the
// actor workflow": it runs the matching engine, then reacts to the
// outcome — signaling the runner and the serverless autoscaler on an
// immediate allocation, or waiting out the pending queue (listening for
// Allocate | Destroy) when none was free.
func spawnActor(c *workflow.Ctx, deps Deps, a *models.Actor, generation uint32, forceAllocate bool) spawnOutcome {
	result := workflow.Activity(c, "SpawnActor", allocation.Request{
		NamespaceID:        a.NamespaceID,
		RunnerName:         a.RunnerNameSelector,
		ActorID:            a.ActorID,
		Generation:         generation,
		CrashPolicy:        a.CrashPolicy,
		ForceAllocate:      forceAllocate,
		HasValidServerless: a.ForServerless,
	}, func(ctx *workflow.Ctx, req allocation.Request) (allocation.Result, error) {
		return allocation.Allocate(ctx.StdContext(), ctx.Tx(), ctx.Now(), deps.Thresholds.EligibleThreshold, req)
	})

	switch result.Outcome {
	case allocation.Allocated:
		bumpAutoscaler(c, deps, a)
		persistRunnerAssignment(c, a, result.RunnerID, result.RunnerWorkflowID)
		sendStartActor(c, result.RunnerWorkflowID, StartActorCommand{ActorID: a.ActorID, Generation: generation, Name: a.Name, Key: a.Key, Input: a.Input})
		return spawnOutcome{Running: true, RunnerID: result.RunnerID, RunnerWorkflowID: result.RunnerWorkflowID}

	case allocation.Sleep:
		return spawnOutcome{}

	default: // allocation.Pending
		bumpAutoscaler(c, deps, a)
		outcome := waitForPendingOutcome(c, deps, a, generation, result.PendingAllocationTs)
		if !outcome.RunnerID.IsNil() {
			// Covers both the ordinary Running case and the raced Destroy
			// case: either way a runner slot was actually claimed and must
			// be visible on the record so deallocate (called next, by
			// either the lifecycle loop or runDestroy) knows to free it.
			persistRunnerAssignment(c, a, outcome.RunnerID, outcome.RunnerWorkflowID)
		}
		if outcome.Running {
			sendStartActor(c, outcome.RunnerWorkflowID, StartActorCommand{ActorID: a.ActorID, Generation: generation, Name: a.Name, Key: a.Key, Input: a.Input})
		}
		return outcome
	}
}

// persistRunnerAssignment records which runner this actor was just given a
// slot on. Without this, the actor record's runner_id/runner_workflow_id
// fields stay zero forever, and deallocate's "nothing to free" guard would
// never see otherwise.
func persistRunnerAssignment(c *workflow.Ctx, a *models.Actor, runnerID, runnerWorkflowID id.ID) {
	updated := workflow.Activity(c, "SetActorRunner", *a, func(ctx *workflow.Ctx, in models.Actor) (models.Actor, error) {
		in.RunnerID = runnerID
		in.RunnerWorkflowID = runnerWorkflowID
		return in, putActor(ctx.Tx(), &in)
	})
	*a = updated
}

// waitForPendingOutcome listens for the drain entry point to signal
// Allocate, or for an explicit Destroy while still queued. Once a Destroy
// has been seen, it still must drain a since-arrived Allocate rather than
// leave it unread, but the caller is told Destroyed so it tears the
// actor down (with a runner to stop, if one did arrive) instead of
// entering the running lifecycle loop.
func waitForPendingOutcome(c *workflow.Ctx, deps Deps, a *models.Actor, generation uint32, pendingAllocationTs int64) spawnOutcome {
	destroyRequested := false
	waitNames := []string{SignalAllocate, SignalDestroy}

	for {
		name, body := workflow.ListenAny(c, waitNames, nil)
		switch name {
		case SignalAllocate:
			var alloc AllocateSignal
			decodeSignalBody(body, &alloc)
			if destroyRequested {
				return spawnOutcome{Destroyed: true, RunnerID: alloc.RunnerID, RunnerWorkflowID: alloc.RunnerWorkflowID}
			}
			return spawnOutcome{Running: true, RunnerID: alloc.RunnerID, RunnerWorkflowID: alloc.RunnerWorkflowID}

		case SignalDestroy:
			cleared := workflow.Activity(c, "ClearPendingAllocation", clearPendingInput{
				NamespaceID: a.NamespaceID,
				RunnerName:  a.RunnerNameSelector,
				Ts:          pendingAllocationTs,
				ActorID:     a.ActorID,
			}, func(ctx *workflow.Ctx, in clearPendingInput) (bool, error) {
				return allocation.ClearPendingAllocation(ctx.StdContext(), ctx.Tx(), in.NamespaceID, in.RunnerName, in.Ts, in.ActorID)
			})
			if cleared {
				return spawnOutcome{Destroyed: true}
			}
			// The entry was already drained: an Allocate is in flight and
			// must be consumed so it doesn't leak as an unread signal.
			destroyRequested = true
			waitNames = []string{SignalAllocate}
		}
	}
}

type clearPendingInput struct {
	NamespaceID id.ID
	RunnerName  string
	Ts          int64
	ActorID     id.ID
}

func bumpAutoscaler(c *workflow.Ctx, deps Deps, a *models.Actor) {
	if !a.ForServerless {
		return
	}
	workflow.Activity(c, "BumpServerlessDesiredSlots", struct{}{}, func(ctx *workflow.Ctx, _ struct{}) (struct{}, error) {
		allocation.BumpServerlessDesiredSlots(ctx.Tx(), a.NamespaceID, a.RunnerNameSelector, 1)
		return struct{}{}, nil
	})
}
