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
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// runDestroy tears an actor down once the lifecycle loop has exited:
// release its runner slot if it still holds one, clear its list/key
// indexes, and release the external key reservation. Modeled as plain
// Activity steps within the parent workflow rather than a dispatched
// child workflow (spec.md describes a "destroy workflow child", but it
// never suspends or needs retry history independent of the parent, so
// folding it into the parent's own steps keeps one fewer moving part
// without losing any durability guarantee — see DESIGN.md's Open
// Question entry for internal/actor).
func runDestroy(c *workflow.Ctx, deps Deps, a *models.Actor, brk loopBreak) Result {
	if !a.RunnerID.IsNil() {
		runnerWorkflowID := a.RunnerWorkflowID
		if brk.Kill {
			workflow.Activity(c, "StopActor", StopActorCommand{ActorID: a.ActorID, Generation: brk.Generation}, func(ctx *workflow.Ctx, cmd StopActorCommand) (struct{}, error) {
				sendStopActor(ctx, runnerWorkflowID, cmd)
				return struct{}{}, nil
			})
		}

		wasServerless := a.AllocatedServerlessSlot
		updated := workflow.Activity(c, "Deallocate", *a, func(ctx *workflow.Ctx, in models.Actor) (models.Actor, error) {
			_, err := deallocate(ctx.StdContext(), ctx.Tx(), ctx.Now(), deps.Thresholds.EligibleThreshold, &in)
			return in, err
		})
		*a = updated

		drain := workflow.Activity(c, "DrainPendingActors", struct{}{}, func(ctx *workflow.Ctx, _ struct{}) (allocation.DrainResult, error) {
			return allocation.DrainPendingActors(ctx.StdContext(), ctx.Tx(), ctx.Now(), deps.Thresholds.EligibleThreshold, a.NamespaceID, a.RunnerNameSelector)
		})
		for _, alloc := range drain.Allocated {
			workflow.SignalSend(c, alloc.ActorID, SignalAllocate, AllocateSignal{
				RunnerID:         alloc.RunnerID,
				RunnerWorkflowID: alloc.RunnerWorkflowID,
				ProtocolVersion:  alloc.ProtocolVersion,
			})
		}
		if drain.RemainingPending == 0 && wasServerless {
			workflow.Activity(c, "BumpServerlessDesiredSlotsDown", struct{}{}, func(ctx *workflow.Ctx, _ struct{}) (struct{}, error) {
				allocation.BumpServerlessDesiredSlots(ctx.Tx(), a.NamespaceID, a.RunnerNameSelector, -1)
				return struct{}{}, nil
			})
		}
	}

	workflow.Activity(c, "ClearIndexesAndReservation", struct{}{}, func(ctx *workflow.Ctx, _ struct{}) (struct{}, error) {
		tx := ctx.Tx()
		clearKeyIndex(tx, a)
		if a.CreateCompleteTs != 0 {
			tx.Clear(keys.ActorsByName(a.NamespaceID, a.Name, a.ActorID))
		}
		a.DestroyTs = ctx.Now().UnixMilli()
		if err := putActor(tx, a); err != nil {
			return struct{}{}, err
		}
		if deps.KeyReservation != nil && a.Key != "" {
			return struct{}{}, deps.KeyReservation.Release(ctx.StdContext(), a.NamespaceID, a.Name, a.Key)
		}
		return struct{}{}, nil
	})

	return Result{ActorID: a.ActorID, Generation: brk.Generation, Killed: brk.Kill}
}
