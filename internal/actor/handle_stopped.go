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

// stopOutcome is handleStopped's verdict for what the lifecycle loop
// should do next.
type stopOutcome int

const (
	stopOutcomeReschedule stopOutcome = iota
	stopOutcomeSleep
	stopOutcomeDestroy
)

// stopCause describes why the actor is no longer running on its runner,
// as reported either by the runner itself (an Event frame) or inferred
// by this workflow (a Lost signal or gc_timeout_ts deadline).
type stopCause struct {
	// failed is true if the stop was not a clean, intentional exit.
	failed bool
	// intentSleep is true if the actor asked to sleep rather than stop
	// outright (spec.md's ActorIntentSleep), only meaningful when !failed.
	intentSleep bool
	// forceReschedule skips the crash_policy decision entirely and always
	// reschedules (a Lost signal can carry this for a runner the caller
	// already knows should not be trusted to have actually stopped the
	// actor cleanly).
	forceReschedule bool
	// resetRescheduling clears accumulated backoff state instead of
	// growing it, used when the stop was not the actor's own fault (e.g.
	// a runner disconnect unrelated to the actor's own health).
	resetRescheduling bool
	// priorRunnerWorkflowID, if set, gets a defensive StopActor in case
	// the runner is still alive but presumed lost.
	priorRunnerWorkflowID id.ID
}

// handleStopped runs spec.md §4.2's handle_stopped: free the runner slot,
// drain the runner name's pending queue with the slot just freed, and
// decide whether the actor should be rescheduled, put to sleep, or torn
// down for good.
func handleStopped(c *workflow.Ctx, deps Deps, a *models.Actor, st *loopState, cause stopCause) stopOutcome {
	if !cause.failed {
		st.Reschedule = rescheduleState{}
	}
	st.GCTimeoutTs = 0
	st.RunnerID = id.Nil
	st.RunnerWorkflowID = id.Nil

	// deallocate mutates the actor record in place, so its Activity must
	// return the whole updated record as output: on replay the closure
	// body never runs again, only its cached output is handed back, and a
	// bare bool would lose every field deallocate cleared.
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

	if !cause.priorRunnerWorkflowID.IsNil() {
		runnerWorkflowID := cause.priorRunnerWorkflowID
		generation := st.Generation
		workflow.Activity(c, "StopActorDefensive", struct{}{}, func(ctx *workflow.Ctx, _ struct{}) (struct{}, error) {
			sendStopActor(ctx, runnerWorkflowID, StopActorCommand{ActorID: a.ActorID, Generation: generation})
			return struct{}{}, nil
		})
	}

	switch {
	case cause.forceReschedule:
		return stopOutcomeReschedule
	case cause.failed:
		switch a.CrashPolicy {
		case models.CrashPolicyRestart:
			return stopOutcomeReschedule
		case models.CrashPolicySleep:
			return stopOutcomeSleep
		default: // CrashPolicyDestroy
			return stopOutcomeDestroy
		}
	case cause.intentSleep:
		return stopOutcomeSleep
	default:
		return stopOutcomeDestroy
	}
}
