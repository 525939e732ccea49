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
	"math"
	"time"

	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/internal/workflow"
)

// rescheduleActor bumps the generation and tries again for a runner
// (spec.md §4.2's reschedule_actor): the retry count resets if the last
// attempt was long enough ago (or the caller forced a reset), otherwise
// it grows and widens the exponential backoff before the next attempt is
// allowed to run live at all. forceAllocate is passed straight through to
// spawnActor so a forced reschedule or an alarm-driven wake can claim a
// runner even when the actor would otherwise queue or sleep.
func rescheduleActor(c *workflow.Ctx, deps Deps, a *models.Actor, st *loopState, resetRescheduling, forceAllocate bool) (destroyed bool) {
	now := c.Now()
	gap := time.Duration(now.UnixMilli()-st.Reschedule.LastRetryTs) * time.Millisecond
	if st.Reschedule.LastRetryTs == 0 || gap > deps.Thresholds.RetryResetDuration || resetRescheduling {
		st.Reschedule.RetryCount = 0
	} else {
		st.Reschedule.RetryCount++
	}
	st.Reschedule.LastRetryTs = now.UnixMilli()

	if st.Reschedule.RetryCount > 0 {
		backoff := backoffDuration(deps.Thresholds, st.Reschedule.RetryCount)
		workflow.Sleep(c, backoff)
	}

	st.Generation++
	st.Sleeping = false
	st.WillWake = false

	outcome := spawnActor(c, deps, a, st.Generation, forceAllocate)
	st.WakeForAlarm = false

	switch {
	case outcome.Destroyed:
		// A Destroy signal raced the pending-allocation wait and was
		// consumed there; tell the caller to break the lifecycle loop
		// instead of looping on a state that no longer exists.
		st.RunnerID = outcome.RunnerID
		st.RunnerWorkflowID = outcome.RunnerWorkflowID
		return true
	case outcome.Running:
		st.RunnerID = outcome.RunnerID
		st.RunnerWorkflowID = outcome.RunnerWorkflowID
		st.GCTimeoutTs = now.Add(deps.Thresholds.ActorStartThreshold).UnixMilli()
	default:
		st.Sleeping = true
	}
	return false
}

func backoffDuration(th Thresholds, retryCount int) time.Duration {
	d := time.Duration(float64(th.InitialRescheduleBackoff) * math.Pow(2, float64(retryCount-1)))
	if d > th.MaxRescheduleBackoff {
		d = th.MaxRescheduleBackoff
	}
	return d
}
