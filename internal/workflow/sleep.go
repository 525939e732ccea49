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
	"time"
)

// inProcessSleepBudget bounds how long a Sleep call will block the
// current attempt in-process (spec.md §4.1: "if ts − now is smaller than
// the worker tick, the runtime sleeps in-process; otherwise it yields").
// Beyond this, the run commits a wake deadline and ends, freeing the
// worker to drive other instances.
const inProcessSleepBudget = 2 * time.Second

func contextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, d)
}

// Sleep commits a sleep event and pauses for d. Per the negative-sleep
// Open Question (see DESIGN.md), d ≤ 0 is a no-op.
func Sleep(c *Ctx, d time.Duration) {
	if d < 0 {
		d = 0
	}
	SleepUntil(c, c.Now().Add(d))
}

// SleepUntil commits a sleep event and pauses until deadline.
func SleepUntil(c *Ctx, deadline time.Time) {
	c.checkStop()
	loc := c.locationString()

	if _, ok := c.requireEvent(loc, EventSleep, 0); ok {
		// Already recorded by a prior attempt; on replay this is a no-op,
		// the deadline has necessarily already passed for us to be running
		// again.
		return
	}

	c.store.append(HistoryEvent{Location: loc, EventType: EventSleep, DeadlineTs: deadline.UnixMilli()})

	remaining := deadline.Sub(c.Now())
	if remaining <= inProcessSleepBudget {
		if remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-c.std.Done():
				panic(suspend{})
			}
		}
		return
	}

	commitSleepAndSuspend(c, deadline)
}

// commitSleepAndSuspend records deadline on the workflow's root record and
// unwinds the goroutine so the engine can commit and end this attempt; the
// worker poller resumes the workflow on/after the deadline.
func commitSleepAndSuspend(c *Ctx, deadline time.Time) {
	c.rec.WakeDeadlineTs = deadline.UnixMilli()
	panic(suspend{})
}
