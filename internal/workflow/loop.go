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
	"sync"
)

// LoopOutcome is returned by a Loop body to say whether iteration should
// continue or stop with a final result.
type LoopOutcome[R any] struct {
	done   bool
	result R
}

// Continue signals the loop to run another iteration.
func Continue[R any]() LoopOutcome[R] {
	return LoopOutcome[R]{}
}

// Break ends the loop with result.
func Break[R any](result R) LoopOutcome[R] {
	return LoopOutcome[R]{done: true, result: result}
}

// Loop runs a durable loop (spec.md §4.1's loope): each iteration gets its
// own sub-location so history replay can resume mid-loop, and state is
// persisted every iteration so a crash between iterations loses no
// progress.
func Loop[S, R any](c *Ctx, state S, body func(ctx *Ctx, state S) (S, LoopOutcome[R])) R {
	c.checkStop()

	for iteration := 0; ; iteration++ {
		iterCtx := c.child(iteration)
		loc := iterCtx.locationString()

		if ev, ok := c.requireEvent(loc, EventLoop, 0); ok {
			unmarshalInto(ev.LoopState, &state)
			if ev.LoopDone {
				var result R
				unmarshalInto(ev.Output, &result)
				return result
			}
			// Loop state recorded but not done: the event is written only
			// after the body returns, so this iteration already completed;
			// go on to the next one from its recorded state.
			continue
		}

		newState, outcome := body(iterCtx, state)
		state = newState

		ev := HistoryEvent{
			Location:  loc,
			EventType: EventLoop,
			Iteration: iteration,
			LoopState: marshalAny(state),
			LoopDone:  outcome.done,
		}
		if outcome.done {
			ev.Output = marshalAny(outcome.result)
		}
		c.store.append(ev)

		if outcome.done {
			return outcome.result
		}
	}
}

// Executable is a unit of work Join runs concurrently from the workflow's
// perspective.
type Executable func(ctx *Ctx) error

// Join runs executables without short-circuiting on error, so every
// branch's side effects are recorded before any error surfaces (spec.md
// §4.1). Each branch gets its own sub-location via Ctx.child and runs on
// its own goroutine, during replay as well as live.
func Join(c *Ctx, executables ...Executable) error {
	c.checkStop()

	var wg sync.WaitGroup
	errs := make([]error, len(executables))

	for i, exe := range executables {
		branchCtx := c.child(i)
		wg.Add(1)
		go func(i int, exe Executable) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if _, ok := r.(suspend); ok {
						// A branch suspending mid-Join is a design error in
						// this runtime: Join's branches must not themselves
						// contain suspend points that outlive the parent
						// attempt. The re-panic happens on the branch's own
						// goroutine, where no recover in the caller can
						// catch it, so it ends the process.
						panic(r)
					}
					errs[i] = panicToErr(r)
				}
			}()
			errs[i] = exe(branchCtx)
		}(i, exe)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func panicToErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return nil
}
