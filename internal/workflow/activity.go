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
	"fmt"
	"math"
	"time"

	"github.com/rivet-gg/actor-engine/pkg/errors"
)

// ActivityOptions configures a single Activity call. Zero value uses
// DefaultActivityOptions.
type ActivityOptions struct {
	MaxRetries      int
	Timeout         time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// DefaultActivityOptions matches the teacher's operation-retry defaults
// generalized to spec.md §4.1's per-activity MAX_RETRIES contract.
var DefaultActivityOptions = ActivityOptions{
	MaxRetries:     8,
	Timeout:        30 * time.Second,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// Activity runs fn outside of history (spec.md §4.1): on success its
// output is committed and returned; on failure an error event with an
// incrementing count is committed and the activity is retried after an
// exponential backoff, across workflow attempts if necessary. Reaching
// MaxRetries raises a fatal ActivityMaxFailuresReached.
//
// name must be stable across code changes to the same call site — it
// identifies the activity in history, independent of its location, so log
// output reads naturally ("ValidateInput failed 3 times").
func Activity[I, O any](c *Ctx, name string, input I, fn func(ctx *Ctx, input I) (O, error)) O {
	return ActivityWithOptions(c, name, input, DefaultActivityOptions, fn)
}

// ActivityWithOptions is Activity with explicit retry/timeout tuning.
func ActivityWithOptions[I, O any](c *Ctx, name string, input I, opts ActivityOptions, fn func(ctx *Ctx, input I) (O, error)) O {
	c.checkStop()
	loc := c.locationString()

	if ev, ok := c.requireEvent(loc, EventActivity, 0); ok {
		if len(ev.Errors) == 0 {
			var out O
			unmarshalInto(ev.Output, &out)
			return out
		}
		// A previously-recorded failure: honor backoff before retrying,
		// then fall through to a live attempt below.
		lastErr := ev.Errors[len(ev.Errors)-1]
		backoff := backoffFor(opts, lastErr.Count)
		waitUntil := time.UnixMilli(lastErr.Ts).Add(backoff)
		if d := waitUntil.Sub(c.Now()); d > 0 {
			commitSleepAndSuspend(c, waitUntil)
		}
	}

	existingErrors := []ActivityError{}
	if ev, ok := c.store.get(loc); ok {
		existingErrors = ev.Errors
	}
	if len(existingErrors) >= opts.MaxRetries {
		panic(errors.ErrActivityMaxFailuresReached(name, len(existingErrors)))
	}

	out, err := runActivity(c, opts, input, fn)
	if err != nil {
		existingErrors = append(existingErrors, ActivityError{
			ErrorString: err.Error(),
			Ts:          c.Now().UnixMilli(),
			Count:       len(existingErrors) + 1,
		})
		c.store.append(HistoryEvent{
			Location:  loc,
			EventType: EventActivity,
			Name:      name,
			Input:     marshalAny(input),
			Errors:    existingErrors,
		})
		if len(existingErrors) >= opts.MaxRetries {
			panic(errors.ErrActivityMaxFailuresReached(name, len(existingErrors)))
		}
		// Recoverable: surface a WorkflowError of class Recoverable so the
		// engine's step loop persists this attempt and relies on the next
		// wake (driven by the backoff check above on replay) to retry.
		panic(&errors.WorkflowError{Class: errors.ClassRecoverable, Message: fmt.Sprintf("activity %s failed", name), Cause: err})
	}

	c.store.append(HistoryEvent{
		Location:  loc,
		EventType: EventActivity,
		Name:      name,
		Input:     marshalAny(input),
		Output:    marshalAny(out),
	})
	return out
}

func runActivity[I, O any](c *Ctx, opts ActivityOptions, input I, fn func(ctx *Ctx, input I) (O, error)) (out O, err error) {
	ctx, cancel := contextWithTimeout(c.std, opts.Timeout)
	defer cancel()

	child := *c
	child.std = ctx
	return fn(&child, input)
}

func backoffFor(opts ActivityOptions, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(opts.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if d > opts.MaxBackoff {
		d = opts.MaxBackoff
	}
	return d
}
