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

package serverless

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/runner"
	"github.com/rivet-gg/actor-engine/internal/workflow"
	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// Name is the workflow definition name this package registers under.
const Name = "serverless_outbound"

// Register wires the outbound workflow into e, ready for Dispatch.
func Register(e *workflow.Engine, deps Deps) {
	workflow.Register(e, Name, func(c *workflow.Ctx, in CreateInput) (Result, error) {
		return Create(c, deps, in)
	})
}

// loopState is Create's per-iteration state: just the backoff bookkeeping,
// carried from one reconnect attempt to the next the same way
// internal/runner's lifecycleState carries its Draining flag across
// runLifecycleStep iterations.
type loopState struct {
	Retry retryState `json:"retry"`
}

// Create drives one outbound connection to completion, reconnecting with
// exponential backoff on every failure until the connection finally
// drains cleanly (spec.md §4.7). Each reconnect attempt is one
// workflow.Loop iteration, following internal/runner/workflow.go's
// runLifecycleStep shape: several durable calls chained one after another
// against that iteration's own Ctx. The live HTTP/SSE connection is opened
// and torn down entirely inside a single Activity call per attempt — it
// cannot be held across a workflow checkpoint, since replay has no way to
// reattach to an already-open socket.
//
// A clean drain ends the workflow instance rather than looping back to
// reconnect: the Autoscaler's next reconciliation tick (internal/serverless
// autoscaler.go) notices the pool is one short and dispatches a
// replacement. This keeps a pool shrinking back to target eventually
// consistent over one request_lifespan, without needing to preempt a
// connection mid-stream from outside its own workflow instance.
func Create(c *workflow.Ctx, deps Deps, in CreateInput) (Result, error) {
	workflow.Activity(c, "RegisterOutbound", in, func(ctx *workflow.Ctx, in CreateInput) (struct{}, error) {
		ctx.Tx().Set(keys.NsServerlessOutbound(in.NamespaceID, in.RunnerName, ctx.WorkflowID()), []byte{1})
		return struct{}{}, nil
	})

	result := workflow.Loop(c, loopState{}, func(ctx *workflow.Ctx, st loopState) (loopState, workflow.LoopOutcome[Result]) {
		outcome := workflow.ActivityWithOptions(ctx, "RunOutboundConnection", in, connectionActivityOptions(in.Config, deps.Thresholds), func(actCtx *workflow.Ctx, in CreateInput) (connectionOutcome, error) {
			return runOutboundConnection(actCtx.StdContext(), deps, in), nil
		})

		if outcome.Err == nil {
			workflow.Activity(ctx, "DeregisterOutbound", in, func(actCtx *workflow.Ctx, in CreateInput) (struct{}, error) {
				actCtx.Tx().Clear(keys.NsServerlessOutbound(in.NamespaceID, in.RunnerName, actCtx.WorkflowID()))
				return struct{}{}, nil
			})
			return st, workflow.Break(Result{RunnerID: outcome.RunnerID, Drained: true})
		}

		workflow.Activity(ctx, "RecordPoolError", recordErrorInput{
			NamespaceID: in.NamespaceID,
			RunnerName:  in.RunnerName,
			Err:         outcome.Err,
		}, func(actCtx *workflow.Ctx, in recordErrorInput) (struct{}, error) {
			return struct{}{}, recordPoolError(actCtx.Tx(), actCtx.Now().UnixMilli(), in.NamespaceID, in.RunnerName, in.Err)
		})

		retry := st.Retry
		now := ctx.Now()
		gap := time.Duration(now.UnixMilli()-retry.LastAttemptTs) * time.Millisecond
		if retry.LastAttemptTs == 0 || gap > deps.Thresholds.RetryResetDuration {
			retry.Attempt = 0
		}
		retry.Attempt++
		retry.LastAttemptTs = now.UnixMilli()
		workflow.Sleep(ctx, backoffDuration(deps.Thresholds, retry.Attempt))

		st.Retry = retry
		return st, workflow.Continue[Result]()
	})

	return result, nil
}

// connectionActivityOptions gives RunOutboundConnection a generous single
// attempt: failures are reported through connectionOutcome.Err rather
// than a Go error, so the engine's own activity retry never fires — the
// workflow body above owns the reconnect/backoff decision per spec.md
// §4.7 step 5.
func connectionActivityOptions(cfg PoolConfig, th Thresholds) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		MaxRetries: 1,
		Timeout:    th.ConnectTimeout + cfg.RequestLifespan + cfg.drainGracePeriod() + th.ConnectTimeout,
	}
}

// connectionOutcome is RunOutboundConnection's result: exactly one of a
// drained success or a typed failure.
type connectionOutcome struct {
	RunnerID id.ID                     `json:"runner_id,omitempty"`
	Err      *gwerrors.RunnerPoolError `json:"err,omitempty"`
}

// recordErrorInput is RecordPoolError's activity input.
type recordErrorInput struct {
	NamespaceID id.ID                     `json:"namespace_id"`
	RunnerName  string                    `json:"runner_name"`
	Err         *gwerrors.RunnerPoolError `json:"err"`
}

// storedPoolError is the JSON shape written under keys.NsServerlessPoolError,
// the record the REST API and the gateway's fail-fast path read back.
type storedPoolError struct {
	Code       string `json:"code"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Message    string `json:"message,omitempty"`
	RawPayload string `json:"raw_payload,omitempty"`
	Ts         int64  `json:"ts"`
}

// recordPoolError writes poolErr as (namespace, runnerName)'s most recent
// RunnerPoolError, last-write-wins. A dedicated durable workflow would
// only add timeout/retry
// machinery this single transactional write already gets for free from
// the activity it runs inside.
func recordPoolError(tx kvstore.Tx, ts int64, namespaceID id.ID, runnerName string, poolErr *gwerrors.RunnerPoolError) error {
	if poolErr == nil {
		return nil
	}
	b, err := json.Marshal(storedPoolError{
		Code:       poolErr.Code,
		StatusCode: poolErr.StatusCode,
		Body:       poolErr.Body,
		Message:    poolErr.Message,
		RawPayload: poolErr.RawPayload,
		Ts:         ts,
	})
	if err != nil {
		return err
	}
	tx.Set(keys.NsServerlessPoolError(namespaceID, runnerName), b)
	return nil
}

// runOutboundConnection performs spec.md §4.7 steps 1-4 for one attempt:
// connect, read the init event, stream until the lifespan's drain
// deadline, signal the runner to stop, wait out the grace period, and
// close if it's still connected.
func runOutboundConnection(ctx context.Context, deps Deps, in CreateInput) connectionOutcome {
	connectCtx, cancel := context.WithTimeout(ctx, deps.Thresholds.ConnectTimeout)
	stream, err := deps.Client.Connect(connectCtx, ConnectRequest{
		URL:           in.Config.URL,
		Headers:       in.Config.Headers,
		AdminToken:    deps.AdminToken,
		TotalSlots:    in.Config.SlotsPerRunner,
		RunnerName:    in.RunnerName,
		NamespaceName: in.NamespaceID.String(),
	})
	cancel()
	if err != nil {
		return connectionOutcome{Err: classifyError(err, gwerrors.ServerlessConnectionError)}
	}
	defer stream.Close()

	initCtx, initCancel := context.WithTimeout(ctx, deps.Thresholds.ConnectTimeout)
	ev, err := stream.Next(initCtx)
	initCancel()
	if err != nil {
		return connectionOutcome{Err: classifyError(err, gwerrors.ServerlessStreamEndedEarly)}
	}

	var init ServerInit
	if ev.Name != "" && ev.Name != "server_init" {
		return connectionOutcome{Err: &gwerrors.RunnerPoolError{
			Code: gwerrors.ServerlessInvalidSsePayload, Message: "expected server_init event", RawPayload: string(ev.Data),
		}}
	}
	if err := json.Unmarshal(ev.Data, &init); err != nil {
		return connectionOutcome{Err: &gwerrors.RunnerPoolError{
			Code: gwerrors.ServerlessInvalidSsePayload, Message: err.Error(), RawPayload: string(ev.Data),
		}}
	}

	deadline := time.Now().Add(in.Config.RequestLifespan - in.Config.drainGracePeriod())
	if err := drainUntil(ctx, stream, deadline); err != nil {
		return connectionOutcome{RunnerID: init.RunnerID, Err: classifyError(err, gwerrors.ServerlessStreamEndedEarly)}
	}

	// The lifespan's working window is over: tell the runner to drain
	// gracefully (spec.md §4.7 step 2). SignalExternal is the entry point
	// this exact caller is documented for — this goroutine has no
	// enclosing *workflow.Ctx to call workflow.SignalSend from.
	if deps.Engine != nil {
		_ = deps.Engine.SignalExternal(ctx, init.RunnerID, runner.SignalStop, runner.StopSignal{ResetActorRescheduling: true})
	}

	graceDeadline := time.Now().Add(in.Config.drainGracePeriod())
	stillConnected := drainUntil(ctx, stream, graceDeadline) == nil
	if stillConnected && deps.Dispatcher != nil {
		_ = deps.Dispatcher.Close(ctx, init.RunnerID)
	}

	return connectionOutcome{RunnerID: init.RunnerID}
}

// drainUntil reads and discards events until deadline passes (a nil
// return) or the stream ends/errors first (the error is returned).
func drainUntil(ctx context.Context, stream Stream, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		stepCtx, cancel := context.WithTimeout(ctx, remaining)
		_, err := stream.Next(stepCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func classifyError(err error, fallback string) *gwerrors.RunnerPoolError {
	var pe *gwerrors.RunnerPoolError
	if errors.As(err, &pe) {
		return pe
	}
	return &gwerrors.RunnerPoolError{Code: fallback, Message: err.Error()}
}

func backoffDuration(th Thresholds, attempt int) time.Duration {
	d := time.Duration(float64(th.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	maxBackoff := time.Duration(float64(th.InitialBackoff) * math.Pow(2, float64(th.MaxBackoffExponent)))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
