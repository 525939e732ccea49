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
	"encoding/json"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// pollInterval bounds how often Worker.Run sweeps the workflow keyspace
// for instances whose wake condition has become true. Run does not
// subscribe to the bus, so a delivered signal is picked up by the next
// sweep.
const pollInterval = 500 * time.Millisecond

// Worker repeatedly sweeps an Engine's workflow records, calling RunOnce on
// every instance whose wake condition (deadline elapsed, or a signal it is
// listening for has arrived) is satisfied. Several Workers across
// processes can share one Engine's store safely: each instance is claimed
// via its workflow.worker_id/workflow.silence_ts lease before RunOnce
// executes it, so a racing worker backs off instead of duplicating side
// effects; RunOnce's own transaction is the second line of defense if a
// claim is ever stolen from a worker that is merely slow, not dead.
type Worker struct {
	id     string
	engine *Engine
}

// NewWorker returns a Worker bound to engine, identified by id (used as
// the workflow.worker_id lease holder — must be unique per live worker
// process/goroutine).
func NewWorker(id string, engine *Engine) *Worker {
	return &Worker{id: id, engine: engine}
}

// Run sweeps until ctx is canceled, running eligible workflow instances at
// pollInterval. It is the simplest possible scheduler: spec.md's
// production deployment would shard the keyspace across many Workers, but
// a single full scan is sufficient for one daemon process's worth of
// instances.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.sweepOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) sweepOnce(ctx context.Context) error {
	due, err := w.dueInstances(ctx)
	if err != nil {
		return err
	}
	for _, workflowID := range due {
		ok, claimErr := w.engine.claim(ctx, workflowID, w.id)
		if claimErr != nil || !ok {
			// Either a transient error or another worker already holds the
			// lease; either way, skip this instance this sweep and let the
			// next one reassess.
			continue
		}
		runErr := w.engine.RunOnce(ctx, workflowID)
		if releaseErr := w.engine.release(ctx, workflowID); releaseErr != nil && runErr == nil {
			runErr = releaseErr
		}
		// A single instance erroring (e.g. a transient conflict that
		// exhausted the store's own retry budget) must not stop the sweep
		// from servicing every other instance.
		_ = runErr
	}
	return nil
}

// dueInstances scans every workflow record and returns the ids of
// instances that are not done and whose wake deadline has passed, or that
// have no wake condition at all (a freshly dispatched instance that has
// never run), or that have a pending signal whose name is in their
// wake_signals.
func (w *Worker) dueInstances(ctx context.Context) ([]id.ID, error) {
	var due []id.ID
	err := w.engine.store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
			Begin: keys.WorkflowPrefix(),
			End:   keys.WorkflowEnd(),
		}, kvstore.Snapshot)
		if err != nil {
			return err
		}
		now := w.engine.clock().UnixMilli()
		for _, row := range rows {
			var rec Record
			if err := json.Unmarshal(row.Value, &rec); err != nil {
				continue
			}
			if rec.Done {
				continue
			}
			if !rec.HasWakeCondition() || (rec.WakeDeadlineTs != 0 && rec.WakeDeadlineTs <= now) {
				due = append(due, rec.WorkflowID)
			} else if len(rec.WakeSignals) > 0 {
				sigs, err := tx.GetRange(ctx, kvstore.RangeOptions{
					Begin: keys.SignalPrefix(rec.WorkflowID),
					End:   keys.SignalEnd(rec.WorkflowID),
				}, kvstore.Snapshot)
				if err != nil {
					return err
				}
				for _, s := range sigs {
					var ps pendingSignal
					if json.Unmarshal(s.Value, &ps) == nil && containsString(rec.WakeSignals, ps.Name) {
						due = append(due, rec.WorkflowID)
						break
					}
				}
			}
		}
		return nil
	})
	return due, err
}
