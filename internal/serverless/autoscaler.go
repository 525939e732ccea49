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
	"time"

	"github.com/rivet-gg/actor-engine/internal/allocation"
	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/workflow"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// DefaultReconcileInterval bounds how often the Autoscaler reconciles every
// pool's desired outbound connection count against its actual count.
const DefaultReconcileInterval = 5 * time.Second

// PoolTarget identifies one namespace/runner-name's serverless pool and the
// config governing it.
type PoolTarget struct {
	NamespaceID id.ID
	RunnerName  string
	Config      PoolConfig
}

// PoolSource enumerates the serverless pools currently configured across
// every namespace. internal/namespace.Store implements it; Autoscaler
// only depends on the
// interface so it can be tested against a fixed in-memory list.
type PoolSource interface {
	Pools(ctx context.Context) ([]PoolTarget, error)
}

// StaticPoolSource is a fixed PoolSource, useful for tests and for a
// single-namespace deployment that has no dynamic namespace config.
type StaticPoolSource []PoolTarget

// Pools implements PoolSource.
func (s StaticPoolSource) Pools(ctx context.Context) ([]PoolTarget, error) {
	return []PoolTarget(s), nil
}

// Autoscaler periodically compares each pool's desired outbound connection
// count (spec.md §4.7's ceil(desired_slots/slots_per_runner)+margin formula)
// against the number of outbound workflow instances currently registered
// under keys.NsServerlessOutbound, dispatching new ones to close any
// shortfall. It never forces an over-provisioned pool to shrink early —
// Create's own exit-without-reconnect-on-success behavior (internal/serverless
// workflow.go) lets a pool drain back down to target over one
// request_lifespan instead.
type Autoscaler struct {
	Store    kvstore.Store
	Engine   *workflow.Engine
	Pools    PoolSource
	Interval time.Duration
}

// NewAutoscaler returns an Autoscaler ready to Run.
func NewAutoscaler(store kvstore.Store, engine *workflow.Engine, pools PoolSource) *Autoscaler {
	return &Autoscaler{Store: store, Engine: engine, Pools: pools}
}

func (a *Autoscaler) interval() time.Duration {
	if a.Interval > 0 {
		return a.Interval
	}
	return DefaultReconcileInterval
}

// Run reconciles every pool at Interval until ctx is canceled, mirroring
// internal/workflow.Worker.Run's ticker-loop shape.
func (a *Autoscaler) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.reconcileOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *Autoscaler) reconcileOnce(ctx context.Context) error {
	pools, err := a.Pools.Pools(ctx)
	if err != nil {
		return err
	}
	for _, p := range pools {
		// One pool's transient error (a bad config, a conflict the store's
		// own retry budget didn't absorb) must not stop every other pool
		// from being reconciled this tick.
		_ = a.reconcilePool(ctx, p)
	}
	return nil
}

func (a *Autoscaler) reconcilePool(ctx context.Context, p PoolTarget) error {
	var desired int64
	var active int
	err := a.Store.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		d, err := allocation.DesiredServerlessSlots(ctx, tx, p.NamespaceID, p.RunnerName)
		if err != nil {
			return err
		}
		desired = d

		rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
			Begin: keys.NsServerlessOutboundPrefix(p.NamespaceID, p.RunnerName),
			End:   keys.NsServerlessOutboundEnd(p.NamespaceID, p.RunnerName),
			Mode:  kvstore.StreamIterator,
		}, kvstore.Snapshot)
		if err != nil {
			return err
		}
		active = len(rows)
		return nil
	})
	if err != nil {
		return err
	}

	target := p.Config.DesiredOutbound(desired)
	for i := active; i < target; i++ {
		if _, err := workflow.Dispatch(ctx, a.Engine, Name, CreateInput{
			NamespaceID: p.NamespaceID,
			RunnerName:  p.RunnerName,
			Config:      p.Config,
		}); err != nil {
			return err
		}
	}
	return nil
}
