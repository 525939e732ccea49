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

package runner

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivet-gg/actor-engine/internal/actor"
	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/internal/workflow"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

// testHarness mirrors internal/actor/workflow_test.go's harness: a fresh
// Engine bundled with the kvstore.Store it was built on, so tests can read
// rows the engine itself exposes no accessor for.
type testHarness struct {
	store kvstore.Store
	e     *workflow.Engine
}

func newTestEngine(t *testing.T, clock func() time.Time) *testHarness {
	t.Helper()
	store := kvstore.NewMemoryStore()
	return &testHarness{store: store, e: workflow.NewEngine(store, pubsub.NewMemoryBus(), 1, nil, clock)}
}

func loadRecord(t *testing.T, h *testHarness, workflowID id.ID) workflow.Record {
	t.Helper()
	var rec workflow.Record
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		b, err := tx.Get(ctx, keys.Workflow(workflowID), kvstore.Serializable)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, &rec)
	})
	require.NoError(t, err)
	return rec
}

func loadRunner(t *testing.T, h *testHarness, runnerID id.ID) models.Runner {
	t.Helper()
	var r models.Runner
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		b, err := tx.Get(ctx, keys.Runner(runnerID), kvstore.Serializable)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, &r)
	})
	require.NoError(t, err)
	return r
}

func keyExists(t *testing.T, h *testHarness, key []byte) bool {
	t.Helper()
	var ok bool
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		var err error
		ok, err = tx.Exists(ctx, key, kvstore.Serializable)
		return err
	})
	require.NoError(t, err)
	return ok
}

func allocIndexCount(t *testing.T, h *testHarness, namespaceID id.ID, runnerName string) int {
	t.Helper()
	var rows []kvstore.KeyValue
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		var err error
		rows, err = tx.GetRange(ctx, kvstore.RangeOptions{
			Begin: keys.NsRunnerAllocPrefix(namespaceID, runnerName),
			End:   keys.NsRunnerAllocEnd(namespaceID, runnerName),
		}, kvstore.Snapshot)
		return err
	})
	require.NoError(t, err)
	return len(rows)
}

// pendingSignalNames returns the names of every signal still buffered for
// targetWorkflowID, in storage order.
func pendingSignalNames(t *testing.T, h *testHarness, targetWorkflowID id.ID) []string {
	t.Helper()
	var names []string
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		rows, err := tx.GetRange(ctx, kvstore.RangeOptions{
			Begin: keys.SignalPrefix(targetWorkflowID),
			End:   keys.SignalEnd(targetWorkflowID),
		}, kvstore.Snapshot)
		if err != nil {
			return err
		}
		for _, row := range rows {
			var ps struct {
				Name string          `json:"name"`
				Body json.RawMessage `json:"body"`
			}
			if err := json.Unmarshal(row.Value, &ps); err != nil {
				return err
			}
			names = append(names, ps.Name)
		}
		return nil
	})
	require.NoError(t, err)
	return names
}

// seedOwnedActor writes a runner[actor] ownership row directly, the way
// internal/actor's spawn activities do once a runner has actually claimed
// an actor, giving fetchRemainingActors something to enumerate.
func seedOwnedActor(t *testing.T, h *testHarness, runnerID, actorID id.ID, generation uint32) {
	t.Helper()
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, generation)
		tx.Set(keys.RunnerActor(runnerID, actorID), v)
		return nil
	})
	require.NoError(t, err)
}

// registerSignaler wires a trivial workflow this suite uses as a stand-in
// for whatever other workflow would otherwise originate a signal (the
// serverless autoscaler's Stop, or a reconnecting process's Init) — sending
// a signal requires a *workflow.Ctx, which only a running workflow body can
// obtain.
func registerSignaler(h *testHarness) {
	workflow.Register(h.e, "test.signaler", func(c *workflow.Ctx, in signalerInput) (struct{}, error) {
		workflow.SignalSend(c, in.TargetWorkflowID, in.Name, in.Body)
		return struct{}{}, nil
	})
}

type signalerInput struct {
	TargetWorkflowID id.ID           `json:"target_workflow_id"`
	Name             string          `json:"name"`
	Body             json.RawMessage `json:"body"`
}

func sendSignal(t *testing.T, h *testHarness, target id.ID, name string, body any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	senderID, err := workflow.Dispatch(context.Background(), h.e, "test.signaler", signalerInput{
		TargetWorkflowID: target,
		Name:             name,
		Body:             raw,
	})
	require.NoError(t, err)
	require.NoError(t, h.e.RunOnce(context.Background(), senderID))
}

// fakeDispatcher records every command this test's Deps were handed,
// standing in for internal/runner/wire's real websocket relay.
type fakeDispatcher struct {
	started []actor.StartActorCommand
	stopped []actor.StopActorCommand
	closed  []id.ID
}

func (f *fakeDispatcher) StartActor(_ context.Context, _ id.ID, cmd actor.StartActorCommand) error {
	f.started = append(f.started, cmd)
	return nil
}

func (f *fakeDispatcher) StopActor(_ context.Context, _ id.ID, cmd actor.StopActorCommand) error {
	f.stopped = append(f.stopped, cmd)
	return nil
}

func (f *fakeDispatcher) Close(_ context.Context, runnerID id.ID) error {
	f.closed = append(f.closed, runnerID)
	return nil
}

func TestInitRunner_FreshCreatesRecordAndIndexes(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	namespaceID := id.New(1)

	in := CreateInput{NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 4, ProtocolVersion: 2}
	workflowID := id.New(1)

	var r models.Runner
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		var err error
		r, err = initRunner(ctx, tx, now.UnixMilli(), workflowID, in)
		return err
	})
	require.NoError(t, err)

	require.Equal(t, workflowID, r.RunnerID)
	require.Equal(t, uint32(4), r.RemainingSlots)
	require.Equal(t, uint32(4), r.TotalSlots)

	require.True(t, keyExists(t, h, keys.NsAllRunner(namespaceID, "default", workflowID)))
	require.True(t, keyExists(t, h, keys.NsActiveRunner(namespaceID, "default", workflowID)))
	require.True(t, keyExists(t, h, keys.NsRunnerByKey(namespaceID, "default", "runner-1")))
	require.Equal(t, 1, allocIndexCount(t, h, namespaceID, "default"))
}

func TestInitRunner_ReconnectPreservesRemainingSlotsAndResetsLifecycleStamps(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	namespaceID := id.New(1)
	runnerID := id.New(1)

	first := CreateInput{NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 4, ProtocolVersion: 1}
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		r, err := initRunner(ctx, tx, now.UnixMilli(), runnerID, first)
		if err != nil {
			return err
		}
		// Simulate three slots already claimed and the runner having since
		// begun draining and expiring, the way a real reconnect would find it.
		r.RemainingSlots = 1
		r.DrainTs = now.UnixMilli()
		r.ExpiredTs = now.UnixMilli()
		return putRunner(tx, &r)
	})
	require.NoError(t, err)

	reconnect := CreateInput{RunnerID: runnerID, NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 2, TotalSlots: 8, ProtocolVersion: 3}
	var r models.Runner
	err = h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		var err error
		r, err = initRunner(ctx, tx, now.UnixMilli(), id.New(1), reconnect)
		return err
	})
	require.NoError(t, err)

	require.Equal(t, uint32(1), r.RemainingSlots, "remaining_slots must survive a reconnect")
	require.Equal(t, uint32(2), r.Version)
	require.Equal(t, uint32(8), r.TotalSlots)
	require.Equal(t, uint16(3), r.ProtocolVersion)
	require.Zero(t, r.DrainTs)
	require.Zero(t, r.ExpiredTs)
}

func TestClearDb_DrainingClearsAllocIndexAndRunnerByKey(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	namespaceID := id.New(1)
	runnerID := id.New(1)

	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		_, err := initRunner(ctx, tx, now.UnixMilli(), runnerID, CreateInput{
			NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 2,
		})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, allocIndexCount(t, h, namespaceID, "default"))

	var r models.Runner
	err = h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		var err error
		r, err = clearDb(ctx, tx, now.UnixMilli(), runnerID, clearDraining)
		return err
	})
	require.NoError(t, err)

	require.NotZero(t, r.DrainTs)
	require.Equal(t, 0, allocIndexCount(t, h, namespaceID, "default"))
	require.False(t, keyExists(t, h, keys.NsRunnerByKey(namespaceID, "default", "runner-1")))
	// A draining runner is still counted active until it fully stops.
	require.True(t, keyExists(t, h, keys.NsActiveRunner(namespaceID, "default", runnerID)))
}

func TestClearDb_StoppedClearsActiveIndexAndOwnership(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	namespaceID := id.New(1)
	runnerID := id.New(1)
	actorID := id.New(1)

	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		_, err := initRunner(ctx, tx, now.UnixMilli(), runnerID, CreateInput{
			NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 2,
		})
		return err
	})
	require.NoError(t, err)
	seedOwnedActor(t, h, runnerID, actorID, 1)

	owned, err := func() ([]ownedActor, error) {
		var owned []ownedActor
		err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
			var err error
			owned, err = fetchRemainingActors(ctx, tx, runnerID)
			return err
		})
		return owned, err
	}()
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, actorID, owned[0].ActorID)
	require.Equal(t, uint32(1), owned[0].Generation)

	err = h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		_, err := clearDb(ctx, tx, now.UnixMilli(), runnerID, clearStopped)
		return err
	})
	require.NoError(t, err)

	require.False(t, keyExists(t, h, keys.NsActiveRunner(namespaceID, "default", runnerID)))
	require.False(t, keyExists(t, h, keys.RunnerActor(runnerID, actorID)))
}

func TestCheckExpired(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	namespaceID := id.New(1)
	runnerID := id.New(1)

	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		_, err := initRunner(ctx, tx, now.UnixMilli(), runnerID, CreateInput{
			NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 2,
		})
		return err
	})
	require.NoError(t, err)

	var expired bool
	err = h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		var err error
		expired, err = checkExpired(ctx, tx, now, DefaultThresholds.RunnerLostThreshold, runnerID)
		return err
	})
	require.NoError(t, err)
	require.False(t, expired, "a runner that just pinged is not expired")

	later := now.Add(DefaultThresholds.RunnerLostThreshold + time.Second)
	err = h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		var err error
		expired, err = checkExpired(ctx, tx, later, DefaultThresholds.RunnerLostThreshold, runnerID)
		return err
	})
	require.NoError(t, err)
	require.True(t, expired)

	r := loadRunner(t, h, runnerID)
	require.NotZero(t, r.ExpiredTs)
}

func TestCreate_RegistersRunnerAndDrainsQueuedActor(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	disp := &fakeDispatcher{}
	Register(h.e, Deps{Dispatcher: disp, Thresholds: DefaultThresholds})

	namespaceID := id.New(1)
	actorWorkflowID := id.New(1)

	// Seed a pending actor queue entry the way internal/allocation's
	// DrainPendingActors expects to find one: a ns.pending_actor row keyed
	// by (namespace, runner_name, ts, actor_id).
	err := h.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		tx.Set(keys.NsPendingActor(namespaceID, "default", now.UnixMilli(), actorWorkflowID), []byte{0, 0, 0, 0})
		return nil
	})
	require.NoError(t, err)

	in := CreateInput{NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 2, ProtocolVersion: 1}
	workflowID, err := workflow.Dispatch(context.Background(), h.e, Name, in)
	require.NoError(t, err)
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, h, workflowID)
	require.False(t, rec.Done)
	require.NotZero(t, rec.WakeDeadlineTs)

	r := loadRunner(t, h, workflowID)
	require.Equal(t, uint32(1), r.RemainingSlots, "the drained actor must have claimed a slot")

	allocSignals := pendingSignalNames(t, h, actorWorkflowID)
	require.Contains(t, allocSignals, actor.SignalAllocate)
}

func TestRunner_StartAndStopActorCommandsReachDispatcher(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	disp := &fakeDispatcher{}
	Register(h.e, Deps{Dispatcher: disp, Thresholds: DefaultThresholds})
	registerSignaler(h)

	namespaceID := id.New(1)
	in := CreateInput{NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 2}
	workflowID, err := workflow.Dispatch(context.Background(), h.e, Name, in)
	require.NoError(t, err)
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))

	actorID := id.New(1)
	sendSignal(t, h, workflowID, actor.RunnerSignalStartActor, actor.StartActorCommand{ActorID: actorID, Generation: 1, Name: "test-actor"})
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))
	require.Len(t, disp.started, 1)
	require.Equal(t, actorID, disp.started[0].ActorID)

	sendSignal(t, h, workflowID, actor.RunnerSignalStopActor, actor.StopActorCommand{ActorID: actorID, Generation: 1})
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))
	require.Len(t, disp.stopped, 1)
	require.Equal(t, actorID, disp.stopped[0].ActorID)
}

func TestRunner_StopSignalDrainsAndTellsOwnedActorsLost(t *testing.T) {
	now := time.Now()
	h := newTestEngine(t, func() time.Time { return now })
	disp := &fakeDispatcher{}
	Register(h.e, Deps{Dispatcher: disp, Thresholds: DefaultThresholds})
	registerSignaler(h)

	namespaceID := id.New(1)
	in := CreateInput{NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 2}
	workflowID, err := workflow.Dispatch(context.Background(), h.e, Name, in)
	require.NoError(t, err)
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))

	actorID := id.New(1)
	seedOwnedActor(t, h, workflowID, actorID, 3)

	sendSignal(t, h, workflowID, SignalStop, StopSignal{ResetActorRescheduling: true})
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))

	r := loadRunner(t, h, workflowID)
	require.NotZero(t, r.DrainTs)
	require.Equal(t, 0, allocIndexCount(t, h, namespaceID, "default"))

	lostSignals := pendingSignalNames(t, h, actorID)
	require.Contains(t, lostSignals, actor.SignalLost)

	rec := loadRecord(t, h, workflowID)
	require.False(t, rec.Done, "draining waits for the Timeout branch to break the loop")
}

func TestRunner_TimeoutBreaksLoopAndFinalizesAfterDraining(t *testing.T) {
	now := time.Now()
	clock := now
	h := newTestEngine(t, func() time.Time { return clock })
	disp := &fakeDispatcher{}
	th := DefaultThresholds
	th.RunnerLostThreshold = 50 * time.Millisecond
	Register(h.e, Deps{Dispatcher: disp, Thresholds: th})
	registerSignaler(h)

	namespaceID := id.New(1)
	in := CreateInput{NamespaceID: namespaceID, Name: "default", Key: "runner-1", Version: 1, TotalSlots: 2}
	workflowID, err := workflow.Dispatch(context.Background(), h.e, Name, in)
	require.NoError(t, err)
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))

	actorID := id.New(1)
	seedOwnedActor(t, h, workflowID, actorID, 1)

	sendSignal(t, h, workflowID, SignalStop, StopSignal{})
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, h, workflowID)
	require.False(t, rec.Done)
	require.NotZero(t, rec.WakeDeadlineTs)

	// Advance the clock past runner_lost_threshold so the next attempt's
	// ListenAny deadline has already elapsed and CheckExpired runs.
	clock = now.Add(th.RunnerLostThreshold + time.Second)
	require.NoError(t, h.e.RunOnce(context.Background(), workflowID))

	rec = loadRecord(t, h, workflowID)
	require.True(t, rec.Done)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Output, &result))
	require.Equal(t, workflowID, result.RunnerID)

	require.False(t, keyExists(t, h, keys.RunnerActor(workflowID, actorID)), "finalizeRunner clears ownership after re-fetching it")
	require.Len(t, disp.closed, 1)

	lostSignals := pendingSignalNames(t, h, actorID)
	require.Equal(t, 2, len(lostSignals), "once from the draining Stop branch, once from finalizeRunner")
}
