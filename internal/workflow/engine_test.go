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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

func newTestEngine(clock func() time.Time) *Engine {
	return NewEngine(kvstore.NewMemoryStore(), pubsub.NewMemoryBus(), 1, nil, clock)
}

func loadRecord(t *testing.T, e *Engine, workflowID id.ID) Record {
	t.Helper()
	var rec Record
	err := e.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		b, err := tx.Get(ctx, keys.Workflow(workflowID), kvstore.Serializable)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, &rec)
	})
	require.NoError(t, err)
	return rec
}

func TestActivity_SucceedsOnFirstAttempt(t *testing.T) {
	e := newTestEngine(nil)
	Register(e, "greet", func(c *Ctx, input string) (string, error) {
		out := Activity(c, "Greet", input, func(c *Ctx, name string) (string, error) {
			return "hello " + name, nil
		})
		return out, nil
	})

	workflowID, err := Dispatch(context.Background(), e, "greet", "world")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Empty(t, rec.Error)
	require.Equal(t, `"hello world"`, string(rec.Output))
}

func TestActivity_RecoverableFailureSuspendsThenRetriesToSuccess(t *testing.T) {
	now := time.Now()
	e := newTestEngine(func() time.Time { return now })
	attempts := 0
	Register(e, "flaky", func(c *Ctx, input string) (string, error) {
		out := Activity(c, "Flaky", input, func(c *Ctx, in string) (string, error) {
			attempts++
			if attempts < 2 {
				return "", fmt.Errorf("transient failure")
			}
			return "ok", nil
		})
		return out, nil
	})

	workflowID, err := Dispatch(context.Background(), e, "flaky", "x")
	require.NoError(t, err)

	require.NoError(t, e.RunOnce(context.Background(), workflowID))
	rec := loadRecord(t, e, workflowID)
	require.False(t, rec.Done)
	require.NotZero(t, rec.WakeDeadlineTs)

	// Advance past both the engine's own retry-promptly deadline and the
	// activity's exponential backoff window before retrying.
	now = now.Add(time.Minute)

	require.NoError(t, e.RunOnce(context.Background(), workflowID))
	rec = loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, `"ok"`, string(rec.Output))
	require.Equal(t, 2, attempts)
}

func TestActivity_ExhaustsRetriesAndFails(t *testing.T) {
	now := time.Now()
	e := newTestEngine(func() time.Time { return now })
	Register(e, "alwaysFails", func(c *Ctx, input string) (string, error) {
		out := Activity(c, "AlwaysFails", input, func(c *Ctx, in string) (string, error) {
			return "", fmt.Errorf("boom")
		})
		return out, nil
	})

	workflowID, err := Dispatch(context.Background(), e, "alwaysFails", "x")
	require.NoError(t, err)

	for i := 0; i < DefaultActivityOptions.MaxRetries+1; i++ {
		require.NoError(t, e.RunOnce(context.Background(), workflowID))
		rec := loadRecord(t, e, workflowID)
		if rec.Done {
			require.Contains(t, rec.Error, "reached max failures")
			return
		}
		// Advance well past DefaultActivityOptions.MaxBackoff so every
		// subsequent attempt's backoff check passes immediately.
		now = now.Add(time.Minute)
	}
	t.Fatal("activity never reached its fatal max-failures state")
}

func TestSleep_InProcessForShortDurations(t *testing.T) {
	e := newTestEngine(nil)
	Register(e, "napper", func(c *Ctx, input string) (string, error) {
		Sleep(c, 10*time.Millisecond)
		return "awake", nil
	})

	workflowID, err := Dispatch(context.Background(), e, "napper", "")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, `"awake"`, string(rec.Output))
}

func TestSleep_LongDurationSuspendsWithDeadline(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	e := newTestEngine(clock)
	Register(e, "longNapper", func(c *Ctx, input string) (string, error) {
		Sleep(c, time.Hour)
		return "awake", nil
	})

	workflowID, err := Dispatch(context.Background(), e, "longNapper", "")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, e, workflowID)
	require.False(t, rec.Done)
	require.Equal(t, now.Add(time.Hour).UnixMilli(), rec.WakeDeadlineTs)

	now = now.Add(time.Hour)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))
	rec = loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, `"awake"`, string(rec.Output))
}

func TestListen_SuspendsThenReceivesPublishedSignal(t *testing.T) {
	e := newTestEngine(nil)
	Register(e, "waiter", func(c *Ctx, input string) (string, error) {
		body := Listen[string](c, "go-ahead")
		return "received:" + body, nil
	})

	workflowID, err := Dispatch(context.Background(), e, "waiter", "")
	require.NoError(t, err)

	require.NoError(t, e.RunOnce(context.Background(), workflowID))
	rec := loadRecord(t, e, workflowID)
	require.False(t, rec.Done)
	require.Equal(t, []string{"go-ahead"}, rec.WakeSignals)

	err = e.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		c := &Ctx{
			std:        ctx,
			tx:         tx,
			store:      &loadedHistory{byLocation: map[string]HistoryEvent{}},
			workflowID: workflowID,
			clock:      time.Now,
			rec:        &Record{},
			engine:     e,
		}
		SignalSend(c, workflowID, "go-ahead", "payload")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, e.RunOnce(context.Background(), workflowID))
	rec = loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, `"received:payload"`, string(rec.Output))
}

func TestListenUntil_DeadlineElapsesWithoutSignal(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	e := newTestEngine(clock)
	Register(e, "impatient", func(c *Ctx, input string) (string, error) {
		_, ok := ListenUntil[string](c, "never-comes", c.Now().Add(time.Hour))
		if ok {
			return "got it", nil
		}
		return "timed out", nil
	})

	workflowID, err := Dispatch(context.Background(), e, "impatient", "")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, e, workflowID)
	require.False(t, rec.Done)
	require.Equal(t, now.Add(time.Hour).UnixMilli(), rec.WakeDeadlineTs)

	now = now.Add(time.Hour)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))
	rec = loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, `"timed out"`, string(rec.Output))
}

func TestLoop_AccumulatesAcrossIterationsAndBreaks(t *testing.T) {
	e := newTestEngine(nil)
	Register(e, "counter", func(c *Ctx, input int) (int, error) {
		total := Loop(c, 0, func(ctx *Ctx, state int) (int, LoopOutcome[int]) {
			state++
			if state >= input {
				return state, Break(state)
			}
			return state, Continue[int]()
		})
		return total, nil
	})

	workflowID, err := Dispatch(context.Background(), e, "counter", 3)
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, "3", string(rec.Output))
}

func TestJoin_RunsAllBranchesAndCollectsFirstError(t *testing.T) {
	e := newTestEngine(nil)
	var ran [3]bool
	Register(e, "fanout", func(c *Ctx, input string) (string, error) {
		err := Join(c,
			func(ctx *Ctx) error { ran[0] = true; return nil },
			func(ctx *Ctx) error { ran[1] = true; return fmt.Errorf("branch 1 failed") },
			func(ctx *Ctx) error { ran[2] = true; return nil },
		)
		if err != nil {
			return "", err
		}
		return "ok", nil
	})

	workflowID, err := Dispatch(context.Background(), e, "fanout", "")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	require.True(t, ran[0])
	require.True(t, ran[1])
	require.True(t, ran[2])

	rec := loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Contains(t, rec.Error, "branch 1 failed")
}

func TestCheckVersion_StableAcrossReplay(t *testing.T) {
	now := time.Now()
	e := newTestEngine(func() time.Time { return now })
	Register(e, "versioned", func(c *Ctx, input string) (uint32, error) {
		v := CheckVersion(c, 2)
		Sleep(c, time.Hour) // force a suspend so the next RunOnce replays this location
		return v, nil
	})

	workflowID, err := Dispatch(context.Background(), e, "versioned", "")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	now = now.Add(time.Hour)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, "2", string(rec.Output))
}

func TestSubWorkflowDispatch_CreatesChildRecordOnce(t *testing.T) {
	now := time.Now()
	e := newTestEngine(func() time.Time { return now })
	Register(e, "child", func(c *Ctx, input string) (string, error) { return "child-done", nil })
	Register(e, "parent", func(c *Ctx, input string) (string, error) {
		childID := SubWorkflowDispatch(c, "child", "input")
		Sleep(c, time.Hour)
		return childID.String(), nil
	})

	workflowID, err := Dispatch(context.Background(), e, "parent", "")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	now = now.Add(time.Hour)
	require.NoError(t, e.RunOnce(context.Background(), workflowID))

	rec := loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.NotEqual(t, `""`, string(rec.Output))
}
