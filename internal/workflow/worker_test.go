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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorker_DueInstances_SkipsDoneAndNotYetDueDeadlines(t *testing.T) {
	now := time.Now()
	e := newTestEngine(func() time.Time { return now })
	Register(e, "noop", func(c *Ctx, input string) (string, error) { return "done", nil })
	Register(e, "sleeper", func(c *Ctx, input string) (string, error) {
		Sleep(c, time.Hour)
		return "awake", nil
	})

	freshID, err := Dispatch(context.Background(), e, "noop", "")
	require.NoError(t, err)

	sleeperID, err := Dispatch(context.Background(), e, "sleeper", "")
	require.NoError(t, err)
	require.NoError(t, e.RunOnce(context.Background(), sleeperID))

	w := NewWorker("worker-1", e)
	due, err := w.dueInstances(context.Background())
	require.NoError(t, err)
	require.Contains(t, due, freshID)
	require.NotContains(t, due, sleeperID)

	now = now.Add(time.Hour)
	due, err = w.dueInstances(context.Background())
	require.NoError(t, err)
	require.Contains(t, due, sleeperID)
}

func TestWorker_SweepOnce_DrivesDueInstancesToCompletion(t *testing.T) {
	e := newTestEngine(nil)
	Register(e, "noop", func(c *Ctx, input string) (string, error) { return "done", nil })

	workflowID, err := Dispatch(context.Background(), e, "noop", "")
	require.NoError(t, err)

	w := NewWorker("worker-1", e)
	require.NoError(t, w.sweepOnce(context.Background()))

	rec := loadRecord(t, e, workflowID)
	require.True(t, rec.Done)
	require.Equal(t, `"done"`, string(rec.Output))
}
