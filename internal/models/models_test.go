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

package models

import (
	"testing"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/stretchr/testify/require"
)

func TestActor_IsRunning(t *testing.T) {
	a := &Actor{}
	require.False(t, a.IsRunning())

	a.RunnerID = id.New(1)
	a.ConnectableTs = time.Now().UnixMilli()
	require.True(t, a.IsRunning())

	a.DestroyTs = time.Now().UnixMilli()
	require.False(t, a.IsRunning())
}

func TestRunner_RemainingMillislots(t *testing.T) {
	r := &Runner{TotalSlots: 4, RemainingSlots: 1}
	require.Equal(t, uint32(250), r.RemainingMillislots())

	zero := &Runner{TotalSlots: 0, RemainingSlots: 0}
	require.Equal(t, uint32(0), zero.RemainingMillislots())
}

func TestRunner_Eligible(t *testing.T) {
	now := time.Now()
	r := &Runner{LastPingTs: now.Add(-1 * time.Second).UnixMilli()}
	require.True(t, r.Eligible(now, 5*time.Second))

	stale := &Runner{LastPingTs: now.Add(-10 * time.Second).UnixMilli()}
	require.False(t, stale.Eligible(now, 5*time.Second))

	draining := &Runner{LastPingTs: now.UnixMilli(), DrainTs: now.UnixMilli()}
	require.False(t, draining.Eligible(now, 5*time.Second))
}
