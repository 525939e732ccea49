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

package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(RateLimitParams{RatePerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("1.2.3.4"), "request %d should be allowed within burst", i)
	}
	require.False(t, rl.Allow("1.2.3.4"))
}

func TestRateLimiter_TracksIndependentBucketsPerIP(t *testing.T) {
	rl := NewRateLimiter(RateLimitParams{RatePerSecond: 1, Burst: 1})

	require.True(t, rl.Allow("1.1.1.1"))
	require.False(t, rl.Allow("1.1.1.1"))
	require.True(t, rl.Allow("2.2.2.2"))
}

func TestInFlightTracker_CapsConcurrentRequestsPerIP(t *testing.T) {
	tr := NewInFlightTracker(2)

	id1, ok, err := tr.Reserve("1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)

	id2, ok, err := tr.Reserve("1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, id1, id2)

	_, ok, err = tr.Reserve("1.2.3.4")
	require.NoError(t, err)
	require.False(t, ok)

	tr.Release("1.2.3.4", id1)

	_, ok, err = tr.Reserve("1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInFlightTracker_IndependentCapsPerIP(t *testing.T) {
	tr := NewInFlightTracker(1)

	_, ok, err := tr.Reserve("1.1.1.1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = tr.Reserve("2.2.2.2")
	require.NoError(t, err)
	require.True(t, ok)
}
