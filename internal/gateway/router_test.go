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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

func newTestGateway(t *testing.T) (*Gateway, kvstore.Store, pubsub.Bus) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	bus := pubsub.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	gw := NewGateway(NewStoreResolver(store), NewTunnel(bus), NewWSTunnel(bus))
	return gw, store, bus
}

func TestGateway_ProxiesHTTPRequestToAssignedRunner(t *testing.T) {
	gw, store, bus := newTestGateway(t)

	actorID := id.New(1)
	runnerID := id.New(1)
	putActor(t, store, models.Actor{ActorID: actorID, RunnerID: runnerID})
	runnerEcho(t, bus, runnerID, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/actors/"+actorID.String()+"/health", nil)
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(RayIDHeader))
}

func TestGateway_ReturnsServiceUnavailableForUnknownActor(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/actors/"+id.New(1).String()+"/health", nil)
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGateway_EnforcesRateLimit(t *testing.T) {
	gw, store, bus := newTestGateway(t)
	gw.RateLimiter = NewRateLimiter(RateLimitParams{RatePerSecond: 1, Burst: 1})

	actorID := id.New(1)
	runnerID := id.New(1)
	putActor(t, store, models.Actor{ActorID: actorID, RunnerID: runnerID})
	runnerEcho(t, bus, runnerID, http.StatusOK)

	path := "/actors/" + actorID.String() + "/health"

	w1 := httptest.NewRecorder()
	gw.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestGateway_AnswersPreflightWithoutResolvingARoute(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodOptions, "/actors/anything", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
}
