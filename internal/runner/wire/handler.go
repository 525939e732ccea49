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

package wire

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/runner"
	"github.com/rivet-gg/actor-engine/internal/workflow"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// Authenticator resolves the namespace a connecting runner process is
// authorized to join from its HTTP upgrade request, the same contract
// internal/gateway.AdminAuthenticator satisfies for the serverless pool's
// outbound calls (spec.md §4.7's admin token is the same credential a
// runner's long-lived connection authenticates with).
type Authenticator interface {
	Authenticate(r *http.Request) (namespaceID string, err error)
}

// Handler upgrades incoming runner connections to a websocket and hands
// each one to a Session, the production counterpart of the test harness
// in session_test.go's newTestServer.
type Handler struct {
	Engine         *workflow.Engine
	Store          kvstore.Store
	Registry       *Registry
	Thresholds     runner.Thresholds
	Authenticator  Authenticator
	Logger         *slog.Logger
	Clock          func() time.Time
	Upgrader       websocket.Upgrader
}

// NewHandler builds a Handler around engine/store/registry. Authenticator
// is optional: a nil Authenticator accepts every connection unscoped,
// which is useful for local/single-tenant runs.
func NewHandler(engine *workflow.Engine, store kvstore.Store, registry *Registry, thresholds runner.Thresholds, authenticator Authenticator) *Handler {
	return &Handler{
		Engine:        engine,
		Store:         store,
		Registry:      registry,
		Thresholds:    thresholds,
		Authenticator: authenticator,
		Logger:        slog.Default(),
		Clock:         time.Now,
	}
}

// ServeHTTP implements http.Handler. A reconnecting runner passes its
// previously-assigned runner_id as a query parameter; its key comes from
// the same parameter set, following spec.md §4.5's ToServerInit contract
// for everything the handshake itself doesn't carry.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := Identity{Key: r.URL.Query().Get("key")}

	if h.Authenticator != nil {
		namespaceID, err := h.Authenticator.Authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if err := identity.NamespaceID.UnmarshalText([]byte(namespaceID)); err != nil {
			http.Error(w, "invalid namespace claim", http.StatusUnauthorized)
			return
		}
	}

	if runnerIDParam := r.URL.Query().Get("runner_id"); runnerIDParam != "" {
		var runnerID id.ID
		if err := runnerID.UnmarshalText([]byte(runnerIDParam)); err != nil {
			http.Error(w, "invalid runner_id", http.StatusBadRequest)
			return
		}
		identity.RunnerID = runnerID
	}

	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("runner websocket upgrade failed", slog.Any("error", err))
		return
	}

	sess := NewSession(ws, identity, h.Engine, h.Store, h.Registry, h.Thresholds, h.Logger, h.Clock)
	go func() {
		if err := sess.Serve(context.Background()); err != nil {
			h.Logger.Warn("runner session ended", slog.Any("error", err))
		}
	}()
}
