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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/models"
	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// routeCacheCapacity bounds the route-resolution cache spec.md §4.6
// mentions as optional ("Resolve route ... with optional cache").
const routeCacheCapacity = 10_000

// StoreResolver resolves a request path of the form
// "/actors/<actor_id>/<rest...>" by loading the actor record and routing
// to its current runner, the simplest routing function this spec's REST
// surface needs (namespaces and runner-config CRUD route elsewhere, above
// this package's scope).
type StoreResolver struct {
	store kvstore.Store
	cache *lru.Cache[string, Route]
}

// NewStoreResolver constructs a resolver backed by store.
func NewStoreResolver(store kvstore.Store) *StoreResolver {
	cache, err := lru.New[string, Route](routeCacheCapacity)
	if err != nil {
		panic(err)
	}
	return &StoreResolver{store: store, cache: cache}
}

// Resolve implements Resolver.
func (r *StoreResolver) Resolve(req ResolveRequest) (Route, error) {
	if !req.BypassCache {
		if route, ok := r.cache.Get(req.Path); ok {
			return route, nil
		}
	}

	actorID, rest, err := parseActorPath(req.Path)
	if err != nil {
		return Route{}, &gwerrors.TunnelError{Code: gwerrors.TunnelNoRouteTargets, Message: err.Error()}
	}

	var actor models.Actor
	err = r.store.Run(context.Background(), func(ctx context.Context, tx kvstore.Tx) error {
		b, err := tx.Get(ctx, keys.Actor(actorID), kvstore.Serializable)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, &actor)
	})
	if err != nil {
		return Route{}, &gwerrors.TunnelError{Code: gwerrors.TunnelNoRouteTargets, Message: fmt.Sprintf("actor %s: %s", actorID, err)}
	}
	if actor.RunnerID.IsNil() {
		return Route{}, &gwerrors.TunnelError{Code: gwerrors.TunnelNoRouteTargets, Message: "actor has no assigned runner"}
	}

	route := Route{RunnerID: actor.RunnerID, ActorID: actorID, Path: rest, Retry: DefaultRetryPolicy}
	r.cache.Add(req.Path, route)
	return route, nil
}

func parseActorPath(path string) (id.ID, string, error) {
	const prefix = "/actors/"
	if !strings.HasPrefix(path, prefix) {
		return id.Nil, "", fmt.Errorf("gateway: path %q does not start with %s", path, prefix)
	}
	remainder := path[len(prefix):]
	actorIDStr, rest, _ := strings.Cut(remainder, "/")
	actorID, err := id.Parse(actorIDStr)
	if err != nil {
		return id.Nil, "", fmt.Errorf("gateway: invalid actor id in path: %w", err)
	}
	return actorID, "/" + rest, nil
}
