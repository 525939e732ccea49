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

// Package namespace is the in-process stand-in for spec.md §1's
// out-of-scope NamespaceStore/RunnerConfigStore collaborators: a namespace's
// set of configured Serverless runner pools, registered at startup rather
// than served over a REST CRUD surface.
package namespace

import (
	"context"
	"sync"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/serverless"
)

// Store holds every namespace's configured Serverless pools in memory and
// implements internal/serverless.PoolSource directly, so Autoscaler needs
// no separate adapter once a real namespace config surface exists.
type Store struct {
	mu    sync.RWMutex
	pools []serverless.PoolTarget
}

// New returns an empty Store; call Put to register pools before starting
// an Autoscaler against it.
func New() *Store {
	return &Store{}
}

// Put registers or replaces namespaceID's pool config for runnerName.
func (s *Store) Put(namespaceID id.ID, runnerName string, cfg serverless.PoolConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pools {
		if p.NamespaceID == namespaceID && p.RunnerName == runnerName {
			s.pools[i].Config = cfg
			return
		}
	}
	s.pools = append(s.pools, serverless.PoolTarget{NamespaceID: namespaceID, RunnerName: runnerName, Config: cfg})
}

// Remove drops namespaceID's pool config for runnerName, if registered.
func (s *Store) Remove(namespaceID id.ID, runnerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pools {
		if p.NamespaceID == namespaceID && p.RunnerName == runnerName {
			s.pools = append(s.pools[:i], s.pools[i+1:]...)
			return
		}
	}
}

// Pools implements serverless.PoolSource.
func (s *Store) Pools(ctx context.Context) ([]serverless.PoolTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]serverless.PoolTarget, len(s.pools))
	copy(out, s.pools)
	return out, nil
}
