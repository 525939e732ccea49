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

// Package keyreservation is the in-process implementation of
// internal/actor.KeyReservation: spec.md §1 scopes namespace/runner-config
// CRUD and key reservation as out-of-scope collaborators, represented here
// only by the narrow interface the actor workflow actually calls and a
// single-binary-suitable implementation of it.
package keyreservation

import (
	"context"

	"github.com/rivet-gg/actor-engine/internal/id"
	"github.com/rivet-gg/actor-engine/internal/keys"
	"github.com/rivet-gg/actor-engine/internal/models"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
)

// Store reserves and releases (namespace, name, key) tuples directly in
// pkg/kvstore, the same store the actor workflow's own transaction runs
// against — so a reservation commits or rolls back atomically with the
// rest of actor creation rather than needing its own two-phase protocol.
type Store struct {
	KVStore kvstore.Store
}

// New returns a Store backed by store.
func New(store kvstore.Store) *Store {
	return &Store{KVStore: store}
}

// Reserve implements internal/actor.KeyReservation. A single-datacenter
// deployment never needs to forward a reservation elsewhere, so
// KeyReservationForwardToDatacenter is never returned here; a
// multi-datacenter build would replace this package, not extend it.
func (s *Store) Reserve(ctx context.Context, namespaceID id.ID, name, key string, actorID id.ID) (models.KeyReservationResult, error) {
	var result models.KeyReservationResult
	err := s.KVStore.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		k := keys.NsRunnerByKey(namespaceID, name, key)
		existing, err := tx.Get(ctx, k, kvstore.Serializable)
		if err != nil && err != kvstore.ErrNotFound {
			return err
		}
		if err == nil {
			var existingID id.ID
			if perr := existingID.UnmarshalText(existing); perr == nil {
				result = models.KeyReservationResult{Outcome: models.KeyReservationKeyExists, ExistingActorID: existingID}
				return nil
			}
		}

		b, err := actorID.MarshalText()
		if err != nil {
			return err
		}
		tx.Set(k, b)
		result = models.KeyReservationResult{Outcome: models.KeyReservationSuccess}
		return nil
	})
	return result, err
}

// Release implements internal/actor.KeyReservation.
func (s *Store) Release(ctx context.Context, namespaceID id.ID, name, key string) error {
	return s.KVStore.Run(ctx, func(ctx context.Context, tx kvstore.Tx) error {
		tx.Clear(keys.NsRunnerByKey(namespaceID, name, key))
		return nil
	})
}
