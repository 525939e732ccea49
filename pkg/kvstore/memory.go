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

package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"sync"
)

// maxRetries bounds how many times Store.Run retries a transaction body
// after an ErrConflict before giving up and returning it to the caller.
const maxRetries = 16

// versionedValue is a single key's committed value, stamped with the
// commit version that produced it. A nil Value with Deleted set represents
// a tombstone, so range scans can tell "never existed" from "existed, then
// cleared" at a given read version.
type versionedValue struct {
	value   []byte
	version uint64
	deleted bool
}

// MemoryStore is an in-memory store providing multi-version concurrency
// control: every transaction reads a consistent snapshot at its start
// version, and commit is rejected if a conflicting key was written by a
// transaction that committed after that snapshot was taken.
//
// This is the primitive the allocation engine depends on (spec.md §4.3):
// a Snapshot-isolation range scan over the allocation index followed by a
// Serializable commit that conflicts on only the chosen row.
type MemoryStore struct {
	mu sync.Mutex

	// history holds every version ever written for a key, oldest first.
	// Kept unbounded for simplicity; a production variant would compact.
	history map[string][]versionedValue

	// version is the last committed version; versions start at 1 so 0 can
	// mean "never written".
	version uint64
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[string][]versionedValue),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error { return nil }

// Run implements Store.
func (s *MemoryStore) Run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := s.begin()
		if err := fn(ctx, tx); err != nil {
			lastErr = err
			if err == ErrConflict {
				continue
			}
			return err
		}

		if err := s.commit(tx); err != nil {
			lastErr = err
			if err == ErrConflict {
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// memTx accumulates reads and writes for one attempt of a transaction body.
type memTx struct {
	store *MemoryStore

	readVersion uint64

	readConflicts map[string]struct{}
	writes        map[string][]byte
	clears        map[string]struct{}
	clearRanges   [][2][]byte
	atomics       []atomicEntry
}

type atomicEntry struct {
	key      []byte
	operand  []byte
	mutation MutationType
}

func (s *MemoryStore) begin() *memTx {
	s.mu.Lock()
	rv := s.version
	s.mu.Unlock()

	return &memTx{
		store:         s,
		readVersion:   rv,
		readConflicts: make(map[string]struct{}),
		writes:        make(map[string][]byte),
		clears:        make(map[string]struct{}),
	}
}

// valueAt returns the value visible to a read at readVersion, and whether
// the key exists at all at that version.
func (s *MemoryStore) valueAt(key string, readVersion uint64) ([]byte, bool) {
	versions := s.history[key]
	// versions is append-only and kept sorted by version.
	idx := sort.Search(len(versions), func(i int) bool {
		return versions[i].version > readVersion
	})
	if idx == 0 {
		return nil, false
	}
	v := versions[idx-1]
	if v.deleted {
		return nil, false
	}
	return v.value, true
}

func (t *memTx) Get(ctx context.Context, key []byte, isolation IsolationLevel) ([]byte, error) {
	k := string(key)

	// Reflect this transaction's own uncommitted writes first.
	if _, cleared := t.clears[k]; cleared {
		if isolation == Serializable {
			t.readConflicts[k] = struct{}{}
		}
		return nil, ErrNotFound
	}
	if v, ok := t.writes[k]; ok {
		if isolation == Serializable {
			t.readConflicts[k] = struct{}{}
		}
		return v, nil
	}

	t.store.mu.Lock()
	v, ok := t.store.valueAt(k, t.readVersion)
	t.store.mu.Unlock()

	if isolation == Serializable {
		t.readConflicts[k] = struct{}{}
	}
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *memTx) Exists(ctx context.Context, key []byte, isolation IsolationLevel) (bool, error) {
	_, err := t.Get(ctx, key, isolation)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *memTx) GetRange(ctx context.Context, opts RangeOptions, isolation IsolationLevel) ([]KeyValue, error) {
	t.store.mu.Lock()
	keys := make([]string, 0, len(t.store.history))
	for k := range t.store.history {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]KeyValue, 0, 16)
	for _, k := range keys {
		kb := []byte(k)
		if opts.Begin != nil && bytes.Compare(kb, opts.Begin) < 0 {
			continue
		}
		if opts.End != nil && bytes.Compare(kb, opts.End) >= 0 {
			continue
		}
		v, ok := t.store.valueAt(k, t.readVersion)
		if !ok {
			continue
		}
		results = append(results, KeyValue{Key: append([]byte(nil), kb...), Value: append([]byte(nil), v...)})
	}
	t.store.mu.Unlock()

	// Overlay this transaction's own uncommitted writes.
	for k, v := range t.writes {
		kb := []byte(k)
		if opts.Begin != nil && bytes.Compare(kb, opts.Begin) < 0 {
			continue
		}
		if opts.End != nil && bytes.Compare(kb, opts.End) >= 0 {
			continue
		}
		replaced := false
		for i := range results {
			if string(results[i].Key) == k {
				results[i].Value = v
				replaced = true
				break
			}
		}
		if !replaced {
			results = append(results, KeyValue{Key: kb, Value: v})
			sort.Slice(results, func(i, j int) bool { return bytes.Compare(results[i].Key, results[j].Key) < 0 })
		}
	}
	for k := range t.clears {
		for i := range results {
			if string(results[i].Key) == k {
				results = append(results[:i], results[i+1:]...)
				break
			}
		}
	}

	if opts.Reverse {
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
	}
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	if isolation == Serializable {
		for _, kv := range results {
			t.readConflicts[string(kv.Key)] = struct{}{}
		}
	}

	return results, nil
}

func (t *memTx) Set(key, value []byte) {
	k := string(key)
	delete(t.clears, k)
	t.writes[k] = append([]byte(nil), value...)
}

func (t *memTx) Clear(key []byte) {
	k := string(key)
	delete(t.writes, k)
	t.clears[k] = struct{}{}
}

func (t *memTx) ClearRange(begin, end []byte) {
	t.clearRanges = append(t.clearRanges, [2][]byte{
		append([]byte(nil), begin...),
		append([]byte(nil), end...),
	})
}

func (t *memTx) AtomicOp(key []byte, operand []byte, mutation MutationType) {
	t.atomics = append(t.atomics, atomicEntry{
		key:      append([]byte(nil), key...),
		operand:  append([]byte(nil), operand...),
		mutation: mutation,
	})
}

func (t *memTx) AddReadConflictKey(key []byte) {
	t.readConflicts[string(key)] = struct{}{}
}

// commit validates the transaction's read set against everything committed
// since readVersion, then applies writes, clears, clear-ranges, and atomics
// atomically under a new version number.
func (s *MemoryStore) commit(t *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range t.readConflicts {
		versions := s.history[k]
		idx := sort.Search(len(versions), func(i int) bool {
			return versions[i].version > t.readVersion
		})
		if idx < len(versions) {
			return ErrConflict
		}
	}

	newVersion := s.version + 1

	for _, entry := range t.atomics {
		k := string(entry.key)
		cur, ok := s.valueAt(k, newVersion-1)
		var curInt int64
		if ok && len(cur) == 8 {
			curInt = int64(binary.LittleEndian.Uint64(cur))
		}
		var operand int64
		if len(entry.operand) == 8 {
			operand = int64(binary.LittleEndian.Uint64(entry.operand))
		}
		switch entry.mutation {
		case MutationAdd:
			curInt += operand
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(curInt))
		s.history[k] = append(s.history[k], versionedValue{value: buf, version: newVersion})
	}

	for _, r := range t.clearRanges {
		for k := range s.history {
			kb := []byte(k)
			if bytes.Compare(kb, r[0]) >= 0 && bytes.Compare(kb, r[1]) < 0 {
				if _, stillExists := s.valueAt(k, newVersion-1); stillExists {
					s.history[k] = append(s.history[k], versionedValue{version: newVersion, deleted: true})
				}
			}
		}
	}

	for k := range t.clears {
		s.history[k] = append(s.history[k], versionedValue{version: newVersion, deleted: true})
	}

	for k, v := range t.writes {
		s.history[k] = append(s.history[k], versionedValue{value: v, version: newVersion})
	}

	s.version = newVersion
	return nil
}
