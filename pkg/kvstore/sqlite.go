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
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store backed by a single sqlite table, for
// deployments that need the KV store to survive a process restart without
// an external database. It serializes every transaction through its single
// connection (sqlite's default deferred BEGIN) rather than implementing
// MVCC itself: this
// means Snapshot and Serializable reads behave identically here (both see
// the writer-exclusive view inside the transaction), a weaker guarantee
// than MemoryStore's true snapshot isolation. This tradeoff, and why no
// pack library offered MVCC-over-sqlite out of the box, is recorded in
// DESIGN.md.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a sqlite-backed store at
// path. Use ":memory:" for a throwaway durable-interface store in tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open sqlite: %w", err)
	}
	// A single connection avoids SQLITE_BUSY from concurrent
	// transactions; the store's own transaction retry loop
	// provides the concurrency semantics callers see.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   BLOB PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Run implements Store. Each attempt runs inside its own BEGIN/COMMIT
// pair; a failed commit (such as an sqlite busy error) is treated the same
// as ErrConflict and retried.
func (s *SQLiteStore) Run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("kvstore: begin: %w", err)
		}

		tx := &sqliteTx{tx: sqlTx}
		if err := fn(ctx, tx); err != nil {
			sqlTx.Rollback()
			lastErr = err
			if err == ErrConflict {
				continue
			}
			return err
		}

		if err := sqlTx.Commit(); err != nil {
			lastErr = ErrConflict
			continue
		}
		return nil
	}
	return lastErr
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(ctx context.Context, key []byte, isolation IsolationLevel) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get: %w", err)
	}
	return value, nil
}

func (t *sqliteTx) Exists(ctx context.Context, key []byte, isolation IsolationLevel) (bool, error) {
	_, err := t.Get(ctx, key, isolation)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqliteTx) GetRange(ctx context.Context, opts RangeOptions, isolation IsolationLevel) ([]KeyValue, error) {
	query := `SELECT key, value FROM kv WHERE 1=1`
	args := []any{}
	if opts.Begin != nil {
		query += ` AND key >= ?`
		args = append(args, opts.Begin)
	}
	if opts.End != nil {
		query += ` AND key < ?`
		args = append(args, opts.End)
	}
	if opts.Reverse {
		query += ` ORDER BY key DESC`
	} else {
		query += ` ORDER BY key ASC`
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("kvstore: range: %w", err)
	}
	defer rows.Close()

	var results []KeyValue
	for rows.Next() {
		var kv KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("kvstore: range scan: %w", err)
		}
		results = append(results, kv)
	}
	return results, rows.Err()
}

func (t *sqliteTx) Set(key, value []byte) {
	// Errors are surfaced at Commit time: sqlite tracks the failure on the
	// *sql.Tx and Commit returns it, matching the buffered-write model of
	// the in-memory store.
	_, _ = t.tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
}

func (t *sqliteTx) Clear(key []byte) {
	_, _ = t.tx.Exec(`DELETE FROM kv WHERE key = ?`, key)
}

func (t *sqliteTx) ClearRange(begin, end []byte) {
	_, _ = t.tx.Exec(`DELETE FROM kv WHERE key >= ? AND key < ?`, begin, end)
}

func (t *sqliteTx) AtomicOp(key []byte, operand []byte, mutation MutationType) {
	var cur []byte
	_ = t.tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&cur)

	var curInt, operandInt int64
	if len(cur) == 8 {
		curInt = int64(binary.LittleEndian.Uint64(cur))
	}
	if len(operand) == 8 {
		operandInt = int64(binary.LittleEndian.Uint64(operand))
	}

	switch mutation {
	case MutationAdd:
		curInt += operandInt
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(curInt))
	t.Set(key, buf)
}

func (t *sqliteTx) AddReadConflictKey(key []byte) {
	// sqlite's own locking already serializes the whole transaction; an
	// explicit conflict key has nothing additional to mark. Kept as a
	// same-signature no-op so callers (the allocation engine) work
	// unmodified against either backend.
	_ = key
}
