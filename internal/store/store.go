// Copyright 2025 Tom Barlow
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

package store

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	colonyerrors "github.com/reeflab/colonyd/pkg/errors"
)

// Querier is satisfied by both *sql.Tx and *sql.DB, letting entity
// accessors in this package run unmodified inside a mutating
// transaction or a read-only snapshot.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the single-writer SQLite-backed home of every entity. All
// mutating access goes through Begin, which acquires the process-wide
// exclusive mutex before opening the transaction and releases it only
// on Commit or Rollback — never while dispatch is in flight.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path and runs
// additive migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, colonyerrors.Wrap(err, "opening store")
	}
	// SQLite serializes writes; one connection keeps every statement
	// (including ones issued outside an explicit transaction) on the
	// same session so PRAGMAs stick.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, colonyerrors.Wrap(err, "pinging store")
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, colonyerrors.Wrapf(err, "applying %s", pragma)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, colonyerrors.Wrap(err, "migrating store schema")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a locked, in-flight transaction. Every entity-point in this
// package takes the raw *sql.Tx so cascade/scheduler/missionqueue can
// compose freely within one transaction; Tx exists only to pair that
// handle with mutex release.
type Tx struct {
	raw   *sql.Tx
	store *Store
	done  bool
}

// Raw returns the underlying *sql.Tx for use by entity accessors.
func (t *Tx) Raw() *sql.Tx { return t.raw }

// Begin acquires the store mutex and starts a read/write transaction.
// Callers must call Commit or Rollback exactly once; both release the
// mutex. Dispatch of any resulting assignment envelopes must happen
// only after Commit returns, never while the mutex is held.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	s.mu.Lock()
	raw, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, colonyerrors.Wrap(err, "beginning transaction")
	}
	return &Tx{raw: raw, store: s}, nil
}

// Commit commits the transaction and releases the store mutex.
func (t *Tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.mu.Unlock()
	if err := t.raw.Commit(); err != nil {
		return colonyerrors.Wrap(err, "committing transaction")
	}
	return nil
}

// Rollback aborts the transaction and releases the store mutex. Safe
// to call after a successful Commit (no-op).
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	defer t.store.mu.Unlock()
	_ = t.raw.Rollback()
}

// Read acquires the store mutex for the duration of fn, running it
// against a read-only transaction, then releases the mutex.
func (s *Store) Read(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return colonyerrors.Wrap(err, "beginning read transaction")
	}
	defer tx.Rollback()
	return fn(tx)
}
