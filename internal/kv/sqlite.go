// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key      TEXT PRIMARY KEY,
	value    BLOB NOT NULL,
	revision INTEGER NOT NULL
)`

// SQLiteStore keeps entries in one SQLite table. The revision check runs
// inside the UPDATE statement, so compare-and-swap holds across processes
// sharing the database file.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// One connection serialises writers in this process; WAL lets other
	// processes read while we write.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %s", p)
		}
	}

	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get reads key. A missing row reads as revision 0.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	if s.isClosed() {
		return Entry{}, ErrClosed
	}

	var e Entry
	err := s.db.QueryRowContext(ctx,
		`SELECT value, revision FROM kv WHERE key = ?`, key,
	).Scan(&e.Value, &e.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, errors.Wrapf(err, "read key %q", key)
	}
	return e, nil
}

// Set writes value if the stored revision equals expected.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, expected uint64) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if s.isClosed() {
		return 0, ErrClosed
	}
	if value == nil {
		value = []byte{}
	}

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value, revision) VALUES (?, ?, 1) ON CONFLICT(key) DO NOTHING`,
			key, value)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE kv SET value = ?, revision = revision + 1 WHERE key = ? AND revision = ?`,
			value, key, expected)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "write key %q", key)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return 0, errors.Wrapf(ErrRevisionMismatch, "key %q, expected revision %d", key, expected)
	}
	return expected + 1, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
