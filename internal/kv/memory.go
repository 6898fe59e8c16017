// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore keeps entries in process memory. It is used by tests and by
// the "memory" storage backend for throwaway sessions.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}

	e := s.entries[key]
	return Entry{Value: cloneBytes(e.Value), Revision: e.Revision}, nil
}

// Set stores value if the current revision equals expected.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, expected uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateKey(key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	current := s.entries[key].Revision
	if current != expected {
		return 0, errors.Wrapf(ErrRevisionMismatch, "key %q at revision %d, expected %d", key, current, expected)
	}

	next := current + 1
	s.entries[key] = Entry{Value: cloneBytes(value), Revision: next}
	return next, nil
}

// Close releases the entries. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
