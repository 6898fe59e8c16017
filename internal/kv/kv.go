// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRevisionMismatch is returned by Set when the stored revision is not
	// the one the caller read. The caller's snapshot is stale.
	ErrRevisionMismatch = errors.New("kv: revision mismatch")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kv: store closed")

	// ErrInvalidKey is returned for empty keys or keys that cannot be mapped
	// onto the backend.
	ErrInvalidKey = errors.New("kv: invalid key")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Entry is a value read from the store with the revision it was written at.
// A key that was never written reads as a nil Value at revision 0.
type Entry struct {
	Value    []byte
	Revision uint64
}

// Exists reports whether the key has ever been written.
func (e Entry) Exists() bool {
	return e.Revision > 0
}

// Store is a durable key-value store with compare-and-swap writes.
//
// Set succeeds only when the current revision of key equals expected, and
// returns the new revision. expected 0 means "the key does not exist yet".
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, value []byte, expected uint64) (uint64, error)
	Close() error
}

// Watcher is implemented by stores that can report writes made by other
// processes.
type Watcher interface {
	// Watch calls onChange after key changes until ctx is done.
	Watch(ctx context.Context, key string, onChange func()) error
}

// ValidateKey rejects keys that no backend can store.
func ValidateKey(key string) error {
	if key == "" {
		return errors.Wrap(ErrInvalidKey, "empty key")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return errors.Wrapf(ErrInvalidKey, "key %q contains a path separator", key)
	}
	return nil
}
