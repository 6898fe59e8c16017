// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides the durable key-value stores conversations persist to.
//
// Every entry carries a revision. Writes name the revision they were based
// on and fail with ErrRevisionMismatch when another writer got there first,
// so a read-modify-write never silently discards someone else's update.
//
// # Key Types
//
//   - Store: Get / Set with compare-and-swap
//   - MemoryStore: process-local, for tests and throwaway sessions
//   - FileStore: one JSON file per key, atomic writes, fsnotify Watch
//   - SQLiteStore: one table, revision check inside the UPDATE
//
// # Usage
//
//	store, err := kv.NewFileStore(dir)
//	e, err := store.Get(ctx, "ollama-view.chats")
//	rev, err := store.Set(ctx, "ollama-view.chats", data, e.Revision)
//	if errors.Is(err, kv.ErrRevisionMismatch) {
//	    // re-read and decide
//	}
package kv
