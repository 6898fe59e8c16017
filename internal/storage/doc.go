// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage owns the conversation collection and every structural
// change to it: create, append, truncate-and-replace, delete-from, fork and
// fork-from.
//
// The collection is persisted as one JSON array under one key of a kv.Store.
// Each mutation reads the array, changes it and writes it back naming the
// revision it read; a concurrent writer in another process surfaces as
// ErrConflict.
//
// # Key Types
//
//   - ConversationStore: the collection and its operations
//   - Records: record-level Get / Mutate seam
//   - Snapshot: the decoded collection plus its revision
//
// # Usage
//
//	store := storage.NewConversationStore(backend, storage.WithLogger(log))
//	conv, err := store.CreateChat(ctx, "llama3")
//	conv, err = store.AddMessage(ctx, conv.ID, model.RoleUser, "Hello")
//	branch, err := store.Fork(ctx, conv.ID, 0, "Hello again")
//
// Missing conversations are reported as ErrConversationNotFound and never
// cause a write.
package storage
