// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: named, ordered message history bound to one model
//   - Message: immutable turn with role, content and timestamp
//   - Role: message role enumeration (user, assistant, system)
//   - ModelStatus: installed model joined with its running state
//
// # Usage
//
//	msgs := conv.ToOllamaMessages()
//	keep := conv.Prefix(index)
//	statuses := model.JoinModelStatus(installed, running)
package model
