// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the consumer side of a conversation: one live
// Session per conversation that turns user intents into a store mutation
// followed by one exchange.
//
// A session runs a single exchange at a time; a second request while one
// is in flight fails with ErrBusy. Closing a session cancels its exchange,
// waits for it to end so no late reply is stored, and deletes the
// conversation when it never received a message.
//
// # Key Types
//
//   - Manager: registry of open sessions, state change hook
//   - Session: Send, Edit, Regenerate, Fork, Cancel, Close
//
// # Usage
//
//	mgr := session.NewManager(store, coord, session.WithLogger(log))
//	s, err := mgr.New(ctx, "llama3")
//	res, err := s.Send(ctx, "Hello", printer)
//	res, err = s.Edit(ctx, 0, "Hello again", printer)
//	defer s.Close(ctx)
package session
