// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package exchange drives one model reply for a conversation.
//
// An Exchange projects the conversation to role/content pairs, streams the
// reply through a Transport, relays each fragment to its Listener as it
// arrives, and on a clean end of stream commits the accumulated text as one
// assistant message. The store is touched exactly once, at the end; a
// failed or cancelled exchange persists nothing. There are no retries.
//
// # Key Types
//
//   - Coordinator: creates and runs exchanges
//   - Exchange: one cancellable request/stream/commit cycle
//   - Listener: OnStarted (first fragment), OnToken, OnEnded
//   - Result: final state, content and timing
//
// # Usage
//
//	coord := exchange.NewCoordinator(client, store, exchange.WithLogger(log))
//	ex := coord.NewExchange(conv, listener)
//	go func() { <-stop; ex.Cancel() }()
//	res, err := ex.Run(ctx)
//	if errors.Is(err, exchange.ErrCancelled) {
//	    // nothing was stored
//	}
package exchange
