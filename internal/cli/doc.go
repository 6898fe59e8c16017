// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the ollama-view command line.
//
// Commands are built with cobra and share one App, which loads the
// configuration, sets up logging and lazily opens the Ollama client and the
// conversation store.
//
// # Key Types
//
//   - App: Configuration, output streams and the clients for one run
//   - JSONResponse: The document every command writes with --json
//
// # Usage
//
//	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
//
// # Commands Overview
//
// Conversations:
//   - chats: list, new, show, delete, export, search, watch
//   - send: one message, streamed reply
//   - edit: replace a message and regenerate
//   - regenerate: new reply to the same prompt
//   - fork: branch a conversation before a message
//   - chat: interactive REPL with the same operations
//
// Models and settings:
//   - models: list, ps, pull, rm, start, stop
//   - config: show, get, set, reset, path, keys
//
// Replies stream through an in-process event bus; the terminal printer is
// one subscriber and --events adds a JSON-lines dump to stderr.
package cli
