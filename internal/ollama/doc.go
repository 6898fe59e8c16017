// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the local Ollama daemon.
//
// # Key Types
//
//   - Client: health check, model management, streaming chat
//   - Message: role/content pair sent to /api/chat
//   - StreamReader: decodes newline-delimited JSON chat streams
//   - ClientError: typed failure (not running, timeout, model not found,
//     canceled, server error)
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	models, err := client.ListModels(ctx)
//	err = client.StreamChat(ctx, "llama3", msgs, func(fragment string) {
//	    fmt.Print(fragment)
//	})
//
// Model management mirrors the daemon API: ListRunning (/api/ps),
// PullModel (/api/pull, streamed progress), DeleteModel (/api/delete), and
// StartModel / StopModel (/api/generate with keep_alive).
package ollama
