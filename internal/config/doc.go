// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// ollama-view.
//
// Configuration is layered: built-in defaults, then ~/.ollama-view/config.toml
// (or the file named with --config), then environment variables, then
// command-line flags applied by the caller. The result is validated as a
// whole and every problem is reported at once.
//
// # Key Types
//
//   - Config: the complete configuration
//   - ValidateErrors: aggregated ValidationError values
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: cfg.Ollama.URL,
//	    Timeout: cfg.OllamaTimeout(),
//	})
//
// Keys can be read and written in dot notation:
//
//	_ = cfg.Set("storage.backend", "sqlite")
//	v, _ := cfg.Get("ollama.url")
package config
