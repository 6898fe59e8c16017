// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across ollama-view.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadWidth: display-width aware column formatting
//   - SingleLine: whitespace folding for one-line previews
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	display := util.PadWidth(conv.Name, 32)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
