// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package naming assigns conversation names.
//
// Names are unique within one model's conversations at the moment they are
// assigned. Collisions get a numeric suffix one past the highest in use:
//
//	naming.Unique("New Chat", []string{"New Chat", "New Chat (3)"}) // "New Chat (4)"
//	naming.Title("Explain the difference between TCP and UDP please")
//	// "Explain the difference between..."
package naming
