// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for ollama-view.

package cli

import (
	"io"
	"os"

	"golang.org/x/term"

	"github.com/jeranaias/ollama-view/internal/logging"
)

const (
	// DefaultTerminalWidth is the fallback width when detection fails
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the minimum width we'll use for wrapping
	MinTerminalWidth = 40
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	return logging.IsTerminal(w)
}

// terminalWidth returns the width of w, or DefaultTerminalWidth when w is
// not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return DefaultTerminalWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}
