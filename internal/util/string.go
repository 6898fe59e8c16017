// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// UNICODE: Rune-aware truncation preserves multi-byte characters.

// TruncateRunes truncates s to at most maxRunes runes. When s is shortened
// the last three runes of the budget are replaced with "...".
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates s to a terminal display width. Wide (CJK) runes
// count as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadWidth right-pads s with spaces to the given display width, truncating
// first when s is wider.
func PadWidth(s string, width int) string {
	s = TruncateWidth(s, width)
	return runewidth.FillRight(s, width)
}

// SingleLine collapses every run of whitespace (newlines included) into one
// space, for one-line listings.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return len([]rune(s))
}
