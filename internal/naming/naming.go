// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package naming

import (
	"regexp"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultChatName is the base name of a freshly created conversation.
	DefaultChatName = "New Chat"

	// ForkSuffix is appended to the source name by a branch-without-edit.
	ForkSuffix = " (Fork)"

	// TitleLength is the rune budget of a title derived from message content.
	TitleLength = 30

	titleEllipsis = "..."
)

var defaultNamePattern = regexp.MustCompile(`^` + regexp.QuoteMeta(DefaultChatName) + `( \(\d+\))?$`)

// Unique returns base when no name in existing equals it. Otherwise it
// returns "base (n)" where n is one more than the highest suffix already in
// use; a bare "base" counts as 1. Gaps left by deletions are not reused.
func Unique(base string, existing []string) string {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `(?: \((\d+)\))?$`)

	collision := false
	highest := 0
	for _, name := range existing {
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n := 1
		if m[1] == "" {
			collision = true
		} else if parsed, err := strconv.Atoi(m[1]); err == nil {
			n = parsed
		}
		if n > highest {
			highest = n
		}
	}

	if !collision {
		return base
	}
	return base + " (" + strconv.Itoa(highest+1) + ")"
}

// Title derives a conversation name from message content: the first
// TitleLength runes, followed by "..." when the content is longer.
func Title(content string) string {
	runes := []rune(norm.NFC.String(content))
	if len(runes) <= TitleLength {
		return string(runes)
	}
	return string(runes[:TitleLength]) + titleEllipsis
}

// IsDefault reports whether name has the shape of an automatically assigned
// name ("New Chat" or "New Chat (n)") that the first user message replaces.
func IsDefault(name string) bool {
	return defaultNamePattern.MatchString(name)
}

// ForkName returns the base name for a branch of source.
func ForkName(source string) string {
	return source + ForkSuffix
}
