// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for all ollama-view commands.
//
// Colors are disabled for non-TTY output, respect NO_COLOR and FORCE_COLOR,
// and can be pinned with the ui.color setting.

package cli

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12)

	// SuccessStyle is used for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	// ErrorStyle is used for error messages
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// WarningStyle is used for warnings and cancellations
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for secondary information and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// UserStyle labels user messages
	UserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Bold(true)

	// AssistantStyle labels assistant messages
	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Bold(true)

	// PromptStyle is the REPL prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// RenderSeparator renders a horizontal separator line of width w.
func RenderSeparator(w int) string {
	if w <= 0 {
		w = 70
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderStatus renders a bracketed status with a color matching its meaning.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "committed", "running":
		return SuccessStyle.Render("[" + strings.ToUpper(status) + "]")
	case "failed", "error":
		return ErrorStyle.Render("[" + strings.ToUpper(status) + "]")
	case "cancelled", "warn":
		return WarningStyle.Render("[" + strings.ToUpper(status) + "]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderConditional renders text with style if colors are enabled,
// otherwise returns the text unmodified.
func RenderConditional(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

var (
	colorsEnabled   bool
	colorsEnabledMu sync.Mutex
)

// ColorsEnabled returns true if colored output is in use.
func ColorsEnabled() bool {
	colorsEnabledMu.Lock()
	defer colorsEnabledMu.Unlock()
	return colorsEnabled
}

// applyColorMode sets the lipgloss color profile for out. mode is the
// ui.color setting: "always", "never" or "auto". In auto mode NO_COLOR
// takes precedence (https://no-color.org/), then FORCE_COLOR, then TTY
// detection.
func applyColorMode(mode string, out io.Writer) {
	enabled := false
	switch mode {
	case "always":
		enabled = true
	case "never":
		enabled = false
	default:
		switch {
		case os.Getenv("NO_COLOR") != "":
			enabled = false
		case os.Getenv("FORCE_COLOR") != "":
			enabled = true
		default:
			enabled = isTerminal(out)
		}
	}

	colorsEnabledMu.Lock()
	colorsEnabled = enabled
	colorsEnabledMu.Unlock()

	lipgloss.SetColorProfile(colorProfile(enabled, out))
}

// colorProfile returns Ascii when colors are off, otherwise the profile
// termenv detects for out (at least ANSI256 when forced on a non-TTY).
func colorProfile(enabled bool, out io.Writer) termenv.Profile {
	if !enabled {
		return termenv.Ascii
	}
	p := termenv.NewOutput(out).ColorProfile()
	if p == termenv.Ascii {
		return termenv.ANSI256
	}
	return p
}
