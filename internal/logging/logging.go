// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Formats accepted by New.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New builds a logger writing to w at level. FormatAuto picks the console
// writer when w is a terminal and JSON otherwise.
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "log level %q", level)
	}

	switch format {
	case FormatAuto, "":
		if IsTerminal(w) {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: !IsTerminal(w)}
	case FormatJSON:
	default:
		return zerolog.Nop(), errors.Errorf("unknown log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Setup builds a logger with New and installs it as the global log.Logger.
func Setup(level, format string, w io.Writer) (zerolog.Logger, error) {
	logger, err := New(level, format, w)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
