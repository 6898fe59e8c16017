// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// zerologAdapter routes watermill's logging into zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewLoggerAdapter wraps logger for watermill.
func NewLoggerAdapter(logger zerolog.Logger) watermill.LoggerAdapter {
	return &zerologAdapter{logger: logger}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

// Info maps to debug: watermill is chatty.
func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{logger: a.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

var _ watermill.LoggerAdapter = (*zerologAdapter)(nil)
