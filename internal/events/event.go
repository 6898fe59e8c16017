// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/ollama-view/internal/exchange"
)

// TopicExchange is the topic exchange notifications are published on.
const TopicExchange = "exchange"

// Type identifies an exchange notification.
type Type string

const (
	TypeStarted Type = "started"
	TypeToken   Type = "token"
	TypeEnded   Type = "ended"
)

// Event is the wire form of one exchange notification.
type Event struct {
	Type           Type      `json:"type"`
	ExchangeID     string    `json:"exchange_id"`
	ConversationID string    `json:"conversation_id"`
	Model          string    `json:"model"`
	At             time.Time `json:"at"`

	// Fragment is set for token events.
	Fragment string `json:"fragment,omitempty"`

	// Ended events only.
	State   string `json:"state,omitempty"`
	Content string `json:"content,omitempty"`
	Tokens  int    `json:"tokens,omitempty"`
	TTFTMs  int64  `json:"ttft_ms,omitempty"`
	TookMs  int64  `json:"took_ms,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newEvent(t Type, ex *exchange.Exchange, at time.Time) *Event {
	return &Event{
		Type:           t,
		ExchangeID:     ex.ID(),
		ConversationID: ex.ConversationID(),
		Model:          ex.Model(),
		At:             at,
	}
}

// Committed reports whether an ended event carries a stored reply.
func (e *Event) Committed() bool {
	return e.Type == TypeEnded && e.State == exchange.StateCommitted.String()
}

// NewEventFromJSON decodes a published payload.
func NewEventFromJSON(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	switch e.Type {
	case TypeStarted, TypeToken, TypeEnded:
	default:
		return nil, errors.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}
