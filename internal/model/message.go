// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ParseRole converts a string into a Role. The second result is false for
// unknown roles.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one turn of a conversation. Messages are never edited in
// place; an edit truncates the history and appends a new message.
type Message struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// NewMessage creates a message stamped with the given time.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}

// IsUser reports whether the message was sent by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant reports whether the message was produced by the model.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}
