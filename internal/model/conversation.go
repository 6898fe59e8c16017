// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/jeranaias/ollama-view/internal/ollama"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a named, ordered message history bound to one model.
// The order of Messages is canonical: operations only truncate a suffix or
// append.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	ModelName string    `json:"modelName" yaml:"model"`
	Name      string    `json:"name" yaml:"name"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// MessageCount returns the number of messages in the conversation.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty reports whether the conversation has no messages. Empty
// conversations are transient and deleted by their owner when abandoned.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// UserMessageCount returns the number of user-authored messages.
func (c *Conversation) UserMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.IsUser() {
			n++
		}
	}
	return n
}

// LastMessage returns the final message, or nil for an empty conversation.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LastAssistantIndex returns the index of the last assistant message, or -1.
func (c *Conversation) LastAssistantIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsAssistant() {
			return i
		}
	}
	return -1
}

// ClampIndex maps a caller-supplied message index into [0, len(Messages)].
func (c *Conversation) ClampIndex(index int) int {
	if index < 0 {
		return 0
	}
	if index > len(c.Messages) {
		return len(c.Messages)
	}
	return index
}

// Prefix returns a copy of Messages[0:index), with index clamped.
func (c *Conversation) Prefix(index int) []Message {
	index = c.ClampIndex(index)
	out := make([]Message, index, index+1)
	copy(out, c.Messages[:index])
	return out
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	copy(clone.Messages, c.Messages)
	return &clone
}

// =============================================================================
// OLLAMA CONVERSION
// =============================================================================

// ToOllamaMessages projects the history to the role/content pairs the chat
// endpoint accepts. Timestamps are dropped.
func (c *Conversation) ToOllamaMessages() []ollama.Message {
	messages := make([]ollama.Message, 0, len(c.Messages))
	for _, msg := range c.Messages {
		messages = append(messages, ollama.Message{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return messages
}
