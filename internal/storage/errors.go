// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"github.com/pkg/errors"
)

// ErrConversationNotFound is returned when a conversation ID does not exist.
// Nothing is written when an operation fails with it.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrConflict is returned when the persisted collection changed between the
// read and the write of a mutation (another process wrote it). The mutation
// is not applied; the caller may reload and retry.
var ErrConflict = &ConversationError{Message: "conversation store changed concurrently"}

// ErrInvalidMessage is returned by AddMessage for an unknown role.
var ErrInvalidMessage = &ConversationError{Message: "invalid message"}

// ErrModelRequired is returned by CreateChat for an empty model name.
var ErrModelRequired = &ConversationError{Message: "model name required"}

// ErrWatchUnsupported is returned by Watch when the backend cannot report
// external changes.
var ErrWatchUnsupported = &ConversationError{Message: "storage backend does not support watching"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// Unwrap returns the underlying cause.
func (e *ConversationError) Unwrap() error {
	return e.Cause
}

func notFound(id string) error {
	return &ConversationError{Message: ErrConversationNotFound.Message, Cause: errors.Errorf("id %s", id)}
}

func conflict(cause error) error {
	return &ConversationError{Message: ErrConflict.Message, Cause: cause}
}
