// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/ollama"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Transport streams a chat completion, calling onToken for every content
// fragment in arrival order. It returns when the stream ends.
type Transport interface {
	StreamChat(ctx context.Context, modelName string, messages []ollama.Message, onToken func(string)) error
}

// Committer persists the finished assistant message.
type Committer interface {
	AddMessage(ctx context.Context, id string, role model.Role, content string) (*model.Conversation, error)
}

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of one exchange.
//
//	idle -> sending -> streaming -> committed
//	                 \            \-> failed | cancelled
//	                  \-> failed | cancelled
type State int32

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCommitted
	StateFailed
	StateCancelled
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateCancelled
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTransport marks a failed inference stream. Nothing was persisted.
	ErrTransport = errors.New("inference stream failed")

	// ErrCommit marks a stream that finished but whose reply could not be
	// stored (for example the conversation was deleted meanwhile).
	ErrCommit = errors.New("commit assistant message failed")

	// ErrCancelled is returned when the exchange was cancelled before its
	// reply was committed. Nothing was persisted.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrAlreadyRun is returned when Run is called twice on one Exchange.
	ErrAlreadyRun = errors.New("exchange already run")
)

// Error ties a failure kind (ErrTransport, ErrCommit, ErrCancelled) to its
// cause. errors.Is matches both the kind and anything in the cause chain.
type Error struct {
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Cause.Error()
}

// Is reports whether target is the failure kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// =============================================================================
// RESULT
// =============================================================================

// Result describes a finished exchange.
type Result struct {
	ExchangeID     string
	ConversationID string
	State          State

	// Content is everything received, committed or not.
	Content string
	Tokens  int

	TimeToFirstToken time.Duration
	Duration         time.Duration

	// Conversation is the stored conversation after a commit, nil otherwise.
	Conversation *model.Conversation

	// Err is nil for a committed exchange.
	Err error
}

// Committed reports whether the reply was persisted.
func (r *Result) Committed() bool {
	return r.State == StateCommitted
}
