// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/ollama-view/internal/exchange"
	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/storage"
)

// =============================================================================
// SESSION
// =============================================================================

// Session is the live view of one conversation. It runs at most one
// exchange at a time.
type Session struct {
	m  *Manager
	id string

	mu              sync.Mutex
	busy            bool
	closed          bool
	cancelRequested bool
	active          *exchange.Exchange
	done            chan struct{}
	lastActivity    time.Time
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.id }

// Conversation returns the current stored conversation.
func (s *Session) Conversation(ctx context.Context) (*model.Conversation, error) {
	return s.m.store.Get(ctx, s.id)
}

// Busy reports whether an exchange is in progress.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// IdleTime returns how long since the last operation ended.
func (s *Session) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return 0
	}
	return s.m.now().Sub(s.lastActivity)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Send appends a user message and generates the reply.
func (s *Session) Send(ctx context.Context, text string, l exchange.Listener) (*exchange.Result, error) {
	return s.do(ctx, l, func() (*model.Conversation, error) {
		return s.m.store.AddMessage(ctx, s.id, model.RoleUser, text)
	})
}

// Edit replaces the message at index with a user message and regenerates
// from there. Everything after index is discarded.
func (s *Session) Edit(ctx context.Context, index int, text string, l exchange.Listener) (*exchange.Result, error) {
	return s.do(ctx, l, func() (*model.Conversation, error) {
		return s.m.store.TruncateAndReplace(ctx, s.id, index, text)
	})
}

// Regenerate discards the last assistant message, and anything after it,
// and generates a fresh reply over the preceding context.
func (s *Session) Regenerate(ctx context.Context, l exchange.Listener) (*exchange.Result, error) {
	conv, err := s.Conversation(ctx)
	if err != nil {
		return nil, err
	}
	idx := conv.LastAssistantIndex()
	if idx < 0 {
		return nil, ErrNothingToRegenerate
	}
	return s.RegenerateAt(ctx, idx, l)
}

// RegenerateAt discards messages from index on and generates a reply over
// messages [0, index).
func (s *Session) RegenerateAt(ctx context.Context, index int, l exchange.Listener) (*exchange.Result, error) {
	return s.do(ctx, l, func() (*model.Conversation, error) {
		return s.m.store.DeleteFrom(ctx, s.id, index)
	})
}

// Fork branches a new conversation from messages [0, index) plus a user
// message with text, opens it and generates its reply. This session's
// conversation is unchanged.
func (s *Session) Fork(ctx context.Context, index int, text string, l exchange.Listener) (*Session, *exchange.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	conv, err := s.m.store.Fork(ctx, s.id, index, text)
	if err != nil {
		return nil, nil, err
	}
	return s.runForked(ctx, conv, l)
}

// ForkFrom branches a new conversation holding messages [0, index), opens
// it and generates a reply over that history.
func (s *Session) ForkFrom(ctx context.Context, index int, l exchange.Listener) (*Session, *exchange.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	conv, err := s.m.store.ForkFrom(ctx, s.id, index)
	if err != nil {
		return nil, nil, err
	}
	return s.runForked(ctx, conv, l)
}

func (s *Session) runForked(ctx context.Context, conv *model.Conversation, l exchange.Listener) (*Session, *exchange.Result, error) {
	forked, err := s.m.Open(ctx, conv.ID)
	if err != nil {
		return nil, nil, err
	}
	res, err := forked.do(ctx, l, func() (*model.Conversation, error) { return conv, nil })
	return forked, res, err
}

// Cancel stops the in-flight exchange, if any. Nothing from it is stored.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy {
		return
	}
	s.cancelRequested = true
	if s.active != nil {
		s.active.Cancel()
	}
}

// Close cancels any in-flight exchange and waits for it to end, so no late
// reply is committed. The session is unregistered first, so a Close that
// gives up on ctx still leaves the conversation free to reopen. Its
// conversation is deleted if it holds no messages.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.done
	busy := s.busy
	s.mu.Unlock()

	s.m.unregister(s)
	s.m.log.Debug().Str("conversation", s.id).Msg("session closed")

	if busy {
		s.Cancel()
		select {
		case <-done:
		case <-ctx.Done():
			// The exchange was cancelled and will not commit; a busy
			// conversation already holds the prompt.
			return ctx.Err()
		}
	}

	conv, err := s.m.store.Get(ctx, s.id)
	if errors.Is(err, storage.ErrConversationNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "close session")
	}
	if conv.IsEmpty() {
		s.m.log.Debug().Str("conversation", s.id).Msg("deleting empty conversation")
		return s.m.store.Delete(ctx, s.id)
	}
	return nil
}

// =============================================================================
// EXCHANGE LIFECYCLE
// =============================================================================

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// do reserves the session, applies the store mutation and runs an exchange
// over the resulting conversation.
func (s *Session) do(ctx context.Context, l exchange.Listener, mutate func() (*model.Conversation, error)) (*exchange.Result, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	conv, err := mutate()
	if err != nil {
		return nil, err
	}

	ex := s.m.coord.NewExchange(conv, exchange.Combine(s.m.stateListener(), l))

	s.mu.Lock()
	s.active = ex
	if s.cancelRequested {
		ex.Cancel()
	}
	s.mu.Unlock()

	return ex.Run(ctx)
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.cancelRequested = false
	s.done = make(chan struct{})
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.active = nil
	s.lastActivity = s.m.now()
	close(s.done)
}
