// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ollama-view/internal/exchange"
	"github.com/jeranaias/ollama-view/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when an exchange is requested on a session that is
	// already running one.
	ErrBusy = errors.New("session is busy generating")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNothingToRegenerate is returned by Regenerate when the conversation
	// holds no assistant message.
	ErrNothingToRegenerate = errors.New("no assistant message to regenerate")
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Store is the subset of the conversation store sessions drive.
type Store interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
	CreateChat(ctx context.Context, modelName string) (*model.Conversation, error)
	Delete(ctx context.Context, id string) error
	AddMessage(ctx context.Context, id string, role model.Role, content string) (*model.Conversation, error)
	TruncateAndReplace(ctx context.Context, id string, index int, newContent string) (*model.Conversation, error)
	DeleteFrom(ctx context.Context, id string, index int) (*model.Conversation, error)
	Fork(ctx context.Context, id string, index int, newContent string) (*model.Conversation, error)
	ForkFrom(ctx context.Context, id string, index int) (*model.Conversation, error)
}

// StateChange reports an exchange lifecycle transition on a session.
type StateChange struct {
	ConversationID string
	Model          string
	State          exchange.State
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager keeps at most one live Session per conversation.
type Manager struct {
	store Store
	coord *exchange.Coordinator
	log   zerolog.Logger
	now   func() time.Time

	onStateChange func(StateChange)

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log.With().Str("component", "session").Logger() }
}

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithStateChange registers fn to be called when generation starts and
// when it ends. It runs on the exchange goroutine and must not block.
func WithStateChange(fn func(StateChange)) Option {
	return func(m *Manager) { m.onStateChange = fn }
}

// NewManager creates a session manager over store and coord.
func NewManager(store Store, coord *exchange.Coordinator, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		coord:    coord,
		log:      zerolog.Nop(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the live session for conversation id, creating it if needed.
// It fails with storage.ErrConversationNotFound for an unknown id.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have opened it meanwhile.
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := &Session{m: m, id: id, lastActivity: m.now()}
	m.sessions[id] = s
	m.log.Debug().Str("conversation", id).Msg("session opened")
	return s, nil
}

// New creates an empty conversation for modelName and opens it. The
// conversation is transient: closing the session before anything was sent
// deletes it.
func (m *Manager) New(ctx context.Context, modelName string) (*Session, error) {
	conv, err := m.store.CreateChat(ctx, modelName)
	if err != nil {
		return nil, err
	}
	return m.Open(ctx, conv.ID)
}

// Sessions returns the ids of the open sessions, sorted.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseIdle closes sessions not busy and idle for at least maxIdle. It
// returns the ids it closed.
func (m *Manager) CloseIdle(ctx context.Context, maxIdle time.Duration) ([]string, error) {
	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if !s.Busy() && s.IdleTime() >= maxIdle {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	var closed []string
	for _, s := range idle {
		if err := s.Close(ctx); err != nil {
			return closed, err
		}
		closed = append(closed, s.id)
	}
	sort.Strings(closed)
	return closed, nil
}

// Close closes every open session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	var first error
	for _, s := range all {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// unregister drops s unless the conversation was reopened since.
func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
}

// stateListener relays exchange start and end to the state change hook.
func (m *Manager) stateListener() exchange.Listener {
	if m.onStateChange == nil {
		return nil
	}
	return exchange.ListenerFuncs{
		Started: func(ex *exchange.Exchange) {
			m.onStateChange(StateChange{ConversationID: ex.ConversationID(), Model: ex.Model(), State: exchange.StateStreaming})
		},
		Ended: func(ex *exchange.Exchange, res *exchange.Result) {
			m.onStateChange(StateChange{ConversationID: ex.ConversationID(), Model: ex.Model(), State: res.State})
		},
	}
}
