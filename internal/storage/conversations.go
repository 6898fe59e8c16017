// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ollama-view/internal/kv"
	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/naming"
)

// DefaultKey is the key the conversation collection is persisted under.
const DefaultKey = "ollama-view.chats"

// =============================================================================
// RECORD-LEVEL SEAM
// =============================================================================

// Records is the record-level view of the conversation collection: read one
// record, or apply a function to one record and persist the result.
type Records interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
	Mutate(ctx context.Context, id string, fn func(*model.Conversation) error) (*model.Conversation, error)
}

// errNoChange aborts an update without writing.
var errNoChange = errors.New("no change")

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore owns the conversation collection.
//
// Every mutation is a read-modify-write of the whole collection. Within the
// process the mutex serialises them; across processes the backend revision
// check turns a concurrent write into ErrConflict instead of a lost update.
type ConversationStore struct {
	backend kv.Store
	key     string
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	watches map[*ownWrites]struct{}
}

var _ Records = (*ConversationStore)(nil)

// Option configures a ConversationStore.
type Option func(*ConversationStore)

// WithKey overrides the persistence key.
func WithKey(key string) Option {
	return func(s *ConversationStore) { s.key = key }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *ConversationStore) { s.log = log.With().Str("component", "storage").Logger() }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ConversationStore) { s.now = now }
}

// WithIDGenerator replaces the UUID generator for conversation IDs.
func WithIDGenerator(newID func() string) Option {
	return func(s *ConversationStore) { s.newID = newID }
}

// NewConversationStore creates a store persisting to backend.
func NewConversationStore(backend kv.Store, opts ...Option) *ConversationStore {
	s := &ConversationStore{
		backend: backend,
		key:     DefaultKey,
		log:     zerolog.Nop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the backend.
func (s *ConversationStore) Close() error {
	return s.backend.Close()
}

// =============================================================================
// READS
// =============================================================================

// Load returns the whole collection as currently persisted.
func (s *ConversationStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// List returns every conversation, newest first.
func (s *ConversationStore) List(ctx context.Context) ([]*model.Conversation, error) {
	return s.filter(ctx, func(*model.Conversation) bool { return true })
}

// ListForModel returns the conversations bound to modelName, newest first.
func (s *ConversationStore) ListForModel(ctx context.Context, modelName string) ([]*model.Conversation, error) {
	return s.filter(ctx, func(c *model.Conversation) bool { return c.ModelName == modelName })
}

// Search returns conversations whose name or any message contains query,
// case-insensitively, newest first. An empty modelName searches all models.
func (s *ConversationStore) Search(ctx context.Context, modelName, query string) ([]*model.Conversation, error) {
	query = strings.ToLower(query)
	return s.filter(ctx, func(c *model.Conversation) bool {
		if modelName != "" && c.ModelName != modelName {
			return false
		}
		if query == "" || strings.Contains(strings.ToLower(c.Name), query) {
			return true
		}
		for _, m := range c.Messages {
			if strings.Contains(strings.ToLower(m.Content), query) {
				return true
			}
		}
		return false
	})
}

// Get returns a copy of the conversation with id.
func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	_, conv := snap.Find(id)
	if conv == nil {
		return nil, notFound(id)
	}
	return conv, nil
}

func (s *ConversationStore) filter(ctx context.Context, keep func(*model.Conversation) bool) ([]*model.Conversation, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Conversation, 0, len(snap.Conversations))
	for _, c := range snap.Conversations {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateChat creates an empty conversation for modelName named "New Chat",
// suffixed when that name is taken.
func (s *ConversationStore) CreateChat(ctx context.Context, modelName string) (*model.Conversation, error) {
	if modelName == "" {
		return nil, ErrModelRequired
	}

	var created *model.Conversation
	err := s.update(ctx, func(snap *Snapshot) error {
		created = &model.Conversation{
			ID:        s.newID(),
			ModelName: modelName,
			Name:      naming.Unique(naming.DefaultChatName, snap.Names(modelName, "")),
			Messages:  []model.Message{},
			CreatedAt: s.now(),
		}
		snap.Insert(created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("id", created.ID).Str("model", modelName).Str("name", created.Name).Msg("conversation created")
	return created.Clone(), nil
}

// Delete removes the conversation. Deleting an unknown ID is a no-op.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	err := s.update(ctx, func(snap *Snapshot) error {
		i, _ := snap.Find(id)
		if i < 0 {
			return errNoChange
		}
		snap.Remove(i)
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug().Str("id", id).Msg("conversation deleted")
	return nil
}

// AddMessage appends a message stamped now. The first user message of a
// conversation still carrying a default name renames it after the message
// content, deduplicated against the model's other conversations.
func (s *ConversationStore) AddMessage(ctx context.Context, id string, role model.Role, content string) (*model.Conversation, error) {
	if !role.Valid() {
		return nil, &ConversationError{Message: ErrInvalidMessage.Message, Cause: errors.Errorf("role %q", role)}
	}

	return s.mutate(ctx, id, func(snap *Snapshot, conv *model.Conversation) error {
		conv.Messages = append(conv.Messages, model.NewMessage(role, content, s.now()))

		if role == model.RoleUser && conv.UserMessageCount() == 1 && naming.IsDefault(conv.Name) {
			renamed := naming.Unique(naming.Title(content), snap.Names(conv.ModelName, conv.ID))
			s.log.Debug().Str("id", id).Str("from", conv.Name).Str("to", renamed).Msg("conversation renamed")
			conv.Name = renamed
		}
		return nil
	})
}

// TruncateAndReplace keeps messages [0, index) and appends a user message
// with newContent.
func (s *ConversationStore) TruncateAndReplace(ctx context.Context, id string, index int, newContent string) (*model.Conversation, error) {
	return s.Mutate(ctx, id, func(conv *model.Conversation) error {
		conv.Messages = append(conv.Prefix(index), model.NewMessage(model.RoleUser, newContent, s.now()))
		return nil
	})
}

// DeleteFrom keeps messages [0, index).
func (s *ConversationStore) DeleteFrom(ctx context.Context, id string, index int) (*model.Conversation, error) {
	return s.Mutate(ctx, id, func(conv *model.Conversation) error {
		conv.Messages = conv.Prefix(index)
		return nil
	})
}

// Fork creates a new conversation holding source messages [0, index) plus a
// user message with newContent. The name derives from newContent. The
// source is not modified.
func (s *ConversationStore) Fork(ctx context.Context, id string, index int, newContent string) (*model.Conversation, error) {
	return s.branch(ctx, id, func(snap *Snapshot, source *model.Conversation) *model.Conversation {
		msgs := append(source.Prefix(index), model.NewMessage(model.RoleUser, newContent, s.now()))
		return &model.Conversation{
			ID:        s.newID(),
			ModelName: source.ModelName,
			Name:      naming.Unique(naming.Title(newContent), snap.Names(source.ModelName, "")),
			Messages:  msgs,
			CreatedAt: s.now(),
		}
	})
}

// ForkFrom creates a new conversation holding exactly source messages
// [0, index), named after the source with a " (Fork)" suffix.
func (s *ConversationStore) ForkFrom(ctx context.Context, id string, index int) (*model.Conversation, error) {
	return s.branch(ctx, id, func(snap *Snapshot, source *model.Conversation) *model.Conversation {
		return &model.Conversation{
			ID:        s.newID(),
			ModelName: source.ModelName,
			Name:      naming.Unique(naming.ForkName(source.Name), snap.Names(source.ModelName, "")),
			Messages:  source.Prefix(index),
			CreatedAt: s.now(),
		}
	})
}

// Mutate applies fn to the conversation with id and persists the result.
// When fn returns an error nothing is written and the error is returned.
func (s *ConversationStore) Mutate(ctx context.Context, id string, fn func(*model.Conversation) error) (*model.Conversation, error) {
	return s.mutate(ctx, id, func(_ *Snapshot, conv *model.Conversation) error {
		return fn(conv)
	})
}

func (s *ConversationStore) mutate(ctx context.Context, id string, fn func(*Snapshot, *model.Conversation) error) (*model.Conversation, error) {
	var result *model.Conversation
	err := s.update(ctx, func(snap *Snapshot) error {
		_, conv := snap.Find(id)
		if conv == nil {
			return notFound(id)
		}
		if err := fn(snap, conv); err != nil {
			return err
		}
		result = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

func (s *ConversationStore) branch(ctx context.Context, id string, build func(*Snapshot, *model.Conversation) *model.Conversation) (*model.Conversation, error) {
	var created *model.Conversation
	err := s.update(ctx, func(snap *Snapshot) error {
		_, source := snap.Find(id)
		if source == nil {
			return notFound(id)
		}
		created = build(snap, source)
		snap.Insert(created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("source", id).Str("id", created.ID).Str("name", created.Name).
		Int("messages", len(created.Messages)).Msg("conversation forked")
	return created.Clone(), nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// update runs one read-modify-write cycle under the store mutex.
func (s *ConversationStore) update(ctx context.Context, fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}

	if err := fn(snap); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}

	data, err := snap.encode()
	if err != nil {
		return err
	}

	rev, err := s.backend.Set(ctx, s.key, data, snap.Revision)
	if errors.Is(err, kv.ErrRevisionMismatch) {
		s.log.Warn().Err(err).Uint64("revision", snap.Revision).Msg("concurrent write detected")
		return conflict(err)
	}
	if err != nil {
		return errors.Wrap(err, "persist conversations")
	}
	for w := range s.watches {
		w.own[rev] = struct{}{}
	}
	return nil
}

func (s *ConversationStore) load(ctx context.Context) (*Snapshot, error) {
	entry, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "load conversations")
	}
	snap, err := decodeSnapshot(entry.Value, entry.Revision)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// =============================================================================
// WATCH
// =============================================================================

// Watch calls onChange when another writer changes the collection. Writes
// made through this store do not trigger it unless a foreign write landed
// in the same burst. It blocks until ctx is done and fails with
// ErrWatchUnsupported for backends without change events.
func (s *ConversationStore) Watch(ctx context.Context, onChange func()) error {
	w, ok := s.backend.(kv.Watcher)
	if !ok {
		return ErrWatchUnsupported
	}

	s.mu.Lock()
	entry, err := s.backend.Get(ctx, s.key)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "load conversations")
	}
	tracker := &ownWrites{seen: entry.Revision, own: make(map[uint64]struct{})}
	if s.watches == nil {
		s.watches = make(map[*ownWrites]struct{})
	}
	s.watches[tracker] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.watches, tracker)
		s.mu.Unlock()
	}()

	return w.Watch(ctx, s.key, func() {
		entry, err := s.backend.Get(ctx, s.key)
		if err != nil {
			s.log.Warn().Err(err).Msg("reload after change")
			return
		}

		s.mu.Lock()
		external := tracker.external(entry.Revision)
		s.mu.Unlock()

		if external {
			onChange()
		}
	})
}

// ownWrites records the revisions this store wrote while one Watch runs.
// Backend revisions step by one, so any revision between the last one seen
// and the current one that is not ours came from another writer.
type ownWrites struct {
	seen uint64
	own  map[uint64]struct{}
}

// external advances to rev and reports whether a foreign write is among
// the revisions passed. A revision going backwards means the key was
// removed or replaced.
func (w *ownWrites) external(rev uint64) bool {
	if rev < w.seen {
		w.seen = rev
		w.own = make(map[uint64]struct{})
		return true
	}
	found := false
	for r := w.seen + 1; r <= rev; r++ {
		if _, ok := w.own[r]; !ok {
			found = true
		}
		delete(w.own, r)
	}
	w.seen = rev
	return found
}
