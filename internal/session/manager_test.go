// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollama-view/internal/exchange"
	"github.com/jeranaias/ollama-view/internal/kv"
	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/ollama"
	"github.com/jeranaias/ollama-view/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// echoTransport replies "Response N" where N counts the user messages sent.
// With gate set it blocks after the first fragment until the gate closes or
// ctx is done; with ignoreCtx it waits for the gate only.
type echoTransport struct {
	mu        sync.Mutex
	calls     [][]ollama.Message
	gate      chan struct{}
	started   chan struct{}
	ignoreCtx bool
}

func (e *echoTransport) StreamChat(ctx context.Context, modelName string, messages []ollama.Message, onToken func(string)) error {
	e.mu.Lock()
	e.calls = append(e.calls, messages)
	gate, started, ignoreCtx := e.gate, e.started, e.ignoreCtx
	e.started = nil
	e.mu.Unlock()

	users := 0
	for _, m := range messages {
		if m.Role == "user" {
			users++
		}
	}
	onToken("Response")
	if started != nil {
		close(started)
	}
	if gate != nil && ignoreCtx {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	onToken(fmt.Sprintf(" %d", users))
	return nil
}

func (e *echoTransport) lastCall() []ollama.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

type fixture struct {
	store     *storage.ConversationStore
	transport *echoTransport
	mgr       *Manager
	changes   []StateChange
	changesMu sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{transport: &echoTransport{}}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	f.store = storage.NewConversationStore(kv.NewMemoryStore(), storage.WithClock(clock))
	coord := exchange.NewCoordinator(f.transport, f.store)
	f.mgr = NewManager(f.store, coord, WithStateChange(func(c StateChange) {
		f.changesMu.Lock()
		defer f.changesMu.Unlock()
		f.changes = append(f.changes, c)
	}))
	return f
}

func contents(conv *model.Conversation) []string {
	out := make([]string, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		out = append(out, m.Content)
	}
	return out
}

// =============================================================================
// TESTS
// =============================================================================

func TestSession_SendAndEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)

	_, err = s.Send(ctx, "Msg 1", nil)
	require.NoError(t, err)
	res, err := s.Send(ctx, "Msg 2", nil)
	require.NoError(t, err)
	require.True(t, res.Committed())
	assert.Equal(t, []string{"Msg 1", "Response 1", "Msg 2", "Response 2"}, contents(res.Conversation))
	assert.Equal(t, "Msg 1", res.Conversation.Name)

	res, err = s.Edit(ctx, 2, "Msg 2 Edited", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Msg 1", "Response 1", "Msg 2 Edited", "Response 2"}, contents(res.Conversation))

	sent := f.transport.lastCall()
	require.Len(t, sent, 3)
	assert.Equal(t, "Msg 2 Edited", sent[2].Content)
}

func TestSession_Regenerate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)

	_, err = s.Regenerate(ctx, nil)
	assert.True(t, errors.Is(err, ErrNothingToRegenerate))

	_, err = s.Send(ctx, "Hi", nil)
	require.NoError(t, err)

	res, err := s.Regenerate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "Response 1"}, contents(res.Conversation))
	assert.Equal(t, []ollama.Message{{Role: "user", Content: "Hi"}}, f.transport.lastCall())

	res, err = s.RegenerateAt(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, res.Conversation.Messages, 2)
}

func TestSession_Fork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)
	_, err = s.Send(ctx, "Msg 1", nil)
	require.NoError(t, err)

	forked, res, err := s.Fork(ctx, 0, "Other", nil)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), forked.ID())
	assert.Equal(t, []string{"Other", "Response 1"}, contents(res.Conversation))
	assert.Equal(t, "Other", res.Conversation.Name)

	source, err := s.Conversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Msg 1", "Response 1"}, contents(source))

	fromFork, res, err := s.ForkFrom(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "Msg 1 (Fork)", res.Conversation.Name)
	assert.Equal(t, []string{"Msg 1", "Response 1"}, contents(res.Conversation))

	assert.ElementsMatch(t, []string{s.ID(), forked.ID(), fromFork.ID()}, f.mgr.Sessions())
}

func TestManager_OpenReturnsSameSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv, err := f.store.CreateChat(ctx, "llama3")
	require.NoError(t, err)

	a, err := f.mgr.Open(ctx, conv.ID)
	require.NoError(t, err)
	b, err := f.mgr.Open(ctx, conv.ID)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = f.mgr.Open(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrConversationNotFound))
}

func TestSession_CloseDeletesEmptyConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	empty, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)
	used, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)
	_, err = used.Send(ctx, "keep me", nil)
	require.NoError(t, err)

	require.NoError(t, empty.Close(ctx))
	require.NoError(t, used.Close(ctx))
	require.NoError(t, empty.Close(ctx), "second close is a no-op")

	_, err = f.store.Get(ctx, empty.ID())
	assert.True(t, errors.Is(err, storage.ErrConversationNotFound))
	_, err = f.store.Get(ctx, used.ID())
	assert.NoError(t, err)
	assert.Empty(t, f.mgr.Sessions())

	_, err = used.Send(ctx, "late", nil)
	assert.Equal(t, ErrClosed, err)
}

func TestSession_BusyAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)

	f.transport.gate = make(chan struct{})
	f.transport.started = make(chan struct{})
	started := f.transport.started

	type outcome struct {
		res *exchange.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Send(ctx, "Hello", nil)
		done <- outcome{res, err}
	}()

	<-started
	assert.True(t, s.Busy())

	_, err = s.Send(ctx, "again", nil)
	assert.Equal(t, ErrBusy, err)

	s.Cancel()
	out := <-done
	assert.True(t, errors.Is(out.err, exchange.ErrCancelled))
	assert.False(t, s.Busy())

	conv, err := s.Conversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello"}, contents(conv), "cancelled reply must not be stored")
}

func TestSession_CloseCancelsInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)

	f.transport.gate = make(chan struct{})
	f.transport.started = make(chan struct{})
	started := f.transport.started

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, "Hello", nil)
		done <- err
	}()
	<-started

	require.NoError(t, s.Close(ctx))
	assert.True(t, errors.Is(<-done, exchange.ErrCancelled))

	conv, err := f.store.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello"}, contents(conv))
}

func TestSession_CloseTimeoutLeavesConversationReopenable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)

	gate := make(chan struct{})
	f.transport.gate = gate
	f.transport.started = make(chan struct{})
	f.transport.ignoreCtx = true
	started := f.transport.started

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, "Hello", nil)
		done <- err
	}()
	<-started

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = s.Close(closeCtx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, f.mgr.Sessions())

	reopened, err := f.mgr.Open(ctx, s.ID())
	require.NoError(t, err)
	assert.NotSame(t, s, reopened)

	close(gate)
	assert.True(t, errors.Is(<-done, exchange.ErrCancelled))

	// Closing the old session again leaves the new one registered.
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, []string{s.ID()}, f.mgr.Sessions())

	res, err := reopened.Send(ctx, "Again", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", "Again", "Response 2"}, contents(res.Conversation))
}

// failingGetStore fails Get once err is set.
type failingGetStore struct {
	Store
	mu  sync.Mutex
	err error
}

func (f *failingGetStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, id)
}

func TestSession_CloseReportsStoreErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := &failingGetStore{Store: f.store}
	mgr := NewManager(store, exchange.NewCoordinator(f.transport, f.store))

	s, err := mgr.New(ctx, "llama3")
	require.NoError(t, err)
	store.mu.Lock()
	store.err = errors.New("disk on fire")
	store.mu.Unlock()

	err = s.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")

	// A conversation deleted elsewhere is not an error.
	s2, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, s2.ID()))
	assert.NoError(t, s2.Close(ctx))
}

func TestManager_StateChangeHook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)

	_, err = s.Send(ctx, "Hi", nil)
	require.NoError(t, err)

	f.changesMu.Lock()
	defer f.changesMu.Unlock()
	require.Len(t, f.changes, 2)
	assert.Equal(t, exchange.StateStreaming, f.changes[0].State)
	assert.Equal(t, exchange.StateCommitted, f.changes[1].State)
	assert.Equal(t, "llama3", f.changes[0].Model)
	assert.Equal(t, s.ID(), f.changes[1].ConversationID)
}

func TestManager_CloseIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time { return now }

	old, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)
	now = now.Add(20 * time.Minute)
	fresh, err := f.mgr.New(ctx, "llama3")
	require.NoError(t, err)

	closed, err := f.mgr.CloseIdle(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID()}, closed)
	assert.Equal(t, []string{fresh.ID()}, f.mgr.Sessions())

	require.NoError(t, f.mgr.Close(ctx))
	assert.Empty(t, f.mgr.Sessions())
}
