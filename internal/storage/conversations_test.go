// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollama-view/internal/kv"
	"github.com/jeranaias/ollama-view/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

// testClock advances one second per call so CreatedAt ordering is strict.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("conv-%03d", n)
	}
}

func newTestStore(t *testing.T) (*ConversationStore, kv.Store) {
	t.Helper()
	backend := kv.NewMemoryStore()
	clock := &testClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewConversationStore(backend, WithClock(clock.Now), WithIDGenerator(sequentialIDs())), backend
}

func contents(conv *model.Conversation) []string {
	out := make([]string, len(conv.Messages))
	for i, m := range conv.Messages {
		out[i] = m.Content
	}
	return out
}

// seed creates a conversation holding Msg 1 / Response 1 / Msg 2 / Response 2.
func seed(t *testing.T, s *ConversationStore) *model.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := s.CreateChat(ctx, "llama3")
	require.NoError(t, err)

	for _, m := range []struct {
		role    model.Role
		content string
	}{
		{model.RoleUser, "Msg 1"},
		{model.RoleAssistant, "Response 1"},
		{model.RoleUser, "Msg 2"},
		{model.RoleAssistant, "Response 2"},
	} {
		conv, err = s.AddMessage(ctx, conv.ID, m.role, m.content)
		require.NoError(t, err)
	}
	return conv
}

// =============================================================================
// CREATE / LIST / GET / DELETE
// =============================================================================

func TestCreateChat_DefaultNames(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var names []string
	for i := 0; i < 3; i++ {
		conv, err := s.CreateChat(ctx, "llama3")
		require.NoError(t, err)
		assert.Empty(t, conv.Messages)
		assert.Equal(t, "llama3", conv.ModelName)
		names = append(names, conv.Name)
	}
	assert.Equal(t, []string{"New Chat", "New Chat (2)", "New Chat (3)"}, names)
}

func TestCreateChat_NamesScopedPerModel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateChat(ctx, "llama3")
	require.NoError(t, err)
	b, err := s.CreateChat(ctx, "mistral")
	require.NoError(t, err)

	assert.Equal(t, "New Chat", a.Name)
	assert.Equal(t, "New Chat", b.Name)
}

func TestCreateChat_GapsNotReused(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateChat(ctx, "llama3")
	require.NoError(t, err)
	second, err := s.CreateChat(ctx, "llama3")
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, "llama3")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, second.ID))

	next, err := s.CreateChat(ctx, "llama3")
	require.NoError(t, err)
	assert.Equal(t, "New Chat (4)", next.Name)
}

func TestCreateChat_RequiresModel(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateChat(context.Background(), "")
	assert.True(t, errors.Is(err, ErrModelRequired))
}

func TestListForModel_NewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, _ := s.CreateChat(ctx, "llama3")
	_, _ = s.CreateChat(ctx, "mistral")
	third, _ := s.CreateChat(ctx, "llama3")

	convs, err := s.ListForModel(ctx, "llama3")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, third.ID, convs[0].ID)
	assert.Equal(t, first.ID, convs[1].ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.ListForModel(ctx, "gemma")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestDelete(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateChat(ctx, "llama3")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, conv.ID))

	_, err = s.Get(ctx, conv.ID)
	assert.True(t, errors.Is(err, ErrConversationNotFound))

	// Unknown IDs are a no-op and do not write.
	before, _ := backend.Get(ctx, DefaultKey)
	require.NoError(t, s.Delete(ctx, "missing"))
	after, _ := backend.Get(ctx, DefaultKey)
	assert.Equal(t, before.Revision, after.Revision)
}

// =============================================================================
// ADD MESSAGE
// =============================================================================

func TestAddMessage_FirstUserMessageRenames(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateChat(ctx, "llama3")
	conv, err := s.AddMessage(ctx, conv.ID, model.RoleUser, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", conv.Name)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.False(t, conv.Messages[0].Timestamp.IsZero())

	// A second user message never renames.
	conv, err = s.AddMessage(ctx, conv.ID, model.RoleUser, "Something else")
	require.NoError(t, err)
	assert.Equal(t, "Hello", conv.Name)
}

func TestAddMessage_LongTitleTruncated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	content := strings.Repeat("x", 40)
	conv, _ := s.CreateChat(ctx, "llama3")
	conv, err := s.AddMessage(ctx, conv.ID, model.RoleUser, content)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 30)+"...", conv.Name)
}

func TestAddMessage_RenameCollision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, _ := s.CreateChat(ctx, "llama3")
	_, err := s.AddMessage(ctx, first.ID, model.RoleUser, "Hello")
	require.NoError(t, err)

	second, _ := s.CreateChat(ctx, "llama3")
	second, err = s.AddMessage(ctx, second.ID, model.RoleUser, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello (2)", second.Name)
}

func TestAddMessage_AssistantDoesNotRename(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateChat(ctx, "llama3")
	conv, err := s.AddMessage(ctx, conv.ID, model.RoleAssistant, "Greetings")
	require.NoError(t, err)
	assert.Equal(t, "New Chat", conv.Name)
}

func TestAddMessage_CustomNameKept(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateChat(ctx, "llama3")
	_, err := s.Mutate(ctx, conv.ID, func(c *model.Conversation) error {
		c.Name = "Project notes"
		return nil
	})
	require.NoError(t, err)

	conv, err = s.AddMessage(ctx, conv.ID, model.RoleUser, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Project notes", conv.Name)
}

func TestAddMessage_NotFoundLeavesCollectionUnchanged(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	before, err := backend.Get(ctx, DefaultKey)
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, "missing", model.RoleUser, "hi")
	assert.True(t, errors.Is(err, ErrConversationNotFound))

	after, err := backend.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Equal(t, before.Value, after.Value)
}

func TestAddMessage_InvalidRole(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, _ := s.CreateChat(ctx, "llama3")

	_, err := s.AddMessage(ctx, conv.ID, model.Role("tool"), "x")
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

// =============================================================================
// TRUNCATE / DELETE FROM
// =============================================================================

func TestTruncateAndReplace_EndToEnd(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv := seed(t, s)

	updated, err := s.TruncateAndReplace(ctx, conv.ID, 2, "Msg 2 Edited")
	require.NoError(t, err)
	assert.Equal(t, []string{"Msg 1", "Response 1", "Msg 2 Edited"}, contents(updated))
	assert.Equal(t, model.RoleUser, updated.Messages[2].Role)

	stored, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Msg 1", "Response 1", "Msg 2 Edited"}, contents(stored))
	assert.Equal(t, "Msg 1", stored.Name)
}

func TestTruncateAndReplace_IndexPastEnd(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv := seed(t, s)

	updated, err := s.TruncateAndReplace(ctx, conv.ID, 99, "Msg 3")
	require.NoError(t, err)
	assert.Equal(t, []string{"Msg 1", "Response 1", "Msg 2", "Response 2", "Msg 3"}, contents(updated))
}

func TestTruncateAndReplace_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.TruncateAndReplace(context.Background(), "missing", 0, "x")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestDeleteFrom(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv := seed(t, s)

	updated, err := s.DeleteFrom(ctx, conv.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Msg 1", "Response 1", "Msg 2"}, contents(updated))

	updated, err = s.DeleteFrom(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, updated.Messages, 3)

	updated, err = s.DeleteFrom(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, updated.Messages)
}

// =============================================================================
// FORK
// =============================================================================

func TestFork(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	source := seed(t, s)

	fork, err := s.Fork(ctx, source.ID, 2, "Msg 2 Alt")
	require.NoError(t, err)
	assert.NotEqual(t, source.ID, fork.ID)
	assert.Equal(t, "llama3", fork.ModelName)
	assert.Equal(t, []string{"Msg 1", "Response 1", "Msg 2 Alt"}, contents(fork))
	assert.Equal(t, "Msg 2 Alt", fork.Name)

	// The source is untouched.
	stored, err := s.Get(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, contents(source), contents(stored))
	assert.Equal(t, source.Name, stored.Name)
}

func TestFork_NameCollision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hello, _ := s.CreateChat(ctx, "llama3")
	hello, err := s.AddMessage(ctx, hello.ID, model.RoleUser, "Hello")
	require.NoError(t, err)
	require.Equal(t, "Hello", hello.Name)

	fork, err := s.Fork(ctx, hello.ID, 0, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello (2)", fork.Name)
	assert.Equal(t, []string{"Hello"}, contents(fork))
}

func TestFork_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Fork(context.Background(), "missing", 0, "x")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestForkFrom(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	source := seed(t, s)

	fork, err := s.ForkFrom(ctx, source.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Msg 1", "Response 1"}, contents(fork))
	assert.True(t, strings.HasSuffix(fork.Name, "(Fork)"))
	assert.Equal(t, "Msg 1 (Fork)", fork.Name)

	again, err := s.ForkFrom(ctx, source.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "Msg 1 (Fork) (2)", again.Name)

	stored, err := s.Get(ctx, source.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
}

func TestForkFrom_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.ForkFrom(context.Background(), "missing", 0)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

// =============================================================================
// SEARCH
// =============================================================================

func TestSearch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	other, _ := s.CreateChat(ctx, "mistral")
	_, err := s.AddMessage(ctx, other.ID, model.RoleUser, "Talk about goroutines")
	require.NoError(t, err)

	got, err := s.Search(ctx, "", "RESPONSE 2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "llama3", got[0].ModelName)

	got, err = s.Search(ctx, "mistral", "goroutine")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.Search(ctx, "llama3", "goroutine")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentAddMessage_NoLostUpdates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	conv, _ := s.CreateChat(ctx, "llama3")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddMessage(ctx, conv.ID, model.RoleAssistant, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 20)
}

func TestTwoStoresSameBackend_Conflict(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryStore()
	a := NewConversationStore(backend)

	conv, err := a.CreateChat(ctx, "llama3")
	require.NoError(t, err)

	// A raw writer bumps the revision between a snapshot read and its write.
	racing := &racingBackend{Store: backend}
	b := NewConversationStore(racing)
	racing.beforeSet = func() {
		_, err := a.AddMessage(ctx, conv.ID, model.RoleUser, "from a")
		require.NoError(t, err)
	}

	_, err = b.AddMessage(ctx, conv.ID, model.RoleUser, "from b")
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	assert.True(t, errors.Is(err, kv.ErrRevisionMismatch))

	stored, err := a.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"from a"}, contents(stored))
}

// racingBackend runs beforeSet once, right before the first Set.
type racingBackend struct {
	kv.Store
	beforeSet func()
}

func (r *racingBackend) Set(ctx context.Context, key string, value []byte, expected uint64) (uint64, error) {
	if fn := r.beforeSet; fn != nil {
		r.beforeSet = nil
		fn()
	}
	return r.Store.Set(ctx, key, value, expected)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestPersistence_FileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := kv.NewFileStore(dir)
	require.NoError(t, err)
	s := NewConversationStore(backend)
	conv := seed(t, s)

	reopened, err := kv.NewFileStore(dir)
	require.NoError(t, err)
	s2 := NewConversationStore(reopened)

	got, err := s2.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, contents(conv), contents(got))
	assert.Equal(t, "Msg 1", got.Name)
	assert.True(t, conv.CreatedAt.Equal(got.CreatedAt))
}

func TestPersistence_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := kv.NewSQLiteStore(filepath.Join(t.TempDir(), "chats.db"))
	require.NoError(t, err)
	s := NewConversationStore(backend)
	defer s.Close()

	conv := seed(t, s)
	fork, err := s.ForkFrom(ctx, conv.ID, 2)
	require.NoError(t, err)

	list, err := s.ListForModel(ctx, "llama3")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fork.ID, list[0].ID)
}

func TestLoad_EmptyAndNull(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryStore()
	_, err := backend.Set(ctx, DefaultKey, []byte("null"), 0)
	require.NoError(t, err)

	s := NewConversationStore(backend)
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	conv, err := s.CreateChat(ctx, "llama3")
	require.NoError(t, err)
	assert.Equal(t, "New Chat", conv.Name)
}

func TestWatch_Unsupported(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Watch(context.Background(), func() {})
	assert.True(t, errors.Is(err, ErrWatchUnsupported))
}

func TestWatch_ExternalWrite(t *testing.T) {
	dir := t.TempDir()
	backend, err := kv.NewFileStore(dir)
	require.NoError(t, err)
	s := NewConversationStore(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	go func() {
		_ = s.Watch(ctx, func() { changed <- struct{}{} })
	}()
	time.Sleep(100 * time.Millisecond)

	other, err := kv.NewFileStore(dir)
	require.NoError(t, err)
	_, err = NewConversationStore(other).CreateChat(context.Background(), "llama3")
	require.NoError(t, err)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification for external write")
	}
}

func TestWatch_ExternalWriteSurvivesInterveningRead(t *testing.T) {
	dir := t.TempDir()
	backend, err := kv.NewFileStore(dir)
	require.NoError(t, err)
	s := NewConversationStore(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	go func() {
		_ = s.Watch(ctx, func() { changed <- struct{}{} })
	}()
	time.Sleep(100 * time.Millisecond)

	other, err := kv.NewFileStore(dir)
	require.NoError(t, err)
	_, err = NewConversationStore(other).CreateChat(context.Background(), "llama3")
	require.NoError(t, err)

	// A read on the watching store before the debounce fires.
	convs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("external write not reported after a read")
	}
}

func TestOwnWrites_External(t *testing.T) {
	w := &ownWrites{seen: 3, own: map[uint64]struct{}{}}

	assert.False(t, w.external(3), "no new revision")

	w.own[4] = struct{}{}
	w.own[5] = struct{}{}
	assert.False(t, w.external(5), "only own writes")
	assert.Empty(t, w.own)

	w.own[7] = struct{}{}
	assert.True(t, w.external(7), "revision 6 came from elsewhere")

	assert.True(t, w.external(8))

	w.own[9] = struct{}{}
	assert.True(t, w.external(0), "key removed")
	assert.Empty(t, w.own)
	assert.Equal(t, uint64(0), w.seen)
}
