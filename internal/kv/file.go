// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jeranaias/ollama-view/internal/util"
)

// ErrInvalidValue is returned by FileStore.Set for values that are not JSON.
var ErrInvalidValue = errors.New("kv: value is not valid JSON")

// DefaultWatchDebounce coalesces the burst of events one atomic write
// produces (create temp, chmod, rename).
const DefaultWatchDebounce = 100 * time.Millisecond

// fileEnvelope is the on-disk layout of one key.
type fileEnvelope struct {
	Revision uint64          `json:"revision"`
	Value    json.RawMessage `json:"value"`
}

// FileStore keeps each key as a JSON file in a directory. Writes go through
// util.AtomicWriteFile so a crash never leaves a torn file.
//
// Revision checks are exact within one process. Across processes the
// read-check-rename window is small but not locked; use SQLiteStore when
// several processes write the same key.
type FileStore struct {
	dir      string
	debounce time.Duration

	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a store rooted at dir, creating it with 0700.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create store directory")
	}
	return &FileStore{dir: dir, debounce: DefaultWatchDebounce}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file that holds key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads key. A missing file reads as revision 0.
func (s *FileStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}
	return s.read(key)
}

// Set writes value if the revision on disk equals expected.
func (s *FileStore) Set(ctx context.Context, key string, value []byte, expected uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if !json.Valid(value) {
		return 0, ErrInvalidValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	current, err := s.read(key)
	if err != nil {
		return 0, err
	}
	if current.Revision != expected {
		return 0, errors.Wrapf(ErrRevisionMismatch, "key %q at revision %d, expected %d", key, current.Revision, expected)
	}

	env := fileEnvelope{Revision: expected + 1, Value: json.RawMessage(value)}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return 0, errors.Wrap(err, "encode entry")
	}
	if err := util.AtomicWriteFile(s.Path(key), data, 0o600); err != nil {
		return 0, errors.Wrapf(err, "write key %q", key)
	}
	return env.Revision, nil
}

// Close marks the store closed. Files stay on disk.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) read(key string) (Entry, error) {
	data, err := os.ReadFile(s.Path(key))
	if os.IsNotExist(err) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, errors.Wrapf(err, "read key %q", key)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, errors.Wrapf(err, "decode key %q", key)
	}
	return Entry{Value: []byte(env.Value), Revision: env.Revision}, nil
}

// =============================================================================
// WATCH
// =============================================================================

// Watch calls onChange after the file for key is created, written, renamed
// over or removed. Bursts within the debounce window collapse into one
// call. onChange runs on the calling goroutine, so it never runs after
// Watch returned. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, key string, onChange func()) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	// The directory, not the file: atomic writes replace the inode.
	if err := watcher.Add(s.dir); err != nil {
		return errors.Wrapf(err, "watch %s", s.dir)
	}

	target := filepath.Base(s.Path(key))
	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()
	// fire is nil while no change is pending.
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-fire:
			fire = nil
			if ctx.Err() != nil {
				return nil
			}
			onChange()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			timer.Reset(s.debounce)
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return errors.Wrap(err, "watch")
		}
	}
}
