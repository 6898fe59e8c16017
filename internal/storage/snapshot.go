// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/jeranaias/ollama-view/internal/model"
)

// Snapshot is the whole conversation collection as read from the backend,
// together with the revision it was read at.
type Snapshot struct {
	Conversations []*model.Conversation
	Revision      uint64
}

// Find returns the index and record for id, or -1 and nil.
func (s *Snapshot) Find(id string) (int, *model.Conversation) {
	for i, c := range s.Conversations {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

// Names returns the names of the conversations bound to modelName, skipping
// the record with exceptID. Uniqueness is scoped per model.
func (s *Snapshot) Names(modelName, exceptID string) []string {
	names := make([]string, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		if c.ModelName == modelName && c.ID != exceptID {
			names = append(names, c.Name)
		}
	}
	return names
}

// Insert appends a record.
func (s *Snapshot) Insert(c *model.Conversation) {
	s.Conversations = append(s.Conversations, c)
}

// Remove drops the record at index i.
func (s *Snapshot) Remove(i int) {
	s.Conversations = append(s.Conversations[:i], s.Conversations[i+1:]...)
}

// decodeSnapshot parses the persisted array. An absent or null value is an
// empty collection.
func decodeSnapshot(value []byte, revision uint64) (*Snapshot, error) {
	snap := &Snapshot{Revision: revision}
	if len(value) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(value, &snap.Conversations); err != nil {
		return nil, errors.Wrap(err, "decode conversations")
	}
	// Drop null entries a hand-edited file might contain.
	kept := snap.Conversations[:0]
	for _, c := range snap.Conversations {
		if c != nil {
			kept = append(kept, c)
		}
	}
	snap.Conversations = kept
	return snap, nil
}

// encode renders the persisted array; an empty collection is "[]".
func (s *Snapshot) encode() ([]byte, error) {
	convs := s.Conversations
	if convs == nil {
		convs = []*model.Conversation{}
	}
	data, err := json.Marshal(convs)
	if err != nil {
		return nil, errors.Wrap(err, "encode conversations")
	}
	return data, nil
}
