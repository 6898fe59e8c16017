// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollama-view/internal/ollama"
)

func sampleConversation() *Conversation {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return &Conversation{
		ID:        "c1",
		ModelName: "llama3",
		Name:      "Sample",
		CreatedAt: at,
		Messages: []Message{
			NewMessage(RoleUser, "Msg 1", at),
			NewMessage(RoleAssistant, "Response 1", at),
			NewMessage(RoleUser, "Msg 2", at),
			NewMessage(RoleAssistant, "Response 2", at),
		},
	}
}

func TestRole(t *testing.T) {
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "Assistant", RoleAssistant.DisplayName())
	assert.Equal(t, "tool", Role("tool").DisplayName())

	r, ok := ParseRole("system")
	assert.True(t, ok)
	assert.Equal(t, RoleSystem, r)

	_, ok = ParseRole("tool")
	assert.False(t, ok)
}

func TestConversation_Prefix(t *testing.T) {
	conv := sampleConversation()

	tests := []struct {
		index int
		want  int
	}{
		{-1, 0},
		{0, 0},
		{2, 2},
		{4, 4},
		{10, 4},
	}
	for _, tt := range tests {
		assert.Len(t, conv.Prefix(tt.index), tt.want, "index %d", tt.index)
	}

	// The prefix is a copy; appending to it must not touch the source.
	p := conv.Prefix(2)
	p = append(p, NewMessage(RoleUser, "other", time.Now()))
	assert.Len(t, p, 3)
	assert.Equal(t, "Msg 2", conv.Messages[2].Content)
}

func TestConversation_Clone(t *testing.T) {
	conv := sampleConversation()
	clone := conv.Clone()
	clone.Messages[0].Content = "changed"
	clone.Name = "Other"

	assert.Equal(t, "Msg 1", conv.Messages[0].Content)
	assert.Equal(t, "Sample", conv.Name)
}

func TestConversation_Queries(t *testing.T) {
	conv := sampleConversation()
	assert.Equal(t, 4, conv.MessageCount())
	assert.Equal(t, 2, conv.UserMessageCount())
	assert.Equal(t, 3, conv.LastAssistantIndex())
	assert.Equal(t, "Response 2", conv.LastMessage().Content)
	assert.False(t, conv.IsEmpty())

	empty := &Conversation{}
	assert.True(t, empty.IsEmpty())
	assert.Nil(t, empty.LastMessage())
	assert.Equal(t, -1, empty.LastAssistantIndex())
}

func TestConversation_ToOllamaMessages(t *testing.T) {
	msgs := sampleConversation().ToOllamaMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, ollama.Message{Role: "user", Content: "Msg 1"}, msgs[0])
	assert.Equal(t, ollama.Message{Role: "assistant", Content: "Response 2"}, msgs[3])
}

func TestSuggestModels(t *testing.T) {
	assert.Equal(t, []string{"llama3", "llama2", "llava"}, SuggestModels("l"))
	assert.Equal(t, []string{"codellama"}, SuggestModels("Code"))
	assert.Len(t, SuggestModels(""), len(PopularModels))
}

func TestJoinModelStatus(t *testing.T) {
	installed := []ollama.ModelInfo{
		{Name: "mistral:latest", Model: "mistral:latest", Size: 4 << 30},
		{Name: "llama3:latest", Model: "llama3:latest", Size: 2 << 30},
	}
	running := []ollama.RunningModel{{Name: "llama3:latest", Model: "llama3:latest"}}

	got := JoinModelStatus(installed, running)
	require.Len(t, got, 2)
	assert.Equal(t, "llama3:latest", got[0].Name)
	assert.True(t, got[0].Running)
	assert.Equal(t, "Running", got[0].StatusString())
	assert.Equal(t, "2.00 GB", got[0].SizeString())
	assert.False(t, got[1].Running)
	assert.Equal(t, "Stopped", got[1].StatusString())
}
