// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ollama-view/internal/model"
)

func exportFixture() *model.Conversation {
	at := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	return &model.Conversation{
		ID:        "5f0c8a4e-1111-2222-3333-444455556666",
		ModelName: "llama3",
		Name:      "Greeting",
		CreatedAt: at,
		Messages: []model.Message{
			model.NewMessage(model.RoleUser, "Hello\nthere", at),
			model.NewMessage(model.RoleAssistant, "Hi!", at.Add(time.Minute)),
		},
	}
}

func TestExportMarkdown(t *testing.T) {
	md := ExportMarkdown(exportFixture())
	assert.True(t, strings.HasPrefix(md, "# Greeting\n"))
	assert.Contains(t, md, "Model: llama3")
	assert.Contains(t, md, "**You** #0 (10:30):\n\nHello\nthere")
	assert.Contains(t, md, "**Assistant** #1 (10:31):\n\nHi!")
}

func TestExportJSON_RecordLayout(t *testing.T) {
	data, err := ExportJSON(exportFixture())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "modelName", "name", "messages", "createdAt"} {
		assert.Contains(t, raw, key)
	}
}

func TestExportYAML(t *testing.T) {
	data, err := ExportYAML(exportFixture())
	require.NoError(t, err)

	var back model.Conversation
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, "Greeting", back.Name)
	assert.Equal(t, "llama3", back.ModelName)
	require.Len(t, back.Messages, 2)
	assert.Equal(t, model.RoleAssistant, back.Messages[1].Role)
}

func TestParseExportFormat(t *testing.T) {
	for in, want := range map[string]ExportFormat{
		"md": FormatMarkdown, "Markdown": FormatMarkdown,
		"json": FormatJSON, "yml": FormatYAML, "yaml": FormatYAML,
	} {
		got, err := ParseExportFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseExportFormat("pdf")
	assert.Error(t, err)

	_, err = Export(exportFixture(), ExportFormat("pdf"))
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "Hello there", Preview(exportFixture(), 80))
	assert.Equal(t, "He...", Preview(exportFixture(), 5))
	assert.Equal(t, "", Preview(&model.Conversation{}, 80))
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "No conversations found.", FormatList(nil))

	out := FormatList([]*model.Conversation{exportFixture()})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[2], "5f0c8a4e"))
	assert.Contains(t, lines[2], "Greeting")
	assert.True(t, strings.HasSuffix(lines[2], "2"))
}

func TestResolveID(t *testing.T) {
	convs := []*model.Conversation{
		{ID: "abc123"},
		{ID: "abd456"},
	}

	id, err := ResolveID(convs, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	id, err = ResolveID(convs, "abd456")
	require.NoError(t, err)
	assert.Equal(t, "abd456", id)

	_, err = ResolveID(convs, "ab")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrConversationNotFound))

	_, err = ResolveID(convs, "zzz")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}
