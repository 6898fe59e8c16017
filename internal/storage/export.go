// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/util"
)

// =============================================================================
// CONVERSATION EXPORT
// =============================================================================

// ExportFormat names an export rendering.
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "markdown"
	FormatJSON     ExportFormat = "json"
	FormatYAML     ExportFormat = "yaml"
)

// ParseExportFormat accepts "markdown"/"md", "json" and "yaml"/"yml".
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", errors.Errorf("unknown export format %q", s)
}

// Export renders conv in the given format.
func Export(conv *model.Conversation, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return []byte(ExportMarkdown(conv)), nil
	case FormatJSON:
		return ExportJSON(conv)
	case FormatYAML:
		return ExportYAML(conv)
	}
	return nil, errors.Errorf("unknown export format %q", format)
}

// ExportMarkdown renders the conversation with a header and one section per
// message, each labelled with its role and time.
func ExportMarkdown(conv *model.Conversation) string {
	var sb strings.Builder
	sb.WriteString("# " + conv.Name + "\n\n")
	sb.WriteString("Model: " + conv.ModelName + "  \n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for i, msg := range conv.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "** #" + strconv.Itoa(i) +
			" (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders the conversation as indented JSON in the persisted
// record layout.
func ExportJSON(conv *model.Conversation) ([]byte, error) {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "export json")
	}
	return data, nil
}

// ExportYAML renders the conversation as YAML.
func ExportYAML(conv *model.Conversation) ([]byte, error) {
	data, err := yaml.Marshal(conv)
	if err != nil {
		return nil, errors.Wrap(err, "export yaml")
	}
	return data, nil
}

// Preview returns the first user message folded onto one line, truncated
// to maxRunes, or "" when there is none.
func Preview(conv *model.Conversation, maxRunes int) string {
	for _, msg := range conv.Messages {
		if msg.IsUser() && msg.Content != "" {
			return util.TruncateRunes(util.SingleLine(msg.Content), maxRunes)
		}
	}
	return ""
}
