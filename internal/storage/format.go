// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"

	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/util"
)

// =============================================================================
// LIST FORMATTING
// =============================================================================

const (
	idWidth      = 8
	nameWidth    = 34
	modelWidth   = 16
	createdWidth = 16
)

// FormatList renders conversations as a table: short ID, name, model,
// creation time and message count. Column widths account for wide runes.
func FormatList(convs []*model.Conversation) string {
	if len(convs) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	header := util.PadWidth("ID", idWidth) + "  " +
		util.PadWidth("Name", nameWidth) + "  " +
		util.PadWidth("Model", modelWidth) + "  " +
		util.PadWidth("Created", createdWidth) + "  " +
		"Msgs"
	sb.WriteString(header + "\n")
	sb.WriteString(strings.Repeat("-", len(header)) + "\n")

	for _, c := range convs {
		sb.WriteString(util.PadWidth(ShortID(c.ID), idWidth) + "  " +
			util.PadWidth(util.SingleLine(c.Name), nameWidth) + "  " +
			util.PadWidth(c.ModelName, modelWidth) + "  " +
			util.PadWidth(c.CreatedAt.Local().Format("2006-01-02 15:04"), createdWidth) + "  " +
			strconv.Itoa(len(c.Messages)) + "\n")
	}
	return sb.String()
}

// ShortID returns the first eight characters of an ID for display.
func ShortID(id string) string {
	if len(id) > idWidth {
		return id[:idWidth]
	}
	return id
}

// ResolveID expands a unique ID prefix (as printed by FormatList) to the
// full conversation ID. Exact matches win.
func ResolveID(convs []*model.Conversation, prefix string) (string, error) {
	if prefix == "" {
		return "", notFound(prefix)
	}
	var match string
	for _, c := range convs {
		if c.ID == prefix {
			return c.ID, nil
		}
		if strings.HasPrefix(c.ID, prefix) {
			if match != "" {
				return "", &ConversationError{Message: "ambiguous conversation id " + strconv.Quote(prefix)}
			}
			match = c.ID
		}
	}
	if match == "" {
		return "", notFound(prefix)
	}
	return match, nil
}
