// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/ollama-view/internal/ollama"
)

// =============================================================================
// MODEL CATALOG
// =============================================================================

// PopularModels are offered as suggestions when pulling a model. Any other
// name accepted by the Ollama library works as well.
var PopularModels = []string{
	"llama3",
	"llama2",
	"mistral",
	"gemma",
	"phi",
	"codellama",
	"orca-mini",
	"vicuna",
	"llava",
}

// SuggestModels returns the popular model names starting with prefix.
func SuggestModels(prefix string) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	out := make([]string, 0, len(PopularModels))
	for _, name := range PopularModels {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

// =============================================================================
// MODEL STATUS
// =============================================================================

// ModelStatus is an installed model joined with its loaded state.
type ModelStatus struct {
	Name    string
	Size    int64
	Family  string
	Running bool
}

// StatusString returns "Running" or "Stopped".
func (m ModelStatus) StatusString() string {
	if m.Running {
		return "Running"
	}
	return "Stopped"
}

// SizeString formats the on-disk size in gigabytes.
func (m ModelStatus) SizeString() string {
	return fmt.Sprintf("%.2f GB", float64(m.Size)/1024/1024/1024)
}

// JoinModelStatus marks each installed model as running when it appears in
// the running list. Both the tag name and the model field of a running
// entry are matched. The result is sorted by name.
func JoinModelStatus(installed []ollama.ModelInfo, running []ollama.RunningModel) []ModelStatus {
	loaded := make(map[string]bool, len(running)*2)
	for _, r := range running {
		loaded[r.Name] = true
		loaded[r.Model] = true
	}

	out := make([]ModelStatus, 0, len(installed))
	for _, m := range installed {
		out = append(out, ModelStatus{
			Name:    m.Name,
			Size:    m.Size,
			Family:  m.Details.Family,
			Running: loaded[m.Name] || loaded[m.Model],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
