// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strconv"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message is one chat turn as the /api/chat endpoint accepts it.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest represents a request to the /api/chat endpoint.
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	Options   *Options  `json:"options,omitempty"`
	KeepAlive any       `json:"keep_alive,omitempty"`
}

// Options contains model parameters for generation.
type Options struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        int      `json:"seed,omitempty"`
}

// GenerateRequest represents a request to the /api/generate endpoint. With
// an empty prompt it only loads or unloads the model, depending on
// KeepAlive.
type GenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt,omitempty"`
	Stream    bool   `json:"stream"`
	KeepAlive any    `json:"keep_alive,omitempty"`
}

// ModelRequest names a model for /api/pull and /api/delete. Both the
// current "model" field and the older "name" field are sent.
type ModelRequest struct {
	Model  string `json:"model"`
	Name   string `json:"name"`
	Stream bool   `json:"stream,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ModelInfo describes an installed model (from /api/tags).
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed model information.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse represents the response from /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// RunningModel describes a model loaded in memory (from /api/ps).
type RunningModel struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	ExpiresAt time.Time `json:"expires_at"`
	SizeVRAM  int64     `json:"size_vram"`
}

// ListRunningResponse represents the response from /api/ps.
type ListRunningResponse struct {
	Models []RunningModel `json:"models"`
}

// PullProgress is one progress line of a streaming /api/pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent returns completion in [0, 100], or -1 when the line carries no
// byte counts.
func (p PullProgress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	pct := int(p.Completed * 100 / p.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// String renders "status (NN%)" or just the status.
func (p PullProgress) String() string {
	if pct := p.Percent(); pct >= 0 {
		return p.Status + " (" + strconv.Itoa(pct) + "%)"
	}
	return p.Status
}

// OllamaError is the error body Ollama returns on failure.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one decoded line of a streaming chat response.
type StreamChunk struct {
	// Content fragment; empty on the final line.
	Content string

	Done       bool
	DoneReason string
	Model      string

	// Populated on the final line only.
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
	PromptTokens       int
	CompletionTokens   int
}

// TokensPerSecond returns the generation rate reported on the final line.
func (c StreamChunk) TokensPerSecond() float64 {
	if c.EvalDuration <= 0 {
		return 0
	}
	return float64(c.CompletionTokens) / c.EvalDuration.Seconds()
}
