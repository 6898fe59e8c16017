// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
)

// maxLineSize bounds one JSON line of a streaming response.
const maxLineSize = 1 << 20

// =============================================================================
// LINE READER
// =============================================================================

// lineReader splits a newline-delimited JSON body into lines.
type lineReader struct {
	reader *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the next non-empty line, or io.EOF.
func (l *lineReader) next() ([]byte, error) {
	for {
		line, err := l.reader.ReadBytes('\n')
		if len(line) > maxLineSize {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream line too long"}
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			// A final line without a trailing newline still counts.
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// =============================================================================
// CHAT STREAM READER
// =============================================================================

// streamLine is the wire shape of one /api/chat streaming line.
type streamLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
	Error              string `json:"error,omitempty"`
}

// StreamReader decodes a streaming chat body chunk by chunk.
type StreamReader struct {
	lines      *lineReader
	model      string
	chunkCount int
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{lines: newLineReader(r)}
}

// Process reads the stream and calls the callback for each chunk, in order.
// It returns nil after the done line, ctx.Err() wrapped in a canceled
// ClientError when ctx ends, and a ClientError for an error line or a body
// that ends before the done line.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}

		chunk, err := s.readChunk()
		if err == io.EOF {
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "stream ended before completion"}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return canceled(ctxErr)
			}
			return err
		}
		if chunk == nil {
			continue
		}

		callback(*chunk)
		if chunk.Done {
			return nil
		}
	}
}

// readChunk reads and decodes one line. Malformed lines yield (nil, nil)
// and are skipped.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, err := s.lines.next()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		var ce *ClientError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
	}

	var resp streamLine
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, nil
	}
	if resp.Error != "" {
		return nil, classifyOllamaError(resp.Error)
	}

	if resp.Model != "" {
		s.model = resp.Model
	}
	s.chunkCount++

	chunk := &StreamChunk{
		Content:    resp.Message.Content,
		Done:       resp.Done,
		DoneReason: resp.DoneReason,
		Model:      s.model,
	}
	if resp.Done {
		chunk.TotalDuration = time.Duration(resp.TotalDuration)
		chunk.LoadDuration = time.Duration(resp.LoadDuration)
		chunk.PromptEvalDuration = time.Duration(resp.PromptEvalDuration)
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
	}
	return chunk, nil
}

// Model returns the model name reported by the stream.
func (s *StreamReader) Model() string {
	return s.model
}

// =============================================================================
// PULL STREAM
// =============================================================================

// processPull reads /api/pull progress lines until the body ends. A line
// carrying an error field ends the pull with that error.
func processPull(ctx context.Context, r io.Reader, progress PullProgressFunc) error {
	lines := newLineReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}

		line, err := lines.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return canceled(ctxErr)
			}
			return &ClientError{Type: ErrTypeConnection, Message: "pull stream read failed", Cause: err}
		}

		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			continue
		}
		if p.Error != "" {
			return classifyOllamaError(p.Error)
		}
		if p.Status != "" && progress != nil {
			progress(p)
		}
	}
}
