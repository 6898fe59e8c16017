// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches another ClientError of the same Type, so errors.Is works
// against the sentinels below.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeCanceled
	ErrTypeServer
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrCanceled      = &ClientError{Type: ErrTypeCanceled, Message: "request canceled"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL is the local Ollama daemon. An explicit IPv4 address
// avoids IPv6 resolution of "localhost" on some systems.
const DefaultBaseURL = "http://127.0.0.1:11434"

// DefaultKeepAlive is how long StartModel keeps a model loaded.
const DefaultKeepAlive = "5m"

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// StreamTimeout bounds connecting and waiting for response headers of
	// streaming requests; the body itself is bounded by the context only
	// (default: 30s, model loading can be slow)
	StreamTimeout time.Duration

	// KeepAlive used by StartModel (default: "5m")
	KeepAlive string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       DefaultBaseURL,
		Timeout:       30 * time.Second,
		StreamTimeout: 30 * time.Second,
		KeepAlive:     DefaultKeepAlive,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API: health check, model
// management and streaming chat.
//
// The Client is safe for concurrent use. It never retries; failures are
// returned to the caller.
//
// Example:
//
//	client := ollama.NewClient()
//	err := client.StreamChat(ctx, "llama3", msgs, func(fragment string) {
//	    fmt.Print(fragment)
//	})
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
// Zero fields take their defaults.
func NewClientWithConfig(config *ClientConfig) *Client {
	cfg := DefaultConfig()
	if config != nil {
		if config.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		if config.StreamTimeout > 0 {
			cfg.StreamTimeout = config.StreamTimeout
		}
		if config.KeepAlive != "" {
			cfg.KeepAlive = config.KeepAlive
		}
	}

	// SECURITY: TLS not required - Ollama runs locally over HTTP.
	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = cfg.StreamTimeout
	streamTransport.DialContext = (&net.Dialer{Timeout: cfg.StreamTimeout}).DialContext

	return &Client{
		config:       cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{Transport: streamTransport},
	}
}

// BaseURL returns the daemon URL the client talks to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves the installed models (/api/tags).
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.getJSON(ctx, "/api/tags", &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// ListRunning retrieves the models currently loaded in memory (/api/ps).
func (c *Client) ListRunning(ctx context.Context) ([]RunningModel, error) {
	var result ListRunningResponse
	if err := c.getJSON(ctx, "/api/ps", &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// PullProgressFunc receives each progress line of a pull.
type PullProgressFunc func(PullProgress)

// PullModel downloads a model, reporting progress lines as they arrive.
// It blocks until the pull finishes, fails, or ctx is canceled.
func (c *Client) PullModel(ctx context.Context, name string, progress PullProgressFunc) error {
	resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/api/pull",
		ModelRequest{Model: name, Name: name, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return processPull(ctx, resp.Body, progress)
}

// DeleteModel removes an installed model.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodDelete, "/api/delete",
		ModelRequest{Model: name, Name: name})
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

// StartModel loads a model into memory and keeps it loaded for the
// configured keep-alive.
func (c *Client) StartModel(ctx context.Context, name string) error {
	return c.generateKeepAlive(ctx, name, c.config.KeepAlive)
}

// StopModel unloads a model from memory.
func (c *Client) StopModel(ctx context.Context, name string) error {
	return c.generateKeepAlive(ctx, name, 0)
}

func (c *Client) generateKeepAlive(ctx context.Context, name string, keepAlive any) error {
	resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/api/generate",
		GenerateRequest{Model: name, Stream: false, KeepAlive: keepAlive})
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamCallback is called for each chunk received during streaming.
type StreamCallback func(chunk StreamChunk)

// ChatStream sends a streaming chat request and calls the callback for each
// chunk, synchronously and in arrival order. It returns after the final
// chunk, on failure, or when ctx is canceled.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) error {
	if model == "" {
		return &ClientError{Type: ErrTypeModelNotFound, Message: "no model specified"}
	}

	resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/api/chat", ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return NewStreamReader(resp.Body).Process(ctx, callback)
}

// StreamChat streams a chat completion and hands each non-empty content
// fragment to onToken, unmodified and in order.
func (c *Client) StreamChat(ctx context.Context, model string, messages []Message, onToken func(string)) error {
	return c.ChatStream(ctx, model, messages, func(chunk StreamChunk) {
		if chunk.Content != "" {
			onToken(chunk.Content)
		}
	})
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// do sends a request with an optional JSON body and returns the response
// when the status is 200. Any other status is decoded into a ClientError.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// transportError classifies a failed round trip.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: ctxErr}
		}
		return canceled(ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
}

// statusError turns a non-200 response into a ClientError, using Ollama's
// error body when present.
func statusError(resp *http.Response) error {
	var ollamaErr OllamaError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &ollamaErr) == nil && ollamaErr.Error != "" {
		if resp.StatusCode == http.StatusNotFound {
			return &ClientError{Type: ErrTypeModelNotFound, Message: ollamaErr.Error}
		}
		return classifyOllamaError(ollamaErr.Error)
	}
	if resp.StatusCode == http.StatusNotFound {
		return &ClientError{Type: ErrTypeModelNotFound, Message: ErrModelNotFound.Message}
	}
	return &ClientError{Type: ErrTypeServer, Message: "unexpected status from Ollama: " + resp.Status}
}

// classifyOllamaError maps an error string from Ollama to a ClientError.
func classifyOllamaError(msg string) error {
	if strings.Contains(msg, "not found") {
		return &ClientError{Type: ErrTypeModelNotFound, Message: msg}
	}
	return &ClientError{Type: ErrTypeServer, Message: msg}
}

func canceled(cause error) error {
	return &ClientError{Type: ErrTypeCanceled, Message: ErrCanceled.Message, Cause: cause}
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCanceled checks if an error comes from a canceled context.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
