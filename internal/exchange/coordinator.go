// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/ollama"
)

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs inference exchanges: it streams a reply for a
// conversation snapshot and commits it through the store exactly once.
type Coordinator struct {
	transport Transport
	store     Committer
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log.With().Str("component", "exchange").Logger() }
}

// WithClock replaces time.Now for the timing statistics.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator streaming through transport and
// committing to store.
func NewCoordinator(transport Transport, store Committer, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: transport,
		store:     store,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewExchange prepares an exchange over conv's current messages. The
// projection is taken now, so later changes to conv do not affect it. A nil
// listener is allowed.
func (c *Coordinator) NewExchange(conv *model.Conversation, l Listener) *Exchange {
	if l == nil {
		l = Listeners(nil)
	}
	return &Exchange{
		id:             uuid.NewString(),
		conversationID: conv.ID,
		modelName:      conv.ModelName,
		messages:       conv.ToOllamaMessages(),
		coord:          c,
		listener:       l,
	}
}

// Run creates an exchange for conv and runs it to completion.
func (c *Coordinator) Run(ctx context.Context, conv *model.Conversation, l Listener) (*Result, error) {
	return c.NewExchange(conv, l).Run(ctx)
}

// =============================================================================
// EXCHANGE
// =============================================================================

// Exchange is one request/stream/commit cycle for a conversation.
type Exchange struct {
	id             string
	conversationID string
	modelName      string
	messages       []ollama.Message

	coord    *Coordinator
	listener Listener

	state  atomic.Int32
	ran    atomic.Bool
	cancel cancelManager
}

// ID returns the exchange identifier.
func (e *Exchange) ID() string { return e.id }

// ConversationID returns the conversation the reply is committed to.
func (e *Exchange) ConversationID() string { return e.conversationID }

// Model returns the model the exchange streams from.
func (e *Exchange) Model() string { return e.modelName }

// Messages returns the role/content projection sent to the model.
func (e *Exchange) Messages() []ollama.Message {
	out := make([]ollama.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// State returns the current lifecycle state.
func (e *Exchange) State() State {
	return State(e.state.Load())
}

// Cancel stops the exchange. A cancelled exchange never commits. Calling
// Cancel before Run, after it finished, or several times is safe.
func (e *Exchange) Cancel() {
	e.cancel.cancel()
}

func (e *Exchange) setState(s State) {
	e.state.Store(int32(s))
}

// Run streams the reply and commits it. It returns the Result and, unless
// the reply was committed, an *Error whose Kind is ErrTransport, ErrCommit
// or ErrCancelled. OnEnded fires exactly once before Run returns.
func (e *Exchange) Run(ctx context.Context) (*Result, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel.set(cancel)
	defer e.cancel.clear()

	c := e.coord
	log := c.log.With().Str("exchange", e.id).Str("conversation", e.conversationID).Str("model", e.modelName).Logger()

	start := c.now()
	res := &Result{ExchangeID: e.id, ConversationID: e.conversationID}

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	var content strings.Builder

	e.setState(StateSending)
	log.Debug().Int("messages", len(e.messages)).Msg("exchange sending")

	streamErr := c.transport.StreamChat(ctx, e.modelName, e.messages, func(fragment string) {
		if res.Tokens == 0 {
			res.TimeToFirstToken = c.now().Sub(start)
			e.setState(StateStreaming)
			e.listener.OnStarted(e)
		}
		res.Tokens++
		content.WriteString(fragment)
		e.listener.OnToken(e, fragment)
	})
	res.Content = content.String()

	// Cancellation wins over any stream outcome and is checked before the
	// commit.
	if ctxErr := ctx.Err(); ctxErr != nil || e.cancel.wasRequested() {
		if ctxErr == nil {
			ctxErr = context.Canceled
		}
		return e.finish(log, res, start, StateCancelled, &Error{Kind: ErrCancelled, Cause: ctxErr})
	}

	if streamErr != nil {
		return e.finish(log, res, start, StateFailed, &Error{Kind: ErrTransport, Cause: streamErr})
	}

	// Once committing, the write completes even if Cancel arrives now.
	conv, err := c.store.AddMessage(context.WithoutCancel(ctx), e.conversationID, model.RoleAssistant, res.Content)
	if err != nil {
		return e.finish(log, res, start, StateFailed, &Error{Kind: ErrCommit, Cause: err})
	}
	res.Conversation = conv
	return e.finish(log, res, start, StateCommitted, nil)
}

func (e *Exchange) finish(log zerolog.Logger, res *Result, start time.Time, state State, err error) (*Result, error) {
	res.State = state
	res.Duration = e.coord.now().Sub(start)
	res.Err = err
	e.setState(state)

	ev := log.Debug()
	if state == StateFailed {
		ev = log.Warn().Err(err)
	}
	ev.Str("state", state.String()).Int("tokens", res.Tokens).
		Dur("ttft", res.TimeToFirstToken).Dur("duration", res.Duration).Msg("exchange ended")

	e.listener.OnEnded(e, res)
	return res, err
}
