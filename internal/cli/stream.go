// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// stream.go - Streaming an exchange to the terminal through the event bus.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ollama-view/internal/events"
	"github.com/jeranaias/ollama-view/internal/exchange"
	"github.com/jeranaias/ollama-view/internal/storage"
)

// exchangeFunc starts one exchange reporting to l.
type exchangeFunc func(ctx context.Context, l exchange.Listener) (*exchange.Result, error)

// streamOptions control how a reply is shown.
type streamOptions struct {
	// label prefixes the reply ("llama3: ").
	label string
	// quiet suppresses the token printer (JSON output).
	quiet bool
	// dumpEvents writes every event as a JSON line to stderr.
	dumpEvents bool
}

// stream runs fn with its notifications fanned out over an event bus: the
// printer writes fragments to stdout as they arrive, and with dumpEvents a
// second subscriber writes raw events to stderr. The bus and the exchange
// run in one errgroup; the bus is closed once the exchange returned. The
// bus outlives cancellation of ctx so the final event is still printed.
func (a *App) stream(ctx context.Context, opts streamOptions, fn exchangeFunc) (*exchange.Result, error) {
	if opts.quiet && !opts.dumpEvents {
		return fn(ctx, nil)
	}

	bus, err := events.NewBus(a.log)
	if err != nil {
		return nil, err
	}
	if !opts.quiet {
		bus.Subscribe("printer", events.PrinterFunc(opts.label, a.out))
	}
	if opts.dumpEvents {
		enc := json.NewEncoder(a.errOut)
		bus.Subscribe("dump", func(e *events.Event) error { return enc.Encode(e) })
	}

	var (
		res    *exchange.Result
		runErr error
	)
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		return bus.Run(gctx)
	})
	g.Go(func() error {
		defer bus.Close()
		select {
		case <-bus.Running():
		case <-gctx.Done():
			return gctx.Err()
		}
		res, runErr = fn(ctx, events.NewListener(bus))
		return nil
	})
	if err := g.Wait(); err != nil && runErr == nil {
		return nil, errors.Wrap(err, "event bus")
	}
	return res, runErr
}

// interruptible returns a context cancelled by Ctrl+C.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

// reportResult prints the outcome of a finished exchange. A cancelled
// exchange is reported, not returned as a failure.
func (a *App) reportResult(command string, res *exchange.Result, err error) error {
	if res == nil {
		// Failed before an exchange started (busy, bad index, missing chat).
		if a.flags.json && err != nil {
			return a.outputJSONError(command, err)
		}
		return err
	}
	if a.flags.json {
		if err != nil && !errors.Is(err, exchange.ErrCancelled) {
			return a.outputJSONError(command, err)
		}
		return a.outputJSON(command, resultJSON(res))
	}

	switch {
	case err == nil && res.Conversation != nil:
		fmt.Fprintln(a.errOut, DimStyle.Render(fmt.Sprintf("%s %s · %d tokens · %s",
			storage.ShortID(res.ConversationID), res.Conversation.Name,
			res.Tokens, res.Duration.Round(1e6))))
		return nil
	case errors.Is(err, exchange.ErrCancelled):
		fmt.Fprintln(a.errOut, RenderStatus("cancelled"), DimStyle.Render("reply discarded"))
		return nil
	case err == nil:
		return nil
	default:
		return err
	}
}

// resultJSON is the JSON form of an exchange result.
func resultJSON(res *exchange.Result) map[string]interface{} {
	out := map[string]interface{}{
		"exchange_id":     res.ExchangeID,
		"conversation_id": res.ConversationID,
		"state":           res.State.String(),
		"content":         res.Content,
		"tokens":          res.Tokens,
		"ttft_ms":         res.TimeToFirstToken.Milliseconds(),
		"duration_ms":     res.Duration.Milliseconds(),
	}
	if res.Conversation != nil {
		out["name"] = res.Conversation.Name
		out["messages"] = len(res.Conversation.Messages)
	}
	return out
}
