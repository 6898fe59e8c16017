// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"time"

	"github.com/jeranaias/ollama-view/internal/exchange"
)

// Listener publishes an exchange's notifications on a Bus. Publish failures
// are logged; they never affect the exchange.
type Listener struct {
	bus *Bus
	now func() time.Time
}

// NewListener returns an exchange.Listener publishing to bus.
func NewListener(bus *Bus) *Listener {
	return &Listener{bus: bus, now: time.Now}
}

func (l *Listener) OnStarted(ex *exchange.Exchange) {
	l.publish(newEvent(TypeStarted, ex, l.now()))
}

func (l *Listener) OnToken(ex *exchange.Exchange, fragment string) {
	e := newEvent(TypeToken, ex, l.now())
	e.Fragment = fragment
	l.publish(e)
}

func (l *Listener) OnEnded(ex *exchange.Exchange, res *exchange.Result) {
	e := newEvent(TypeEnded, ex, l.now())
	e.State = res.State.String()
	e.Content = res.Content
	e.Tokens = res.Tokens
	e.TTFTMs = res.TimeToFirstToken.Milliseconds()
	e.TookMs = res.Duration.Milliseconds()
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	l.publish(e)
}

func (l *Listener) publish(e *Event) {
	if err := l.bus.Publish(e); err != nil {
		l.bus.log.Warn().Err(err).Str("exchange", e.ExchangeID).Msg("publish failed")
	}
}

var _ exchange.Listener = (*Listener)(nil)
