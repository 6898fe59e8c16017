// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// =============================================================================
// BUS
// =============================================================================

// HandlerFunc consumes one decoded event.
type HandlerFunc func(e *Event) error

// Bus fans exchange notifications out to named subscribers over an
// in-process watermill pub/sub. Publish blocks until every subscriber
// acknowledged, so handlers see events in publish order.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	log    zerolog.Logger
}

// NewBus creates a bus. Subscribe handlers, start Run, and wait for Running
// before publishing: events published with no subscriber are dropped.
func NewBus(log zerolog.Logger) (*Bus, error) {
	log = log.With().Str("component", "events").Logger()
	adapter := NewLoggerAdapter(log)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, adapter)

	router, err := message.NewRouter(message.RouterConfig{}, adapter)
	if err != nil {
		return nil, errors.Wrap(err, "create event router")
	}

	return &Bus{pubsub: pubsub, router: router, log: log}, nil
}

// Subscribe registers handler under name. It must be called before Run.
// Handler and decode errors are logged, never redelivered.
func (b *Bus) Subscribe(name string, handler HandlerFunc) {
	b.router.AddNoPublisherHandler(name, TopicExchange, b.pubsub, func(msg *message.Message) error {
		e, err := NewEventFromJSON(msg.Payload)
		if err != nil {
			b.log.Warn().Err(err).Str("handler", name).Str("message_id", msg.UUID).Msg("dropping malformed event")
			return nil
		}
		if err := handler(e); err != nil {
			b.log.Warn().Err(err).Str("handler", name).Str("type", string(e.Type)).Msg("event handler failed")
		}
		return nil
	})
}

// Publish sends e to every subscriber.
func (b *Bus) Publish(e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicExchange, msg); err != nil {
		return errors.Wrapf(err, "publish %s event", e.Type)
	}
	return nil
}

// Run dispatches events until ctx is done or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the pub/sub and the router. Errors are logged.
func (b *Bus) Close() error {
	if err := b.pubsub.Close(); err != nil {
		b.log.Error().Err(err).Msg("failed to close pubsub")
	}
	if err := b.router.Close(); err != nil {
		b.log.Error().Err(err).Msg("failed to close router")
	}
	return nil
}
