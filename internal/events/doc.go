// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events publishes exchange notifications on an in-process
// watermill bus so several consumers (the terminal printer, the REPL status
// line, a JSON event dump) can follow one stream independently.
//
// # Key Types
//
//   - Bus: gochannel pub/sub plus a router of named handlers
//   - Listener: exchange.Listener that publishes to a Bus
//   - Event: JSON wire form of started/token/ended notifications
//
// # Usage
//
//	bus, _ := events.NewBus(log.Logger)
//	bus.Subscribe("printer", events.PrinterFunc("", os.Stdout))
//	go bus.Run(ctx)
//	<-bus.Running()
//	coord.Run(ctx, conv, events.NewListener(bus))
//	bus.Close()
package events
