// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

// Listener observes one exchange. Calls arrive on the goroutine running the
// exchange, in order: OnStarted at most once (first fragment), OnToken per
// fragment, OnEnded exactly once.
type Listener interface {
	OnStarted(ex *Exchange)
	OnToken(ex *Exchange, fragment string)
	OnEnded(ex *Exchange, res *Result)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Started func(ex *Exchange)
	Token   func(ex *Exchange, fragment string)
	Ended   func(ex *Exchange, res *Result)
}

func (f ListenerFuncs) OnStarted(ex *Exchange) {
	if f.Started != nil {
		f.Started(ex)
	}
}

func (f ListenerFuncs) OnToken(ex *Exchange, fragment string) {
	if f.Token != nil {
		f.Token(ex, fragment)
	}
}

func (f ListenerFuncs) OnEnded(ex *Exchange, res *Result) {
	if f.Ended != nil {
		f.Ended(ex, res)
	}
}

// Listeners fans every call out to each listener in order.
type Listeners []Listener

func (ls Listeners) OnStarted(ex *Exchange) {
	for _, l := range ls {
		l.OnStarted(ex)
	}
}

func (ls Listeners) OnToken(ex *Exchange, fragment string) {
	for _, l := range ls {
		l.OnToken(ex, fragment)
	}
}

func (ls Listeners) OnEnded(ex *Exchange, res *Result) {
	for _, l := range ls {
		l.OnEnded(ex, res)
	}
}

// Combine returns a Listener calling each non-nil listener in order.
func Combine(listeners ...Listener) Listener {
	out := make(Listeners, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}
