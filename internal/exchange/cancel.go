// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"sync"
)

// cancelManager holds the cancel function of a running exchange. Cancel may
// arrive before the exchange started, so the request is remembered.
type cancelManager struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	requested  bool
}

// set stores fn. If cancellation was already requested fn runs at once.
func (cm *cancelManager) set(fn context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cancelFunc = fn
	if cm.requested {
		fn()
	}
}

// cancel records the request and cancels the running context, if any.
// Safe to call multiple times.
func (cm *cancelManager) cancel() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.requested = true
	if cm.cancelFunc != nil {
		cm.cancelFunc()
	}
}

// clear releases the context and forgets the cancel function.
func (cm *cancelManager) clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancelFunc != nil {
		cm.cancelFunc()
		cm.cancelFunc = nil
	}
}

func (cm *cancelManager) wasRequested() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.requested
}
