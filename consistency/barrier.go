/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package consistency

import (
	"context"
	"sync"

	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/viewstate"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// BarrierWaiter is a sync parked on a Barrier.
type BarrierWaiter struct {
	ch chan struct{}

	SyncToken string
	View      *topology.View
}

// barrierWatcher queues waiters for one Watch call.  The queue is unbounded
// so that Sync never blocks on a slow consumer while holding the lock.
type barrierWatcher struct {
	pending []*BarrierWaiter
	wakeCh  chan struct{}
}

func (w *barrierWatcher) pushLocked(waiter *BarrierWaiter) {
	w.pending = append(w.pending, waiter)

	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Barrier holds every sync until it is explicitly signalled, which gives an
// operator or a test full control over when transitions are released.
type Barrier struct {
	logger *zap.Logger

	lock     sync.Mutex
	waiters  []*BarrierWaiter
	watchers []*barrierWatcher
}

var _ viewstate.ConsistencyService = (*Barrier)(nil)

func NewBarrier(logger *zap.Logger) *Barrier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Barrier{
		logger: logger,
	}
}

func (b *Barrier) Sync(ctx context.Context, view *topology.View, callback func()) error {
	waiter := &BarrierWaiter{
		ch:        make(chan struct{}),
		SyncToken: view.SyncToken,
		View:      view,
	}

	b.lock.Lock()
	b.waiters = append(b.waiters, waiter)

	for _, watcher := range b.watchers {
		watcher.pushLocked(waiter)
	}
	b.lock.Unlock()

	b.logger.Debug("waiting on barrier", zap.String("syncToken", waiter.SyncToken))

	select {
	case <-waiter.ch:
		b.logger.Debug("barrier released", zap.String("syncToken", waiter.SyncToken))
		callback()
		return nil
	case <-ctx.Done():
	}

	b.lock.Lock()
	removed := b.removeWaiterLocked(waiter)
	b.lock.Unlock()

	if !removed {
		// signalled while the context was being cancelled
		callback()
		return nil
	}

	b.logger.Debug("barrier wait abandoned", zap.String("syncToken", waiter.SyncToken))

	return ctx.Err()
}

func (b *Barrier) removeWaiterLocked(waiter *BarrierWaiter) bool {
	waiterIdx := slices.Index(b.waiters, waiter)
	if waiterIdx == -1 {
		return false
	}

	b.waiters = slices.Delete(b.waiters, waiterIdx, waiterIdx+1)
	return true
}

func (b *Barrier) trySignal(syncToken *string) bool {
	b.lock.Lock()

	waiterIdx := 0
	if len(b.waiters) == 0 {
		waiterIdx = -1
	}

	if syncToken != nil {
		waiterIdx = slices.IndexFunc(
			b.waiters,
			func(w *BarrierWaiter) bool { return w.SyncToken == *syncToken })
	}

	if waiterIdx == -1 {
		b.lock.Unlock()
		return false
	}

	foundWaiter := b.waiters[waiterIdx]
	b.waiters = slices.Delete(b.waiters, waiterIdx, waiterIdx+1)

	b.lock.Unlock()

	close(foundWaiter.ch)

	return true
}

// Signal releases the oldest waiter for the sync token.
func (b *Barrier) Signal(syncToken string) bool {
	return b.trySignal(&syncToken)
}

// SignalAny releases the oldest waiter.
func (b *Barrier) SignalAny() bool {
	return b.trySignal(nil)
}

// SignalAll releases every waiter and returns how many there were.
func (b *Barrier) SignalAll() int {
	released := 0
	for b.trySignal(nil) {
		released++
	}
	return released
}

// Waiters returns the syncs currently parked on the barrier, oldest first.
func (b *Barrier) Waiters() []*BarrierWaiter {
	b.lock.Lock()
	defer b.lock.Unlock()

	return slices.Clone(b.waiters)
}

// Watch streams the waiters parked on the barrier, starting with those which
// are already waiting.  A streamed waiter may already have been released by the
// time it is received.
func (b *Barrier) Watch(ctx context.Context) <-chan *BarrierWaiter {
	outputCh := make(chan *BarrierWaiter)

	watcher := &barrierWatcher{
		wakeCh: make(chan struct{}, 1),
	}

	b.lock.Lock()
	b.watchers = append(b.watchers, watcher)
	for _, waiter := range b.waiters {
		watcher.pushLocked(waiter)
	}
	b.lock.Unlock()

	go func() {
	MainLoop:
		for {
			b.lock.Lock()
			pending := watcher.pending
			watcher.pending = nil
			b.lock.Unlock()

			for _, waiter := range pending {
				select {
				case outputCh <- waiter:
				case <-ctx.Done():
					break MainLoop
				}
			}

			select {
			case <-watcher.wakeCh:
			case <-ctx.Done():
				break MainLoop
			}
		}

		b.lock.Lock()
		watcherIdx := slices.Index(b.watchers, watcher)
		if watcherIdx >= 0 {
			b.watchers = slices.Delete(b.watchers, watcherIdx, watcherIdx+1)
		}
		b.lock.Unlock()

		close(outputCh)
	}()

	return outputCh
}
