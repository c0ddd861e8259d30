/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package viewstate

import (
	"context"
	"time"

	"github.com/couchbase/stellar-discovery/topology"
	"go.uber.org/zap"
)

// minEventDelayHandler holds back settle events (CHANGED and
// PROPERTIES_CHANGED) until no further transition has been reported for the
// configured delay.  Only the latest deferred view is kept.
type minEventDelayHandler struct {
	delay     time.Duration
	scheduler Scheduler

	pendingView *topology.View
	pendingTask ScheduledTask
}

func (h *minEventDelayHandler) enabled() bool {
	return h.delay > 0
}

func (h *minEventDelayHandler) pending() bool {
	return h.pendingView != nil
}

func (h *minEventDelayHandler) disarm() {
	if h.pendingTask != nil {
		h.pendingTask.Cancel()
	}
	h.pendingView = nil
	h.pendingTask = nil
}

// settleLocked moves the manager to view, emitting CHANGED or
// PROPERTIES_CHANGED now or once the minimum event delay has elapsed.
func (m *Manager) settleLocked(gen uint64, view *topology.View) {
	if !m.delay.enabled() {
		m.emitSettleLocked(view)
		return
	}

	m.delay.disarm()

	task, err := m.delay.scheduler.Schedule(m.delay.delay, func() {
		m.onSettleDelayElapsed(gen, view)
	})
	if err != nil {
		m.logger.Warn("failed to schedule delayed settle, emitting immediately",
			zap.String("syncToken", view.SyncToken),
			zap.Error(err))
		m.emitSettleLocked(view)
		return
	}

	m.delay.pendingView = view
	m.delay.pendingTask = task
	m.metrics.SettleDelays.Add(context.Background(), 1)

	m.logger.Debug("deferred settle event",
		zap.String("syncToken", view.SyncToken),
		zap.Duration("delay", m.delay.delay))
}

func (m *Manager) onSettleDelayElapsed(gen uint64, view *topology.View) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.generation != gen || m.delay.pendingView != view || m.lifecycle != LifecycleActivated {
		return
	}

	m.delay.pendingView = nil
	m.delay.pendingTask = nil
	m.emitSettleLocked(view)
}

// SetMinEventDelay changes the minimum event delay.  Disabling the delay
// emits any deferred settle event straight away.
func (m *Manager) SetMinEventDelay(delay time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.delay.delay = delay

	if !m.delay.enabled() && m.delay.pending() {
		view := m.delay.pendingView
		m.delay.disarm()
		m.emitSettleLocked(view)
	}
}
