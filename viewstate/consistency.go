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
	"fmt"
	"sync"

	"github.com/couchbase/stellar-discovery/topology"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsistencyService gates the events of a transition on some external
// condition, for instance every instance of the cluster having observed the
// view.  Sync invokes callback once the view is consistent, either before
// returning or later from another goroutine.  The context is cancelled when
// the transition is superseded, at which point waiting should stop.  An error
// vetoes the transition.
type ConsistencyService interface {
	Sync(ctx context.Context, view *topology.View, callback func()) error
}

// syncLocked runs emit once the consistency service reports the view as
// consistent.  It must be called holding m.lock, which is released while the
// service is waiting and is held again when syncLocked returns.  emit always
// runs holding m.lock, and only if the transition is still the latest one.
func (m *Manager) syncLocked(gen uint64, view *topology.View, emit func()) {
	if m.consistency == nil {
		emit()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.syncCancel = cancel

	ctx, span := m.tracer.Start(ctx, "viewstate.sync", trace.WithAttributes(
		attribute.String("sync_token", view.SyncToken),
		attribute.Int64("generation", int64(gen)),
	))

	var callbackOnce sync.Once
	callback := func() {
		callbackOnce.Do(func() {
			m.lock.Lock()
			if m.generation != gen || m.lifecycle != LifecycleActivated {
				m.logger.Debug("ignoring stale consistency callback",
					zap.String("syncToken", view.SyncToken),
					zap.Uint64("generation", gen))
			} else {
				span.AddEvent("consistent")
				emit()
			}
			m.lock.Unlock()

			cancel()
		})
	}

	m.lock.Unlock()
	err := m.invokeSync(ctx, view, callback)
	superseded := ctx.Err() != nil
	if err != nil && !superseded {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	m.lock.Lock()

	if err != nil {
		cancel()

		if superseded {
			m.logger.Debug("consistency sync superseded",
				zap.String("syncToken", view.SyncToken),
				zap.Error(err))
			return
		}

		m.metrics.SyncVetoes.Add(context.Background(), 1)
		m.logger.Warn("consistency sync vetoed transition",
			zap.String("syncToken", view.SyncToken),
			zap.Error(err))
	}
}

func (m *Manager) invokeSync(ctx context.Context, view *topology.View, callback func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consistency service panicked: %v", r)
		}
	}()

	return m.consistency.Sync(ctx, view, callback)
}
