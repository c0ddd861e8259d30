/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package viewstate turns reports of cluster membership into an ordered,
// deduplicated stream of topology events for a set of bound listeners.
//
// The driver reports Changing when membership is about to change and NewView
// once a new view is known.  The manager derives INIT, CHANGING, CHANGED and
// PROPERTIES_CHANGED events from those reports, optionally gating them on a
// ConsistencyService and delaying settle events by a minimum delay.  Every
// listener observes its events in order, one at a time, from a goroutine of
// its own.
package viewstate

import (
	"context"
	"sync"
	"time"

	"github.com/couchbase/stellar-discovery/pkg/metrics"
	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/utils/asyncsender"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Lifecycle int

const (
	LifecycleNotActivated Lifecycle = iota
	LifecycleActivated
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleNotActivated:
		return "not-activated"
	case LifecycleActivated:
		return "activated"
	}
	return "unknown"
}

func (l Lifecycle) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

type ManagerOptions struct {
	Logger *zap.Logger

	// ConsistencyService gates INIT and settle events, nil treats every view
	// as consistent.
	ConsistencyService ConsistencyService

	// MinEventDelay defers CHANGED and PROPERTIES_CHANGED until no further
	// transition was reported for the duration.  Zero disables the delay.
	MinEventDelay time.Duration
	Scheduler     Scheduler

	Metrics        *metrics.DiscoveryMetrics
	TracerProvider trace.TracerProvider
}

type Manager struct {
	logger      *zap.Logger
	consistency ConsistencyService
	metrics     *metrics.DiscoveryMetrics
	tracer      trace.Tracer
	sender      *asyncsender.Sender[topology.EventListener, *topology.Event]

	lock             sync.Mutex
	lifecycle        Lifecycle
	listeners        listenerRegistry
	previousView     *topology.View
	lastReportedView *topology.View
	changingSent     bool
	generation       uint64
	syncCancel       context.CancelFunc
	delay            minEventDelayHandler
}

// Status is a point in time snapshot of the manager state.
type Status struct {
	Lifecycle        Lifecycle      `json:"lifecycle"`
	CurrentView      *topology.View `json:"currentView,omitempty"`
	LastReportedView *topology.View `json:"lastReportedView,omitempty"`
	ChangingSent     bool           `json:"changingSent"`
	Listeners        int            `json:"listeners"`
	SettlePending    bool           `json:"settlePending"`
	InFlightEvents   int            `json:"inFlightEvents"`
}

func NewManager(opts *ManagerOptions) *Manager {
	if opts == nil {
		opts = &ManagerOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = NewTimerScheduler()
	}

	mtrs := opts.Metrics
	if mtrs == nil {
		mtrs = metrics.GetDiscoveryMetrics()
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	m := &Manager{
		logger:      logger,
		consistency: opts.ConsistencyService,
		metrics:     mtrs,
		tracer:      tp.Tracer("github.com/couchbase/stellar-discovery/viewstate"),
		lifecycle:   LifecycleNotActivated,
		delay: minEventDelayHandler{
			delay:     opts.MinEventDelay,
			scheduler: scheduler,
		},
	}

	m.sender = asyncsender.NewSender(asyncsender.Options[topology.EventListener, *topology.Event]{
		Logger: logger.Named("sender"),
		Deliver: func(l topology.EventListener, evt *topology.Event) {
			l.HandleTopologyEvent(evt)
		},
		OnDelivered: m.onDelivered,
	})

	return m
}

// Activate allows events to be emitted.  Calling it while activated does nothing.
func (m *Manager) Activate() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.lifecycle == LifecycleActivated {
		return
	}

	m.logger.Debug("activating", zap.Stringer("from", m.lifecycle))
	m.lifecycle = LifecycleActivated
}

// Deactivate stops all event emission, unbinds every listener and forgets the
// settled view, leaving the manager in the state of a freshly created one.
// Pending consistency syncs and deferred settle events are cancelled,
// deliveries which are already queued still complete.
func (m *Manager) Deactivate() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.logger.Debug("deactivating", zap.Stringer("from", m.lifecycle))

	m.supersedeLocked()
	m.lifecycle = LifecycleNotActivated
	m.listeners.clear()
	m.previousView = nil
	m.lastReportedView = nil
	m.changingSent = false
}

// Changing reports that the topology is about to change.  Listeners see a
// single CHANGING per transition, and nothing at all before the first view
// has settled.
func (m *Manager) Changing() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.lifecycle != LifecycleActivated || m.previousView == nil || m.changingSent {
		return
	}

	m.emitChangingLocked()
}

// NewView reports a new topology view.  The events it causes may be emitted
// asynchronously, after the consistency service has synced the view and any
// minimum event delay has elapsed.  A later report supersedes the pending
// work of an earlier one.
//
// A view reported while not activated is only kept as the last reported view
// in Status.  It is never settled, so Activate emits nothing and listeners
// bound afterwards see no INIT until the next view is reported.
func (m *Manager) NewView(view *topology.View) error {
	if view == nil {
		return ErrNilView
	}

	view = view.Clone()

	m.lock.Lock()
	defer m.lock.Unlock()

	m.lastReportedView = view

	if m.lifecycle != LifecycleActivated {
		m.logger.Debug("ignoring view while not activated",
			zap.String("syncToken", view.SyncToken),
			zap.Stringer("lifecycle", m.lifecycle))
		return nil
	}

	gen := m.supersedeLocked()

	if m.previousView != nil && m.previousView.Equals(view) {
		m.logger.Debug("ignoring view equal to the settled view",
			zap.String("syncToken", view.SyncToken))
		return nil
	}

	m.syncLocked(gen, view, func() {
		m.applyViewLocked(gen, view)
	})

	return nil
}

// Bind adds a listener, returning false if it was already bound.  A listener
// bound after a view has settled is caught up with an INIT of that view, and
// with a CHANGING if a transition is under way.
func (m *Manager) Bind(l topology.EventListener) (bool, error) {
	if l == nil {
		return false, ErrNilListener
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.listeners.add(l) {
		return false, nil
	}

	if m.lifecycle == LifecycleActivated && m.previousView != nil {
		m.sendLocked([]topology.EventListener{l}, topology.EventInit, nil, m.previousView)
		if m.changingSent {
			m.sendLocked([]topology.EventListener{l}, topology.EventChanging, m.previousView, nil)
		}
	}

	return true, nil
}

// Unbind removes a listener, returning whether it was bound.
func (m *Manager) Unbind(l topology.EventListener) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.listeners.remove(l)
}

// HasInFlightEvents returns whether any emitted event has not yet been
// handled by its listener.
func (m *Manager) HasInFlightEvents() bool {
	return m.sender.HasInFlight()
}

// WaitForQuiescence blocks until every emitted event has been handled.
func (m *Manager) WaitForQuiescence(ctx context.Context) error {
	return m.sender.WaitIdle(ctx)
}

func (m *Manager) Status() *Status {
	m.lock.Lock()
	defer m.lock.Unlock()

	return &Status{
		Lifecycle:        m.lifecycle,
		CurrentView:      m.previousView.Clone(),
		LastReportedView: m.lastReportedView.Clone(),
		ChangingSent:     m.changingSent,
		Listeners:        m.listeners.len(),
		SettlePending:    m.delay.pending(),
		InFlightEvents:   m.sender.InFlight(),
	}
}

// supersedeLocked invalidates all pending work of earlier transitions.
func (m *Manager) supersedeLocked() uint64 {
	m.generation++

	if m.syncCancel != nil {
		m.syncCancel()
		m.syncCancel = nil
	}
	m.delay.disarm()

	return m.generation
}

func (m *Manager) applyViewLocked(gen uint64, view *topology.View) {
	if m.previousView == nil {
		m.sendLocked(m.listeners.snapshot(), topology.EventInit, nil, view)
		m.previousView = view
		m.changingSent = false
		return
	}

	if m.previousView.Equals(view) {
		return
	}

	if !m.changingSent {
		m.emitChangingLocked()
	}

	m.settleLocked(gen, view)
}

func (m *Manager) emitChangingLocked() {
	m.sendLocked(m.listeners.snapshot(), topology.EventChanging, m.previousView, nil)
	m.changingSent = true
}

func (m *Manager) emitSettleLocked(view *topology.View) {
	if m.previousView.Equals(view) {
		return
	}

	evtType := topology.EventChanged
	if m.previousView.TopologyEquals(view) {
		evtType = topology.EventPropertiesChanged
	}

	m.sendLocked(m.listeners.snapshot(), evtType, m.previousView, view)
	m.previousView = view
	m.changingSent = false
}

func (m *Manager) sendLocked(listeners []topology.EventListener, evtType topology.EventType, oldView, newView *topology.View) {
	evt, err := topology.NewEvent(evtType, oldView, newView)
	if err != nil {
		m.logger.Error("failed to build topology event", zap.Error(err))
		return
	}

	m.logger.Debug("emitting topology event",
		zap.Stringer("event", evt),
		zap.Int("listeners", len(listeners)))

	typeAttr := metric.WithAttributes(attribute.String("type", string(evtType)))
	for _, l := range listeners {
		m.metrics.EventsEmitted.Add(context.Background(), 1, typeAttr)
		m.metrics.EventsInFlight.Add(context.Background(), 1)
		m.sender.Send(l, evt)
	}
}

func (m *Manager) onDelivered(l topology.EventListener, evt *topology.Event, err error) {
	m.metrics.EventsInFlight.Add(context.Background(), -1)
	if err != nil {
		m.metrics.DeliveryFailures.Add(context.Background(), 1)
		return
	}
	m.metrics.EventsDelivered.Add(context.Background(), 1)
}
