/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package asyncsender implements per-target ordered asynchronous delivery.
// Every target owns an unbounded FIFO queue which is drained by at most one
// goroutine at a time, guaranteeing that a target observes its events in the
// order they were sent and never concurrently.  There is no ordering between
// different targets.
package asyncsender

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type Options[K comparable, E any] struct {
	Logger *zap.Logger

	// Deliver is invoked once per event from a sender goroutine.
	Deliver func(target K, event E)

	// OnDelivered is optionally invoked after every delivery attempt, err is
	// non-nil when the delivery panicked.
	OnDelivered func(target K, event E, err error)
}

type targetQueue[E any] struct {
	events   []E
	draining bool
}

type Sender[K comparable, E any] struct {
	logger      *zap.Logger
	deliver     func(target K, event E)
	onDelivered func(target K, event E, err error)

	lock        sync.Mutex
	queues      map[K]*targetQueue[E]
	inFlight    int
	idleWaiters []chan struct{}
}

func NewSender[K comparable, E any](opts Options[K, E]) *Sender[K, E] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender[K, E]{
		logger:      logger,
		deliver:     opts.Deliver,
		onDelivered: opts.OnDelivered,
		queues:      make(map[K]*targetQueue[E]),
	}
}

// Send queues an event for the target and returns immediately.
func (s *Sender[K, E]) Send(target K, event E) {
	s.lock.Lock()

	q := s.queues[target]
	if q == nil {
		q = &targetQueue[E]{}
		s.queues[target] = q
	}

	q.events = append(q.events, event)
	s.inFlight++

	startDrain := !q.draining
	q.draining = true

	s.lock.Unlock()

	if startDrain {
		go s.drain(target, q)
	}
}

func (s *Sender[K, E]) drain(target K, q *targetQueue[E]) {
	for {
		s.lock.Lock()
		if len(q.events) == 0 {
			// nothing left for this target, we remove the queue so that an idle
			// target does not pin any memory.
			q.draining = false
			if s.queues[target] == q {
				delete(s.queues, target)
			}
			s.lock.Unlock()
			return
		}

		event := q.events[0]
		var zero E
		q.events[0] = zero
		q.events = q.events[1:]
		s.lock.Unlock()

		err := s.deliverOne(target, event)
		if s.onDelivered != nil {
			s.onDelivered(target, event, err)
		}

		s.lock.Lock()
		s.inFlight--
		if s.inFlight == 0 {
			for _, waiterCh := range s.idleWaiters {
				close(waiterCh)
			}
			s.idleWaiters = nil
		}
		s.lock.Unlock()
	}
}

func (s *Sender[K, E]) deliverOne(target K, event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
			s.logger.Error("event delivery failed",
				zap.Any("event", event),
				zap.Any("panic", r))
		}
	}()

	s.deliver(target, event)
	return nil
}

// InFlight returns the number of events which have been sent but whose
// delivery has not yet completed.
func (s *Sender[K, E]) InFlight() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.inFlight
}

func (s *Sender[K, E]) HasInFlight() bool {
	return s.InFlight() > 0
}

// WaitIdle blocks until no events are in flight or the context is done.
func (s *Sender[K, E]) WaitIdle(ctx context.Context) error {
	s.lock.Lock()
	if s.inFlight == 0 {
		s.lock.Unlock()
		return nil
	}

	waiterCh := make(chan struct{})
	s.idleWaiters = append(s.idleWaiters, waiterCh)
	s.lock.Unlock()

	select {
	case <-waiterCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
