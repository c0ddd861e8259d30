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
	"sync"
	"time"
)

type ScheduledTask interface {
	// Cancel stops the task from running if it has not started yet.
	Cancel()
}

// Scheduler runs tasks after a delay.  Tasks must be run from a goroutine
// other than the one calling Schedule.
type Scheduler interface {
	Schedule(delay time.Duration, task func()) (ScheduledTask, error)
}

// TimerScheduler is a Scheduler backed by runtime timers.
type TimerScheduler struct {
	lock    sync.Mutex
	closed  bool
	pending map[*timerTask]struct{}
}

var _ Scheduler = (*TimerScheduler)(nil)

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{
		pending: make(map[*timerTask]struct{}),
	}
}

type timerTask struct {
	owner *TimerScheduler
	timer *time.Timer
}

func (s *TimerScheduler) Schedule(delay time.Duration, task func()) (ScheduledTask, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, ErrSchedulerClosed
	}

	t := &timerTask{owner: s}
	t.timer = time.AfterFunc(delay, func() {
		s.lock.Lock()
		delete(s.pending, t)
		s.lock.Unlock()

		task()
	})
	s.pending[t] = struct{}{}

	return t, nil
}

// Pending returns the number of tasks which have neither run nor been cancelled.
func (s *TimerScheduler) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.pending)
}

// Close cancels every pending task, later calls to Schedule fail with
// ErrSchedulerClosed.
func (s *TimerScheduler) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.closed = true
	for t := range s.pending {
		t.timer.Stop()
	}
	s.pending = make(map[*timerTask]struct{})
}

func (t *timerTask) Cancel() {
	if !t.timer.Stop() {
		return
	}

	t.owner.lock.Lock()
	delete(t.owner.pending, t)
	t.owner.lock.Unlock()
}
