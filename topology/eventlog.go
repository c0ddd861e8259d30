/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import (
	"sync"
)

// EventLog is a listener which records every event it receives in order.  A
// capacity of zero keeps everything, otherwise only the most recent events
// are retained.
type EventLog struct {
	capacity int

	lock   sync.Mutex
	events []*Event
	total  int
}

var _ EventListener = (*EventLog)(nil)

func NewEventLog(capacity int) *EventLog {
	return &EventLog{
		capacity: capacity,
	}
}

func (l *EventLog) HandleTopologyEvent(evt *Event) {
	l.lock.Lock()
	l.events = append(l.events, evt)
	if l.capacity > 0 && len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
	l.total++
	l.lock.Unlock()
}

// Events returns a copy of the retained events, oldest first.
func (l *EventLog) Events() []*Event {
	l.lock.Lock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	l.lock.Unlock()

	return out
}

// Types returns the types of the retained events, oldest first.
func (l *EventLog) Types() []EventType {
	l.lock.Lock()
	out := make([]EventType, 0, len(l.events))
	for _, evt := range l.events {
		out = append(out, evt.Type)
	}
	l.lock.Unlock()

	return out
}

// Total returns how many events were ever recorded, including any that
// were dropped due to the capacity.
func (l *EventLog) Total() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.total
}

func (l *EventLog) Reset() {
	l.lock.Lock()
	l.events = nil
	l.total = 0
	l.lock.Unlock()
}
