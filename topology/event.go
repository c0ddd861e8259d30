/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import "fmt"

type EventType string

const (
	EventInit              EventType = "INIT"
	EventChanging          EventType = "CHANGING"
	EventChanged           EventType = "CHANGED"
	EventPropertiesChanged EventType = "PROPERTIES_CHANGED"
)

// Event is a single topology notification.  The views it carries are private
// copies taken when the event was built, later changes to the views that were
// passed in are never visible through the event.
type Event struct {
	Type    EventType `json:"type"`
	OldView *View     `json:"oldView,omitempty"`
	NewView *View     `json:"newView,omitempty"`
}

// NewEvent validates the views against the event type and builds the event.
// The old view of an event is no longer current, so its copy is marked as such.
func NewEvent(evtType EventType, oldView, newView *View) (*Event, error) {
	switch evtType {
	case EventInit:
		if oldView != nil || newView == nil {
			return nil, fmt.Errorf("%w: INIT requires only a new view", ErrInvalidEvent)
		}
	case EventChanging:
		if oldView == nil || newView != nil {
			return nil, fmt.Errorf("%w: CHANGING requires only an old view", ErrInvalidEvent)
		}
	case EventChanged, EventPropertiesChanged:
		if oldView == nil || newView == nil {
			return nil, fmt.Errorf("%w: %s requires both an old and a new view", ErrInvalidEvent, evtType)
		}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, evtType)
	}

	evt := &Event{
		Type:    evtType,
		OldView: oldView.Clone(),
		NewView: newView.Clone(),
	}
	if evt.OldView != nil {
		evt.OldView.Current = false
	}

	return evt, nil
}

func (e *Event) String() string {
	token := func(v *View) string {
		if v == nil {
			return "-"
		}
		return v.SyncToken
	}

	return fmt.Sprintf("%s(%s,%s)", e.Type, token(e.OldView), token(e.NewView))
}

// EventListener receives topology events.  Implementations are invoked from a
// goroutine other than the one that triggered the event, at some later point.
// Listeners are tracked by identity and must therefore be comparable, which in
// practice means pointer receivers.
type EventListener interface {
	HandleTopologyEvent(evt *Event)
}
