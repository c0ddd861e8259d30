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
	"github.com/couchbase/stellar-discovery/topology"
	"golang.org/x/exp/slices"
)

// listenerRegistry is the set of bound listeners, keyed by identity and kept
// in bind order.  It has no locking of its own and is only ever touched while
// holding the manager lock.
type listenerRegistry struct {
	listeners []topology.EventListener
}

func (r *listenerRegistry) add(l topology.EventListener) bool {
	if slices.Index(r.listeners, l) >= 0 {
		return false
	}

	r.listeners = append(r.listeners, l)
	return true
}

func (r *listenerRegistry) remove(l topology.EventListener) bool {
	idx := slices.Index(r.listeners, l)
	if idx < 0 {
		return false
	}

	r.listeners = slices.Delete(r.listeners, idx, idx+1)
	return true
}

func (r *listenerRegistry) clear() {
	r.listeners = nil
}

func (r *listenerRegistry) len() int {
	return len(r.listeners)
}

// snapshot returns a copy of the listener set which is safe to iterate after
// the registry has been modified.
func (r *listenerRegistry) snapshot() []topology.EventListener {
	return slices.Clone(r.listeners)
}
