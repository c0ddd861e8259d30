/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package consistency contains the consistency services which can gate the
// topology events emitted by a viewstate.Manager.
package consistency

import (
	"context"

	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/viewstate"
)

// Immediate considers every view consistent as soon as it is reported.
type Immediate struct{}

var _ viewstate.ConsistencyService = Immediate{}

func (Immediate) Sync(ctx context.Context, view *topology.View, callback func()) error {
	callback()
	return nil
}
