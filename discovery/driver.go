/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package discovery joins the local instance to a cluster and reports the
// membership it observes to a view reporter such as a viewstate.Manager.
package discovery

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchbase/stellar-discovery/contrib/goclustering"
	"github.com/couchbase/stellar-discovery/pkg/metrics"
	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/utils/latestonlychannel"
	"github.com/couchbase/stellar-discovery/utils/revisionarr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ViewReporter receives the membership observed by the driver.
type ViewReporter interface {
	Changing()
	NewView(view *topology.View) error
}

type DriverOptions struct {
	Logger   *zap.Logger
	Provider goclustering.Provider
	Reporter ViewReporter
	Metrics  *metrics.DiscoveryMetrics

	MemberID  string
	ClusterID string

	// ElectionID orders the members of a cluster for leadership, the lowest
	// id leads.  It defaults to the start time of the driver so that the
	// longest running member leads.
	ElectionID string
	Properties map[string]string
}

type Driver struct {
	logger   *zap.Logger
	cluster  *Cluster
	reporter ViewReporter
	metrics  *metrics.DiscoveryMetrics
	memberID string

	ctx       context.Context
	ctxCancel func()
	closeCh   chan struct{}

	lock       sync.Mutex
	local      *Member
	membership *Membership

	// only touched by procThread
	lastRevision []uint64
	lastView     *topology.View
}

func NewDriver(ctx context.Context, opts *DriverOptions) (*Driver, error) {
	if opts.Provider == nil || opts.Reporter == nil {
		return nil, errors.New("a provider and a reporter must be specified")
	}
	if opts.MemberID == "" {
		return nil, errors.New("a member id must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mtrs := opts.Metrics
	if mtrs == nil {
		mtrs = metrics.GetDiscoveryMetrics()
	}

	electionID := opts.ElectionID
	if electionID == "" {
		electionID = fmt.Sprintf("%020d", time.Now().UnixNano())
	}

	local := &Member{
		MemberID:   opts.MemberID,
		ClusterID:  opts.ClusterID,
		ElectionID: electionID,
		Properties: maps.Clone(opts.Properties),
	}

	cluster := &Cluster{
		Provider: opts.Provider,
		Logger:   logger.Named("cluster"),
	}

	membership, err := cluster.Join(ctx, local)
	if err != nil {
		return nil, err
	}

	logger.Info("joined cluster",
		zap.String("memberId", local.MemberID),
		zap.String("clusterId", local.ClusterID),
		zap.String("electionId", local.ElectionID))

	driverCtx, driverCancel := context.WithCancel(context.Background())

	d := &Driver{
		logger:     logger,
		cluster:    cluster,
		reporter:   opts.Reporter,
		metrics:    mtrs,
		memberID:   opts.MemberID,
		ctx:        driverCtx,
		ctxCancel:  driverCancel,
		closeCh:    make(chan struct{}),
		local:      local,
		membership: membership,
	}

	go d.procThread()

	return d, nil
}

func (d *Driver) procThread() {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.Reset()

MainLoop:
	for {
		snapCh, err := d.cluster.Watch(d.ctx)
		if err != nil {
			d.logger.Error("failed to watch cluster", zap.Error(err))

			select {
			case <-time.After(b.NextBackOff()):
				continue
			case <-d.ctx.Done():
				break MainLoop
			}
		}

		received := false
		for snap := range latestonlychannel.Wrap(d.ctx, snapCh) {
			if !received {
				// restart our backoff strategy now that the watch delivers
				received = true
				b.Reset()
			}

			d.handleSnapshot(snap)
		}

		if d.ctx.Err() != nil {
			break MainLoop
		}

		d.logger.Warn("cluster watch closed, restarting")

		select {
		case <-time.After(b.NextBackOff()):
		case <-d.ctx.Done():
			break MainLoop
		}
	}

	close(d.closeCh)
}

func (d *Driver) handleSnapshot(snap *Snapshot) {
	if d.lastRevision != nil && revisionarr.Compare(snap.Revision, d.lastRevision) < 0 {
		d.logger.Debug("ignoring out of date snapshot",
			zap.String("revision", revisionarr.Format(snap.Revision)),
			zap.String("lastRevision", revisionarr.Format(d.lastRevision)))
		return
	}
	d.lastRevision = snap.Revision

	view := ViewFromSnapshot(snap, d.memberID)
	if view.LocalInstance() == nil {
		d.logger.Warn("local member is missing from the cluster snapshot",
			zap.String("revision", view.SyncToken))
	}

	if d.lastView != nil && !d.lastView.TopologyEquals(view) {
		d.reporter.Changing()
	}

	err := d.reporter.NewView(view)
	if err != nil {
		d.logger.Error("failed to report view", zap.Error(err))
		return
	}

	d.lastView = view
	d.metrics.SnapshotsProcessed.Add(d.ctx, 1)

	d.logger.Debug("reported cluster view",
		zap.String("syncToken", view.SyncToken),
		zap.Strings("instances", view.InstanceIDs()))
}

// SetProperties republishes the properties of the local member, which other
// members observe as a property change.
func (d *Driver) SetProperties(ctx context.Context, properties map[string]string) error {
	d.lock.Lock()
	local := *d.local
	local.Properties = maps.Clone(properties)
	membership := d.membership
	d.lock.Unlock()

	if membership == nil {
		return goclustering.ErrAlreadyLeft
	}

	err := membership.UpdateMetaData(ctx, &local)
	if err != nil {
		return errors.Wrap(err, "failed to publish properties")
	}

	d.lock.Lock()
	d.local = &local
	d.lock.Unlock()

	return nil
}

// Close stops watching the cluster and leaves it.
func (d *Driver) Close(ctx context.Context) error {
	d.ctxCancel()
	<-d.closeCh

	d.lock.Lock()
	membership := d.membership
	d.membership = nil
	d.lock.Unlock()

	if membership == nil {
		return nil
	}

	return membership.Leave(ctx)
}
