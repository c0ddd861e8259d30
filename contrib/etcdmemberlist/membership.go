/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package etcdmemberlist

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

var ErrNotJoined = errors.New("membership has already left")

type Membership struct {
	logger      *zap.Logger
	etcdClient  *etcd.Client
	key         string
	leasePeriod time.Duration
	id          string

	lock          sync.Mutex
	metaData      []byte
	leaseID       etcd.LeaseID
	leaseCancelFn context.CancelFunc
	left          bool
}

func (m *Membership) ID() string {
	return m.id
}

func (m *Membership) join(ctx context.Context) error {
	lease, err := m.etcdClient.Lease.Grant(ctx, int64(m.leasePeriod/time.Second))
	if err != nil {
		return errors.Wrap(err, "failed to grant member lease")
	}

	leaseCtx, leaseCancelFn := context.WithCancel(context.Background())
	leaseKaCh, err := m.etcdClient.Lease.KeepAlive(leaseCtx, lease.ID)
	if err != nil {
		leaseCancelFn()
		return errors.Wrap(err, "failed to keep member lease alive")
	}

	go func() {
		for range leaseKaCh {
		}

		if leaseCtx.Err() == nil {
			// the member key disappears once the lease expires, other members
			// will observe this instance leaving.
			m.logger.Warn("member lease keep-alive stopped unexpectedly")
		}
	}()

	m.leaseID = lease.ID
	m.leaseCancelFn = leaseCancelFn

	_, err = m.etcdClient.KV.Put(ctx, m.key, string(m.metaData), etcd.WithLease(lease.ID))
	if err != nil {
		leaseCancelFn()
		return errors.Wrap(err, "failed to publish member")
	}

	m.logger.Debug("joined member list", zap.Int64("leaseId", int64(lease.ID)))

	return nil
}

func (m *Membership) SetMetaData(ctx context.Context, data []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.left {
		return ErrNotJoined
	}

	_, err := m.etcdClient.KV.Put(ctx, m.key, string(data), etcd.WithLease(m.leaseID))
	if err != nil {
		return errors.Wrap(err, "failed to update member meta-data")
	}

	m.metaData = slices.Clone(data)

	return nil
}

func (m *Membership) Leave(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.left {
		return ErrNotJoined
	}

	_, err := m.etcdClient.KV.Delete(ctx, m.key)
	if err != nil {
		return errors.Wrap(err, "failed to remove member")
	}

	m.left = true
	m.leaseCancelFn()

	_, err = m.etcdClient.Lease.Revoke(ctx, m.leaseID)
	if err != nil {
		m.logger.Debug("failed to revoke member lease", zap.Error(err))
	}

	return nil
}
