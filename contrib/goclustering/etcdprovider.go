/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package goclustering

import (
	"context"
	"time"

	"github.com/couchbase/stellar-discovery/contrib/etcdmemberlist"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdProviderOptions struct {
	Logger      *zap.Logger
	EtcdClient  *etcd.Client
	KeyPrefix   string
	LeasePeriod time.Duration
}

// EtcdProvider tracks members in etcd, each member key lives as long as the
// lease of the process which joined.
type EtcdProvider struct {
	ml          *etcdmemberlist.MemberList
	leasePeriod time.Duration
}

var _ Provider = (*EtcdProvider)(nil)

func NewEtcdProvider(opts EtcdProviderOptions) (*EtcdProvider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ml, err := etcdmemberlist.NewMemberList(etcdmemberlist.MemberListOptions{
		Logger:     logger.Named("memberlist"),
		EtcdClient: opts.EtcdClient,
		KeyPrefix:  opts.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}

	return &EtcdProvider{
		ml:          ml,
		leasePeriod: opts.LeasePeriod,
	}, nil
}

func (p *EtcdProvider) Join(ctx context.Context, memberID string, metaData []byte) (Membership, error) {
	mb, err := p.ml.Join(ctx, &etcdmemberlist.JoinOptions{
		MemberID:    memberID,
		MetaData:    metaData,
		LeasePeriod: p.leasePeriod,
	})
	if err != nil {
		return nil, err
	}

	return &etcdMembership{mb}, nil
}

type etcdMembership struct {
	ms *etcdmemberlist.Membership
}

func (m *etcdMembership) UpdateMetaData(ctx context.Context, metaData []byte) error {
	return m.translateErr(m.ms.SetMetaData(ctx, metaData))
}

func (m *etcdMembership) Leave(ctx context.Context) error {
	return m.translateErr(m.ms.Leave(ctx))
}

func (m *etcdMembership) translateErr(err error) error {
	if err == etcdmemberlist.ErrNotJoined {
		return ErrAlreadyLeft
	}
	return err
}

func snapshotFromMemberList(snap *etcdmemberlist.MembersSnapshot) *Snapshot {
	members := make([]*Member, 0, len(snap.Members))
	for _, entry := range snap.Members {
		members = append(members, &Member{
			MemberID: entry.MemberID,
			MetaData: entry.MetaData,
		})
	}

	return &Snapshot{
		Revision: []uint64{uint64(snap.Revision)},
		Members:  members,
	}
}

func (p *EtcdProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	snapEvts, err := p.ml.WatchMembers(ctx)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan *Snapshot, 1)
	go func() {
		defer close(outputCh)

		for snap := range snapEvts {
			select {
			case outputCh <- snapshotFromMemberList(snap):
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}

func (p *EtcdProvider) Get(ctx context.Context) (*Snapshot, error) {
	memberSnap, err := p.ml.Members(ctx)
	if err != nil {
		return nil, err
	}

	return snapshotFromMemberList(memberSnap), nil
}
