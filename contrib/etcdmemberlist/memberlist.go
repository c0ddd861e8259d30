/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package etcdmemberlist maintains a list of live members in etcd.  Every
// member owns a key below the list prefix which is attached to a lease, so
// members which stop keeping their lease alive drop out of the list.
package etcdmemberlist

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type MemberListOptions struct {
	Logger     *zap.Logger
	EtcdClient *etcd.Client
	KeyPrefix  string
}

type MemberList struct {
	logger     *zap.Logger
	etcdClient *etcd.Client
	keyPrefix  string
}

type Member struct {
	MemberID string
	MetaData []byte
}

type MembersSnapshot struct {
	Revision int64
	Members  []*Member
}

func NewMemberList(opts MemberListOptions) (*MemberList, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("an etcd client must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MemberList{
		logger:     logger,
		etcdClient: opts.EtcdClient,
		keyPrefix:  opts.KeyPrefix,
	}, nil
}

func (ml *MemberList) membersPrefix() string {
	return ml.keyPrefix + "/"
}

type JoinOptions struct {
	MemberID    string
	MetaData    []byte
	LeasePeriod time.Duration
}

func (ml *MemberList) Join(ctx context.Context, opts *JoinOptions) (*Membership, error) {
	if opts == nil {
		opts = &JoinOptions{}
	}

	memberID := opts.MemberID
	if memberID == "" {
		memberID = uuid.NewString()
	}

	leasePeriod := 5 * time.Second
	if opts.LeasePeriod != 0 {
		// etcd itself refuses leases shorter than 5 seconds
		if opts.LeasePeriod < 5*time.Second {
			return nil, errors.New("lease period must be at least 5 seconds")
		}

		leasePeriod = opts.LeasePeriod
	}

	m := &Membership{
		logger:      ml.logger.With(zap.String("memberId", memberID)),
		etcdClient:  ml.etcdClient,
		key:         ml.membersPrefix() + memberID,
		leasePeriod: leasePeriod,
		id:          memberID,
		metaData:    slices.Clone(opts.MetaData),
	}

	err := m.join(ctx)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (ml *MemberList) snapshotFromMap(revision int64, keyMap map[string][]byte) *MembersSnapshot {
	members := make([]*Member, 0, len(keyMap))
	for memberKey, memberData := range keyMap {
		members = append(members, &Member{
			MemberID: strings.TrimPrefix(memberKey, ml.membersPrefix()),
			MetaData: memberData,
		})
	}

	slices.SortFunc(members, func(a, b *Member) int {
		return strings.Compare(a.MemberID, b.MemberID)
	})

	return &MembersSnapshot{
		Revision: revision,
		Members:  members,
	}
}

func (ml *MemberList) fetchKeyMap(ctx context.Context) (int64, map[string][]byte, error) {
	resp, err := ml.etcdClient.KV.Get(ctx, ml.membersPrefix(), etcd.WithPrefix())
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to list members")
	}

	keyMap := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keyMap[string(kv.Key)] = kv.Value
	}

	return resp.Header.Revision, keyMap, nil
}

func (ml *MemberList) Members(ctx context.Context) (*MembersSnapshot, error) {
	revision, keyMap, err := ml.fetchKeyMap(ctx)
	if err != nil {
		return nil, err
	}

	return ml.snapshotFromMap(revision, keyMap), nil
}

// WatchMembers emits the current member list followed by a new snapshot for
// every change.  The channel is closed when the context is cancelled or the
// watch fails, in which case the caller should start a new watch.
func (ml *MemberList) WatchMembers(ctx context.Context) (<-chan *MembersSnapshot, error) {
	revision, keyMap, err := ml.fetchKeyMap(ctx)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan *MembersSnapshot, 1)
	outputCh <- ml.snapshotFromMap(revision, keyMap)

	watchCtx, watchCancel := context.WithCancel(ctx)
	watchCh := ml.etcdClient.Watcher.Watch(watchCtx, ml.membersPrefix(),
		etcd.WithPrefix(),
		etcd.WithRev(revision+1))

	go func() {
		defer watchCancel()
		defer close(outputCh)

		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				ml.logger.Warn("member list watch failed", zap.Error(err))
				return
			}

			for _, watchEvt := range watchResp.Events {
				switch watchEvt.Type {
				case mvccpb.PUT:
					keyMap[string(watchEvt.Kv.Key)] = watchEvt.Kv.Value
				case mvccpb.DELETE:
					delete(keyMap, string(watchEvt.Kv.Key))
				default:
					ml.logger.Debug("ignoring unexpected member list event",
						zap.Stringer("type", watchEvt.Type))
				}
			}

			select {
			case outputCh <- ml.snapshotFromMap(watchResp.Header.Revision, keyMap):
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}
