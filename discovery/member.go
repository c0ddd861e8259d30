/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package discovery

import (
	"context"
	"encoding/json"

	"github.com/couchbase/stellar-discovery/contrib/goclustering"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// The JSON representation of this data is intentionally terse as it is
// republished on every property change.

type Member struct {
	MemberID   string            `json:"-"`
	ClusterID  string            `json:"c,omitempty"`
	ElectionID string            `json:"e,omitempty"`
	Properties map[string]string `json:"p,omitempty"`
}

type Snapshot struct {
	Revision []uint64
	Members  []*Member
}

type Membership struct {
	ms goclustering.Membership
}

func (m *Membership) UpdateMetaData(ctx context.Context, data *Member) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to encode member")
	}

	return m.ms.UpdateMetaData(ctx, dataBytes)
}

func (m *Membership) Leave(ctx context.Context) error {
	return m.ms.Leave(ctx)
}

// Cluster translates between the opaque meta-data of a clustering provider
// and discovery members.
type Cluster struct {
	Provider goclustering.Provider
	Logger   *zap.Logger
}

func (c *Cluster) Join(ctx context.Context, data *Member) (*Membership, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode member")
	}

	ms, err := c.Provider.Join(ctx, data.MemberID, dataBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to join cluster")
	}

	return &Membership{ms}, nil
}

func (c *Cluster) procSnapshot(snap *goclustering.Snapshot) *Snapshot {
	members := make([]*Member, 0, len(snap.Members))
	for _, entry := range snap.Members {
		var member Member
		err := json.Unmarshal(entry.MetaData, &member)
		if err != nil {
			// members with bad meta-data still appear in the snapshot, they
			// are just missing all of their data.
			c.Logger.Error("failed to unmarshal member",
				zap.String("memberId", entry.MemberID),
				zap.Error(err))
			member = Member{}
		}

		member.MemberID = entry.MemberID
		members = append(members, &member)
	}

	return &Snapshot{
		Revision: snap.Revision,
		Members:  members,
	}
}

func (c *Cluster) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	snapCh, err := c.Provider.Watch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to watch cluster")
	}

	outputCh := make(chan *Snapshot)
	go func() {
		defer close(outputCh)

		for pSnap := range snapCh {
			select {
			case outputCh <- c.procSnapshot(pSnap):
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}

func (c *Cluster) Get(ctx context.Context) (*Snapshot, error) {
	pSnap, err := c.Provider.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch cluster")
	}

	return c.procSnapshot(pSnap), nil
}
