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
	"maps"

	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/utils/revisionarr"
)

// electedBefore orders members by election id, the member id breaks ties.
func electedBefore(a, b *Member) bool {
	if a.ElectionID != b.ElectionID {
		return a.ElectionID < b.ElectionID
	}
	return a.MemberID < b.MemberID
}

// ViewFromSnapshot converts a cluster snapshot into a topology view.  The
// member with the lowest election id of every cluster is its leader, and the
// dotted revision of the snapshot becomes the sync token.
func ViewFromSnapshot(snap *Snapshot, localMemberID string) *topology.View {
	leaders := make(map[string]*Member)
	for _, member := range snap.Members {
		leader, ok := leaders[member.ClusterID]
		if !ok || electedBefore(member, leader) {
			leaders[member.ClusterID] = member
		}
	}

	instances := make([]*topology.InstanceDescription, 0, len(snap.Members))
	for _, member := range snap.Members {
		properties := maps.Clone(member.Properties)
		if properties == nil {
			properties = make(map[string]string)
		}

		instances = append(instances, &topology.InstanceDescription{
			InstanceID: member.MemberID,
			ClusterID:  member.ClusterID,
			IsLeader:   leaders[member.ClusterID] == member,
			IsLocal:    member.MemberID == localMemberID,
			Properties: properties,
		})
	}

	return topology.NewView(revisionarr.Format(snap.Revision), instances...)
}
