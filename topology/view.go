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
	"maps"
	"strings"

	"golang.org/x/exp/slices"
)

// InstanceDescription describes a single member of a topology view.
type InstanceDescription struct {
	InstanceID string            `json:"instanceId"`
	ClusterID  string            `json:"clusterId"`
	IsLeader   bool              `json:"isLeader"`
	IsLocal    bool              `json:"isLocal"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Clone returns a deep copy of the instance description.
func (d *InstanceDescription) Clone() *InstanceDescription {
	if d == nil {
		return nil
	}

	copied := *d
	copied.Properties = maps.Clone(d.Properties)
	return &copied
}

func (d *InstanceDescription) topologyEquals(o *InstanceDescription) bool {
	return d.InstanceID == o.InstanceID &&
		d.ClusterID == o.ClusterID &&
		d.IsLeader == o.IsLeader &&
		d.IsLocal == o.IsLocal
}

func (d *InstanceDescription) propertiesEqual(o *InstanceDescription) bool {
	// nil and empty property maps are considered to be the same
	return maps.Equal(d.Properties, o.Properties)
}

// View is a snapshot of the cluster membership at one point in logical time.
// Views must not be modified once they have been handed to a Manager.
type View struct {
	SyncToken string                 `json:"syncToken"`
	Current   bool                   `json:"current"`
	Instances []*InstanceDescription `json:"instances"`
}

// NewView builds a current view from the given instances.  The instances are
// copied and ordered by their instance id.
func NewView(syncToken string, instances ...*InstanceDescription) *View {
	v := &View{
		SyncToken: syncToken,
		Current:   true,
	}

	for _, instance := range instances {
		v.Instances = append(v.Instances, instance.Clone())
	}

	slices.SortFunc(v.Instances, func(a, b *InstanceDescription) int {
		return strings.Compare(a.InstanceID, b.InstanceID)
	})

	return v
}

// Clone returns a deep copy of the view.
func (v *View) Clone() *View {
	if v == nil {
		return nil
	}

	copied := &View{
		SyncToken: v.SyncToken,
		Current:   v.Current,
		Instances: make([]*InstanceDescription, 0, len(v.Instances)),
	}
	for _, instance := range v.Instances {
		copied.Instances = append(copied.Instances, instance.Clone())
	}

	return copied
}

// Instance returns the instance with the given id, or nil.
func (v *View) Instance(instanceID string) *InstanceDescription {
	for _, instance := range v.Instances {
		if instance.InstanceID == instanceID {
			return instance
		}
	}
	return nil
}

// LocalInstance returns the instance flagged as local, or nil.
func (v *View) LocalInstance() *InstanceDescription {
	for _, instance := range v.Instances {
		if instance.IsLocal {
			return instance
		}
	}
	return nil
}

// ClusterInstances returns the instances belonging to the given cluster.
func (v *View) ClusterInstances(clusterID string) []*InstanceDescription {
	var out []*InstanceDescription
	for _, instance := range v.Instances {
		if instance.ClusterID == clusterID {
			out = append(out, instance)
		}
	}
	return out
}

func (v *View) instanceMap() map[string]*InstanceDescription {
	out := make(map[string]*InstanceDescription, len(v.Instances))
	for _, instance := range v.Instances {
		out[instance.InstanceID] = instance
	}
	return out
}

// TopologyEquals reports whether both views contain the same instances with
// the same leader/local flags and cluster groupings.  Properties, the sync
// token and the current flag are not considered.
func (v *View) TopologyEquals(o *View) bool {
	return v.compare(o, false)
}

// Equals reports whether both views are topologically equal and additionally
// every instance carries identical properties.
func (v *View) Equals(o *View) bool {
	return v.compare(o, true)
}

func (v *View) compare(o *View, withProperties bool) bool {
	if v == nil || o == nil {
		return v == o
	}

	// a repeated instance id collapses in the maps below
	if len(v.Instances) != len(o.Instances) {
		return false
	}

	mine := v.instanceMap()
	theirs := o.instanceMap()
	if len(mine) != len(theirs) {
		return false
	}

	for instanceID, instance := range mine {
		other, ok := theirs[instanceID]
		if !ok {
			return false
		}

		if !instance.topologyEquals(other) {
			return false
		}

		if withProperties && !instance.propertiesEqual(other) {
			return false
		}
	}

	return true
}

// InstanceIDs returns the sorted list of instance ids in the view.
func (v *View) InstanceIDs() []string {
	ids := make([]string, 0, len(v.Instances))
	for _, instance := range v.Instances {
		ids = append(ids, instance.InstanceID)
	}
	slices.Sort(ids)
	return ids
}
