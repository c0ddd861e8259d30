package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/couchbase/stellar-discovery/contrib/goclustering"
	"github.com/couchbase/stellar-discovery/pkg/metrics"
	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/viewstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testNode struct {
	driver  *Driver
	manager *viewstate.Manager
	log     *topology.EventLog
}

func startTestNode(t *testing.T, provider goclustering.Provider, memberID, electionID string) *testNode {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	manager := viewstate.NewManager(&viewstate.ManagerOptions{
		Logger: logger.Named("viewstate"),
	})
	log := topology.NewEventLog(0)
	_, err = manager.Bind(log)
	require.NoError(t, err)
	manager.Activate()

	driver, err := NewDriver(context.Background(), &DriverOptions{
		Logger:     logger.Named("driver"),
		Provider:   provider,
		Reporter:   manager,
		MemberID:   memberID,
		ClusterID:  "cluster-a",
		ElectionID: electionID,
		Properties: map[string]string{"endpoint": memberID + ":18098"},
	})
	require.NoError(t, err)

	return &testNode{
		driver:  driver,
		manager: manager,
		log:     log,
	}
}

func (n *testNode) waitForView(t *testing.T, check func(view *topology.View) bool) {
	require.Eventually(t, func() bool {
		view := n.manager.Status().CurrentView
		return view != nil && check(view)
	}, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.manager.WaitForQuiescence(ctx))
}

func hasInstances(ids ...string) func(view *topology.View) bool {
	return func(view *topology.View) bool {
		return assert.ObjectsAreEqual(ids, view.InstanceIDs())
	}
}

func TestDriverReportsMembership(t *testing.T) {
	provider, err := goclustering.NewInProcProvider(goclustering.InProcProviderOptions{})
	require.NoError(t, err)

	nodeA := startTestNode(t, provider, "node-a", "001")
	nodeA.waitForView(t, hasInstances("node-a"))

	assert.Equal(t, []topology.EventType{topology.EventInit}, nodeA.log.Types())
	initView := nodeA.log.Events()[0].NewView
	assert.True(t, initView.Instance("node-a").IsLeader)
	assert.True(t, initView.Instance("node-a").IsLocal)

	nodeB := startTestNode(t, provider, "node-b", "002")
	nodeA.waitForView(t, hasInstances("node-a", "node-b"))
	nodeB.waitForView(t, hasInstances("node-a", "node-b"))

	assert.Equal(t, []topology.EventType{
		topology.EventInit,
		topology.EventChanging,
		topology.EventChanged,
	}, nodeA.log.Types())

	viewB := nodeB.manager.Status().CurrentView
	assert.True(t, viewB.Instance("node-a").IsLeader)
	assert.False(t, viewB.Instance("node-b").IsLeader)
	assert.True(t, viewB.Instance("node-b").IsLocal)
	assert.False(t, viewB.Instance("node-a").IsLocal)

	require.NoError(t, nodeB.driver.SetProperties(context.Background(), map[string]string{
		"endpoint": "node-b:28098",
	}))
	nodeA.waitForView(t, func(view *topology.View) bool {
		return view.Instance("node-b").Properties["endpoint"] == "node-b:28098"
	})

	types := nodeA.log.Types()
	assert.Equal(t, topology.EventPropertiesChanged, types[len(types)-1])

	require.NoError(t, nodeA.driver.Close(context.Background()))
	nodeB.waitForView(t, hasInstances("node-b"))

	viewB = nodeB.manager.Status().CurrentView
	assert.True(t, viewB.Instance("node-b").IsLeader)

	types = nodeB.log.Types()
	assert.Equal(t, topology.EventChanged, types[len(types)-1])

	require.NoError(t, nodeB.driver.Close(context.Background()))
	require.ErrorIs(t, nodeB.driver.SetProperties(context.Background(), nil), goclustering.ErrAlreadyLeft)
}

type recordingReporter struct {
	changing int
	views    []*topology.View
}

func (r *recordingReporter) Changing() {
	r.changing++
}

func (r *recordingReporter) NewView(view *topology.View) error {
	r.views = append(r.views, view)
	return nil
}

func TestDriverDropsOutOfDateSnapshots(t *testing.T) {
	reporter := &recordingReporter{}
	d := &Driver{
		logger:   zap.NewNop(),
		reporter: reporter,
		metrics:  metrics.GetDiscoveryMetrics(),
		memberID: "node-a",
		ctx:      context.Background(),
	}

	members := []*Member{{MemberID: "node-a", ClusterID: "c"}}
	grown := []*Member{{MemberID: "node-a", ClusterID: "c"}, {MemberID: "node-b", ClusterID: "c"}}

	d.handleSnapshot(&Snapshot{Revision: []uint64{5}, Members: members})
	d.handleSnapshot(&Snapshot{Revision: []uint64{4}, Members: grown})
	d.handleSnapshot(&Snapshot{Revision: []uint64{5}, Members: members})
	d.handleSnapshot(&Snapshot{Revision: []uint64{6}, Members: grown})

	require.Len(t, reporter.views, 3)
	assert.Equal(t, "5", reporter.views[0].SyncToken)
	assert.Equal(t, "5", reporter.views[1].SyncToken)
	assert.Equal(t, "6", reporter.views[2].SyncToken)
	assert.Equal(t, 1, reporter.changing)
}
