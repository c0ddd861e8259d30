package viewstate

import (
	"context"
	"sync"
	"time"

	"github.com/couchbase/stellar-discovery/topology"
)

// testView builds a view of a single cluster, the first id is the leader and
// the local instance.
func testView(token string, ids ...string) *topology.View {
	var instances []*topology.InstanceDescription
	for i, id := range ids {
		instances = append(instances, &topology.InstanceDescription{
			InstanceID: id,
			ClusterID:  "cluster-a",
			IsLeader:   i == 0,
			IsLocal:    i == 0,
			Properties: map[string]string{"endpoint": id + ":18098"},
		})
	}
	return topology.NewView(token, instances...)
}

func withProperty(v *topology.View, token, instanceID, key, value string) *topology.View {
	updated := v.Clone()
	updated.SyncToken = token
	updated.Instance(instanceID).Properties[key] = value
	return updated
}

type fakeScheduler struct {
	lock  sync.Mutex
	now   time.Duration
	tasks []*fakeTask
	err   error
}

type fakeTask struct {
	owner     *fakeScheduler
	due       time.Duration
	task      func()
	cancelled bool
	fired     bool
}

func (s *fakeScheduler) Schedule(delay time.Duration, task func()) (ScheduledTask, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	t := &fakeTask{owner: s, due: s.now + delay, task: task}
	s.tasks = append(s.tasks, t)
	return t, nil
}

// Advance moves the clock forward, running every task which became due.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.lock.Lock()
	s.now += d
	var due []*fakeTask
	for _, t := range s.tasks {
		if !t.cancelled && !t.fired && t.due <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.lock.Unlock()

	for _, t := range due {
		t.task()
	}
}

func (s *fakeScheduler) Armed() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	armed := 0
	for _, t := range s.tasks {
		if !t.cancelled && !t.fired {
			armed++
		}
	}
	return armed
}

func (t *fakeTask) Cancel() {
	t.owner.lock.Lock()
	t.cancelled = true
	t.owner.lock.Unlock()
}

type pendingSync struct {
	ctx      context.Context
	view     *topology.View
	callback func()
}

// scriptedConsistency records every sync.  Depending on its settings it calls
// back inline, fails, panics or leaves the callback to the test.
type scriptedConsistency struct {
	lock      sync.Mutex
	syncs     []*pendingSync
	inline    bool
	err       error
	panicWith any
}

func (c *scriptedConsistency) Sync(ctx context.Context, view *topology.View, callback func()) error {
	c.lock.Lock()
	c.syncs = append(c.syncs, &pendingSync{ctx: ctx, view: view, callback: callback})
	inline, err, panicWith := c.inline, c.err, c.panicWith
	c.lock.Unlock()

	if panicWith != nil {
		panic(panicWith)
	}
	if err != nil {
		return err
	}
	if inline {
		callback()
	}
	return nil
}

func (c *scriptedConsistency) pending(idx int) *pendingSync {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.syncs[idx]
}

func (c *scriptedConsistency) count() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.syncs)
}

// blockingConsistency holds every sync until its context is cancelled.
type blockingConsistency struct {
	enteredCh chan *topology.View
}

func (c *blockingConsistency) Sync(ctx context.Context, view *topology.View, callback func()) error {
	c.enteredCh <- view
	<-ctx.Done()
	return ctx.Err()
}

type timedEvent struct {
	evt *topology.Event
	at  time.Time
}

// channelListener forwards every event it receives to a channel.
type channelListener struct {
	eventCh chan timedEvent
}

func newChannelListener() *channelListener {
	return &channelListener{eventCh: make(chan timedEvent, 64)}
}

func (l *channelListener) HandleTopologyEvent(evt *topology.Event) {
	l.eventCh <- timedEvent{evt: evt, at: time.Now()}
}

type panickingListener struct{}

func (l *panickingListener) HandleTopologyEvent(evt *topology.Event) {
	panic("listener failure")
}
