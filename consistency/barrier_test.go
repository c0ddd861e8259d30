package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/viewstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testView(token string) *topology.View {
	return topology.NewView(token, &topology.InstanceDescription{
		InstanceID: "node-a",
		ClusterID:  "cluster-a",
		IsLeader:   true,
		IsLocal:    true,
	})
}

func startSync(svc viewstate.ConsistencyService, ctx context.Context, view *topology.View) (<-chan struct{}, <-chan error) {
	calledCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Sync(ctx, view, func() {
			calledCh <- struct{}{}
		})
	}()
	return calledCh, errCh
}

func waitWaiters(t *testing.T, b *Barrier, count int) {
	require.Eventually(t, func() bool {
		return len(b.Waiters()) == count
	}, 5*time.Second, time.Millisecond)
}

func TestImmediate(t *testing.T) {
	called := false
	err := Immediate{}.Sync(context.Background(), testView("1"), func() {
		called = true
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestBarrierSignal(t *testing.T) {
	b := NewBarrier(zap.NewNop())

	firstCalledCh, firstErrCh := startSync(b, context.Background(), testView("1"))
	waitWaiters(t, b, 1)
	secondCalledCh, secondErrCh := startSync(b, context.Background(), testView("2"))
	waitWaiters(t, b, 2)

	assert.False(t, b.Signal("missing"))
	assert.True(t, b.Signal("2"))

	<-secondCalledCh
	require.NoError(t, <-secondErrCh)
	assert.Len(t, firstCalledCh, 0)

	assert.True(t, b.SignalAny())
	<-firstCalledCh
	require.NoError(t, <-firstErrCh)

	assert.False(t, b.SignalAny())
}

func TestBarrierSignalAll(t *testing.T) {
	b := NewBarrier(nil)

	var calledChs []<-chan struct{}
	for i, token := range []string{"1", "2", "3"} {
		calledCh, _ := startSync(b, context.Background(), testView(token))
		calledChs = append(calledChs, calledCh)
		waitWaiters(t, b, i+1)
	}

	assert.Equal(t, 3, b.SignalAll())
	for _, calledCh := range calledChs {
		<-calledCh
	}
	assert.Empty(t, b.Waiters())
}

func TestBarrierCancel(t *testing.T) {
	b := NewBarrier(nil)

	ctx, cancel := context.WithCancel(context.Background())
	calledCh, errCh := startSync(b, ctx, testView("1"))
	waitWaiters(t, b, 1)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Len(t, calledCh, 0)
	assert.Empty(t, b.Waiters())
}

func TestBarrierWatch(t *testing.T) {
	b := NewBarrier(nil)

	startSync(b, context.Background(), testView("1"))
	waitWaiters(t, b, 1)

	ctx, cancel := context.WithCancel(context.Background())
	watchCh := b.Watch(ctx)

	first := <-watchCh
	assert.Equal(t, "1", first.SyncToken)

	startSync(b, context.Background(), testView("2"))
	second := <-watchCh
	assert.Equal(t, "2", second.SyncToken)
	assert.Equal(t, "node-a", second.View.LocalInstance().InstanceID)

	cancel()
	for range watchCh {
	}

	assert.Equal(t, 2, b.SignalAll())
}

func TestBarrierGatesManager(t *testing.T) {
	b := NewBarrier(nil)
	m := viewstate.NewManager(&viewstate.ManagerOptions{
		ConsistencyService: b,
	})
	log := topology.NewEventLog(0)
	_, err := m.Bind(log)
	require.NoError(t, err)
	m.Activate()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.NewView(testView("1"))
	}()

	waitWaiters(t, b, 1)
	assert.Nil(t, m.Status().CurrentView)

	assert.True(t, b.Signal("1"))
	require.NoError(t, <-errCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitForQuiescence(ctx))

	assert.Equal(t, []topology.EventType{topology.EventInit}, log.Types())
}

func TestBarrierSignalFromWatchConsumer(t *testing.T) {
	b := NewBarrier(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchCh := b.Watch(ctx)

	var calledChs []<-chan struct{}
	for _, token := range []string{"1", "2", "3"} {
		calledCh, _ := startSync(b, context.Background(), testView(token))
		calledChs = append(calledChs, calledCh)
	}
	waitWaiters(t, b, 3)

	// the consumer releases each waiter before it reads the next one, while
	// the remaining syncs are queued behind it.
	released := make(map[string]bool)
	for len(released) < 3 {
		select {
		case waiter := <-watchCh:
			signalledCh := make(chan bool, 1)
			go func() {
				signalledCh <- b.Signal(waiter.SyncToken)
			}()

			select {
			case ok := <-signalledCh:
				assert.True(t, ok)
			case <-time.After(5 * time.Second):
				t.Fatalf("signal blocked while the watch consumer was busy")
			}
			released[waiter.SyncToken] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for watched waiters")
		}
	}

	for _, calledCh := range calledChs {
		<-calledCh
	}
	assert.Empty(t, b.Waiters())
}
