package viewstate

import (
	"context"
	"errors"
	"time"

	"github.com/couchbase/stellar-discovery/topology"
)

func (s *ManagerTestSuite) TestNilConsistencyServiceIsInline() {
	m := s.newManager(&ManagerOptions{})
	m.Activate()
	s.Require().NoError(m.NewView(testView("1", "a")))

	s.Equal("1", m.Status().CurrentView.SyncToken)
}

func (s *ManagerTestSuite) TestInlineConsistencyCallback() {
	svc := &scriptedConsistency{inline: true}
	m := s.newManager(&ManagerOptions{ConsistencyService: svc})
	log := topology.NewEventLog(0)
	s.bind(m, log)
	m.Activate()

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.Require().NoError(m.NewView(testView("2", "a", "b")))

	s.quiesce(m)
	s.Equal(2, svc.count())
	s.Equal([]topology.EventType{
		topology.EventInit,
		topology.EventChanging,
		topology.EventChanged,
	}, log.Types())
}

func (s *ManagerTestSuite) TestDeferredConsistencyCallback() {
	svc := &scriptedConsistency{}
	m := s.newManager(&ManagerOptions{ConsistencyService: svc})
	log := topology.NewEventLog(0)
	s.bind(m, log)
	m.Activate()

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.quiesce(m)
	s.Empty(log.Events())
	s.Nil(m.Status().CurrentView)

	pending := svc.pending(0)
	s.Equal("1", pending.view.SyncToken)

	doneCh := make(chan struct{})
	go func() {
		pending.callback()
		close(doneCh)
	}()
	<-doneCh

	// a second invocation of the same callback is ignored
	pending.callback()

	s.quiesce(m)
	s.Equal([]topology.EventType{topology.EventInit}, log.Types())
	s.ErrorIs(pending.ctx.Err(), context.Canceled)
}

func (s *ManagerTestSuite) TestSupersededSyncIsDropped() {
	svc := &scriptedConsistency{}
	m := s.newManager(&ManagerOptions{ConsistencyService: svc})
	log := topology.NewEventLog(0)
	s.bind(m, log)
	m.Activate()

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.Require().NoError(m.NewView(testView("2", "a", "b")))
	s.Require().Equal(2, svc.count())

	first, second := svc.pending(0), svc.pending(1)
	s.ErrorIs(first.ctx.Err(), context.Canceled)
	s.NoError(second.ctx.Err())

	first.callback()
	s.quiesce(m)
	s.Empty(log.Events())

	second.callback()
	s.quiesce(m)
	s.Require().Equal([]topology.EventType{topology.EventInit}, log.Types())
	s.Equal("2", log.Events()[0].NewView.SyncToken)
}

func (s *ManagerTestSuite) TestConsistencyVeto() {
	svc := &scriptedConsistency{err: errors.New("persistence unavailable")}
	m := s.newManager(&ManagerOptions{ConsistencyService: svc})
	log := topology.NewEventLog(0)
	s.bind(m, log)
	m.Activate()

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.quiesce(m)
	s.Empty(log.Events())
	s.Nil(m.Status().CurrentView)

	svc.lock.Lock()
	svc.err = nil
	svc.inline = true
	svc.lock.Unlock()

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.quiesce(m)
	s.Equal([]topology.EventType{topology.EventInit}, log.Types())
}

func (s *ManagerTestSuite) TestConsistencyPanicIsVeto() {
	svc := &scriptedConsistency{panicWith: "sync exploded"}
	m := s.newManager(&ManagerOptions{ConsistencyService: svc})
	log := topology.NewEventLog(0)
	s.bind(m, log)
	m.Activate()

	s.Require().NoError(m.NewView(testView("1", "a")))

	// the lock must have been reacquired and released properly
	m.Changing()
	s.Equal(LifecycleActivated, m.Status().Lifecycle)

	s.quiesce(m)
	s.Empty(log.Events())
}

func (s *ManagerTestSuite) TestLockReleasedDuringSync() {
	svc := &blockingConsistency{enteredCh: make(chan *topology.View, 1)}
	m := s.newManager(&ManagerOptions{ConsistencyService: svc})
	log := topology.NewEventLog(0)
	m.Activate()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.NewView(testView("1", "a"))
	}()

	select {
	case view := <-svc.enteredCh:
		s.Equal("1", view.SyncToken)
	case <-time.After(5 * time.Second):
		s.FailNow("sync was never entered")
	}

	// none of these may block while the sync is waiting
	s.bind(m, log)
	m.Changing()
	s.Equal(1, m.Status().Listeners)
	m.Deactivate()

	select {
	case err := <-errCh:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("sync was not cancelled by deactivation")
	}

	s.quiesce(m)
	s.Empty(log.Events())
}
