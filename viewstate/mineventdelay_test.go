package viewstate

import (
	"time"

	"github.com/couchbase/stellar-discovery/topology"
)

func (s *ManagerTestSuite) newDelayedManager(delay time.Duration) (*Manager, *fakeScheduler, *topology.EventLog) {
	sched := &fakeScheduler{}
	m := s.newManager(&ManagerOptions{
		MinEventDelay: delay,
		Scheduler:     sched,
	})
	log := topology.NewEventLog(0)
	s.bind(m, log)
	m.Activate()
	return m, sched, log
}

func (s *ManagerTestSuite) TestDelayCoalescesBurst() {
	m, sched, log := s.newDelayedManager(3 * time.Second)

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.quiesce(m)
	s.Equal([]topology.EventType{topology.EventInit}, log.Types())
	s.Equal(0, sched.Armed())

	s.Require().NoError(m.NewView(testView("2", "a", "b")))
	s.quiesce(m)
	s.Equal([]topology.EventType{topology.EventInit, topology.EventChanging}, log.Types())
	s.True(m.Status().SettlePending)

	sched.Advance(time.Second)
	s.Require().NoError(m.NewView(testView("3", "a", "b", "c")))
	s.Equal(1, sched.Armed())

	sched.Advance(2900 * time.Millisecond)
	s.quiesce(m)
	s.Equal(2, log.Total())

	sched.Advance(100 * time.Millisecond)
	s.quiesce(m)
	s.Equal([]topology.EventType{
		topology.EventInit,
		topology.EventChanging,
		topology.EventChanged,
	}, log.Types())

	changed := log.Events()[2]
	s.Equal("1", changed.OldView.SyncToken)
	s.Equal("3", changed.NewView.SyncToken)
	s.False(m.Status().SettlePending)

	sched.Advance(10 * time.Second)
	s.quiesce(m)
	s.Equal(3, log.Total())
}

func (s *ManagerTestSuite) TestDelayAppliesToPropertiesChanged() {
	m, sched, log := s.newDelayedManager(time.Second)

	v1 := testView("1", "a")
	s.Require().NoError(m.NewView(v1))
	s.Require().NoError(m.NewView(withProperty(v1, "2", "a", "weight", "5")))
	s.quiesce(m)
	s.Equal(2, log.Total())

	sched.Advance(time.Second)
	s.quiesce(m)
	s.Equal(topology.EventPropertiesChanged, log.Types()[2])
}

func (s *ManagerTestSuite) TestDelayDisarmedByReturnToSettledView() {
	m, sched, log := s.newDelayedManager(time.Second)

	v1 := testView("1", "a")
	s.Require().NoError(m.NewView(v1))
	s.Require().NoError(m.NewView(testView("2", "a", "b")))
	s.Require().NoError(m.NewView(v1.Clone()))
	s.Equal(0, sched.Armed())

	sched.Advance(5 * time.Second)
	s.quiesce(m)
	s.Equal([]topology.EventType{topology.EventInit, topology.EventChanging}, log.Types())

	status := m.Status()
	s.True(status.ChangingSent)
	s.False(status.SettlePending)
	s.Equal("1", status.CurrentView.SyncToken)
}

func (s *ManagerTestSuite) TestDelayFailsOpen() {
	m, sched, log := s.newDelayedManager(time.Second)
	sched.err = ErrSchedulerClosed

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.Require().NoError(m.NewView(testView("2", "a", "b")))

	s.quiesce(m)
	s.Equal([]topology.EventType{
		topology.EventInit,
		topology.EventChanging,
		topology.EventChanged,
	}, log.Types())
}

func (s *ManagerTestSuite) TestDeactivateCancelsDelayedSettle() {
	m, sched, log := s.newDelayedManager(time.Second)

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.Require().NoError(m.NewView(testView("2", "a", "b")))
	m.Deactivate()
	s.Equal(0, sched.Armed())

	sched.Advance(time.Minute)
	s.quiesce(m)
	s.Equal(2, log.Total())
}

func (s *ManagerTestSuite) TestDisablingDelayFlushesSettle() {
	m, _, log := s.newDelayedManager(time.Hour)

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.Require().NoError(m.NewView(testView("2", "a", "b")))
	m.SetMinEventDelay(0)

	s.quiesce(m)
	s.Equal([]topology.EventType{
		topology.EventInit,
		topology.EventChanging,
		topology.EventChanged,
	}, log.Types())

	s.Require().NoError(m.NewView(testView("3", "a")))
	s.quiesce(m)
	s.Equal(5, log.Total())
}

func (s *ManagerTestSuite) TestDelayWithTimerScheduler() {
	const delay = 100 * time.Millisecond

	sched := NewTimerScheduler()
	defer sched.Close()

	m := s.newManager(&ManagerOptions{
		MinEventDelay: delay,
		Scheduler:     sched,
	})
	listener := newChannelListener()
	s.bind(m, listener)
	m.Activate()

	s.Require().NoError(m.NewView(testView("1", "a")))
	s.Require().NoError(m.NewView(testView("2", "a", "b")))
	time.Sleep(20 * time.Millisecond)
	lastReport := time.Now()
	s.Require().NoError(m.NewView(testView("3", "a", "b", "c")))

	var received []timedEvent
	for len(received) < 3 {
		select {
		case evt := <-listener.eventCh:
			received = append(received, evt)
		case <-time.After(5 * time.Second):
			s.FailNow("timed out waiting for events")
		}
	}

	s.Equal(topology.EventInit, received[0].evt.Type)
	s.Equal(topology.EventChanging, received[1].evt.Type)
	s.Equal(topology.EventChanged, received[2].evt.Type)
	s.Equal("3", received[2].evt.NewView.SyncToken)
	s.GreaterOrEqual(received[2].at.Sub(lastReport), delay)

	time.Sleep(2 * delay)
	s.quiesce(m)
	s.Empty(listener.eventCh)
	s.Equal(0, sched.Pending())
}
