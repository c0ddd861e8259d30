package asyncsender

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	lock   sync.Mutex
	events map[string][]int
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]int)}
}

func (r *recorder) record(target string, event int) {
	r.lock.Lock()
	r.events[target] = append(r.events[target], event)
	r.lock.Unlock()
}

func (r *recorder) get(target string) []int {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]int, len(r.events[target]))
	copy(out, r.events[target])
	return out
}

func waitIdle(t *testing.T, s *Sender[string, int]) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.WaitIdle(ctx))
}

func TestSenderOrdering(t *testing.T) {
	rec := newRecorder()
	s := NewSender(Options[string, int]{
		Deliver: rec.record,
	})

	for i := 0; i < 1000; i++ {
		s.Send("a", i)
		s.Send("b", i)
	}

	waitIdle(t, s)

	for _, target := range []string{"a", "b"} {
		events := rec.get(target)
		require.Len(t, events, 1000)
		for i, evt := range events {
			require.Equal(t, i, evt, "target %s delivered out of order", target)
		}
	}

	assert.False(t, s.HasInFlight())
}

func TestSenderSingleFlightPerTarget(t *testing.T) {
	var lock sync.Mutex
	active := 0
	maxActive := 0

	s := NewSender(Options[string, int]{
		Deliver: func(target string, event int) {
			lock.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			lock.Unlock()

			time.Sleep(100 * time.Microsecond)

			lock.Lock()
			active--
			lock.Unlock()
		},
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s.Send("only", i)
			}
		}()
	}
	wg.Wait()

	waitIdle(t, s)

	assert.Equal(t, 1, maxActive)
}

func TestSenderDoesNotBlockCaller(t *testing.T) {
	releaseCh := make(chan struct{})
	s := NewSender(Options[string, int]{
		Deliver: func(target string, event int) {
			<-releaseCh
		},
	})

	sentCh := make(chan struct{})
	go func() {
		s.Send("a", 1)
		s.Send("a", 2)
		close(sentCh)
	}()

	select {
	case <-sentCh:
	case <-time.After(time.Second):
		t.Fatalf("send blocked on delivery")
	}

	assert.True(t, s.HasInFlight())
	assert.Equal(t, 2, s.InFlight())

	close(releaseCh)
	waitIdle(t, s)
	assert.Equal(t, 0, s.InFlight())
}

func TestSenderPanicIsolation(t *testing.T) {
	rec := newRecorder()

	var lock sync.Mutex
	var failures []int

	s := NewSender(Options[string, int]{
		Deliver: func(target string, event int) {
			if target == "bad" && event == 1 {
				panic("listener exploded")
			}
			rec.record(target, event)
		},
		OnDelivered: func(target string, event int, err error) {
			if err != nil {
				lock.Lock()
				failures = append(failures, event)
				lock.Unlock()
			}
		},
	})

	for i := 0; i < 3; i++ {
		s.Send("bad", i)
		s.Send("good", i)
	}

	waitIdle(t, s)

	assert.Equal(t, []int{0, 2}, rec.get("bad"))
	assert.Equal(t, []int{0, 1, 2}, rec.get("good"))

	lock.Lock()
	assert.Equal(t, []int{1}, failures)
	lock.Unlock()
}

func TestSenderWaitIdleContext(t *testing.T) {
	releaseCh := make(chan struct{})
	s := NewSender(Options[string, int]{
		Deliver: func(target string, event int) {
			<-releaseCh
		},
	})

	s.Send("a", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.WaitIdle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(releaseCh)
	waitIdle(t, s)
}
