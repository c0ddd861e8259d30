package viewstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSchedulerRunsTask(t *testing.T) {
	sched := NewTimerScheduler()
	defer sched.Close()

	ranCh := make(chan struct{})
	_, err := sched.Schedule(time.Millisecond, func() {
		close(ranCh)
	})
	require.NoError(t, err)

	select {
	case <-ranCh:
	case <-time.After(5 * time.Second):
		t.Fatalf("task never ran")
	}

	require.Eventually(t, func() bool {
		return sched.Pending() == 0
	}, time.Second, time.Millisecond)
}

func TestTimerSchedulerCancel(t *testing.T) {
	sched := NewTimerScheduler()
	defer sched.Close()

	ranCh := make(chan struct{}, 1)
	task, err := sched.Schedule(50*time.Millisecond, func() {
		ranCh <- struct{}{}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sched.Pending())

	task.Cancel()
	task.Cancel()
	assert.Equal(t, 0, sched.Pending())

	select {
	case <-ranCh:
		t.Fatalf("cancelled task ran")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerSchedulerClose(t *testing.T) {
	sched := NewTimerScheduler()

	ranCh := make(chan struct{}, 1)
	_, err := sched.Schedule(50*time.Millisecond, func() {
		ranCh <- struct{}{}
	})
	require.NoError(t, err)

	sched.Close()
	assert.Equal(t, 0, sched.Pending())

	_, err = sched.Schedule(time.Millisecond, func() {})
	require.ErrorIs(t, err, ErrSchedulerClosed)

	select {
	case <-ranCh:
		t.Fatalf("task ran after close")
	case <-time.After(100 * time.Millisecond):
	}
}
