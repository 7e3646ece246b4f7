package hrt

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_IdleRestartKeepsFiring(t *testing.T) {
	r := newTestRunner(t)
	task := r.NewTask("t1")

	var count atomic.Int32
	task.AddIdle(func(t *Task, events IOEvents) bool {
		n := count.Add(1)
		return n < 3
	})

	go pump(r, 3000)
	require.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, time.Millisecond)
	// give the third (non-restarting) firing a chance to settle, then
	// confirm it never fires a fourth time.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), count.Load())
	require.Eventually(t, task.IsCompleted, 2*time.Second, time.Millisecond)
}

func TestWatcher_IdleNoRestartRemovesAfterOneFiring(t *testing.T) {
	r := newTestRunner(t)
	task := r.NewTask("t1")

	var count atomic.Int32
	task.AddIdle(func(t *Task, events IOEvents) bool {
		count.Add(1)
		return false
	})

	go pump(r, 2000)
	require.Eventually(t, task.IsCompleted, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestWatcher_RemoveIsIdempotentAndFiresOnRemovedOnce(t *testing.T) {
	r := newTestRunner(t)
	task := r.NewTask("t1")

	var removedCount atomic.Int32
	w := task.AddIdle(func(t *Task, events IOEvents) bool { return true })
	w.SetOnRemoved(func() { removedCount.Add(1) })

	go pump(r, 2000)

	w.Remove()
	w.Remove() // idempotent

	require.Eventually(t, func() bool { return removedCount.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), removedCount.Load())
	require.Eventually(t, task.IsCompleted, 2*time.Second, time.Millisecond)
}

func TestWatcher_AutomaticRemovalFiresOnRemoved(t *testing.T) {
	r := newTestRunner(t)
	task := r.NewTask("t1")

	removed := make(chan struct{}, 1)
	w := task.AddImmediate(func(t *Task, events IOEvents) bool { return false })
	w.SetOnRemoved(func() { removed <- struct{}{} })

	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("onRemoved never fired for an automatically-removed watcher")
	}
	assert.True(t, w.IsRemoved())
}
