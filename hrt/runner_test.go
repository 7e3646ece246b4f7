package hrt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_ExactlyOneInvokeGoroutinePerTaskAtATime(t *testing.T) {
	r := newTestRunner(t)
	task := r.NewTask("t1")

	const n = 20
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		task.AddImmediate(func(t *Task, events IOEvents) bool {
			cur := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if cur <= m || maxInFlight.CompareAndSwap(m, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			wg.Done()
			return false
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all watchers fired")
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
	pump(r, 100)
	assert.True(t, task.IsCompleted())
}

func TestRunner_PostRunsOnRunnerThread(t *testing.T) {
	r := newTestRunner(t)

	done := make(chan struct{})
	r.Post(func() { close(done) })

	go pump(r, 2000)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post callback never ran")
	}
}

func TestRunner_PopCompletedAndCallback(t *testing.T) {
	var viaCallback []*Task
	var mu sync.Mutex

	var rr *Runner
	loop := NewInlineEventLoop(func(w *Watcher, events IOEvents) { rr.dispatch(w, events) })
	rr, err := NewRunner(WithEventLoop(loop), WithCompletedCallback(func(t *Task) {
		mu.Lock()
		viaCallback = append(viaCallback, t)
		mu.Unlock()
	}))
	require.NoError(t, err)

	task := rr.NewTask("t1")
	task.AddImmediate(func(t *Task, events IOEvents) bool { return false })

	pump(rr, 100)
	require.True(t, task.IsCompleted())

	popped := rr.PopCompleted()
	require.Len(t, popped, 1)
	assert.Same(t, task, popped[0])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, viaCallback, 1)
	assert.Same(t, task, viaCallback[0])
}
