package hio

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havocp/hwf-sub000/hrt"
)

func lockedUTF8(s string) *hrt.Buffer {
	b := hrt.NewBuffer(hrt.EncodingUTF8, nil)
	b.AppendASCII([]byte(s))
	b.Lock()
	return b
}

// onTaskThread runs fn on task's invoke goroutine and blocks until it
// returns, serializing it with the task's other watcher firings - the
// contract Chain's mutating methods require (chain.go's task-thread-only
// doc comment).
func onTaskThread(task *hrt.Task, fn func()) {
	done := make(chan struct{})
	task.AddImmediate(func(*hrt.Task, hrt.IOEvents) bool {
		fn()
		close(done)
		return false
	})
	<-done
}

func TestChain_StreamsDeliverInOrder(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	writeFd, readFile := socketpair(t)
	defer readFile.Close()

	c := NewChain(task)
	onTaskThread(task, func() { c.SetFd(writeFd) })

	s1 := NewStream(task)
	s1.Write(lockedUTF8("first-"))
	require.NoError(t, s1.Close())
	onTaskThread(task, func() { c.AddStream(s1) })

	s2 := NewStream(task)
	s2.Write(lockedUTF8("second"))
	require.NoError(t, s2.Close())
	onTaskThread(task, func() { c.AddStream(s2) })

	got := make([]byte, len("first-second"))
	readFile.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := io.ReadFull(readFile, got)
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(got))

	require.Eventually(t, task.IsCompleted, time.Second, time.Millisecond)
}

func TestChain_AddStreamAfterErroredShortCircuits(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	writeFd, readFile := socketpair(t)
	defer readFile.Close()
	// close the read side immediately so the first stream's write fails.
	require.NoError(t, readFile.Close())

	c := NewChain(task)
	onTaskThread(task, func() { c.SetFd(writeFd) })

	s1 := NewStream(task)
	s1.Write(lockedUTF8("doomed"))
	require.NoError(t, s1.Close())
	onTaskThread(task, func() { c.AddStream(s1) })

	require.Eventually(t, func() bool { return s1.IsErrored() }, time.Second, time.Millisecond)

	s2 := NewStream(task)
	onTaskThread(task, func() { c.AddStream(s2) })
	require.Eventually(t, s2.IsErrored, time.Second, time.Millisecond)
	require.Eventually(t, s2.IsDone, time.Second, time.Millisecond)
}

func TestChain_EmptyNotifyFiresOncePerEmptyTransition(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	writeFd, readFile := socketpair(t)
	defer readFile.Close()

	c := NewChain(task)
	onTaskThread(task, func() { c.SetFd(writeFd) })

	var emptyCount int
	notified := make(chan struct{}, 8)
	c.SetEmptyNotify(func() {
		emptyCount++
		notified <- struct{}{}
	})

	s1 := NewStream(task)
	s1.Write(lockedUTF8("x"))
	require.NoError(t, s1.Close())
	onTaskThread(task, func() { c.AddStream(s1) })

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("empty notify never fired for the first stream")
	}

	buf := make([]byte, 1)
	readFile.SetReadDeadline(time.Now().Add(time.Second))
	_, err := io.ReadFull(readFile, buf)
	require.NoError(t, err)

	s2 := NewStream(task)
	s2.Write(lockedUTF8("y"))
	require.NoError(t, s2.Close())
	onTaskThread(task, func() { c.AddStream(s2) })

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("empty notify never fired for the second stream")
	}
	_, err = io.ReadFull(readFile, buf)
	require.NoError(t, err)

	assert.Equal(t, 2, emptyCount)
	require.Eventually(t, task.IsCompleted, time.Second, time.Millisecond)
}

func TestChain_FdUnsetQueuesUntilAttached(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")

	c := NewChain(task)
	s1 := NewStream(task)
	s1.Write(lockedUTF8("queued"))
	require.NoError(t, s1.Close())
	onTaskThread(task, func() { c.AddStream(s1) })

	assert.Equal(t, -1, c.Fd())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, s1.IsDone())

	writeFd, readFile := socketpair(t)
	defer readFile.Close()
	onTaskThread(task, func() { c.SetFd(writeFd) })

	got := make([]byte, len("queued"))
	readFile.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := io.ReadFull(readFile, got)
	require.NoError(t, err)
	assert.Equal(t, "queued", string(got))
}
