package hio

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/havocp/hwf-sub000/hrt"
)

// newTestRunnerWithRealLoop builds a Runner on the real OS-poller EventLoop
// binding and drives it on a background goroutine for the lifetime of the
// test, since Stream's write-watcher path exercises an actual socket fd.
func newTestRunnerWithRealLoop(t *testing.T) *hrt.Runner {
	t.Helper()
	r, err := hrt.NewRunner()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = r.Close()
	})
	go func() { _ = r.Run(ctx) }()
	return r
}

func socketpair(t *testing.T) (writeFd int, readFile *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() { _ = unix.Close(fds[0]) })
	return fds[0], os.NewFile(uintptr(fds[1]), "hio-test-read")
}

func TestStream_WriteDeliversBytesAndCompletesOwningTask(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	writeFd, readFile := socketpair(t)
	defer readFile.Close()

	s := NewStream(task)
	s.SetFd(writeFd)

	buf := hrt.NewBuffer(hrt.EncodingUTF8, nil)
	buf.AppendASCII([]byte("hello, world"))
	buf.Lock()
	s.Write(buf)
	require.NoError(t, s.Close())

	got := make([]byte, len("hello, world"))
	readFile.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := io.ReadFull(readFile, got)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(got))

	require.Eventually(t, s.IsDone, time.Second, time.Millisecond)
	require.Eventually(t, task.IsCompleted, time.Second, time.Millisecond)
}

func TestStream_ZeroLengthWriteIgnored(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	s := NewStream(task)

	buf := hrt.NewBuffer(hrt.EncodingUTF8, nil)
	buf.Lock() // zero-length, locked, never appended to
	s.Write(buf)

	require.NoError(t, s.Close())
	require.Eventually(t, s.IsDone, time.Second, time.Millisecond)
	require.Eventually(t, task.IsCompleted, time.Second, time.Millisecond)
}

func TestStream_ErrorDropsQueuedBuffersAndNotifiesDone(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	s := NewStream(task)
	// no fd attached, so nothing ever actually drains: Error must still
	// force the stream done by discarding the queue.

	buf := hrt.NewBuffer(hrt.EncodingUTF8, nil)
	buf.AppendASCII([]byte("never sent"))
	buf.Lock()
	s.Write(buf)

	s.Error(assert.AnError)
	assert.True(t, s.IsErrored())
	assert.True(t, s.IsClosed())

	require.Eventually(t, s.IsDone, time.Second, time.Millisecond)
	require.Eventually(t, task.IsCompleted, time.Second, time.Millisecond)
}

func TestStream_SetDoneNotifyFiresImmediatelyWhenAlreadyDone(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	s := NewStream(task)
	require.NoError(t, s.Close())
	require.Eventually(t, s.IsDone, time.Second, time.Millisecond)

	fired := make(chan struct{}, 1)
	s.SetDoneNotify(func() { fired <- struct{}{} })
	select {
	case <-fired:
	default:
		t.Fatal("SetDoneNotify on an already-done stream should fire synchronously")
	}
}

func TestStream_SetDoneNotifyReplaceFiresOldFirst(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	s := NewStream(task)

	oldFired := make(chan struct{}, 1)
	newFired := make(chan struct{}, 1)
	s.SetDoneNotify(func() { oldFired <- struct{}{} })
	s.SetDoneNotify(func() { newFired <- struct{}{} })

	select {
	case <-oldFired:
	default:
		t.Fatal("replacing a not-yet-fired done-notify should run the old one first")
	}
	select {
	case <-newFired:
		t.Fatal("the new done-notify should not fire until the stream is actually done")
	default:
	}

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool {
		select {
		case <-newFired:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestStream_HighWaterNotifyFiresOnceOnCross(t *testing.T) {
	r := newTestRunnerWithRealLoop(t)
	task := r.NewTask("t1")
	s := NewStream(task)

	var fireCount int
	fired := make(chan struct{}, 1)
	s.SetHighWaterNotify(5, func() {
		fireCount++
		fired <- struct{}{}
	})

	buf := hrt.NewBuffer(hrt.EncodingUTF8, nil)
	buf.AppendASCII([]byte("0123456789"))
	buf.Lock()
	s.Write(buf)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("high water notify never fired")
	}

	buf2 := hrt.NewBuffer(hrt.EncodingUTF8, nil)
	buf2.AppendASCII([]byte("more"))
	buf2.Lock()
	s.Write(buf2)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fireCount)
}
