// Package hio implements the output stream and output chain components
// built on hrt's task/watcher/buffer core (spec.md §3, §4.6).
package hio

import (
	"sync"
	"sync/atomic"

	"github.com/havocp/hwf-sub000/hrt"
)

// Stream is a single-destination, non-blocking fd writer fed by an
// in-order queue of locked hrt.Buffers (spec.md §4.6, §4.6.1). A Stream
// holds its owning Task's completion blocked from construction until it
// has delivered (or given up on, via Error) everything ever written to
// it - "done" - at which point it notifies exactly once.
type Stream struct {
	task *hrt.Task
	fd   atomic.Int32

	errored      atomic.Bool
	closed       atomic.Bool
	doneNotified atomic.Bool

	writeWatcherMu sync.Mutex
	writeWatcher   *hrt.Watcher

	buffersMu        sync.Mutex
	buffers          []*hrt.Buffer
	currentBuffer    *hrt.Buffer
	currentRemaining int
	queuedBytes      int

	doneMu   sync.Mutex
	doneFunc func()

	highWaterMu     sync.Mutex
	highWaterN      int
	highWaterCb     func()
	highWaterFired  bool
}

// NewStream constructs a Stream owned by task. The returned Stream
// immediately blocks task's completion (hrt.Task.BlockCompletion) until
// IsDone, matching the original's "every stream holds a completion-block
// on its owning task from construction".
func NewStream(task *hrt.Task) *Stream {
	s := &Stream{task: task}
	s.fd.Store(-1)
	task.BlockCompletion()
	return s
}

// Write enqueues a locked buffer for writing. Safe to call from any
// goroutine. Zero-length buffers are ignored; writes after Close or once
// the stream has errored are silently dropped, matching the original's
// write() contract.
func (s *Stream) Write(buf *hrt.Buffer) {
	if buf.Length() == 0 || s.closed.Load() {
		return
	}
	s.buffersMu.Lock()
	if s.errored.Load() {
		s.buffersMu.Unlock()
		return
	}
	buf.Ref()
	s.buffers = append(s.buffers, buf)
	s.queuedBytes += buf.WriteSize()
	s.buffersMu.Unlock()
	s.checkHighWater()
	s.checkWriteWatcher()
}

// SetFd attaches (or detaches, fd<0) the destination file descriptor. Safe
// to call from any goroutine, though only one logical controller (usually
// an owning Chain) should ever call it for a given Stream.
func (s *Stream) SetFd(fd int) {
	s.fd.Store(int32(fd))
	s.checkWriteWatcher()
}

// Fd returns the currently attached file descriptor, or -1.
func (s *Stream) Fd() int { return int(s.fd.Load()) }

// Close marks the stream as not accepting further writes. Idempotent.
// Already-queued buffers still drain normally; Close does not discard
// them - use Error for that.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.isDone() {
		s.task.AddImmediate(func(*hrt.Task, hrt.IOEvents) bool {
			s.notifyIfDone()
			return false
		})
	}
	s.checkWriteWatcher()
	return nil
}

// Error marks the stream as failed: closes it and discards any queued,
// unwritten buffers. Safe to call from any goroutine.
func (s *Stream) Error(err error) {
	if !s.errored.CompareAndSwap(false, true) {
		return
	}
	_ = s.Close()
	if !s.doneNotified.Load() {
		s.task.AddImmediate(func(*hrt.Task, hrt.IOEvents) bool {
			s.dropAllBuffers()
			return false
		})
	}
}

// IsErrored reports whether Error has been called.
func (s *Stream) IsErrored() bool { return s.errored.Load() }

// IsClosed reports whether Close has been called.
func (s *Stream) IsClosed() bool { return s.closed.Load() }

// IsDone reports whether the stream has finished delivering (or discarded)
// everything it will ever write: closed, with no current or queued
// buffer.
func (s *Stream) IsDone() bool { return s.isDone() }

func (s *Stream) isDone() bool {
	if !s.closed.Load() {
		return false
	}
	s.buffersMu.Lock()
	defer s.buffersMu.Unlock()
	return s.currentBuffer == nil && len(s.buffers) == 0
}

// SetDoneNotify registers fn to run exactly once, when IsDone becomes
// true. If the stream is already done, fn runs immediately (synchronously,
// from this call) instead of being stored - callers must use IsDone
// themselves beforehand if they need to distinguish the two cases.
// Replacing a previously-set, not-yet-fired fn runs the old one first.
func (s *Stream) SetDoneNotify(fn func()) {
	s.doneMu.Lock()
	if s.doneNotified.Load() {
		s.doneMu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	old := s.doneFunc
	s.doneFunc = fn
	s.doneMu.Unlock()
	if old != nil {
		old()
	}
}

func (s *Stream) notifyIfDone() {
	if !s.isDone() {
		return
	}
	if !s.doneNotified.CompareAndSwap(false, true) {
		return
	}
	s.task.UnblockCompletion()
	s.doneMu.Lock()
	fn := s.doneFunc
	s.doneFunc = nil
	s.doneMu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetHighWaterNotify arms a one-shot callback that fires once the stream's
// queued-but-unwritten byte total crosses n. A supplemental feature
// carried over from the original's queued_bytes counter, for callers
// wanting to apply producer-side backpressure.
func (s *Stream) SetHighWaterNotify(n int, cb func()) {
	s.highWaterMu.Lock()
	s.highWaterN = n
	s.highWaterCb = cb
	s.highWaterFired = false
	s.highWaterMu.Unlock()
}

func (s *Stream) checkHighWater() {
	s.highWaterMu.Lock()
	defer s.highWaterMu.Unlock()
	if s.highWaterCb == nil || s.highWaterFired {
		return
	}
	s.buffersMu.Lock()
	q := s.queuedBytes
	s.buffersMu.Unlock()
	if q >= s.highWaterN {
		s.highWaterFired = true
		cb := s.highWaterCb
		cb()
	}
}

// checkWriteWatcher installs or removes the stream's fd-write watcher
// based on (queue non-empty && fd >= 0 && !errored), locking
// writeWatcherMu then buffersMu, in that fixed order (spec.md §6.4's
// documented lock ordering).
func (s *Stream) checkWriteWatcher() {
	s.writeWatcherMu.Lock()
	defer s.writeWatcherMu.Unlock()
	s.buffersMu.Lock()
	nonEmpty := s.currentBuffer != nil || len(s.buffers) > 0
	s.buffersMu.Unlock()
	fd := int(s.fd.Load())
	want := nonEmpty && fd >= 0 && !s.errored.Load()
	switch {
	case want && s.writeWatcher == nil:
		s.writeWatcher = s.task.AddIO(fd, hrt.IOWritable, s.onReadyToWrite)
	case !want && s.writeWatcher != nil:
		s.writeWatcher.Remove()
		s.writeWatcher = nil
	}
}

// ensureCurrentBuffer advances past a fully-written current buffer (when
// advance is true) and, if there is no current buffer, promotes and locks
// the next queued one. If the stream has errored, it drops everything
// instead.
func (s *Stream) ensureCurrentBuffer(advance bool) {
	if s.errored.Load() {
		s.dropAllBuffers()
		return
	}
	s.buffersMu.Lock()
	if advance && s.currentBuffer != nil {
		s.queuedBytes -= s.currentBuffer.WriteSize()
		s.currentBuffer.Unref()
		s.currentBuffer = nil
	}
	if s.currentBuffer == nil && len(s.buffers) > 0 {
		nb := s.buffers[0]
		s.buffers = s.buffers[1:]
		nb.Lock()
		s.currentBuffer = nb
		s.currentRemaining = nb.WriteSize()
	}
	s.buffersMu.Unlock()
}

func (s *Stream) hasMoreQueuedAfterCurrent() bool {
	s.buffersMu.Lock()
	defer s.buffersMu.Unlock()
	return len(s.buffers) > 0
}

func (s *Stream) dropAllBuffers() {
	s.buffersMu.Lock()
	if s.currentBuffer != nil {
		s.currentBuffer.Unref()
		s.currentBuffer = nil
	}
	for _, b := range s.buffers {
		b.Unref()
	}
	s.buffers = nil
	s.queuedBytes = 0
	s.buffersMu.Unlock()
	s.checkWriteWatcher()
	s.notifyIfDone()
}

// onReadyToWrite is the stream's fd-write watcher callback. It always
// returns true: removal of the watcher itself is handled by
// checkWriteWatcher, not by returning false (spec.md §4.6.1).
func (s *Stream) onReadyToWrite(t *hrt.Task, events hrt.IOEvents) bool {
	s.ensureCurrentBuffer(false)
	s.buffersMu.Lock()
	cur := s.currentBuffer
	remaining := s.currentRemaining
	s.buffersMu.Unlock()
	if cur != nil {
		more := s.hasMoreQueuedAfterCurrent()
		ok, err := cur.Write(int(s.fd.Load()), &remaining, more)
		s.buffersMu.Lock()
		s.currentRemaining = remaining
		s.buffersMu.Unlock()
		if !ok {
			s.Error(err)
		} else if remaining == 0 {
			s.ensureCurrentBuffer(true)
		}
	}
	s.buffersMu.Lock()
	stillHave := s.currentBuffer != nil
	s.buffersMu.Unlock()
	if !stillHave {
		s.checkWriteWatcher()
	}
	s.notifyIfDone()
	return true
}
