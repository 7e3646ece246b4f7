package hrt

import "sync/atomic"

// watcherKind tags the sum type backing Watcher (REDESIGN FLAGS: a tagged
// sum replaces the original's inheritance chain of watcher subclasses).
type watcherKind int

const (
	kindImmediate watcherKind = iota
	kindIdle
	kindIO
	kindSubtask
	kindRemoval
)

// IOEvents is a bitmask of file-descriptor readiness conditions.
type IOEvents uint8

const (
	IOReadable IOEvents = 1 << iota
	IOWritable
	IOError
	IOHangup
)

func (e IOEvents) Has(f IOEvents) bool { return e&f != 0 }

// WatcherFunc runs on the owning Task's invoke goroutine, exactly once per
// firing, with at most one firing in flight per task at any time (spec.md
// §4.4/§4.5: per-task serialization via the invoker). For Idle and IO
// watchers, returning true re-arms the watcher for another firing;
// returning false removes it. Immediate and Subtask watchers fire exactly
// once regardless of the return value.
type WatcherFunc func(t *Task, events IOEvents) bool

// Watcher is the unit of scheduled work against a Task (spec.md §3, §4.2).
// Construct one via Task.AddImmediate/AddIdle/AddIO/AddSubtask.
type Watcher struct {
	kind watcherKind
	task *Task
	fn   WatcherFunc

	// onRemoved is the watcher's dnotify: fired exactly once, on an invoke
	// goroutine, once the watcher is conclusively removed.
	onRemoved func()

	removed atomic.Bool

	// io
	fd      int
	ioWant  IOEvents
	ioFired IOEvents

	// subtask
	waitFor *Task
	started atomic.Bool

	// removal marker: target is the real watcher this marker exists to
	// finalize. Markers are themselves never removed or notified.
	target *Watcher
}

// Task returns the watcher's owning task.
func (w *Watcher) Task() *Task { return w.task }

// SetOnRemoved attaches a one-shot callback run after the watcher is
// conclusively removed, on an invoke goroutine for this watcher's task.
func (w *Watcher) SetOnRemoved(f func()) { w.onRemoved = f }

// IsRemoved reports whether Remove has been called (idempotent check; does
// not imply onRemoved has fired yet).
func (w *Watcher) IsRemoved() bool { return w.removed.Load() }

// Remove requests the watcher stop firing. Idempotent: a second call is a
// no-op. The watcher's onRemoved callback, if any, fires exactly once on an
// invoke goroutine for this watcher's task, matching the original's
// "removed" pseudo-watcher semantics: removal itself is a scheduled event,
// serialized with the task's other watcher firings, not an inline action.
func (w *Watcher) Remove() {
	w.task.runner.removeWatcher(w)
}

// newWatcherBase increments the owning task's watcher count; every
// concrete watcher is constructed through one of the AddX helpers below,
// which call this first (mirrors _hrt_watcher_base_init).
func newWatcherBase(t *Task, kind watcherKind, fn WatcherFunc) *Watcher {
	if t.IsCompleted() {
		panic("hrt: cannot add a watcher to a completed task")
	}
	if t.runner == nil {
		panic("hrt: task has no runner")
	}
	t.argsFrozen.Store(true)
	t.watcherCount.Add(1)
	return &Watcher{kind: kind, task: t, fn: fn}
}

// AddImmediate schedules fn to run exactly once, as soon as an invoke
// goroutine is free to serve this task - no event-loop registration, no
// Remove() required (spec.md §4.2 Immediate watcher).
func (t *Task) AddImmediate(fn WatcherFunc) *Watcher {
	w := newWatcherBase(t, kindImmediate, fn)
	t.runner.watcherPending(t, w)
	return w
}

// AddIdle registers fn to run whenever the runner's event loop has no
// pending I/O to service. Returning true from fn keeps the watcher armed
// for the next idle opportunity.
func (t *Task) AddIdle(fn WatcherFunc) *Watcher {
	w := newWatcherBase(t, kindIdle, fn)
	if err := t.runner.loop.AddIdle(w); err != nil {
		t.runner.removeWatcher(w)
	}
	return w
}

// AddIO registers fn to run when fd becomes ready for any event in want.
// Returning true from fn keeps the watcher armed.
func (t *Task) AddIO(fd int, want IOEvents, fn WatcherFunc) *Watcher {
	w := newWatcherBase(t, kindIO, fn)
	w.fd = fd
	w.ioWant = want
	if err := t.runner.loop.AddIO(fd, want, w); err != nil {
		t.runner.removeWatcher(w)
	}
	return w
}

// AddSubtask registers fn to run exactly once, when waitFor completes.
// Firing happens on an invoke goroutine for t (the watcher's own task),
// never for waitFor, matching the original's cross-task notification
// marshaling. Panics if waitFor == t (a task cannot wait on itself).
func (t *Task) AddSubtask(waitFor *Task, fn WatcherFunc) *Watcher {
	if waitFor == t {
		panic(ErrSelfSubtask)
	}
	w := newWatcherBase(t, kindSubtask, fn)
	w.waitFor = waitFor
	waitFor.addCompletedNotify(w)
	return w
}

// subtaskNotify is called by waitFor once, when waitFor completes (from
// within waitFor's completion drain, with waitFor.mu released around the
// call - see Task.markCompleted). It queues this watcher onto ITS OWN task's invoker,
// guarded by started so a racing explicit Remove() cannot double-fire.
func (w *Watcher) subtaskNotify() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if w.removed.Load() {
		return
	}
	w.task.runner.watcherPending(w.task, w)
}
