package hrt

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// getGoroutineID returns the current goroutine's ID, parsed out of
// runtime.Stack. Used only for the debug-only "am I on this task's
// invoking goroutine" assertion backing thread-local access - not worth a
// dedicated goroutine-ID dependency for a single debug check (see
// DESIGN.md), so this is hand-rolled the way eventloop.getGoroutineID does
// it.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

type taskArg struct {
	name  string
	value Value
}

type threadLocalEntry struct {
	value   any
	destroy func(any)
}

// Task is the unit of completion this package schedules watchers against
// (spec.md §3, §4.4). A Task carries append-only, name-keyed arguments, a
// write-once result, and completes exactly once - when it has no invoker
// draining it and no live watchers - on the runner thread.
type Task struct {
	label  string
	runner *Runner

	argsMu     sync.Mutex
	args       []taskArg
	argsFrozen atomic.Bool

	resultMu  sync.Mutex
	result    Value
	resultSet atomic.Bool

	watcherCount atomic.Int32

	// mu guards invoker (existence of a draining invoker for this task)
	// and completedNotifiees together, deliberately reusing one lock for
	// both the way the original "abuses" its invoker lock for the
	// completion-notify list: both must be consistent with watcherCount
	// at the moment a task is declared completed.
	mu                 sync.Mutex
	invoker            *invoker
	completedNotifiees []*Watcher

	completed atomic.Bool

	invokeGoroutine atomic.Uint64 // 0 when not currently being invoked

	tlMu          sync.Mutex
	threadLocal   map[any]threadLocalEntry
}

// NewTask creates a task owned by runner, identified by label (used only
// for logging/diagnostics, e.g. in ArgError messages).
func NewTask(runner *Runner, label string) *Task {
	return &Task{label: label, runner: runner}
}

// Label returns the task's diagnostic label.
func (t *Task) Label() string { return t.label }

// AddArg appends a named argument. Arguments are append-only: once the
// task has any watchers (has had AddImmediate/AddIdle/AddIO/AddSubtask
// called), arguments are frozen and AddArg returns ErrTaskHasWatchers.
// Returns ErrDuplicateArg if name is already present.
func (t *Task) AddArg(name string, v Value) error {
	if t.argsFrozen.Load() || t.watcherCount.Load() != 0 {
		t.argsFrozen.Store(true)
		return ErrTaskHasWatchers
	}
	t.argsMu.Lock()
	defer t.argsMu.Unlock()
	for _, a := range t.args {
		if a.name == name {
			return ErrDuplicateArg
		}
	}
	t.args = append(t.args, taskArg{name: name, value: v})
	return nil
}

// Arg looks up a named argument, returning an *ArgError distinguishing
// not-found from wrong-kind (spec.md §4.7).
func (t *Task) Arg(name string, want ValueKind) (Value, error) {
	t.argsMu.Lock()
	defer t.argsMu.Unlock()
	for _, a := range t.args {
		if a.name == name {
			if a.value.Kind() != want {
				return Value{}, &ArgError{Name: name, WantKind: want, HaveKind: a.value.Kind(), TaskLabel: t.label}
			}
			return a.value, nil
		}
	}
	return Value{}, &ArgError{Name: name, NotFound: true, WantKind: want, TaskLabel: t.label}
}

// SetResult sets the task's write-once result. Returns ErrResultAlreadySet
// on a second call.
func (t *Task) SetResult(v Value) error {
	t.resultMu.Lock()
	defer t.resultMu.Unlock()
	if t.resultSet.Load() {
		return ErrResultAlreadySet
	}
	t.result = v
	t.resultSet.Store(true)
	return nil
}

// Result reads the task's result, returning a *ResultError distinguishing
// not-yet-set from wrong-kind.
func (t *Task) Result(want ValueKind) (Value, error) {
	t.resultMu.Lock()
	defer t.resultMu.Unlock()
	if !t.resultSet.Load() {
		return Value{}, &ResultError{NotSet: true, WantKind: want}
	}
	if t.result.Kind() != want {
		return Value{}, &ResultError{WantKind: want, HaveKind: t.result.Kind()}
	}
	return t.result, nil
}

// IsCompleted reports whether the task has completed.
func (t *Task) IsCompleted() bool { return t.completed.Load() }

// BlockCompletion prevents the task from completing even once it has no
// real watchers, until a matching UnblockCompletion call. Implemented as a
// "fake" watcher against the same watcherCount real watchers use, matching
// the original's block_completion/unblock_completion pair.
func (t *Task) BlockCompletion() {
	t.watcherCount.Add(1)
}

// UnblockCompletion reverses one BlockCompletion call. If this was the last
// outstanding block and the task has no invoker and no real watchers, the
// task is queued for completion.
func (t *Task) UnblockCompletion() {
	if t.watcherCount.Add(-1) != 0 {
		return
	}
	t.mu.Lock()
	if t.invoker != nil {
		t.mu.Unlock()
		return
	}
	t.runner.queueCompletedTaskLocked(t)
	t.mu.Unlock()
}

// addCompletedNotify registers w to be notified once t completes. If t has
// already completed, w is notified immediately (still via the runner, to
// preserve "fires on an invoke goroutine for w's own task").
func (t *Task) addCompletedNotify(w *Watcher) {
	t.mu.Lock()
	if t.completed.Load() {
		t.mu.Unlock()
		w.subtaskNotify()
		return
	}
	t.completedNotifiees = append(t.completedNotifiees, w)
	t.mu.Unlock()
}

// markCompleted transitions the task to completed. Callers (Runner only)
// must hold no lock on t. Panics if invariants are violated (invoker still
// present, or real+fake watchers still outstanding) - this would indicate
// a scheduling bug, not a recoverable condition.
func (t *Task) markCompleted() {
	t.mu.Lock()
	if t.invoker != nil || t.watcherCount.Load() != 0 {
		t.mu.Unlock()
		panic("hrt: markCompleted called with an active invoker or outstanding watchers")
	}
	if !t.completed.CompareAndSwap(false, true) {
		t.mu.Unlock()
		return
	}
	for len(t.completedNotifiees) > 0 {
		w := t.completedNotifiees[0]
		t.completedNotifiees = t.completedNotifiees[1:]
		t.mu.Unlock()
		w.subtaskNotify()
		t.mu.Lock()
	}
	t.mu.Unlock()
	t.teardownThreadLocal()
}

// enterInvoke marks this goroutine as the one currently invoking t,
// enabling ThreadLocal access for the duration of the callback.
func (t *Task) enterInvoke() {
	t.invokeGoroutine.Store(getGoroutineID())
}

// leaveInvoke clears the invoking-goroutine marker.
func (t *Task) leaveInvoke() {
	t.invokeGoroutine.Store(0)
}

func (t *Task) onInvokeGoroutine() bool {
	id := t.invokeGoroutine.Load()
	return id != 0 && id == getGoroutineID()
}

// SetThreadLocal stores value under key, valid only while this goroutine is
// invoking a watcher for t (i.e. from within a WatcherFunc). If a previous
// value is present for key, its destroy function (if any) runs first. This
// is a supplemental feature carried over from the original's per-task
// thread-local slot, which also ran a destroy-notify on overwrite and on
// task teardown, not only at process exit.
func (t *Task) SetThreadLocal(key, value any, destroy func(any)) {
	if !t.onInvokeGoroutine() {
		panic("hrt: SetThreadLocal called off the task's invoking goroutine")
	}
	t.tlMu.Lock()
	defer t.tlMu.Unlock()
	if t.threadLocal == nil {
		t.threadLocal = make(map[any]threadLocalEntry)
	}
	if prev, ok := t.threadLocal[key]; ok && prev.destroy != nil {
		prev.destroy(prev.value)
	}
	t.threadLocal[key] = threadLocalEntry{value: value, destroy: destroy}
}

// ThreadLocal retrieves a value set by SetThreadLocal. Valid only while
// this goroutine is invoking a watcher for t.
func (t *Task) ThreadLocal(key any) (any, bool) {
	if !t.onInvokeGoroutine() {
		panic("hrt: ThreadLocal called off the task's invoking goroutine")
	}
	t.tlMu.Lock()
	defer t.tlMu.Unlock()
	e, ok := t.threadLocal[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (t *Task) teardownThreadLocal() {
	t.tlMu.Lock()
	entries := t.threadLocal
	t.threadLocal = nil
	t.tlMu.Unlock()
	for _, e := range entries {
		if e.destroy != nil {
			e.destroy(e.value)
		}
	}
}
