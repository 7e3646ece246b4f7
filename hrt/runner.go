package hrt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner is the task runner (spec.md §3, §4.5): it owns the event loop, a
// bounded pool of invoke goroutines draining per-task invokers, and the
// completed-task queue. Run is the runner thread - the one goroutine
// responsible for polling the event loop, running Post callbacks, and
// finalizing completed tasks.
type Runner struct {
	loop     EventLoop
	logger   Logger
	throttle *RateLimiter

	eg *errgroup.Group

	completedMu sync.Mutex
	completed   []*Task
	onCompleted func(*Task)

	completedOutMu sync.Mutex
	completedOut   []*Task

	postMu sync.Mutex
	post   []func()

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRunner constructs a Runner. With no WithEventLoop option, it builds
// the OS-poller EventLoop binding (NewPollEventLoop).
func NewRunner(opts ...RunnerOption) (*Runner, error) {
	cfg, err := resolveRunnerOptions(opts)
	if err != nil {
		return nil, err
	}
	r := &Runner{logger: cfg.logger, throttle: cfg.throttle, onCompleted: cfg.onCompleted}
	if r.logger == nil {
		r.logger = NopLogger{}
	}
	loop := cfg.loop
	if loop == nil {
		l, err := NewPollEventLoop(r.dispatch)
		if err != nil {
			return nil, err
		}
		loop = l
	}
	r.loop = loop
	eg, _ := errgroup.WithContext(context.Background())
	eg.SetLimit(cfg.invokeThreads)
	r.eg = eg
	return r, nil
}

// NewTask constructs a task owned by this runner.
func (r *Runner) NewTask(label string) *Task { return NewTask(r, label) }

// Post schedules fn to run on the runner thread (Run's goroutine), the
// Go-idiomatic stand-in for the original's runner_context idle source
// used for more than just completions (spec.md §8 scenario S6).
func (r *Runner) Post(fn func()) {
	r.postMu.Lock()
	r.post = append(r.post, fn)
	r.postMu.Unlock()
	r.loop.Wake()
}

func (r *Runner) drainPost() {
	r.postMu.Lock()
	batch := r.post
	r.post = nil
	r.postMu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

// dispatch is the EventLoop's callback into the runner: it hands a ready
// watcher to watcherPending, recording IO readiness on the watcher first.
// For an IO watcher this first disarms the OS-level registration (spec.md
// §4.2 firing protocol step 1), since epoll/kqueue are level-triggered here
// - leaving a writable/readable fd armed would re-dispatch it on every
// subsequent RunOnce before invokeOne ever decides whether to re-arm it.
func (r *Runner) dispatch(w *Watcher, events IOEvents) {
	w.ioFired = events
	if w.kind == kindIO {
		_ = r.loop.RemoveIO(w.fd)
	}
	r.watcherPending(w.task, w)
}

// watcherPending is the dispatch algorithm from spec.md §4.5.1: lock t's
// lock; if t has no invoker, create one seeded with w and submit it to the
// invoke pool; otherwise queue w onto the existing invoker.
func (r *Runner) watcherPending(t *Task, w *Watcher) {
	t.mu.Lock()
	if t.invoker == nil {
		inv := newInvoker(t, w)
		t.invoker = inv
		t.mu.Unlock()
		r.submitInvoker(inv)
		return
	}
	t.invoker.queueWatcher(w)
	t.mu.Unlock()
}

func (r *Runner) submitInvoker(inv *invoker) {
	r.eg.Go(func() error {
		r.runInvoker(inv)
		return nil
	})
}

// runInvoker drains inv's FIFO, one watcher firing at a time, on this
// goroutine - the exactly-one-invoke-thread-per-task invariant (spec.md
// §4.5.1). After the FIFO empties, it re-checks under t.mu whether more
// watchers arrived concurrently (redrain) before clearing t.invoker;
// completion is queued while still holding t.mu, avoiding the lost-
// completion race a naive unlock-then-check would have.
func (r *Runner) runInvoker(inv *invoker) {
	t := inv.task
	for {
		for {
			w := inv.popWatcher()
			if w == nil {
				break
			}
			r.invokeOne(t, w)
		}
		t.mu.Lock()
		if inv.hasWatchers() {
			t.mu.Unlock()
			continue
		}
		t.invoker = nil
		hasReal := t.watcherCount.Load() != 0
		if !hasReal {
			r.queueCompletedTaskLocked(t)
		}
		t.mu.Unlock()
		return
	}
}

func (r *Runner) invokeOne(t *Task, w *Watcher) {
	if w.kind == kindRemoval {
		if w.target.onRemoved != nil {
			w.target.onRemoved()
		}
		t.watcherCount.Add(-1)
		return
	}
	if w.removed.Load() {
		return
	}
	t.enterInvoke()
	restart := w.fn(t, w.ioFired)
	t.leaveInvoke()
	switch w.kind {
	case kindImmediate, kindSubtask:
		r.removeWatcher(w)
	case kindIdle:
		if restart && !w.removed.Load() {
			if err := r.loop.AddIdle(w); err != nil {
				r.logger.Error("hrt: failed to re-arm idle watcher", err)
				r.removeWatcher(w)
			}
		} else {
			r.removeWatcher(w)
		}
	case kindIO:
		if restart && !w.removed.Load() {
			if err := r.loop.AddIO(w.fd, w.ioWant, w); err != nil {
				r.logger.Error("hrt: failed to re-arm IO watcher", err)
				r.removeWatcher(w)
			}
		} else {
			r.removeWatcher(w)
		}
	}
}

// removeWatcher is the shared path for both explicit Watcher.Remove() and
// automatic removal on a false WatcherFunc return: it deregisters from the
// event loop (if registered), then enqueues a removal-marker watcher onto
// the same task's invoker so onRemoved fires exactly once, serialized with
// the task's other watcher firings (spec.md §4.2's "removed" watcher).
func (r *Runner) removeWatcher(w *Watcher) {
	if !w.removed.CompareAndSwap(false, true) {
		return
	}
	switch w.kind {
	case kindIO:
		_ = r.loop.RemoveIO(w.fd)
	case kindIdle:
		_ = r.loop.RemoveIdle(w)
	}
	marker := &Watcher{kind: kindRemoval, task: w.task, target: w}
	r.watcherPending(w.task, marker)
}

// queueCompletedTaskLocked enqueues t for completion finalization on the
// runner thread. Callers hold t.mu for the duration of the precondition
// check (t has no invoker, no outstanding watchers) but this method itself
// only touches the separate completedMu.
func (r *Runner) queueCompletedTaskLocked(t *Task) {
	r.completedMu.Lock()
	r.completed = append(r.completed, t)
	r.completedMu.Unlock()
	r.loop.Wake()
}

func (r *Runner) drainCompleted() {
	r.completedMu.Lock()
	batch := r.completed
	r.completed = nil
	r.completedMu.Unlock()
	for _, t := range batch {
		r.finalizeCompleted(t)
	}
}

// finalizeCompleted re-checks, under t.mu, that t is still completable: a
// task can race back to non-completable between being queued and now (a
// new watcher, or a BlockCompletion, arrived in the interim). Tasks that
// fail the check are silently dropped - they will be re-queued whenever
// they next become completable (spec.md §4.5.3).
func (r *Runner) finalizeCompleted(t *Task) {
	t.mu.Lock()
	ok := !t.completed.Load() && t.invoker == nil && t.watcherCount.Load() == 0
	t.mu.Unlock()
	if !ok {
		return
	}
	t.markCompleted()
	r.completedOutMu.Lock()
	r.completedOut = append(r.completedOut, t)
	r.completedOutMu.Unlock()
	if r.onCompleted != nil {
		r.onCompleted(t)
	}
}

// PopCompleted drains and returns the tasks that have completed since the
// last call.
func (r *Runner) PopCompleted() []*Task {
	r.completedOutMu.Lock()
	defer r.completedOutMu.Unlock()
	out := r.completedOut
	r.completedOut = nil
	return out
}

// Run is the runner thread: it polls the event loop, services Post
// callbacks, and finalizes completed tasks, until ctx is done or Close is
// called. It returns ctx.Err() in the former case, nil in the latter.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return r.shutdown(err)
		}
		if r.closed.Load() {
			return r.shutdown(nil)
		}
		if err := r.loop.RunOnce(50 * time.Millisecond); err != nil {
			if r.throttle.Allow("poll-error") {
				r.logger.Error("hrt: event loop poll error", err)
			}
		}
		r.drainPost()
		r.drainCompleted()
	}
}

func (r *Runner) shutdown(cause error) error {
	r.closeOnce.Do(func() {
		_ = r.loop.Close()
		_ = r.eg.Wait()
	})
	return cause
}

// Close requests the runner thread stop at its next opportunity. Safe to
// call from any goroutine, any number of times.
func (r *Runner) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.loop.Wake()
	return nil
}

// Loop exposes the runner's EventLoop, for callers wiring fds directly
// (hio.Stream/hio.Chain register their own IO watchers through the owning
// Task, not through this accessor, but tests and diagnostics use it).
func (r *Runner) Loop() EventLoop { return r.loop }
