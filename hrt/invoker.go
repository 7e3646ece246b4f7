package hrt

import "sync"

// invoker is a task's FIFO of pending watcher firings. At most one
// goroutine drains a given task's invoker at a time (spec.md §4.5.1,
// §4.5.2), enforced by Runner.watcherPending/runInvoker, not by invoker
// itself - invoker only owns its own queue, guarded by its own lock,
// deliberately separate from the task-level lock (Task.mu) that guards
// whether an invoker exists for a task at all.
type invoker struct {
	task *Task

	mu      sync.Mutex
	pending []*Watcher
}

// newInvoker creates an invoker already seeded with first, mirroring the
// original's "construct with a first watcher already queued" optimization
// for the common single-watcher case.
func newInvoker(t *Task, first *Watcher) *invoker {
	return &invoker{task: t, pending: []*Watcher{first}}
}

func (inv *invoker) queueWatcher(w *Watcher) {
	inv.mu.Lock()
	inv.pending = append(inv.pending, w)
	inv.mu.Unlock()
}

func (inv *invoker) popWatcher() *Watcher {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.pending) == 0 {
		return nil
	}
	w := inv.pending[0]
	inv.pending[0] = nil
	inv.pending = inv.pending[1:]
	return w
}

func (inv *invoker) hasWatchers() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.pending) > 0
}
