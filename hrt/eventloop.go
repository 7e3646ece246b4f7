package hrt

import "time"

// dispatchFunc is how an EventLoop implementation hands a ready watcher
// back to the Runner for invocation. events is meaningful only for IO
// watchers.
type dispatchFunc func(w *Watcher, events IOEvents)

// EventLoop is the abstract contract a Runner schedules Idle and IO
// watchers against (spec.md §3, §4.3). Exactly two concrete bindings ship
// with this package - the OS-poller binding (epoll on linux, kqueue on
// darwin, see NewPollEventLoop) and the inline, pure-channel binding (see
// NewInlineEventLoop) - but Runner never assumes which one it has: any type
// satisfying this interface works.
type EventLoop interface {
	// AddIdle registers w to fire on the next RunOnce, after any ready I/O
	// has been dispatched (a pending idle makes the poll non-blocking).
	AddIdle(w *Watcher) error
	// RemoveIdle unregisters a previously-added idle watcher.
	RemoveIdle(w *Watcher) error

	// AddIO registers fd, monitored for the events in want, dispatching to
	// w when ready. Returns ErrNoFileDescriptors on a binding with no real
	// poller.
	AddIO(fd int, want IOEvents, w *Watcher) error
	// ModifyIO changes the set of monitored events for a registered fd.
	ModifyIO(fd int, want IOEvents) error
	// RemoveIO unregisters fd.
	RemoveIO(fd int) error

	// RunOnce polls for at most timeout (0 = non-blocking poll, <0 = block
	// until an event or Wake), dispatching any ready watchers inline
	// before returning.
	RunOnce(timeout time.Duration) error

	// Wake interrupts a RunOnce blocked waiting for events.
	Wake()

	// Close releases the loop's resources. Not safe to call concurrently
	// with RunOnce.
	Close() error

	// State reports the loop's current lifecycle state.
	State() LoopState
}
