package hrt

import (
	"sync"
	"time"
)

// inlineEventLoop is the second EventLoop binding (spec.md §1/§4.3's "only
// the abstract event-loop contract is specified; either implementation
// must satisfy it"): a pure-channel loop with no real OS poller, for
// environments or tests with no file descriptors to watch. AddIO always
// fails with ErrNoFileDescriptors; idle and immediate/subtask scheduling
// (which never touch the poller at all) work identically to the OS-poller
// binding.
type inlineEventLoop struct {
	state    *loopState
	dispatch dispatchFunc

	idleMu sync.Mutex
	idle   []*Watcher

	wakeCh chan struct{}
}

// NewInlineEventLoop constructs the channel-only EventLoop binding.
func NewInlineEventLoop(dispatch dispatchFunc) EventLoop {
	return &inlineEventLoop{
		state:    newLoopState(),
		dispatch: dispatch,
		wakeCh:   make(chan struct{}, 1),
	}
}

func (l *inlineEventLoop) AddIdle(w *Watcher) error {
	l.idleMu.Lock()
	l.idle = append(l.idle, w)
	l.idleMu.Unlock()
	return nil
}

func (l *inlineEventLoop) RemoveIdle(w *Watcher) error {
	l.idleMu.Lock()
	defer l.idleMu.Unlock()
	for i, c := range l.idle {
		if c == w {
			l.idle = append(l.idle[:i], l.idle[i+1:]...)
			return nil
		}
	}
	return nil
}

func (l *inlineEventLoop) AddIO(fd int, want IOEvents, w *Watcher) error {
	return ErrNoFileDescriptors
}

func (l *inlineEventLoop) ModifyIO(fd int, want IOEvents) error {
	return ErrNoFileDescriptors
}

func (l *inlineEventLoop) RemoveIO(fd int) error {
	return ErrNoFileDescriptors
}

func (l *inlineEventLoop) hasIdle() bool {
	l.idleMu.Lock()
	defer l.idleMu.Unlock()
	return len(l.idle) > 0
}

func (l *inlineEventLoop) fireIdles() {
	l.idleMu.Lock()
	batch := l.idle
	l.idle = nil
	l.idleMu.Unlock()
	for _, w := range batch {
		l.dispatch(w, 0)
	}
}

func (l *inlineEventLoop) RunOnce(timeout time.Duration) error {
	if l.state.Load() == StateTerminated {
		return ErrEventLoopClosed
	}
	if l.hasIdle() {
		l.state.Store(StateRunning)
		l.fireIdles()
		return nil
	}
	l.state.Store(StateSleeping)
	if timeout < 0 {
		<-l.wakeCh
	} else {
		select {
		case <-l.wakeCh:
		case <-time.After(timeout):
		}
	}
	l.state.Store(StateRunning)
	if l.hasIdle() {
		l.fireIdles()
	}
	return nil
}

func (l *inlineEventLoop) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *inlineEventLoop) Close() error {
	l.state.Store(StateTerminating)
	l.state.Store(StateTerminated)
	return nil
}

func (l *inlineEventLoop) State() LoopState { return l.state.Load() }
