package hrt

import (
	"sync"
	"time"
)

// readyFD is one ready file descriptor returned by an osPoller's poll.
type readyFD struct {
	fd     int
	events IOEvents
}

// osPoller is the minimal syscall-level polling contract; poller_linux.go
// implements it on epoll, poller_darwin.go on kqueue.
type osPoller interface {
	add(fd int, want IOEvents) error
	modify(fd int, want IOEvents) error
	remove(fd int) error
	poll(timeoutMs int) ([]readyFD, error)
	close() error
}

// wakeSource lets Wake() interrupt a blocked poll call; wakeup_linux.go
// uses an eventfd, wakeup_darwin.go a self-pipe.
type wakeSource interface {
	fdNum() int
	wake()
	drain()
	close() error
}

// pollEventLoop is the OS-poller EventLoop binding (spec.md §4.3's
// concrete binding #1), built directly on golang.org/x/sys/unix in the
// style of eventloop.Loop + FastPoller: a real epoll/kqueue poller plus a
// self-wake fd so Wake() can interrupt a blocked poll.
type pollEventLoop struct {
	state    *loopState
	dispatch dispatchFunc

	poller osPoller
	wake   wakeSource

	fdMu     sync.Mutex
	watchers map[int]*Watcher

	idleMu sync.Mutex
	idle   []*Watcher
}

// NewPollEventLoop constructs the OS-poller EventLoop binding.
func NewPollEventLoop(dispatch dispatchFunc) (EventLoop, error) {
	p, err := newOSPoller()
	if err != nil {
		return nil, err
	}
	w, err := newWakeSource()
	if err != nil {
		_ = p.close()
		return nil, err
	}
	if err := p.add(w.fdNum(), IOReadable); err != nil {
		_ = w.close()
		_ = p.close()
		return nil, err
	}
	return &pollEventLoop{
		state:    newLoopState(),
		dispatch: dispatch,
		poller:   p,
		wake:     w,
		watchers: make(map[int]*Watcher),
	}, nil
}

func (l *pollEventLoop) AddIdle(w *Watcher) error {
	l.idleMu.Lock()
	l.idle = append(l.idle, w)
	l.idleMu.Unlock()
	return nil
}

func (l *pollEventLoop) RemoveIdle(w *Watcher) error {
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

func (l *pollEventLoop) AddIO(fd int, want IOEvents, w *Watcher) error {
	l.fdMu.Lock()
	defer l.fdMu.Unlock()
	if _, exists := l.watchers[fd]; exists {
		return ErrWatcherRemoved // fd already registered under a different watcher; treat as a contract violation
	}
	if err := l.poller.add(fd, want); err != nil {
		return err
	}
	l.watchers[fd] = w
	return nil
}

func (l *pollEventLoop) ModifyIO(fd int, want IOEvents) error {
	return l.poller.modify(fd, want)
}

func (l *pollEventLoop) RemoveIO(fd int) error {
	l.fdMu.Lock()
	delete(l.watchers, fd)
	l.fdMu.Unlock()
	return l.poller.remove(fd)
}

func (l *pollEventLoop) hasIdle() bool {
	l.idleMu.Lock()
	defer l.idleMu.Unlock()
	return len(l.idle) > 0
}

func (l *pollEventLoop) fireIdles() {
	l.idleMu.Lock()
	batch := l.idle
	l.idle = nil
	l.idleMu.Unlock()
	for _, w := range batch {
		l.dispatch(w, 0)
	}
}

func (l *pollEventLoop) RunOnce(timeout time.Duration) error {
	if l.state.Load() == StateTerminated {
		return ErrEventLoopClosed
	}
	hasIdle := l.hasIdle()
	timeoutMs := -1
	switch {
	case hasIdle:
		timeoutMs = 0
	case timeout >= 0:
		timeoutMs = int(timeout / time.Millisecond)
	}
	l.state.Store(StateSleeping)
	ready, err := l.poller.poll(timeoutMs)
	l.state.Store(StateRunning)
	if err != nil {
		return err
	}
	for _, r := range ready {
		if r.fd == l.wake.fdNum() {
			l.wake.drain()
			continue
		}
		l.fdMu.Lock()
		w := l.watchers[r.fd]
		l.fdMu.Unlock()
		if w != nil {
			l.dispatch(w, r.events)
		}
	}
	if hasIdle {
		l.fireIdles()
	}
	return nil
}

func (l *pollEventLoop) Wake() { l.wake.wake() }

func (l *pollEventLoop) Close() error {
	l.state.Store(StateTerminating)
	err1 := l.wake.close()
	err2 := l.poller.close()
	l.state.Store(StateTerminated)
	if err1 != nil {
		return err1
	}
	return err2
}

func (l *pollEventLoop) State() LoopState { return l.state.Load() }
