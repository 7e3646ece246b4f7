package hio

import (
	"sync/atomic"

	"github.com/havocp/hwf-sub000/hrt"
)

// Chain is an ordered sequence of Streams written to a single file
// descriptor one at a time: the head of the queue streams to completion
// before the next one starts (spec.md §4.6.2). Like Stream, a Chain holds
// its owning Task's completion blocked from construction until it has had
// at least one stream and its queue has drained empty.
//
// Chain's mutating methods (AddStream, SetFd, and the internal
// updateCurrentStream algorithm they drive) are documented task-thread-only
// in the original and are ported with the same contract here: callers
// must invoke them from the owning Task's invoke goroutine (e.g. from
// within a WatcherFunc), never concurrently from multiple goroutines.
type Chain struct {
	task *hrt.Task
	fd   atomic.Int32

	queue   []*Stream
	current *Stream

	haveHadStream      bool
	haveEmptyNotified  bool
	blockingCompletion bool
	errored            bool

	emptyNotify func()
}

// NewChain constructs a Chain owned by task.
func NewChain(task *hrt.Task) *Chain {
	c := &Chain{task: task, blockingCompletion: true}
	c.fd.Store(-1)
	task.BlockCompletion()
	return c
}

// SetEmptyNotify registers fn to run when the chain's algorithm finds the
// queue empty, at most once per empty period: the notification is re-armed
// by each AddStream. On a fresh chain the first empty update (for example a
// SetFd before any stream is added) also counts as such a period.
func (c *Chain) SetEmptyNotify(fn func()) { c.emptyNotify = fn }

// Fd returns the currently attached file descriptor, or -1.
func (c *Chain) Fd() int { return int(c.fd.Load()) }

// AddStream appends s to the chain. If the chain has already errored, s is
// errored immediately (ErrChainErrored) and never added to the queue.
func (c *Chain) AddStream(s *Stream) {
	c.haveHadStream = true
	if c.errored {
		s.Error(ErrChainErrored)
		return
	}
	c.haveEmptyNotified = false
	c.queue = append(c.queue, s)
	c.updateCurrentStream()
}

// SetFd attaches (or detaches, fd<0) the chain's destination file
// descriptor, propagating it to the current stream if any. A no-op if fd
// is unchanged.
func (c *Chain) SetFd(fd int) {
	if int(c.fd.Load()) == fd {
		return
	}
	c.fd.Store(int32(fd))
	if c.current != nil {
		c.current.SetFd(fd)
	}
	c.updateCurrentStream()
}

// updateCurrentStream is the chain's core algorithm (spec.md §4.6.2):
//
//  1. If the current stream is done, pop it from the queue; if it errored,
//     mark the chain errored and error every remaining queued stream; else
//     just drop the reference.
//  2. If there is no current stream, fd is attached, and the queue is
//     non-empty, promote the head as current, arranging for this method to
//     re-run (via an immediate watcher back on this chain's own task) once
//     it becomes done - either because it already is, or via its
//     done-notify.
//  3. If the queue is empty, fire emptyNotify once per empty transition,
//     and release the chain's own completion block exactly once.
func (c *Chain) updateCurrentStream() {
	if c.current != nil && c.current.IsDone() {
		done := c.current
		if len(c.queue) > 0 && c.queue[0] == done {
			c.queue = c.queue[1:]
		}
		c.current = nil
		if done.IsErrored() {
			c.errored = true
			c.errorRemaining()
		}
	}

	if c.current == nil && !c.errored && int(c.fd.Load()) >= 0 && len(c.queue) > 0 {
		next := c.queue[0]
		c.current = next
		next.SetDoneNotify(func() {
			c.task.AddImmediate(func(*hrt.Task, hrt.IOEvents) bool {
				c.updateCurrentStream()
				return false
			})
		})
		if next.IsDone() {
			c.task.AddImmediate(func(*hrt.Task, hrt.IOEvents) bool {
				c.updateCurrentStream()
				return false
			})
		} else {
			next.SetFd(int(c.fd.Load()))
		}
	}

	if len(c.queue) == 0 {
		if !c.haveEmptyNotified {
			c.haveEmptyNotified = true
			if c.emptyNotify != nil {
				c.emptyNotify()
			}
		}
		if c.haveHadStream && c.blockingCompletion {
			c.blockingCompletion = false
			c.task.UnblockCompletion()
		}
	}
}

func (c *Chain) errorRemaining() {
	for _, s := range c.queue {
		s.Error(ErrChainErrored)
	}
	c.queue = nil
}
