package hrt

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected, caller-recoverable conditions. Checked with
// errors.Is, following the corpus convention (eventloop's own sentinel
// errors.New values).
var (
	// ErrRunnerClosed names the runner-has-shut-down condition. No Runner
	// method in this package returns it.
	ErrRunnerClosed = errors.New("hrt: runner is closed")

	// ErrWatcherRemoved is returned by the OS-poller binding's AddIO when
	// the fd is already registered to another watcher.
	ErrWatcherRemoved = errors.New("hrt: watcher already removed")

	// ErrBufferLocked is the panic value of AppendASCII on a buffer that
	// has been locked.
	ErrBufferLocked = errors.New("hrt: buffer is locked")

	// ErrBufferNotLocked is returned by Peek/Steal/Write before Lock has
	// been called.
	ErrBufferNotLocked = errors.New("hrt: buffer is not locked")

	// ErrBufferAlreadyStolen is the panic value of a second Steal call.
	ErrBufferAlreadyStolen = errors.New("hrt: buffer already stolen")

	// ErrEncodingMismatch is returned when a typed peek/steal call does not
	// match the buffer's actual encoding.
	ErrEncodingMismatch = errors.New("hrt: buffer encoding mismatch")

	// ErrTaskHasWatchers is returned by AddArg once a watcher has been
	// added to the task (arguments stay frozen from then on), or while a
	// completion block is held.
	ErrTaskHasWatchers = errors.New("hrt: task has watchers, arguments are frozen")

	// ErrDuplicateArg is returned by AddArg for a name already present.
	ErrDuplicateArg = errors.New("hrt: duplicate argument name")

	// ErrResultAlreadySet is returned by SetResult called a second time.
	ErrResultAlreadySet = errors.New("hrt: task result already set")

	// ErrTaskCompleted names the task-already-completed condition. Nothing
	// in this package returns it: adding a watcher to a completed task
	// panics with its own message, and SetResult does not check completion.
	ErrTaskCompleted = errors.New("hrt: task already completed")

	// ErrEventLoopClosed is returned by EventLoop operations attempted
	// after Close.
	ErrEventLoopClosed = errors.New("hrt: event loop is closed")

	// ErrNoFileDescriptors is returned by the inline EventLoop binding's
	// AddIO, which has no real poller behind it.
	ErrNoFileDescriptors = errors.New("hrt: this event loop binding does not support file descriptors")

	// ErrSelfSubtask is the panic value for AddSubtask(t, ...) called on t
	// itself: a task cannot wait on its own completion.
	ErrSelfSubtask = errors.New("hrt: a task cannot wait on itself")
)

// ArgError reports a failed task argument lookup, distinguishing "no such
// argument" from "argument present with a different kind" (spec.md §4.7).
type ArgError struct {
	Name      string
	NotFound  bool
	WantKind  ValueKind
	HaveKind  ValueKind
	TaskLabel string
}

func (e *ArgError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("hrt: task %q: argument %q not found", e.TaskLabel, e.Name)
	}
	return fmt.Sprintf("hrt: task %q: argument %q has kind %s, want %s", e.TaskLabel, e.Name, e.HaveKind, e.WantKind)
}

// ResultError reports a failed task result read, distinguishing "result not
// yet set" from "result present with a different kind" (spec.md §4.7).
type ResultError struct {
	NotSet   bool
	WantKind ValueKind
	HaveKind ValueKind
}

func (e *ResultError) Error() string {
	if e.NotSet {
		return "hrt: task result not set"
	}
	return fmt.Sprintf("hrt: task result has kind %s, want %s", e.HaveKind, e.WantKind)
}

// WrapError wraps cause with a message, following eventloop.WrapError's
// %s: %w convention.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
