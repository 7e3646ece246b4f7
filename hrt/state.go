package hrt

import "sync/atomic"

// LoopState is the run state of an EventLoop (spec.md §4.3), reusing the
// corpus's lock-free CAS state machine style (eventloop.LoopState /
// FastState), generalized to this package's simpler needs: no fast-path or
// scripting-engine modes, since those are out of this core's scope.
type LoopState uint32

const (
	StateAwake LoopState = iota
	StateRunning
	StateSleeping
	StateTerminating
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free, atomically stored state. The event loop
// bindings move it with plain Store calls; TryTransition offers a CAS
// transition but the bindings do not use it.
type loopState struct {
	v atomic.Uint32
}

func newLoopState() *loopState {
	s := &loopState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *loopState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *loopState) Store(state LoopState) { s.v.Store(uint32(state)) }

func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *loopState) IsTerminal() bool { return s.Load() == StateTerminated }
