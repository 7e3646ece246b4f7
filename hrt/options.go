package hrt

import "runtime"

// runnerOptions holds configuration resolved at Runner construction,
// following eventloop.loopOptions' functional-options pattern.
type runnerOptions struct {
	invokeThreads int
	loop          EventLoop
	logger        Logger
	onCompleted   func(*Task)
	throttle      *RateLimiter
}

// RunnerOption configures a Runner instance.
type RunnerOption interface {
	applyRunner(*runnerOptions) error
}

type runnerOptionFunc func(*runnerOptions) error

func (f runnerOptionFunc) applyRunner(o *runnerOptions) error { return f(o) }

// WithInvokeThreads sets the maximum number of goroutines concurrently
// draining distinct tasks' invokers. Defaults to runtime.GOMAXPROCS(0).
func WithInvokeThreads(n int) RunnerOption {
	return runnerOptionFunc(func(o *runnerOptions) error {
		if n < 1 {
			n = 1
		}
		o.invokeThreads = n
		return nil
	})
}

// WithEventLoop supplies an EventLoop binding. Defaults to
// NewPollEventLoop's OS-poller binding; pass a NewInlineEventLoop for
// environments/tests with no real file descriptors.
func WithEventLoop(loop EventLoop) RunnerOption {
	return runnerOptionFunc(func(o *runnerOptions) error {
		o.loop = loop
		return nil
	})
}

// WithLogger attaches a structured logger. The zero value (nil) is a
// no-op logger - logging is entirely opt-in.
func WithLogger(logger Logger) RunnerOption {
	return runnerOptionFunc(func(o *runnerOptions) error {
		o.logger = logger
		return nil
	})
}

// WithCompletedCallback registers a callback run on the runner thread for
// every task that completes, in addition to Runner.PopCompleted.
func WithCompletedCallback(fn func(*Task)) RunnerOption {
	return runnerOptionFunc(func(o *runnerOptions) error {
		o.onCompleted = fn
		return nil
	})
}

// WithLogThrottle attaches a RateLimiter used to throttle noisy repeated
// log lines (poll errors, per-fd write errors).
func WithLogThrottle(rl *RateLimiter) RunnerOption {
	return runnerOptionFunc(func(o *runnerOptions) error {
		o.throttle = rl
		return nil
	})
}

func resolveRunnerOptions(opts []RunnerOption) (*runnerOptions, error) {
	cfg := &runnerOptions{invokeThreads: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRunner(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
