package hrt

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the narrow structured-logging sink Runner accepts (WithLogger);
// hio.Chain and hio.Stream take no logger. LogifaceLogger, backed by logiface+izerolog, is the intended
// implementation; NopLogger is the zero-cost default (spec.md's own
// logging is ambient, not a consumer-facing feature - see SPEC_FULL.md
// §2).
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string, err error)
	Error(msg string, err error)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string)        {}
func (NopLogger) Info(string)         {}
func (NopLogger) Warn(string, error)  {}
func (NopLogger) Error(string, error) {}

// LogifaceLogger adapts a logiface.Logger[*izerolog.Event] (generic over
// the izerolog-provided Event implementation) to Logger.
type LogifaceLogger struct {
	L *logiface.Logger[*izerolog.Event]
}

// NewZerologLogger builds a LogifaceLogger backed by zl, wiring
// logiface+izerolog+zerolog exactly as the corpus does
// (izerolog.L.WithZerolog(...) as the logiface.Option).
func NewZerologLogger(zl zerolog.Logger) *LogifaceLogger {
	return &LogifaceLogger{L: logiface.New[*izerolog.Event](izerolog.L.WithZerolog(zl))}
}

func (l *LogifaceLogger) Debug(msg string) { l.L.Debug().Log(msg) }

func (l *LogifaceLogger) Info(msg string) { l.L.Info().Log(msg) }

func (l *LogifaceLogger) Warn(msg string, err error) {
	b := l.L.Warning()
	if err != nil {
		b = b.Err(err)
	}
	b.Log(msg)
}

func (l *LogifaceLogger) Error(msg string, err error) {
	b := l.L.Err()
	if err != nil {
		b = b.Err(err)
	}
	b.Log(msg)
}

// RateLimiter wraps go-catrate.Limiter to throttle repeated log lines for
// a persistently-misbehaving condition (a wedged fd, a poll error that
// keeps recurring) so it cannot flood the log (SPEC_FULL.md §2/§3).
type RateLimiter struct {
	limiter *catrate.Limiter
}

// NewRateLimiter builds a RateLimiter from a set of sliding-window rates,
// e.g. map[time.Duration]int{time.Second: 1, time.Minute: 10}.
func NewRateLimiter(rates map[time.Duration]int) *RateLimiter {
	return &RateLimiter{limiter: catrate.NewLimiter(rates)}
}

// Allow reports whether a log line for category should be emitted now. A
// nil *RateLimiter always allows, so throttling remains entirely opt-in.
func (r *RateLimiter) Allow(category any) bool {
	if r == nil {
		return true
	}
	_, ok := r.limiter.Allow(category)
	return ok
}
