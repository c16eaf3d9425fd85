// Package wait provides a cancellable timed poll driven by an injectable
// clock.
package wait

import (
	"context"
	"time"
)

// Clock is the time source used by Poll.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is a Clock backed by the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Result is the terminal state of a poll.
type Result int

const (
	// Ready means the probe succeeded.
	Ready Result = iota
	// TimedOut means the budget ran out before the probe succeeded.
	TimedOut
	// Fatal means the probe failed or the context was cancelled.
	Fatal
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of a poll. Err is set only for Fatal.
type Outcome struct {
	Result   Result
	Err      error
	Attempts int
}

// Probe reports whether the awaited condition holds. A non-nil error aborts
// the poll.
type Probe func(ctx context.Context) (bool, error)

// Budget returns the time left at now. It is re-evaluated on every iteration.
type Budget func(now time.Time) time.Duration

// Poll calls probe until it reports true, the budget is exhausted, or the
// probe or context fails. The probe always runs at least once. tick, if
// non-nil, is called before each sleep.
func Poll(ctx context.Context, clock Clock, interval time.Duration, remaining Budget, probe Probe, tick func()) Outcome {
	var attempts int
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Result: Fatal, Err: err, Attempts: attempts}
		}

		attempts++
		ok, err := probe(ctx)
		if err != nil {
			return Outcome{Result: Fatal, Err: err, Attempts: attempts}
		}
		if ok {
			return Outcome{Result: Ready, Attempts: attempts}
		}

		if remaining(clock.Now()) <= 0 {
			return Outcome{Result: TimedOut, Attempts: attempts}
		}

		if tick != nil {
			tick()
		}

		select {
		case <-ctx.Done():
			return Outcome{Result: Fatal, Err: ctx.Err(), Attempts: attempts}
		case <-clock.After(interval):
		}
	}
}
