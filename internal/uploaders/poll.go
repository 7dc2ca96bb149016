package uploaders

import (
	"context"
	"errors"
	"time"
)

// Clock abstracts time for polling loops.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errPollTimeout is returned by poll when the deadline passes without a terminal state.
var errPollTimeout = errors.New("poll deadline exceeded")

// poller calls a check function every Interval until it reports done, returns an
// error, or Timeout elapses.
type poller struct {
	Clock    Clock
	Interval time.Duration
	Timeout  time.Duration
}

// poll returns the number of checks made. check runs at least once, immediately.
func (p poller) poll(ctx context.Context, check func(ctx context.Context) (done bool, err error)) (int, error) {
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	deadline := clock.Now().Add(p.Timeout)
	attempts := 0
	for {
		attempts++
		done, err := check(ctx)
		if err != nil {
			return attempts, err
		}
		if done {
			return attempts, nil
		}
		if !clock.Now().Add(p.Interval).Before(deadline) {
			return attempts, errPollTimeout
		}
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return attempts, err
		}
	}
}
