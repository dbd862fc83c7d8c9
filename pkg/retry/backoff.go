// Package retry provides the waiting primitives shared by tenantprobe
// components: context-aware sleeps, condition polling, retry with
// exponential backoff for cluster calls and the single-retry validation
// policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff configures WithBackoff.
type Backoff struct {
	// Steps is the maximum number of attempts.
	Steps int
	// Duration is the wait before the second attempt.
	Duration time.Duration
	// Factor multiplies Duration after each failed attempt.
	Factor float64
	// Jitter adds up to Jitter*Duration of random wait.
	Jitter float64
	// Cap bounds the wait between two attempts. It never reduces the
	// number of attempts.
	Cap time.Duration
	// Sleep waits between attempts. Nil means Sleep.
	Sleep Sleeper
}

// DefaultBackoff returns the backoff used for mutating cluster calls.
func DefaultBackoff() Backoff {
	return Backoff{
		Steps:    3,
		Duration: 5 * time.Second,
		Factor:   2.0,
		Jitter:   0.1,
		Cap:      time.Minute,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. WithBackoff returns it
// unwrapped on the first occurrence.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// WithBackoff calls fn until it succeeds, returns a Permanent error or
// b.Steps attempts were made. Exhaustion, or a cancellation while waiting,
// is reported as failure.ErrTransientCluster wrapping the last error of fn.
func WithBackoff(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	steps := max(b.Steps, 1)
	sleep := b.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	// wait.Backoff ends its steps once Cap is reached, so the cap is
	// applied to each wait here instead.
	delays := wait.Backoff{
		Steps:    steps,
		Duration: b.Duration,
		Factor:   b.Factor,
		Jitter:   b.Jitter,
	}

	var lastErr error
	for attempt := 1; attempt <= steps; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var p *permanentError
		if errors.As(lastErr, &p) {
			return p.err
		}

		if attempt == steps {
			break
		}

		d := delays.Step()
		if b.Cap > 0 && d > b.Cap {
			d = b.Cap
		}
		if err := sleep(ctx, d); err != nil {
			return fmt.Errorf("%w after %d attempts (%v): %w", failure.ErrTransientCluster, attempt, err, lastErr)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", failure.ErrTransientCluster, steps, lastErr)
}

// Poll evaluates cond immediately and then every interval until it returns
// true, returns an error or timeout elapses. A timeout is reported as an
// error for which wait.Interrupted returns true.
func Poll(ctx context.Context, interval, timeout time.Duration, cond func(ctx context.Context) (bool, error)) error {
	return wait.PollUntilContextTimeout(ctx, interval, timeout, true, cond)
}
