package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

// Check is a validation step.
type Check func(ctx context.Context) error

// Retrier runs a Check at most twice, separated by a fixed cooldown.
type Retrier struct {
	Cooldown time.Duration
	Sleep    Sleeper
}

// NewRetrier returns a Retrier sleeping cooldown between the two attempts.
func NewRetrier(cooldown time.Duration) *Retrier {
	return &Retrier{Cooldown: cooldown, Sleep: Sleep}
}

// Run executes check; on failure it sleeps the cooldown and executes check
// exactly once more. The second failure is returned wrapped in
// failure.ErrValidationFailure unless it already wraps it.
func (r *Retrier) Run(ctx context.Context, check Check) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	first := check(ctx)
	if first == nil {
		return nil
	}

	if err := sleep(ctx, r.Cooldown); err != nil {
		return asValidationFailure(fmt.Errorf("%w (retry cancelled: %v)", first, err))
	}

	if second := check(ctx); second != nil {
		return asValidationFailure(second)
	}

	return nil
}

func asValidationFailure(err error) error {
	if errors.Is(err, failure.ErrValidationFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", failure.ErrValidationFailure, err)
}

// RunWithRetry is Retrier.Run with the default Sleeper.
func RunWithRetry(ctx context.Context, check Check, cooldown time.Duration) error {
	return NewRetrier(cooldown).Run(ctx, check)
}

// Cooldown blocks for d regardless of the outcome of the preceding step so a
// rate limiter shared with the next step can reset its window.
func Cooldown(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}
