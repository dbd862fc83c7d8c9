package matrix

import (
	"context"
	"time"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

// Sub-step names recorded by the bundle.
const (
	StepValidate    = "validate"
	StepCooldown    = "rate-limit-cooldown"
	StepVerifyToken = "verify-token"
	StepSmoke       = "smoke"
)

// BundleOptions composes a Bundle. A nil check is skipped.
type BundleOptions struct {
	Validate    retry.Check
	VerifyToken retry.Check
	Smoke       retry.Check

	// Retrier retries Validate once after its cooldown.
	Retrier *retry.Retrier
	// RateLimitCooldown separates validation from the checks sharing its
	// rate limit.
	RateLimitCooldown time.Duration
	Sleep             retry.Sleeper
}

// NewBundle returns the bundle validate (retried once), cooldown, verify
// token, smoke. Every sub-step is recorded and the bundle always proceeds
// to the next one, so the returned error is only ever nil.
func NewBundle(opts BundleOptions) Bundle {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	retrier := opts.Retrier
	if retrier == nil {
		retrier = retry.NewRetrier(0)
	}

	return func(ctx context.Context, rec runresult.Recorder) error {
		if opts.Validate != nil {
			started := time.Now()
			rec.RecordSince(StepValidate, started, retrier.Run(ctx, opts.Validate))

			// Applies whatever validation returned.
			if opts.RateLimitCooldown > 0 && (opts.VerifyToken != nil || opts.Smoke != nil) {
				started = time.Now()
				if err := sleep(ctx, opts.RateLimitCooldown); err != nil {
					rec.RecordSince(StepCooldown, started, err)
				}
			}
		}

		if opts.VerifyToken != nil {
			started := time.Now()
			rec.RecordSince(StepVerifyToken, started, opts.VerifyToken(ctx))
		}

		if opts.Smoke != nil {
			started := time.Now()
			rec.RecordSince(StepSmoke, started, opts.Smoke(ctx))
		}

		return nil
	}
}
