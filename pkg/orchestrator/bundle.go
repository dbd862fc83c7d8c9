package orchestrator

import (
	"time"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/checks"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/matrix"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
)

// BundleSkips omit individual checks of the validation bundle.
type BundleSkips struct {
	Validation        bool
	TokenVerification bool
	Smoke             bool
}

// NewGatewayBundle returns the validation bundle running the gateway checks
// of c, minus the skipped ones.
func NewGatewayBundle(c *checks.Client, skips BundleSkips, validationCooldown, rateLimitCooldown time.Duration) matrix.Bundle {
	opts := matrix.BundleOptions{
		Retrier:           retry.NewRetrier(validationCooldown),
		RateLimitCooldown: rateLimitCooldown,
	}
	if !skips.Validation {
		opts.Validate = c.Validate
	}
	if !skips.TokenVerification {
		opts.VerifyToken = c.VerifyToken
	}
	if !skips.Smoke {
		opts.Smoke = c.Smoke
	}

	return matrix.NewBundle(opts)
}
