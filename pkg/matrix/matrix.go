// Package matrix runs the validation bundle once per test identity.
package matrix

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

// Step names recorded by the driver.
const (
	StepLookup = "credential-lookup"
	StepLogin  = "login"
	StepBundle = "bundle"
)

// Session switches the cluster identity of the process.
type Session interface {
	Login(ctx context.Context, username, password string) error
	Restore(ctx context.Context) error
}

// Bundle runs every check for one identity, recording sub-steps on rec. A
// returned error is recorded by the driver as a failure of the bundle.
type Bundle func(ctx context.Context, rec runresult.Recorder) error

// Driver runs a Bundle under successive identities. Identity switches never
// overlap: the driver is strictly sequential.
type Driver struct {
	session Session
	result  *runresult.RunResult
	log     logr.Logger
}

func NewDriver(session Session, result *runresult.RunResult, log logr.Logger) *Driver {
	return &Driver{session: session, result: result, log: log}
}

// RunMatrix runs bundle once per username, in order, switching to that
// identity first. An empty usernames runs bundle once under the current
// identity. A failure for one identity is recorded and never prevents the
// next identity from running.
func (d *Driver) RunMatrix(ctx context.Context, usernames []string, creds credentials.Set, bundle Bundle) *runresult.RunResult {
	if len(usernames) == 0 {
		d.log.Info("no test identities: running under the current identity")
		d.run(ctx, runresult.IdentityCurrent, bundle)
		return d.result
	}

	defer func() {
		if err := d.session.Restore(context.WithoutCancel(ctx)); err != nil {
			d.log.Error(err, "restoring administrator identity")
			d.result.Record("restore-identity", err)
		}
	}()

	for i, user := range usernames {
		log := d.log.WithValues("identity", user, "position", fmt.Sprintf("%d/%d", i+1, len(usernames)))
		rec := d.result.For(user)

		cred, ok := creds.Lookup(user)
		if !ok {
			err := fmt.Errorf("%w: %s", failure.ErrCredentialNotFound, user)
			log.Error(err, "skipping identity")
			rec.Record(StepLookup, err)
			continue
		}

		started := time.Now()
		if err := d.session.Login(ctx, cred.Username, cred.Password); err != nil {
			log.Error(err, "skipping identity")
			rec.RecordSince(StepLogin, started, err)
			continue
		}

		d.run(ctx, user, bundle)
	}

	return d.result
}

func (d *Driver) run(ctx context.Context, identity string, bundle Bundle) {
	log := d.log.WithValues("identity", identity)
	log.Info("running validation bundle")

	rec := d.result.For(identity)
	started := time.Now()
	before := d.result.Failures()

	if err := bundle(ctx, rec); err != nil {
		log.Error(err, "validation bundle failed")
		rec.RecordSince(StepBundle, started, err)
		return
	}

	if failed := d.result.Failures() - before; failed > 0 {
		log.Info("validation bundle completed with failures", "failures", failed)
		return
	}

	log.Info("validation bundle passed")
}
