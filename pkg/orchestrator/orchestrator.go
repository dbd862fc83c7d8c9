// Package orchestrator runs a complete validation: deployment, identity
// provider bootstrap, tier mapping and the per-identity validation matrix.
package orchestrator

import (
	"context"
	"sort"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/execcontext"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/idp"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/matrix"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/tiers"
)

// Step names recorded by the orchestrator.
const (
	StepTools       = "check-tools"
	StepCredentials = "generate-credentials"
	StepIDP         = "idp-bootstrap"
	StepGrantRole   = "grant-role"
	StepTierGroups  = "tier-groups"
)

type Deployer interface {
	Run(ctx context.Context, rec runresult.Recorder) error
}

type IdentityProvider interface {
	Bootstrap(ctx context.Context, creds credentials.Set) (*idp.Report, error)
}

type TierApplier interface {
	Apply(ctx context.Context, a tiers.Assignment) error
}

type MatrixRunner interface {
	RunMatrix(ctx context.Context, usernames []string, creds credentials.Set, bundle matrix.Bundle) *runresult.RunResult
}

// Dependencies are the components driven by an Orchestrator.
type Dependencies struct {
	Deployer Deployer
	IDP      IdentityProvider
	Tiers    TierApplier
	Matrix   MatrixRunner
	Bundle   matrix.Bundle

	// RequireTools defaults to execcontext.RequireTools.
	RequireTools func(names ...string) error
}

// Options tune a run.
type Options struct {
	// Tools must be on PATH before anything runs.
	Tools []string

	UserCount      int
	PasswordPrefix string
	// Credentials, when set, were published by an earlier bootstrap and are
	// used instead of generating new ones.
	Credentials credentials.Set

	SkipIDPSetup  bool
	TierOverrides map[tiers.Tier][]string
}

// Orchestrator runs the whole flow. Fatal errors end the run; any other
// failure is recorded on the shared RunResult.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	result *runresult.RunResult
	log    logr.Logger

	creds credentials.Set
}

func New(deps Dependencies, opts Options, result *runresult.RunResult, log logr.Logger) *Orchestrator {
	if deps.RequireTools == nil {
		deps.RequireTools = execcontext.RequireTools
	}
	return &Orchestrator{deps: deps, opts: opts, result: result, log: log}
}

// Credentials returns the credential set the run used.
func (o *Orchestrator) Credentials() credentials.Set {
	return o.creds
}

// Run executes the flow. The returned error is fatal and is recorded on the
// RunResult; recorded failures alone never produce an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("starting run", "runID", o.result.ID.String())

	if err := o.deps.RequireTools(o.opts.Tools...); err != nil {
		o.result.Record(StepTools, err)
		return err
	}

	if err := o.deps.Deployer.Run(ctx, o.result); err != nil {
		return err
	}

	creds, err := o.credentials()
	if err != nil {
		o.result.Record(StepCredentials, err)
		return err
	}
	o.creds = creds

	if len(creds) == 0 {
		o.log.Info("identity provider setup skipped without credentials: running single-tenant")
		o.deps.Matrix.RunMatrix(ctx, nil, nil, o.deps.Bundle)
		return nil
	}

	if !o.opts.SkipIDPSetup {
		o.bootstrap(ctx, creds)
	}

	assignment := tiers.AssignTiers(creds.Usernames(), o.opts.TierOverrides)
	for _, t := range tiers.Order {
		o.log.Info("tier assignment", "tier", string(t), "users", assignment.Users(t))
	}
	o.result.Record(StepTierGroups, o.deps.Tiers.Apply(ctx, assignment))

	o.deps.Matrix.RunMatrix(ctx, tiers.FirstOfEachTier(assignment), creds, o.deps.Bundle)

	return nil
}

func (o *Orchestrator) credentials() (credentials.Set, error) {
	if len(o.opts.Credentials) > 0 {
		o.log.Info("using published credentials", "users", len(o.opts.Credentials))
		return o.opts.Credentials, nil
	}

	if o.opts.SkipIDPSetup {
		return nil, nil
	}

	return credentials.Generate(o.opts.UserCount, o.opts.PasswordPrefix)
}

func (o *Orchestrator) bootstrap(ctx context.Context, creds credentials.Set) {
	report, err := o.deps.IDP.Bootstrap(ctx, creds)
	o.result.Record(StepIDP, err)
	if report == nil {
		return
	}

	users := make([]string, 0, len(report.RoleGrantFailures))
	for user := range report.RoleGrantFailures {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		o.result.For(user).Record(StepGrantRole, report.RoleGrantFailures[user])
	}

	for _, w := range report.Warnings {
		o.log.Info("identity provider warning", "warning", w)
	}

	o.log.Info("identity provider bootstrap finished", "state", report.State.String())
}
