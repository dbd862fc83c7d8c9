// Package deploy sequences the deployment of the serving platform and of the
// test workload, waiting for each to become ready before moving on.
package deploy

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/readiness"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

// Stage is one step of the deployment sequence.
type Stage string

const (
	StageCheckPrerequisites Stage = "check-prerequisites"
	StageDeployPlatform     Stage = "deploy-platform"
	StageWaitPlatformReady  Stage = "wait-platform-ready"
	StageDeployWorkload     Stage = "deploy-workload"
	StageWaitWorkloadReady  Stage = "wait-workload-ready"
)

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{
		StageCheckPrerequisites,
		StageDeployPlatform,
		StageWaitPlatformReady,
		StageDeployWorkload,
		StageWaitWorkloadReady,
	}
}

// StageError reports the stage at which the sequence stopped.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type PrerequisiteChecker interface {
	Check(ctx context.Context) error
}

type Applier interface {
	Apply(ctx context.Context, path string) error
}

type Waiter interface {
	WaitFor(ctx context.Context, check readiness.Check) error
}

// Diagnoser renders the recent state of a namespace.
type Diagnoser interface {
	Dump(ctx context.Context, namespace string) string
}

// Config describes what to deploy and what to wait for.
type Config struct {
	PlatformManifests []string          `json:"platformManifests,omitempty"`
	PlatformChecks    []readiness.Check `json:"platformChecks,omitempty"`
	WorkloadManifests []string          `json:"workloadManifests,omitempty"`
	WorkloadChecks    []readiness.Check `json:"workloadChecks,omitempty"`

	// DiagnosticNamespaces are dumped on failure in addition to the
	// namespaces of the failing stage's checks.
	DiagnosticNamespaces []string `json:"diagnosticNamespaces,omitempty"`

	// Skip runs the prerequisite check only.
	Skip bool `json:"skip,omitempty"`
}

// Sequencer runs the stages in strict order and stops at the first failure.
type Sequencer struct {
	prereq  PrerequisiteChecker
	applier Applier
	waiter  Waiter
	diag    Diagnoser
	cfg     Config
	log     logr.Logger
}

func NewSequencer(prereq PrerequisiteChecker, applier Applier, waiter Waiter, diag Diagnoser, cfg Config, log logr.Logger) *Sequencer {
	return &Sequencer{prereq: prereq, applier: applier, waiter: waiter, diag: diag, cfg: cfg, log: log}
}

// Run executes every stage, recording each on rec. The first failing stage
// is returned as a *StageError; later stages never run. Prerequisites are
// never retried.
func (s *Sequencer) Run(ctx context.Context, rec runresult.Recorder) error {
	stages := Stages()
	if s.cfg.Skip {
		s.log.Info("deployment skipped: checking prerequisites only")
		stages = stages[:1]
	}

	for _, stage := range stages {
		log := s.log.WithValues("stage", string(stage))
		log.Info("starting stage")

		started := time.Now()
		err := s.run(ctx, stage)
		rec.RecordSince(string(stage), started, err)

		if err != nil {
			log.Error(err, "stage failed")
			if stage != StageCheckPrerequisites {
				s.diagnose(ctx, stage)
			}
			return &StageError{Stage: stage, Err: err}
		}

		log.Info("stage complete", "duration", time.Since(started).Round(time.Millisecond).String())
	}

	return nil
}

func (s *Sequencer) run(ctx context.Context, stage Stage) error {
	switch stage {
	case StageCheckPrerequisites:
		return s.prereq.Check(ctx)
	case StageDeployPlatform:
		return s.apply(ctx, s.cfg.PlatformManifests)
	case StageWaitPlatformReady:
		return s.wait(ctx, s.cfg.PlatformChecks)
	case StageDeployWorkload:
		return s.apply(ctx, s.cfg.WorkloadManifests)
	case StageWaitWorkloadReady:
		return s.wait(ctx, s.cfg.WorkloadChecks)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func (s *Sequencer) apply(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := s.applier.Apply(ctx, path); err != nil {
			return fmt.Errorf("applying %s: %w", path, err)
		}
	}
	return nil
}

func (s *Sequencer) wait(ctx context.Context, checks []readiness.Check) error {
	for _, check := range checks {
		if err := s.waiter.WaitFor(ctx, check); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) diagnose(ctx context.Context, stage Stage) {
	if s.diag == nil {
		return
	}

	var checks []readiness.Check
	switch stage {
	case StageDeployPlatform, StageWaitPlatformReady:
		checks = s.cfg.PlatformChecks
	case StageDeployWorkload, StageWaitWorkloadReady:
		checks = s.cfg.WorkloadChecks
	}

	namespaces := slices.Clone(s.cfg.DiagnosticNamespaces)
	for _, c := range checks {
		if c.Namespace != "" {
			namespaces = append(namespaces, c.Namespace)
		}
	}
	slices.Sort(namespaces)

	// The snapshot must survive a cancelled run.
	ctx = context.WithoutCancel(ctx)
	for _, ns := range slices.Compact(namespaces) {
		s.diag.Dump(ctx, ns)
	}
}
