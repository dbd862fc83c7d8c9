// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/checks"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/deploy"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/execcontext"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/idp"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/matrix"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/orchestrator"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/readiness"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/reporting"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/tiers"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deploy, bootstrap test identities and validate under each of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.validateGateway(); err != nil {
		return err
	}

	log := a.setupLogging(cfg)

	creds, err := cfg.ParsedCredentials()
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrInvalidConfig, err)
	}

	cl, disc, err := connect(cfg)
	if err != nil {
		return err
	}

	session, err := cluster.NewSession(log.WithName("session"), cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrPrerequisite, err)
	}
	// Cleanups run in reverse order: restore the identity, then remove it.
	a.onShutdown(session.Close)
	a.onShutdown(session.Restore)

	bootstrapper, err := idp.New(cl, cfg.IDPConfig(), log.WithName("idp"))
	if err != nil {
		return err
	}

	bundle, err := newBundle(cfg, session, log)
	if err != nil {
		return err
	}

	deployCfg := cfg.DeployConfig()
	tools := []string{cluster.SessionTool}
	if !deployCfg.Skip && len(deployCfg.PlatformManifests)+len(deployCfg.WorkloadManifests) > 0 {
		tools = append(tools, deploy.ApplyTool)
	}

	backoff := cfg.Backoff()
	result := runresult.New()
	log = log.WithValues("runID", result.ID.String())

	sequencer := deploy.NewSequencer(
		cluster.NewPrerequisites(cl, disc),
		deploy.NewKubectlApplier(execcontext.NewRunner(nil, log.WithName("kubectl")), cfg.Kubeconfig, backoff, log.WithName("apply")),
		readiness.NewWaiter(cl, log.WithName("readiness")),
		cluster.NewDiagnostics(cl, log.WithName("diagnostics")),
		deployCfg,
		log.WithName("deploy"),
	)

	o := orchestrator.New(orchestrator.Dependencies{
		Deployer: sequencer,
		IDP:      bootstrapper,
		Tiers:    tiers.NewMapper(cl, cfg.GroupPrefix, backoff, log.WithName("tiers")),
		Matrix:   matrix.NewDriver(session, result, log.WithName("matrix")),
		Bundle:   bundle,
	}, orchestrator.Options{
		Tools:          tools,
		UserCount:      cfg.UserCount,
		PasswordPrefix: cfg.PasswordPrefix,
		Credentials:    creds,
		SkipIDPSetup:   cfg.SkipIDPSetup,
		TierOverrides:  cfg.Overrides(),
	}, result, log)

	runErr := o.Run(ctx)
	if runErr != nil {
		log.Error(runErr, "run aborted")
	}

	a.report(cfg, result, log)

	code := result.ExitCode()
	if runErr != nil {
		code = runresult.ExitFatal
	}
	if code == runresult.ExitOK {
		return nil
	}

	return &exitError{code: code}
}

func newBundle(cfg *Config, tokens checks.TokenSource, log logr.Logger) (matrix.Bundle, error) {
	if cfg.allChecksSkipped() {
		return matrix.NewBundle(matrix.BundleOptions{}), nil
	}

	gateway, err := checks.New(cfg.ChecksConfig(), tokens, log.WithName("checks"))
	if err != nil {
		return nil, err
	}

	return orchestrator.NewGatewayBundle(gateway, orchestrator.BundleSkips{
		Validation:        cfg.SkipValidation,
		TokenVerification: cfg.SkipTokenVerification,
		Smoke:             cfg.SkipSmoke,
	}, cfg.ValidationCooldown.Duration, cfg.RateLimitCooldown.Duration), nil
}

// report writes the run artifacts and prints the summary. Artifact errors
// are logged: they never change the outcome of the run.
func (a *app) report(cfg *Config, result *runresult.RunResult, log logr.Logger) {
	report := reporting.NewReport(result, time.Now())
	reporter := reporting.NewReporter(cfg.ArtifactsDir)

	for _, format := range []reporting.Format{reporting.FormatJSON, reporting.FormatText} {
		path, err := reporter.WriteReport(report, format)
		if err != nil {
			log.Error(err, "writing report", "format", string(format))
			continue
		}
		log.Info("report written", "path", path)
	}

	if path, err := reporter.WriteMetrics(report); err != nil {
		log.Error(err, "writing metrics")
	} else {
		log.Info("metrics written", "path", path)
	}

	if err := reporter.PrintSummary(a.stdout, report); err != nil {
		log.Error(err, "printing summary")
	}
}
