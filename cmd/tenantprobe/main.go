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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/client-go/discovery"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandremahdhaoui/tenantprobe/internal/k8s"
	"github.com/alexandremahdhaoui/tenantprobe/internal/util/gracefulshutdown"
	"github.com/alexandremahdhaoui/tenantprobe/internal/util/logging"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/deploy"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

const appName = "tenantprobe"

// Version is set at build time.
var Version = "dev"

// exitError carries an explicit exit code. err may be nil when the failures
// were already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps err to the process exit code: fatal errors exit with
// runresult.ExitFatal, any other error with runresult.ExitFailures.
func exitCode(err error) int {
	if err == nil {
		return runresult.ExitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	var stageErr *deploy.StageError
	if errors.As(err, &stageErr) || failure.IsFatal(err) {
		return runresult.ExitFatal
	}

	return runresult.ExitFailures
}

// app holds the state shared by every command.
type app struct {
	configPath string
	verbose    bool

	stdout io.Writer
	stderr io.Writer

	// onShutdown registers cleanups run before the process exits.
	onShutdown func(gracefulshutdown.Cleanup)
}

func (a *app) loadConfig() (*Config, error) {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func (a *app) setupLogging(cfg *Config) logr.Logger {
	return logging.Setup(logging.Options{
		Development: cfg.Mode == ModeDev,
		Verbose:     cfg.Verbose,
		Writer:      a.stderr,
	}).WithName(appName)
}

// connect builds the administrator client and discovery client. An
// unreachable or unreadable kubeconfig is a prerequisite failure.
func connect(cfg *Config) (client.Client, discovery.DiscoveryInterface, error) { //nolint:ireturn
	restConfig, err := k8s.NewKubeRestConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: loading kubeconfig %s: %w", failure.ErrPrerequisite, cfg.Kubeconfig, err)
	}

	cl, err := k8s.NewKubeClient(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: creating client: %w", failure.ErrPrerequisite, err)
	}

	disc, err := k8s.NewDiscoveryClient(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: creating discovery client: %w", failure.ErrPrerequisite, err)
	}

	return cl, disc, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "End-to-end validation of a multi-tenant model serving platform",
		Long: `tenantprobe deploys the serving platform and a test workload, bootstraps
HTPasswd test users across permission tiers and runs the same validation
bundle under each identity.

Exit codes: 0 success, 1 recorded failures, 2 fatal error.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv(ConfigPathEnvKey),
		"path to a YAML or JSON config file (env "+ConfigPathEnvKey+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(
		newRunCmd(a),
		newIDPCmd(a),
		newCredentialsCmd(a),
		newTiersCmd(a),
	)

	return root
}

// execute runs the command line args and returns the exit code.
func execute(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)

	var exitErr *exitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.err == nil) {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}

	return exitCode(err)
}

func main() {
	gs := gracefulshutdown.New(appName)

	a := &app{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		onShutdown: gs.OnShutdown,
	}

	gs.Shutdown(execute(gs.Context(), a, os.Args[1:]))
}
