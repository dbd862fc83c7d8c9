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

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/idp"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

func newIDPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idp",
		Short: "Manage the HTPasswd identity provider of the test users",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "bootstrap",
			Short: "Publish test users and register the identity provider",
			Long: `Generates (or reuses TENANTPROBE_CREDENTIALS) test users, publishes them as an
HTPasswd identity provider and grants their baseline role. The credential set
is printed on stdout for later runs.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.idpBootstrap(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the test users, their identities and role bindings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.idpDelete(cmd.Context())
			},
		},
	)

	return cmd
}

func (a *app) newBootstrapper(ctx context.Context, cfg *Config) (*idp.Bootstrapper, error) {
	cl, disc, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	if err := cluster.NewPrerequisites(cl, disc).Check(ctx); err != nil {
		return nil, err
	}

	return idp.New(cl, cfg.IDPConfig(), a.setupLogging(cfg).WithName("idp"))
}

func (a *app) idpBootstrap(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	creds, err := cfg.ParsedCredentials()
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrInvalidConfig, err)
	}
	if len(creds) == 0 {
		if creds, err = credentials.Generate(cfg.UserCount, cfg.PasswordPrefix); err != nil {
			return err
		}
	}

	b, err := a.newBootstrapper(ctx, cfg)
	if err != nil {
		return err
	}

	report, err := b.Bootstrap(ctx, creds)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.stdout, creds.String())

	if n := len(report.RoleGrantFailures); n > 0 {
		return &exitError{
			code: runresult.ExitFailures,
			err:  fmt.Errorf("%d of %d role grants failed", n, len(creds)),
		}
	}

	return nil
}

func (a *app) idpDelete(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	usernames, err := cfg.usernames()
	if err != nil {
		return err
	}

	b, err := a.newBootstrapper(ctx, cfg)
	if err != nil {
		return err
	}

	return b.Delete(ctx, usernames)
}

// usernames returns the users of the published credentials, or the
// usernames Generate would produce for UserCount.
func (c *Config) usernames() ([]string, error) {
	creds, err := c.ParsedCredentials()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", failure.ErrInvalidConfig, err)
	}
	if len(creds) > 0 {
		return creds.Usernames(), nil
	}

	if c.UserCount < 1 {
		return nil, fmt.Errorf("%w: userCount must be at least 1", failure.ErrInvalidConfig)
	}

	out := make([]string, 0, c.UserCount)
	for i := 1; i <= c.UserCount; i++ {
		out = append(out, fmt.Sprintf("%s-%d", credentials.UsernamePrefix, i))
	}
	return out, nil
}
