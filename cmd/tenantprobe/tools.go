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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/tiers"
)

func newCredentialsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Work with credential sets",
	}

	var (
		count  int
		prefix string
	)

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Print a new credential set",
		Long: `Prints a credential set in the user:pass,user:pass form. Passwords are random
unless --prefix is set, in which case password i is "{prefix}-{i}".`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			creds, err := credentials.Generate(count, prefix)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, creds.String())
			return nil
		},
	}
	generate.Flags().IntVarP(&count, "count", "n", 5, "number of users")
	generate.Flags().StringVar(&prefix, "prefix", "", "deterministic password prefix")

	cmd.AddCommand(generate)

	return cmd
}

func newTiersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Inspect the tier assignment of test users",
	}

	var only string

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the tier assignment and the identities the matrix runs as",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			users, err := cfg.usernames()
			if err != nil {
				return err
			}

			order := tiers.Order
			if only != "" {
				t, err := tiers.ParseTier(only)
				if err != nil {
					return err
				}
				order = []tiers.Tier{t}
			}

			assignment := tiers.AssignTiers(users, cfg.Overrides())
			for _, t := range order {
				fmt.Fprintf(a.stdout, "%-10s %-32s %s\n", t, tiers.GroupName(cfg.GroupPrefix, t),
					strings.Join(assignment.Users(t), ","))
			}
			fmt.Fprintf(a.stdout, "identities: %s\n", strings.Join(tiers.FirstOfEachTier(assignment), ","))

			return nil
		},
	}

	show.Flags().StringVar(&only, "tier", "", "print only this tier (enterprise, premium or free)")

	cmd.AddCommand(show)

	return cmd
}
