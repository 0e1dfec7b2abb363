// Copyright 2025 Tom Barlow
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

// Package cli implements the netrunner command-line interface: a thin
// client for the daemon's HTTP API plus local definition validation.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion installs build-time version information.
func SetVersion(v, c, d string) {
	version, commit, buildDate = v, c, d
}

// NewRootCommand builds the root command with persistent connection flags.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "netrunner",
		Short:         "Run automation services against network device fleets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("addr", "http://127.0.0.1:7431", "daemon API base URL")
	root.PersistentFlags().String("token", "", "bearer token for the daemon API")
	// Accept underscore spellings of multi-word flags.
	root.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.AddCommand(newRunCommand())
	root.AddCommand(newRunsCommand())
	root.AddCommand(newCancelCommand())
	root.AddCommand(newServicesCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "netrunner %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
