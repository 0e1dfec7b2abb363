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

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netrunner/netrunner/internal/definition"
)

func newRunCommand() *cobra.Command {
	var devices []string
	var creator string
	var payload string

	cmd := &cobra.Command{
		Use:   "run <service>",
		Short: "Invoke a service against target devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}

			body := map[string]any{
				"service": args[0],
				"devices": devices,
				"creator": creator,
			}
			if payload != "" {
				var decoded map[string]any
				if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
					return fmt.Errorf("--payload must be a JSON object: %w", err)
				}
				body["payload"] = decoded
			}

			var resp struct {
				Runtime       string `json:"runtime"`
				ParentRuntime string `json:"parent_runtime"`
				Status        string `json:"status"`
			}
			if err := client.call("POST", "/api/runs", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s submitted (status %s)\n", resp.Runtime, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&devices, "device", "d", nil, "target device name (repeatable)")
	cmd.Flags().StringVar(&creator, "creator", "", "user the run is attributed to")
	cmd.Flags().StringVar(&payload, "payload", "", "initial payload variables as a JSON object")
	return cmd
}

func newRunsCommand() *cobra.Command {
	var showState bool

	cmd := &cobra.Command{
		Use:   "runs <runtime>",
		Short: "Inspect an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}

			path := "/api/runs/" + args[0]
			if showState {
				path += "/state"
			}
			var out any
			if err := client.call("GET", path, nil, &out); err != nil {
				return err
			}
			rendered, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(rendered))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showState, "state", false, "show the run's progress state tree instead of its status")
	return cmd
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <runtime>",
		Short: "Cancel a run and everything nested under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := client.call("POST", "/api/runs/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s cancelling\n", args[0])
			return nil
		},
	}
}

func newServicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the services the daemon knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			var names []string
			if err := client.call("GET", "/api/services", nil, &names); err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definitions-dir>",
		Short: "Validate a definitions directory without a daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := definition.LoadDir(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d service(s), %d workflow(s)\n",
				len(lib.Services), len(lib.Workflows))
			return nil
		},
	}
}
