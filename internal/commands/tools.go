// Copyright 2025 the vcode authors
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

package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and invoke tools",
	}
	cmd.AddCommand(
		newToolsListCommand(opts),
		newToolsCallCommand(opts),
	)
	return cmd
}

func newToolsListCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list [id...]",
		Short: "List tools from the named servers, or all enabled servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			defer registry.StopAll()

			if len(args) == 0 {
				if err := registry.StartAll(cmd.Context()); err != nil {
					return err
				}
			} else {
				for _, id := range args {
					if err := registry.StartServer(cmd.Context(), id); err != nil {
						return err
					}
				}
			}

			tools := registry.GetAllTools()
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(tools)
			}

			if len(tools) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tools available")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
			for _, tool := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\n", tool.ServerID, tool.Name, tool.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newToolsCallCommand(opts *rootOptions) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:     "call <id> <tool>",
		Short:   "Invoke a tool on a server",
		Example: `  vcode-tools tools call fs read_file --args '{"path": "/etc/hostname"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arguments json.RawMessage
			if argsJSON != "" {
				if !json.Valid([]byte(argsJSON)) {
					return fmt.Errorf("--args is not valid JSON")
				}
				arguments = json.RawMessage(argsJSON)
			}

			registry, err := opts.registry()
			if err != nil {
				return err
			}
			defer registry.StopAll()

			if err := registry.StartServer(cmd.Context(), args[0]); err != nil {
				return err
			}

			resp, err := registry.CallTool(cmd.Context(), args[0], args[1], arguments)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.IsError {
				fmt.Fprintln(out, "Tool reported an error:")
			}
			for _, item := range resp.Content {
				switch item.Type {
				case "text":
					fmt.Fprintln(out, item.Text)
				default:
					fmt.Fprintf(out, "[%s content, %d bytes, %s]\n",
						item.Type, len(item.Data), item.MimeType)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	return cmd
}
