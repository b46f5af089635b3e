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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vibe-stack/vcode-sub002/internal/mcp"
)

func newServersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "servers",
		Aliases: []string{"server"},
		Short:   "Manage tool server configurations",
	}
	cmd.AddCommand(
		newServersListCommand(opts),
		newServersAddCommand(opts),
		newServersRemoveCommand(opts),
		newServersUpdateCommand(opts),
		newServersEnableCommand(opts, true),
		newServersEnableCommand(opts, false),
		newServersTestCommand(opts),
		newServersLogsCommand(opts),
	)
	return cmd
}

func newServersListCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured tool servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			servers := registry.List()

			if asJSON {
				for i := range servers {
					cfg := *servers[i].Config
					cfg.Env = cfg.RedactedEnv()
					servers[i].Config = &cfg
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(servers)
			}

			if len(servers) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No tool servers configured in %s\n",
					opts.settingsPathForDisplay())
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tCOMMAND/URL\tENABLED")
			for _, s := range servers {
				target := s.Config.Command
				if s.Config.Type() != mcp.ConnectionStdio {
					target = s.Config.URL
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
					s.ID, s.Name, s.Config.Type(), target, !s.Config.Disabled)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newServersAddCommand(opts *rootOptions) *cobra.Command {
	cfg := &mcp.ServerConfig{}
	var connectionType string

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a tool server",
		Example: `  vcode-tools servers add fs --command npx --arg -y --arg @modelcontextprotocol/server-filesystem --arg /tmp
  vcode-tools servers add remote --type https --url https://example.com/mcp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ConnectionType = mcp.ConnectionType(connectionType)
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			if err := registry.AddServer(args[0], cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added tool server %q to %s\n",
				args[0], opts.settingsPathForDisplay())
			return nil
		},
	}
	addConfigFlags(cmd.Flags(), cfg, &connectionType)
	return cmd
}

func newServersUpdateCommand(opts *rootOptions) *cobra.Command {
	cfg := &mcp.ServerConfig{}
	var connectionType string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a tool server's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ConnectionType = mcp.ConnectionType(connectionType)
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			if err := registry.UpdateServer(cmd.Context(), args[0], cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated tool server %q\n", args[0])
			return nil
		},
	}
	addConfigFlags(cmd.Flags(), cfg, &connectionType)
	return cmd
}

func addConfigFlags(fs *pflag.FlagSet, cfg *mcp.ServerConfig, connectionType *string) {
	fs.StringVar(&cfg.Name, "name", "", "display name")
	fs.StringVar(&cfg.Command, "command", "", "executable for stdio servers")
	fs.StringArrayVar(&cfg.Args, "arg", nil, "command argument (repeatable)")
	fs.StringArrayVar(&cfg.Env, "env", nil, "KEY=VALUE environment variable (repeatable)")
	fs.StringVar(connectionType, "type", "stdio", "connection type: stdio, sse or https")
	fs.StringVar(&cfg.URL, "url", "", "endpoint for sse and https servers")
	fs.BoolVar(&cfg.Disabled, "disabled", false, "register without enabling")
	fs.StringSliceVar(&cfg.AutoApprove, "auto-approve", nil, "tools callable without confirmation")
	fs.IntVar(&cfg.TimeoutSeconds, "timeout", 0, "per-request timeout in seconds")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", 0, "automatic restarts after a crash")
}

func newServersRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a tool server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			if err := registry.RemoveServer(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed tool server %q\n", args[0])
			return nil
		},
	}
}

func newServersEnableCommand(opts *rootOptions, enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a tool server"
	if !enable {
		use, short = "disable <id>", "Disable a tool server without removing it"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			inst, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			cfg := *inst.Config
			cfg.Disabled = !enable
			if err := registry.UpdateServer(cmd.Context(), args[0], &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s tool server %q\n",
				map[bool]string{true: "Enabled", false: "Disabled"}[enable], args[0])
			return nil
		},
	}
}

// newServersTestCommand starts a server, reports its handshake and
// tools, and shuts it down again.
func newServersTestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Start a server, verify its handshake and list its tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			defer registry.StopAll()

			started := time.Now()
			if err := registry.StartServer(cmd.Context(), args[0]); err != nil {
				return err
			}

			inst, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server:   %s (%s %s)\n", inst.ID, inst.Info.Name, inst.Info.Version)
			fmt.Fprintf(out, "Startup:  %s\n", time.Since(started).Round(time.Millisecond))
			fmt.Fprintf(out, "Tools:    %d\n", inst.ToolCount)
			for _, tool := range registry.GetAllTools() {
				fmt.Fprintf(out, "  %s\t%s\n", tool.Name, tool.Description)
			}
			return registry.StopServer(args[0])
		},
	}
}

func newServersLogsCommand(opts *rootOptions) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show captured log lines for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry()
			if err != nil {
				return err
			}
			entries, err := registry.Logs(args[0], tail)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No log lines captured. Logs accumulate while a server runs in this process; try 'servers test' or 'run'.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n",
					e.Timestamp.Format(time.RFC3339), e.Source, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 100, "number of lines to show")
	return cmd
}
