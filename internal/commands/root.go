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

// Package commands implements the vcode-tools command line interface.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vibe-stack/vcode-sub002/internal/config"
	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
	"github.com/vibe-stack/vcode-sub002/internal/mcp"
)

// Version is set at build time.
var Version = "dev"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	settingsPath string
	debug        bool
	logFormat    string
}

// NewRootCommand builds the vcode-tools command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "vcode-tools",
		Short: "Manage external tool servers",
		Long: `vcode-tools manages the external tool servers the vcode assistant
talks to: their configuration, their lifecycles and the tools they
provide.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.setupLogging()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.settingsPath, "settings", "",
		"settings file path (default: the vcode settings file)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false,
		"enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "",
		"log format: text or json")

	cmd.AddCommand(
		newServersCommand(opts),
		newToolsCommand(opts),
		newCatalogCommand(opts),
		newRunCommand(opts),
	)
	return cmd
}

// Execute runs the CLI and exits non-zero on failure. Structured
// errors print their suggestions.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var se *mcp.ServerError
		if errors.As(err, &se) && len(se.Suggestions) > 0 {
			fmt.Fprintln(os.Stderr, "\nSuggestions:")
			for _, s := range se.Suggestions {
				fmt.Fprintf(os.Stderr, "  - %s\n", s)
			}
		}
		os.Exit(1)
	}
}

func (o *rootOptions) setupLogging() {
	cfg := vlog.FromEnv()
	if o.debug {
		cfg.Level = "debug"
	}
	if o.logFormat != "" {
		cfg.Format = vlog.Format(o.logFormat)
	}
	slog.SetDefault(vlog.New(cfg))
}

// configStore builds the config store honoring --settings.
func (o *rootOptions) configStore() (*mcp.ConfigStore, error) {
	if o.settingsPath != "" {
		return mcp.NewConfigStoreAt(o.settingsPath), nil
	}
	return mcp.NewConfigStore()
}

// stateStore builds the runtime state store honoring --settings. With
// a relocated settings file the state file sits next to it.
func (o *rootOptions) stateStore() (*mcp.StateStore, error) {
	if o.settingsPath != "" {
		dir := filepath.Dir(o.settingsPath)
		return mcp.NewStateStoreAt(filepath.Join(dir, "mcp-state.json")), nil
	}
	return mcp.NewStateStore()
}

// registry builds a registry from the configured stores.
func (o *rootOptions) registry() (*mcp.Registry, error) {
	store, err := o.configStore()
	if err != nil {
		return nil, err
	}
	state, err := o.stateStore()
	if err != nil {
		return nil, err
	}
	return mcp.NewRegistry(store,
		mcp.WithLogger(slog.Default()),
		mcp.WithStateStore(state))
}

// settingsPathForDisplay resolves the settings path for user output.
func (o *rootOptions) settingsPathForDisplay() string {
	if o.settingsPath != "" {
		return o.settingsPath
	}
	path, err := config.SettingsPath()
	if err != nil {
		return "(unresolved)"
	}
	return path
}
