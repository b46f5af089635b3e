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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibe-stack/vcode-sub002/internal/mcp"
)

func newCatalogCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse and install well-known tool servers",
	}
	cmd.AddCommand(
		newCatalogListCommand(opts),
		newCatalogAddCommand(opts),
	)
	return cmd
}

func newCatalogListCommand(opts *rootOptions) *cobra.Command {
	var availableOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List well-known tool servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := mcp.LoadCatalog()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRUNTIME\tAVAILABLE\tDESCRIPTION")
			for _, e := range entries {
				available := e.Available()
				if availableOnly && !available {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
					e.ID, e.Name, e.Runtime, available, e.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&availableOnly, "available", false,
		"only show servers whose runtime is installed")
	return cmd
}

func newCatalogAddCommand(opts *rootOptions) *cobra.Command {
	var extraArgs []string

	cmd := &cobra.Command{
		Use:     "add <catalog-id>",
		Short:   "Add a well-known server to the configuration",
		Example: `  vcode-tools catalog add filesystem --extra-arg /home/me/projects`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := mcp.ResolveCatalogEntry(args[0])
			if err != nil {
				return fmt.Errorf("%w; see 'vcode-tools catalog list'", err)
			}
			if !entry.Available() {
				return fmt.Errorf("runtime %q for %q is not installed", entry.Runtime, entry.ID)
			}
			cfg := entry.ServerConfig()
			cfg.Args = append(cfg.Args, extraArgs...)

			registry, err := opts.registry()
			if err != nil {
				return err
			}
			if err := registry.AddServer(entry.ID, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q from the catalog\n", entry.ID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&extraArgs, "extra-arg", nil,
		"extra command argument appended to the catalog launch command (repeatable)")
	return cmd
}
