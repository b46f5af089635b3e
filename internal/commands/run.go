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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
	"github.com/vibe-stack/vcode-sub002/internal/mcp"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		metricsAddr string
		resume      bool
		noWatch     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run tool servers in the foreground until interrupted",
		Long: `Run starts the enabled tool servers and supervises them: crashed
servers are restarted per their retry policy, settings file edits are
picked up live, and lifecycle events are logged. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.configStore()
			if err != nil {
				return err
			}
			state, err := opts.stateStore()
			if err != nil {
				return err
			}

			metrics := mcp.NewMetrics(prometheus.DefaultRegisterer)
			registry, err := mcp.NewRegistry(store,
				mcp.WithLogger(slog.Default()),
				mcp.WithStateStore(state),
				mcp.WithMetrics(metrics))
			if err != nil {
				return err
			}

			unsubscribe := registry.Subscribe(func(e mcp.Event) {
				slog.Info("server lifecycle event",
					vlog.EventKey, string(e.Type),
					vlog.ServerKey, e.ServerID)
			})
			defer unsubscribe()

			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if resume {
				err = registry.Resume(ctx)
			} else {
				err = registry.StartAll(ctx)
			}
			if err != nil {
				slog.Warn("some servers failed to start", vlog.Error(err))
			}

			if !noWatch {
				watcher := mcp.NewSettingsWatcher(registry, slog.Default())
				if err := watcher.Start(); err != nil {
					return err
				}
				defer watcher.Stop()
			}

			var metricsServer *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					slog.Info("metrics listening", "addr", metricsAddr)
					if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("metrics server failed", vlog.Error(err))
					}
				}()
			}

			running := 0
			for _, inst := range registry.List() {
				if inst.Status == mcp.StatusRunning {
					running++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Supervising %d tool server(s); Ctrl-C to stop\n", running)

			<-ctx.Done()

			slog.Info("shutting down tool servers")
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsServer.Shutdown(shutdownCtx)
				cancel()
			}
			return registry.StopAll()
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address (e.g. :9823)")
	cmd.Flags().BoolVar(&resume, "resume", false,
		"only start servers that were running last session")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false,
		"do not reload when the settings file changes")
	return cmd
}
