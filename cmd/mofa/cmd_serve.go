// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent runtime until interrupted",
	Long: `Start the task orchestrator, inference router, plugin hosts and maintenance
scheduler, then block until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Maximum time to wait for components to stop")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		_ = a.shutdown(context.WithoutCancel(ctx))
		return err
	}

	logger.Info("mofa_started",
		zap.String("provider", cfg.Provider.Name),
		zap.Stringer("routing_policy", a.inference.RoutingPolicy()),
		zap.Int("memory_capacity_mb", a.inference.MemoryCapacityMB()),
		zap.Bool("native_plugins", a.hotReload != nil),
		zap.Bool("wasm_plugins", a.wasm != nil),
		zap.Bool("scheduler", a.scheduler != nil))

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown_incomplete", zap.Error(err))
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}
