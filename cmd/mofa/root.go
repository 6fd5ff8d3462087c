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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/internal/log"
	"github.com/mofa-org/mofa/internal/version"
	"github.com/mofa-org/mofa/pkg/config"
)

var (
	cfgFile string
	cfg     *config.RuntimeConfig
)

var (
	logger  = zap.NewNop()
	restore = func() {}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "mofa",
	Short:   "MoFA - agent runtime core",
	Long:    `MoFA runs LLM-backed background tasks, routes local inference across hardware tiers and hosts native and WebAssembly plugins.`,
	Version: version.Get(),

	SilenceUsage:      true,
	PersistentPreRunE: initRuntime,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
		restore()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $MOFA_DATA_DIR/mofa.yaml)")

	// LLM flags
	rootCmd.PersistentFlags().String("provider", "ollama", "LLM provider (ollama, openai)")
	rootCmd.PersistentFlags().String("model", "", "LLM model (provider default when empty)")
	rootCmd.PersistentFlags().String("endpoint", "", "LLM API endpoint")

	// Inference flags
	rootCmd.PersistentFlags().String("routing-policy", "local_first", "Routing policy (local_first, local_only, cloud_only, latency_optimized, cost_optimized, degradation_ladder)")
	rootCmd.PersistentFlags().Int("max-concurrent-tasks", 10, "Maximum concurrently running background tasks")

	// Observability flags
	rootCmd.PersistentFlags().Bool("observability", false, "Enable OpenTelemetry tracing and metrics")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("provider.name", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("provider.model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("provider.endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))

	_ = viper.BindPFlag("inference.routing_policy", rootCmd.PersistentFlags().Lookup("routing-policy"))
	_ = viper.BindPFlag("tasks.max_concurrent_tasks", rootCmd.PersistentFlags().Lookup("max-concurrent-tasks"))

	_ = viper.BindPFlag("observability.enabled", rootCmd.PersistentFlags().Lookup("observability"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initRuntime reads the config file, env and flags, then installs the logger.
func initRuntime(*cobra.Command, []string) error {
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	l, err := log.New(loaded.Logging.Level, loaded.Logging.Format)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = l
	restore = log.SetLogger(l)
	return nil
}
