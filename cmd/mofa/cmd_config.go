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
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect MoFA configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration (defaults, config file, MOFA_* env and flags) as YAML.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeSettings(cmd.OutOrStdout(), viper.AllSettings())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the data directory and loaded config file",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Data dir:    %s\n", cfg.DataDir)
		file := viper.ConfigFileUsed()
		if file == "" {
			file = "(none)"
		}
		fmt.Fprintf(out, "Config file: %s\n", file)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

// writeSettings renders settings as YAML with the provider API key masked.
func writeSettings(w io.Writer, settings map[string]any) error {
	if provider, ok := settings["provider"].(map[string]any); ok {
		if key, ok := provider["api_key"].(string); ok && key != "" {
			provider["api_key"] = maskSecret(key)
		}
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
