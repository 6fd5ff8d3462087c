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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mofa-org/mofa/pkg/hardware"
)

var hardwareCmd = &cobra.Command{
	Use:   "hardware",
	Short: "Show the detected hardware capability",
	RunE: func(cmd *cobra.Command, _ []string) error {
		hw, err := hardware.SystemDetector{}.Detect(cmd.Context())
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(hw, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode hardware capability: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hardwareCmd)
}
