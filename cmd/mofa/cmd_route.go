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
	"strings"

	"github.com/spf13/cobra"

	"github.com/mofa-org/mofa/pkg/inference"
	"github.com/mofa-org/mofa/pkg/types"
)

var (
	routeMemoryMB  int
	routePrecision string
	routePriority  string
	routeTask      string
)

var routeCmd = &cobra.Command{
	Use:   "route <model-id> [prompt]",
	Short: "Route one inference request and show the decision",
	Long: `Admit a request against detected hardware and the configured memory
budget, then print where it ran and at which precision.

Examples:
  mofa route llama-3-8b "hello" --memory-mb 8192
  mofa route whisper-small --task asr --priority high`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.Flags().IntVar(&routeMemoryMB, "memory-mb", 1024, "Memory the model needs at F16")
	routeCmd.Flags().StringVar(&routePrecision, "precision", "f16", "Preferred precision (f32, f16, q8, q4)")
	routeCmd.Flags().StringVar(&routePriority, "priority", "normal", "Request priority (low, normal, high, critical)")
	routeCmd.Flags().StringVar(&routeTask, "task", "", "Task type for the smart router (llm, asr, tts, embedding, vlm)")
}

func runRoute(cmd *cobra.Command, args []string) error {
	req, task, err := buildRouteRequest(args)
	if err != nil {
		return err
	}

	a := &app{cfg: cfg, logger: logger, tracer: cfg.NewTracer(logger)}
	if err := a.buildInference(cmd.Context(), nil); err != nil {
		return err
	}

	var res *inference.Result
	if routeTask != "" {
		res, err = a.inference.InferRouted(cmd.Context(), req, task)
	} else {
		res, err = a.inference.Infer(cmd.Context(), req)
	}
	if err != nil {
		return err
	}
	printRouteResult(cmd.OutOrStdout(), res)
	return nil
}

func buildRouteRequest(args []string) (inference.Request, inference.TaskType, error) {
	prompt := ""
	if len(args) > 1 {
		prompt = args[1]
	}
	req := inference.NewRequest(args[0], prompt, routeMemoryMB)

	precision, err := inference.ParsePrecision(routePrecision)
	if err != nil {
		return req, 0, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	req.PreferredPrecision = precision

	priority, err := parsePriority(routePriority)
	if err != nil {
		return req, 0, err
	}
	req = req.WithPriority(priority)

	var task inference.TaskType
	if routeTask != "" {
		var ok bool
		if task, ok = inference.ParseTaskType(routeTask); !ok {
			return req, 0, fmt.Errorf("unknown task type %q: %w", routeTask, types.ErrInvalidInput)
		}
	}
	return req, task, nil
}

func parsePriority(s string) (inference.Priority, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, p := range []inference.Priority{
		inference.PriorityLow,
		inference.PriorityNormal,
		inference.PriorityHigh,
		inference.PriorityCritical,
	} {
		if p.String() == norm {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q: %w", s, types.ErrInvalidInput)
}

func printRouteResult(w io.Writer, res *inference.Result) {
	fmt.Fprintf(w, "Routed to: %s\n", res.RoutedTo)
	fmt.Fprintf(w, "Precision: %s\n", res.ActualPrecision)
	if res.Adapter != "" {
		fmt.Fprintf(w, "Adapter:   %s\n", res.Adapter)
	}
	if res.QualityWarning != "" {
		fmt.Fprintf(w, "Warning:   %s\n", res.QualityWarning)
	}
	if res.Output != "" {
		fmt.Fprintf(w, "Output:    %s\n", res.Output)
	}
}
