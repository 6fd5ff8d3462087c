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
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/tasks"
	"github.com/mofa-org/mofa/pkg/types"
)

var (
	runTimeout    time.Duration
	runRoutingKey string
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single background task and print its result",
	Long: `Spawn one task on the task orchestrator with the configured provider,
budget, circuit breaker and rate limiter, and wait for its result.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Minute, "Maximum time to wait for the result")
	runCmd.Flags().StringVar(&runRoutingKey, "routing-key", "cli", "Routing key recorded as the task origin")
}

func runTask(cmd *cobra.Command, args []string) error {
	a := &app{cfg: cfg, logger: logger, tracer: cfg.NewTracer(logger)}
	defer func() { _ = a.shutdown(context.WithoutCancel(cmd.Context())) }()
	if err := a.buildTasks(nil); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()
	res, err := runPrompt(ctx, a.tasks, args[0], tasks.NewOrigin(runRoutingKey))
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("task %s failed: %s", res.TaskID, res.Content)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Content)
	return nil
}

// runPrompt spawns prompt and waits for the matching result.
func runPrompt(ctx context.Context, o *tasks.Orchestrator, prompt string, origin tasks.Origin) (tasks.Result, error) {
	results := o.Subscribe(ctx)
	id, err := o.Spawn(prompt, origin)
	if err != nil {
		return tasks.Result{}, err
	}
	logger.Debug("task_spawned", zap.String("task_id", id))

	for {
		select {
		case r, ok := <-results:
			if !ok {
				if err := ctx.Err(); err != nil {
					return tasks.Result{}, fmt.Errorf("task %s: %w", id, err)
				}
				return tasks.Result{}, fmt.Errorf("task %s: result stream closed: %w", id, types.ErrFatal)
			}
			if r.TaskID == id {
				return r, nil
			}
		case <-ctx.Done():
			return tasks.Result{}, fmt.Errorf("task %s: %w", id, ctx.Err())
		}
	}
}
