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
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mofa-org/mofa/pkg/types"
)

var wasmCmd = &cobra.Command{
	Use:   "wasm",
	Short: "Work with WebAssembly plugins",
}

var wasmCallCmd = &cobra.Command{
	Use:   "call <file> <function> [i32 args...]",
	Short: "Load a plugin and call one of its exports",
	Long: `Compile a .wasm or .wat plugin with the configured limits and capabilities,
initialize it, call an export taking and returning i32 values, and print the
result along with any messages the guest queued.

Examples:
  mofa wasm call plugins/wasm/math.wat add 2 3`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWasmCall,
}

func init() {
	rootCmd.AddCommand(wasmCmd)
	wasmCmd.AddCommand(wasmCallCmd)
}

func runWasmCall(cmd *cobra.Command, args []string) error {
	callArgs, err := parseI32Args(args[2:])
	if err != nil {
		return err
	}

	a := &app{cfg: cfg, logger: logger, tracer: cfg.NewTracer(logger)}
	defer func() { _ = a.shutdown(context.WithoutCancel(cmd.Context())) }()
	if err := a.buildWasm(); err != nil {
		return err
	}

	path, fn := args[0], args[1]
	pc := a.wasmDefaults
	pc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	ctx := cmd.Context()
	id, err := a.wasm.LoadFile(ctx, path, &pc)
	if err != nil {
		return err
	}
	if err := a.wasm.Initialize(ctx, id); err != nil {
		return err
	}
	result, err := a.wasm.CallI32(ctx, id, fn, callArgs...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result)
	p, err := a.wasm.Plugin(id)
	if err != nil {
		return err
	}
	for _, msg := range p.Host().DrainMessages() {
		fmt.Fprintf(out, "message %s -> %s: %s\n", msg.From, msg.Target, msg.Payload)
	}
	return nil
}

func parseI32Args(args []string) ([]int32, error) {
	out := make([]int32, 0, len(args))
	for _, s := range args {
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not an i32: %w", s, types.ErrInvalidInput)
		}
		out = append(out, int32(v))
	}
	return out, nil
}
