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
package wasm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/plugin"
	"github.com/mofa-org/mofa/pkg/types"
)

const addWAT = `(module
  (func (export "add") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    i32.add)
  (func (export "double") (param i32) (result i32)
    local.get 0
    i32.const 2
    i32.mul)
  (func (export "noop"))
  (func (export "boom") unreachable))`

const spinWAT = `(module
  (func (export "spin")
    (loop $l (br $l))))`

const storageWAT = `(module
  (import "env" "host_storage_set" (func $set (param i32 i32 i32 i32) (result i32)))
  (import "env" "host_storage_get" (func $get (param i32 i32 i32 i32) (result i32)))
  (memory (export "memory") 1)
  (data (i32.const 0) "keyvalue")
  (func (export "put") (result i32)
    (call $set (i32.const 0) (i32.const 3) (i32.const 3) (i32.const 5)))
  (func (export "get") (result i32)
    (call $get (i32.const 0) (i32.const 3) (i32.const 100) (i32.const 16))))`

const lifecycleWAT = `(module
  (import "env" "host_send_message" (func $send (param i32 i32 i32 i32) (result i32)))
  (memory (export "memory") 1)
  (data (i32.const 0) "hostbye!")
  (global $ready (mut i32) (i32.const 0))
  (func (export "_initialize")
    (global.set $ready (i32.const 1)))
  (func (export "ready") (result i32)
    (global.get $ready))
  (func (export "_cleanup")
    (drop (call $send (i32.const 0) (i32.const 4) (i32.const 4) (i32.const 4)))))`

const allocWAT = `(module
  (import "env" "host_alloc" (func $alloc (param i32) (result i32)))
  (import "env" "host_free" (func $free (param i32)))
  (memory (export "memory") 1 4)
  (func (export "alloc") (param i32) (result i32)
    (call $alloc (local.get 0)))
  (func (export "free") (param i32)
    (call $free (local.get 0))))`

func newTestRuntime(t *testing.T, mutate ...func(*RuntimeConfig)) (*Runtime, *observability.MockTracer) {
	t.Helper()
	tracer := observability.NewMockTracer()
	cfg := DefaultRuntimeConfig()
	cfg.Tracer = tracer
	for _, fn := range mutate {
		fn(&cfg)
	}
	rt, err := NewRuntime(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, tracer
}

func newTestPlugin(t *testing.T, rt *Runtime, wat string, cfg PluginConfig) *Plugin {
	t.Helper()
	ctx := context.Background()
	mod, err := rt.CompileWAT(ctx, cfg.ID, wat)
	require.NoError(t, err)
	p, err := rt.CreatePlugin(ctx, mod, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestPlugin_CallsExports(t *testing.T) {
	rt, tracer := newTestRuntime(t)
	p := newTestPlugin(t, rt, addWAT, NewPluginConfig("math"))
	ctx := context.Background()

	assert.Equal(t, plugin.StateLoaded, p.State())
	assert.True(t, p.HasExport("add"))
	assert.Nil(t, p.Memory(), "module exports no memory")

	sum, err := p.CallI32(ctx, "add", 2, 40)
	require.NoError(t, err)
	assert.Equal(t, int32(42), sum)

	d, err := p.Call(ctx, "double", int32(21))
	require.NoError(t, err)
	assert.Equal(t, int32(42), d)

	require.NoError(t, p.CallVoid(ctx, "noop"))

	_, err = p.CallI32(ctx, "noop")
	requireKind(t, err, KindTypeMismatch)

	m := p.Metrics()
	assert.Equal(t, uint64(4), m.CallCount)
	assert.Equal(t, uint64(4), m.SuccessCount)
	assert.Positive(t, m.FuelConsumed)
	assert.Len(t, tracer.GetSpansByName(observability.SpanWasmCall), 4)
	assert.Equal(t, float64(4), tracer.MetricTotal(observability.MetricWasmCalls))
}

func TestPlugin_ExecutionErrors(t *testing.T) {
	rt, _ := newTestRuntime(t)
	p := newTestPlugin(t, rt, addWAT, NewPluginConfig("math"))
	ctx := context.Background()

	_, err := p.Call(ctx, "missing")
	requireKind(t, err, KindExportNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = p.Call(ctx, "boom")
	requireKind(t, err, KindExecution)
	assert.ErrorIs(t, err, types.ErrFatal)
	assert.Equal(t, plugin.StateLoaded, p.State(), "a trap leaves the plugin usable")

	sum, err := p.CallI32(ctx, "add", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), sum)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.CallI32(cancelled, "add", 1, 1)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, uint64(3), p.Metrics().ErrorCount)
	assert.Equal(t, uint64(3), rt.Stats().FailedExecutions)
}

func TestPlugin_InfiniteLoopHitsTimeLimit(t *testing.T) {
	rt, tracer := newTestRuntime(t)
	limits := DefaultLimits()
	limits.MaxExecutionTimeMs = 100
	limits.MaxFuel = 0
	p := newTestPlugin(t, rt, spinWAT, NewPluginConfig("spinner").WithLimits(limits))

	start := time.Now()
	err := p.CallVoid(context.Background(), "spin")
	elapsed := time.Since(start)

	require.Error(t, err)
	werr := requireKind(t, err, KindTimeout)
	assert.Equal(t, uint64(100), werr.TimeoutMs)
	assert.ErrorIs(t, err, types.ErrResourceLimit)
	assert.Less(t, elapsed, 2*time.Second)

	m := p.Metrics()
	assert.Equal(t, uint64(1), m.CallCount)
	assert.Equal(t, uint64(1), m.ErrorCount)
	assert.Equal(t, float64(1), tracer.MetricTotal(observability.MetricWasmCalls))
	assert.Equal(t, plugin.StateLoaded, p.State())
}

func TestPlugin_InfiniteLoopExhaustsFuel(t *testing.T) {
	rt, _ := newTestRuntime(t)
	limits := RestrictiveLimits()
	limits.MaxFuel = 10_000
	p := newTestPlugin(t, rt, spinWAT, NewPluginConfig("spinner").WithLimits(limits))

	err := p.CallVoid(context.Background(), "spin")
	werr := requireKind(t, err, KindResourceLimit)
	assert.Contains(t, werr.Error(), "fuel exhausted")
	assert.ErrorIs(t, err, types.ErrResourceLimit)
	assert.GreaterOrEqual(t, p.Metrics().FuelConsumed, uint64(9_000))
}

func TestPlugin_HostFunctionsAreCapabilityGated(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	denied := newTestPlugin(t, rt, storageWAT, NewPluginConfig("no-storage"))
	_, err := denied.CallI32(ctx, "put")
	werr := requireKind(t, err, KindHostFunction)
	assert.Contains(t, werr.Error(), "lacks required capability: storage")
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)
	assert.Zero(t, denied.Host().Metrics().StorageWrites)

	allowed := newTestPlugin(t, rt, storageWAT, NewPluginConfig("storage").WithCapability(CapStorage))
	rc, err := allowed.CallI32(ctx, "put")
	require.NoError(t, err)
	assert.Zero(t, rc)

	v, ok, err := allowed.Host().StorageGet("key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", string(v))

	n, err := allowed.CallI32(ctx, "get")
	require.NoError(t, err)
	assert.Equal(t, int32(5), n)
	s, err := allowed.Memory().ReadString(100, 5)
	require.NoError(t, err)
	assert.Equal(t, "value", s)
}

func TestPlugin_LifecycleHooks(t *testing.T) {
	rt, _ := newTestRuntime(t)
	p := newTestPlugin(t, rt, lifecycleWAT, NewPluginConfig("life"))
	ctx := context.Background()

	ready, err := p.CallI32(ctx, "ready")
	require.NoError(t, err)
	assert.Zero(t, ready)

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Initialize(ctx))
	ready, err = p.CallI32(ctx, "ready")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ready)
	assert.Equal(t, int64(1), rt.Stats().ActivePlugins)

	require.NoError(t, p.Stop(ctx))
	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, plugin.StateUnloaded, p.State())
	assert.Zero(t, rt.Stats().ActivePlugins)

	msgs := p.Host().DrainMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "host", msgs[0].Target)
	assert.Equal(t, "bye!", string(msgs[0].Payload))

	_, err = p.CallI32(ctx, "ready")
	requireKind(t, err, KindExecution)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestPlugin_GuestAllocationHonoursPageLimit(t *testing.T) {
	rt, _ := newTestRuntime(t)
	limits := DefaultLimits()
	limits.MaxMemoryPages = 4
	p := newTestPlugin(t, rt, allocWAT, NewPluginConfig("alloc").WithLimits(limits))
	ctx := context.Background()

	ptr, err := p.CallI32(ctx, "alloc", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(PageSize), ptr)
	assert.Equal(t, uint32(2), p.Memory().Pages())

	next, err := p.CallI32(ctx, "alloc", 8)
	require.NoError(t, err)
	assert.Equal(t, ptr+8, next)

	require.NoError(t, p.CallVoid(ctx, "free", ptr))
	assert.Equal(t, 1, p.Memory().Stats().FreedRegions)

	_, err = p.CallI32(ctx, "alloc", 5*PageSize)
	requireKind(t, err, KindResourceLimit)
	assert.Equal(t, uint32(2), p.Memory().Pages())
}

func TestRuntime_CreatePluginRejectsUnknownImports(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	tests := map[string]string{
		"unknown host function": `(module (import "env" "host_nope" (func)))`,
		"foreign module":        `(module (import "wasi_snapshot_preview1" "fd_write" (func (param i32 i32 i32 i32) (result i32))))`,
	}
	for name, wat := range tests {
		t.Run(name, func(t *testing.T) {
			mod, err := rt.CompileWAT(ctx, name, wat)
			require.NoError(t, err)
			_, err = rt.CreatePlugin(ctx, mod, NewPluginConfig(""))
			requireKind(t, err, KindImportNotFound)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
}
