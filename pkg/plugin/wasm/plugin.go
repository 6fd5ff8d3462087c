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
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/plugin"
	"github.com/mofa-org/mofa/pkg/types"
)

const (
	exportMemory     = "memory"
	exportInitialize = "_initialize"
	exportCleanup    = "_cleanup"

	unlimitedFuel = math.MaxInt64
)

// PluginConfig configures one plugin instance.
type PluginConfig struct {
	ID            string             `mapstructure:"id"`
	Limits        ResourceLimits     `mapstructure:"limits"`
	Capabilities  []Capability       `mapstructure:"-"`
	InitialConfig map[string]string  `mapstructure:"config"`
	Tools         types.ToolExecutor `mapstructure:"-"`
}

// NewPluginConfig returns a config with default limits and the ReadConfig
// and SendMessage capabilities. An empty id gets a fresh UUIDv7.
func NewPluginConfig(id string) PluginConfig {
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	return PluginConfig{
		ID:           id,
		Limits:       DefaultLimits(),
		Capabilities: []Capability{CapReadConfig, CapSendMessage},
	}
}

// WithCapability returns a copy of c that also grants caps.
func (c PluginConfig) WithCapability(caps ...Capability) PluginConfig {
	out := c
	out.Capabilities = slices.Clone(c.Capabilities)
	for _, cp := range caps {
		if !slices.Contains(out.Capabilities, cp) {
			out.Capabilities = append(out.Capabilities, cp)
		}
	}
	return out
}

// WithConfig returns a copy of c with key set in the initial config.
func (c PluginConfig) WithConfig(key, value string) PluginConfig {
	out := c
	out.InitialConfig = maps.Clone(c.InitialConfig)
	if out.InitialConfig == nil {
		out.InitialConfig = make(map[string]string)
	}
	out.InitialConfig[key] = value
	return out
}

// WithLimits returns a copy of c using limits.
func (c PluginConfig) WithLimits(limits ResourceLimits) PluginConfig {
	out := c
	out.Limits = limits
	return out
}

// PluginMetrics records guest call outcomes.
type PluginMetrics struct {
	CallCount          uint64
	SuccessCount       uint64
	ErrorCount         uint64
	TotalExecutionTime time.Duration
	AvgExecutionTime   time.Duration
	FuelConsumed       uint64
	LastExecution      time.Time
}

func (m *PluginMetrics) record(d time.Duration, fuel uint64, ok bool, at time.Time) {
	m.CallCount++
	if ok {
		m.SuccessCount++
	} else {
		m.ErrorCount++
	}
	m.TotalExecutionTime += d
	m.AvgExecutionTime = m.TotalExecutionTime / time.Duration(m.CallCount)
	m.FuelConsumed += fuel
	m.LastExecution = at
}

type wasmLinear struct {
	mem   *wasmtime.Memory
	store wasmtime.Storelike
}

func (w wasmLinear) Data() []byte { return w.mem.UnsafeData(w.store) }

func (w wasmLinear) Grow(deltaPages uint32) error {
	_, err := w.mem.Grow(w.store, uint64(deltaPages))
	return err
}

// Plugin is one instantiated module with its own store, host context and
// limits. Calls into the guest are serialised.
type Plugin struct {
	id       string
	cfg      PluginConfig
	manifest Manifest
	module   *CompiledModule
	rt       *Runtime
	host     *HostContext
	logger   *zap.Logger

	// mu serialises guest execution and guards the fields below it.
	mu          sync.Mutex
	store       *wasmtime.Store
	instance    *wasmtime.Instance
	memory      *Memory
	hasMemory   bool
	initialized bool
	fuelBudget  uint64
	callCtx     context.Context
	callErr     error

	stateMu sync.RWMutex
	status  plugin.Status
	metrics PluginMetrics
}

// CreatePlugin instantiates m with cfg's limits and capabilities. The
// plugin starts in the Loaded state.
func (r *Runtime) CreatePlugin(ctx context.Context, m *CompiledModule, cfg PluginConfig) (*Plugin, error) {
	if cfg.ID == "" {
		cfg.ID = NewPluginConfig("").ID
	}
	if cfg.Limits == (ResourceLimits{}) {
		cfg.Limits = r.cfg.Limits
	}
	if err := m.checkImports(); err != nil {
		return nil, err
	}

	initial := make(map[string][]byte, len(cfg.InitialConfig))
	for k, v := range cfg.InitialConfig {
		initial[k] = []byte(v)
	}
	manifest := m.Manifest
	manifest.Capabilities = slices.Clone(cfg.Capabilities)
	manifest.Exports = slices.Clone(m.Manifest.Exports)

	logger := r.logger.With(zap.String("plugin_id", cfg.ID))
	p := &Plugin{
		id:       cfg.ID,
		cfg:      cfg,
		manifest: manifest,
		module:   m,
		rt:       r,
		logger:   logger,
		host: NewHostContext(cfg.ID, HostConfig{
			Capabilities: cfg.Capabilities,
			Config:       initial,
			Tools:        cfg.Tools,
			Logger:       logger,
		}),
		memory: NewMemory(nil, cfg.Limits.MaxMemoryPages),
		status: plugin.Status{State: plugin.StateLoading},
		store:  wasmtime.NewStore(r.engine),
	}
	p.store.Limiter(limit(cfg.Limits.MaxMemoryBytes()), limit(uint64(cfg.Limits.MaxTableElements)),
		limit(uint64(cfg.Limits.MaxInstances)), -1, -1)

	linker := wasmtime.NewLinker(r.engine)
	if err := p.defineHost(linker); err != nil {
		p.setStatus(plugin.Failed(err.Error()))
		return nil, wrapError(KindInstantiation, "define host functions", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.arm(); err != nil {
		p.setStatus(plugin.Failed(err.Error()))
		return nil, err
	}
	p.callCtx, p.callErr = ctx, nil
	inst, err := linker.Instantiate(p.store, m.module)
	p.callCtx = nil
	if err != nil {
		if p.callErr == nil {
			err = wrapError(KindInstantiation, m.Name, err)
		} else {
			err = p.callErr
		}
		p.setStatus(plugin.Failed(err.Error()))
		return nil, err
	}
	p.instance = inst
	if ext := inst.GetExport(p.store, exportMemory); ext != nil && ext.Memory() != nil {
		p.memory = p.memory.bind(wasmLinear{mem: ext.Memory(), store: p.store})
		p.hasMemory = true
	}
	p.setStatus(plugin.Status{State: plugin.StateLoaded})

	r.pluginsCreated.Add(1)
	r.activePlugins.Add(1)
	logger.Info("wasm_plugin_created",
		zap.String("module", m.Name),
		zap.Strings("exports", exportNames(manifest.Exports)))
	return p, nil
}

func limit(v uint64) int64 {
	if v >= math.MaxUint32 {
		return -1
	}
	return int64(v)
}

func exportNames(exports []Export) []string {
	out := make([]string, len(exports))
	for i, e := range exports {
		out[i] = e.Name
	}
	return out
}

// ID returns the plugin id.
func (p *Plugin) ID() string { return p.id }

// Manifest returns the plugin manifest.
func (p *Plugin) Manifest() Manifest { return p.manifest }

// Config returns the plugin configuration.
func (p *Plugin) Config() PluginConfig { return p.cfg }

// Host returns the plugin's host context.
func (p *Plugin) Host() *HostContext { return p.host }

// HasExport reports whether the module exports a function named name.
func (p *Plugin) HasExport(name string) bool { return p.manifest.HasFunction(name) }

// Memory returns the guest's exported memory, or nil when the module
// exports none.
func (p *Plugin) Memory() *Memory {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasMemory {
		return nil
	}
	return p.memory
}

// Status returns the lifecycle status.
func (p *Plugin) Status() plugin.Status {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.status
}

// State returns the lifecycle state.
func (p *Plugin) State() plugin.State { return p.Status().State }

// Metrics returns a snapshot of call metrics.
func (p *Plugin) Metrics() PluginMetrics {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.metrics
}

func (p *Plugin) setStatus(s plugin.Status) {
	p.stateMu.Lock()
	p.status = s
	p.stateMu.Unlock()
}

func (p *Plugin) transition(next plugin.State) error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	s, err := p.status.Transition(next)
	if err != nil {
		return err
	}
	p.status = s
	return nil
}

// Initialize runs the guest's _initialize export once, if it has one.
func (p *Plugin) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if p.manifest.HasFunction(exportInitialize) {
		if _, err := p.invokeLocked(ctx, exportInitialize, nil); err != nil {
			p.setStatus(plugin.Failed(err.Error()))
			return err
		}
	}
	p.initialized = true
	p.logger.Debug("wasm_plugin_initialized")
	return nil
}

// Call invokes the exported function name. Arguments and results use the
// Go types wasmtime maps to WebAssembly values (int32, int64, float32,
// float64). A function with several results returns []wasmtime.Val.
func (p *Plugin) Call(ctx context.Context, name string, args ...any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invokeLocked(ctx, name, args)
}

// CallI32 invokes a function returning a single i32.
func (p *Plugin) CallI32(ctx context.Context, name string, args ...int32) (int32, error) {
	res, err := p.Call(ctx, name, i32Args(args)...)
	if err != nil {
		return 0, err
	}
	v, ok := res.(int32)
	if !ok {
		return 0, &Error{Kind: KindTypeMismatch, Expected: "i32", Actual: fmt.Sprintf("%T", res)}
	}
	return v, nil
}

// CallVoid invokes a function and discards its results.
func (p *Plugin) CallVoid(ctx context.Context, name string, args ...int32) error {
	_, err := p.Call(ctx, name, i32Args(args)...)
	return err
}

func i32Args(args []int32) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func (p *Plugin) invokeLocked(ctx context.Context, name string, args []any) (any, error) {
	tracer := p.rt.tracer
	ctx, span := tracer.StartSpan(ctx, observability.SpanWasmCall,
		observability.WithAttribute(observability.AttrPluginID, p.id),
		observability.WithAttribute("function", name))
	defer tracer.EndSpan(span)

	start := time.Now()
	res, fuel, err := p.execLocked(ctx, name, args)
	elapsed := time.Since(start)

	p.stateMu.Lock()
	p.metrics.record(elapsed, fuel, err == nil, start)
	p.stateMu.Unlock()
	p.host.addExecutionTime(elapsed)
	p.rt.totalExecutions.Add(1)

	result := "success"
	if err != nil {
		result = "failure"
		p.rt.failedExecutions.Add(1)
		span.RecordError(err)
		p.logger.Warn("wasm_call_failed",
			zap.String("function", name),
			zap.String("error_kind", types.KindOf(err)),
			zap.Error(err))
	}
	labels := map[string]string{observability.AttrPluginID: p.id, "function": name, "result": result}
	tracer.RecordMetric(observability.MetricWasmCalls, 1, labels)
	tracer.RecordMetric(observability.MetricWasmCallTimeMs, float64(elapsed.Microseconds())/1000, labels)
	if fuel > 0 {
		tracer.RecordMetric(observability.MetricWasmFuelUsed, float64(fuel), labels)
	}
	return res, err
}

func (p *Plugin) execLocked(ctx context.Context, name string, args []any) (any, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, wrapError(KindExecution, "call "+name, err)
	}
	if st := p.State(); st != plugin.StateLoaded {
		return nil, 0, &Error{
			Kind:    KindExecution,
			Message: fmt.Sprintf("plugin %s is not ready (state %s)", p.id, st),
			Err:     types.ErrInvalidInput,
		}
	}
	fn := p.instance.GetFunc(p.store, name)
	if fn == nil {
		return nil, 0, &Error{Kind: KindExportNotFound, Message: name}
	}
	if err := p.arm(); err != nil {
		return nil, 0, err
	}
	if err := p.transition(plugin.StateRunning); err != nil {
		return nil, 0, err
	}
	p.callCtx, p.callErr = ctx, nil
	res, err := fn.Call(p.store, args...)
	p.callCtx = nil
	fuel := p.fuelUsed()
	if terr := p.transition(plugin.StateLoaded); terr != nil && err == nil {
		err = terr
	}
	if err != nil {
		return nil, fuel, p.classify(err)
	}
	return res, fuel, nil
}

// arm resets the fuel budget and the epoch deadline before guest code runs.
func (p *Plugin) arm() error {
	if p.rt.cfg.FuelMetering {
		fuel := p.cfg.Limits.MaxFuel
		if fuel == 0 {
			fuel = unlimitedFuel
		}
		if err := p.store.SetFuel(fuel); err != nil {
			return wrapError(KindInternal, "set fuel", err)
		}
		p.fuelBudget = fuel
	}
	if p.rt.cfg.EpochInterruption {
		p.store.SetEpochDeadline(p.rt.epochTicks(p.cfg.Limits.MaxExecutionTimeMs))
	}
	return nil
}

func (p *Plugin) fuelUsed() uint64 {
	if !p.rt.cfg.FuelMetering {
		return 0
	}
	left, err := p.store.GetFuel()
	if err != nil || left > p.fuelBudget {
		return 0
	}
	return p.fuelBudget - left
}

func (p *Plugin) classify(err error) error {
	if p.callErr != nil {
		return p.callErr
	}
	var trap *wasmtime.Trap
	if errors.As(err, &trap) {
		if code := trap.Code(); code != nil {
			switch *code {
			case wasmtime.Interrupt:
				return &Error{Kind: KindTimeout, TimeoutMs: p.cfg.Limits.MaxExecutionTimeMs, Err: err}
			case wasmtime.OutOfFuel:
				return &Error{Kind: KindResourceLimit, Message: "fuel exhausted", Err: err}
			case wasmtime.StackOverflow:
				return &Error{Kind: KindResourceLimit, Message: "call stack exhausted", Err: err}
			}
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "all fuel consumed"):
		return &Error{Kind: KindResourceLimit, Message: "fuel exhausted", Err: err}
	case strings.Contains(msg, "interrupt"):
		return &Error{Kind: KindTimeout, TimeoutMs: p.cfg.Limits.MaxExecutionTimeMs, Err: err}
	}
	return &Error{Kind: KindExecution, Err: err}
}

// Stop runs the guest's _cleanup export when present and releases the
// instance. Stopping an unloaded plugin is a no-op.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.State() {
	case plugin.StateUnloaded:
		return nil
	case plugin.StateLoaded:
		if p.manifest.HasFunction(exportCleanup) {
			if _, err := p.invokeLocked(ctx, exportCleanup, nil); err != nil {
				p.logger.Warn("wasm_plugin_cleanup_failed", zap.Error(err))
			}
		}
	}
	if err := p.transition(plugin.StateUnloading); err != nil {
		return err
	}
	p.instance = nil
	p.hasMemory = false
	p.setStatus(plugin.Status{State: plugin.StateUnloaded})
	p.rt.activePlugins.Add(-1)
	p.logger.Info("wasm_plugin_stopped")
	return nil
}

// guestMemory binds the allocator to the caller's exported memory.
func (p *Plugin) guestMemory(c *wasmtime.Caller) (*Memory, error) {
	ext := c.GetExport(exportMemory)
	if ext == nil || ext.Memory() == nil {
		return nil, &Error{Kind: KindExportNotFound, Message: exportMemory}
	}
	return p.memory.bind(wasmLinear{mem: ext.Memory(), store: c}), nil
}

func (p *Plugin) ctx() context.Context {
	if p.callCtx != nil {
		return p.callCtx
	}
	return context.Background()
}

// guard runs a host function body, turning errors and panics into traps.
// The original error is kept so the failed call reports it unchanged.
func (p *Plugin) guard(name string, fn func() (int32, error)) (ret int32, trap *wasmtime.Trap) {
	defer func() {
		if r := recover(); r != nil {
			err := &Error{Kind: KindHostFunction, Message: fmt.Sprintf("%s panicked: %v", name, r), Err: types.ErrFatal}
			p.logger.Error("wasm_host_function_panic", zap.String("function", name), zap.Any("panic", r))
			p.callErr = err
			ret, trap = 0, wasmtime.NewTrap(err.Error())
		}
	}()
	ret, err := fn()
	if err != nil {
		p.callErr = err
		return 0, wasmtime.NewTrap(err.Error())
	}
	return ret, nil
}

// withMemory reads guest memory through the caller.
func (p *Plugin) withMemory(c *wasmtime.Caller, name string, fn func(*Memory) (int32, error)) (int32, *wasmtime.Trap) {
	return p.guard(name, func() (int32, error) {
		mem, err := p.guestMemory(c)
		if err != nil {
			return 0, err
		}
		return fn(mem)
	})
}

// writeOut copies out into the guest buffer when it fits and returns the
// full length so the guest can retry with a larger buffer.
func writeOut(mem *Memory, out []byte, ptr, capacity int32) (int32, error) {
	if len(out) <= int(uint32(capacity)) {
		if err := mem.Write(uint32(ptr), out); err != nil {
			return 0, err
		}
	}
	return int32(len(out)), nil
}

func (p *Plugin) defineHost(l *wasmtime.Linker) error {
	h := p.host
	defs := map[string]any{
		"host_log": func(c *wasmtime.Caller, level, ptr, n int32) *wasmtime.Trap {
			_, trap := p.withMemory(c, "host_log", func(mem *Memory) (int32, error) {
				msg, err := mem.ReadString(uint32(ptr), uint32(n))
				if err != nil {
					return 0, err
				}
				h.Log(LogLevelFromU32(uint32(level)), msg)
				return 0, nil
			})
			return trap
		},
		"host_get_config": func(c *wasmtime.Caller, kp, kl, op, oc int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_get_config", func(mem *Memory) (int32, error) {
				key, err := mem.ReadString(uint32(kp), uint32(kl))
				if err != nil {
					return 0, err
				}
				v, ok, err := h.GetConfig(key)
				if err != nil || !ok {
					return -1, err
				}
				return writeOut(mem, v, op, oc)
			})
		},
		"host_set_config": func(c *wasmtime.Caller, kp, kl, vp, vl int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_set_config", func(mem *Memory) (int32, error) {
				key, err := mem.ReadString(uint32(kp), uint32(kl))
				if err != nil {
					return 0, err
				}
				val, err := mem.Read(uint32(vp), uint32(vl))
				if err != nil {
					return 0, err
				}
				return 0, h.SetConfig(key, val)
			})
		},
		"host_send_message": func(c *wasmtime.Caller, tp, tl, pp, pl int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_send_message", func(mem *Memory) (int32, error) {
				target, err := mem.ReadString(uint32(tp), uint32(tl))
				if err != nil {
					return 0, err
				}
				payload, err := mem.Read(uint32(pp), uint32(pl))
				if err != nil {
					return 0, err
				}
				return 0, h.SendMessage(target, payload)
			})
		},
		"host_call_tool": func(c *wasmtime.Caller, np, nl, ap, al, op, oc int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_call_tool", func(mem *Memory) (int32, error) {
				name, err := mem.ReadString(uint32(np), uint32(nl))
				if err != nil {
					return 0, err
				}
				args, err := mem.Read(uint32(ap), uint32(al))
				if err != nil {
					return 0, err
				}
				out, err := h.CallTool(p.ctx(), name, args)
				if err != nil {
					return 0, err
				}
				return writeOut(mem, out, op, oc)
			})
		},
		"host_storage_get": func(c *wasmtime.Caller, kp, kl, op, oc int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_storage_get", func(mem *Memory) (int32, error) {
				key, err := mem.ReadString(uint32(kp), uint32(kl))
				if err != nil {
					return 0, err
				}
				v, ok, err := h.StorageGet(key)
				if err != nil || !ok {
					return -1, err
				}
				return writeOut(mem, v, op, oc)
			})
		},
		"host_storage_set": func(c *wasmtime.Caller, kp, kl, vp, vl int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_storage_set", func(mem *Memory) (int32, error) {
				key, err := mem.ReadString(uint32(kp), uint32(kl))
				if err != nil {
					return 0, err
				}
				val, err := mem.Read(uint32(vp), uint32(vl))
				if err != nil {
					return 0, err
				}
				return 0, h.StorageSet(key, val)
			})
		},
		"host_storage_delete": func(c *wasmtime.Caller, kp, kl int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_storage_delete", func(mem *Memory) (int32, error) {
				key, err := mem.ReadString(uint32(kp), uint32(kl))
				if err != nil {
					return 0, err
				}
				removed, err := h.StorageDelete(key)
				if removed {
					return 1, err
				}
				return 0, err
			})
		},
		"host_now_ms": func() int64 {
			return h.NowMs()
		},
		"host_random_bytes": func(c *wasmtime.Caller, op, n int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_random_bytes", func(mem *Memory) (int32, error) {
				buf, err := h.RandomBytes(uint32(n))
				if err != nil {
					return 0, err
				}
				return 0, mem.Write(uint32(op), buf)
			})
		},
		"host_sleep_ms": func(ms int64) (int32, *wasmtime.Trap) {
			return p.guard("host_sleep_ms", func() (int32, error) {
				if ms < 0 {
					ms = 0
				}
				return 0, h.SleepMs(p.ctx(), uint64(ms))
			})
		},
		"host_call_custom": func(c *wasmtime.Caller, np, nl, ap, al, op, oc int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_call_custom", func(mem *Memory) (int32, error) {
				name, err := mem.ReadString(uint32(np), uint32(nl))
				if err != nil {
					return 0, err
				}
				args, err := mem.Read(uint32(ap), uint32(al))
				if err != nil {
					return 0, err
				}
				out, err := h.CallCustom(p.ctx(), name, args)
				if err != nil {
					return 0, err
				}
				return writeOut(mem, out, op, oc)
			})
		},
		"host_alloc": func(c *wasmtime.Caller, size int32) (int32, *wasmtime.Trap) {
			return p.withMemory(c, "host_alloc", func(mem *Memory) (int32, error) {
				ptr, err := mem.Alloc(uint32(size))
				return int32(ptr), err
			})
		},
		"host_free": func(c *wasmtime.Caller, ptr int32) *wasmtime.Trap {
			_, trap := p.withMemory(c, "host_free", func(mem *Memory) (int32, error) {
				mem.Free(uint32(ptr))
				return 0, nil
			})
			return trap
		},
	}
	for _, spec := range hostFunctions {
		fn, ok := defs[spec.Name]
		if !ok {
			return fmt.Errorf("host function %s has no implementation", spec.Name)
		}
		if err := l.FuncWrap(HostModule, spec.Name, fn); err != nil {
			return fmt.Errorf("define %s.%s: %w", HostModule, spec.Name, err)
		}
	}
	return nil
}
