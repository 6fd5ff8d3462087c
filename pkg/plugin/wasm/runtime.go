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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/observability"
)

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// RuntimeConfig configures the engine shared by every plugin.
type RuntimeConfig struct {
	FuelMetering      bool           `mapstructure:"fuel_metering"`
	EpochInterruption bool           `mapstructure:"epoch_interruption"`
	EpochTick         time.Duration  `mapstructure:"epoch_tick"`
	CacheSize         int            `mapstructure:"cache_size"`
	Limits            ResourceLimits `mapstructure:"limits"`

	Logger *zap.Logger          `mapstructure:"-"`
	Tracer observability.Tracer `mapstructure:"-"`
}

// DefaultRuntimeConfig enables fuel and epoch interruption with a 10ms tick.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		FuelMetering:      true,
		EpochInterruption: true,
		EpochTick:         10 * time.Millisecond,
		CacheSize:         100,
		Limits:            DefaultLimits(),
	}
}

func (c *RuntimeConfig) applyDefaults() {
	def := DefaultRuntimeConfig()
	if c.EpochTick <= 0 {
		c.EpochTick = def.EpochTick
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.Limits == (ResourceLimits{}) {
		c.Limits = def.Limits
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.Tracer = observability.OrNoOp(c.Tracer)
}

// CompiledModule is a module ready to instantiate.
type CompiledModule struct {
	Name        string
	Hash        string
	Size        int
	CompileTime time.Duration
	Manifest    Manifest

	module  *wasmtime.Module
	imports []importRef
}

type importRef struct {
	module string
	name   string
}

// CacheStats reports module cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// HitRate returns hits / lookups, or 0 before the first lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// RuntimeStats aggregates runtime activity.
type RuntimeStats struct {
	ModulesCompiled  uint64
	TotalCompileTime time.Duration
	PluginsCreated   uint64
	ActivePlugins    int64
	TotalExecutions  uint64
	FailedExecutions uint64
	Cache            CacheStats
}

// Runtime owns the wasmtime engine, the compiled module cache and the epoch
// ticker that enforces execution deadlines.
type Runtime struct {
	cfg    RuntimeConfig
	engine *wasmtime.Engine
	logger *zap.Logger
	tracer observability.Tracer

	cacheMu sync.Mutex
	cache   *lru.Cache[string, *CompiledModule]
	byHash  map[string]*CompiledModule
	hits    uint64
	misses  uint64

	modulesCompiled  atomic.Uint64
	compileNanos     atomic.Int64
	pluginsCreated   atomic.Uint64
	activePlugins    atomic.Int64
	totalExecutions  atomic.Uint64
	failedExecutions atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a runtime and starts its epoch ticker.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	cfg.applyDefaults()

	wcfg := wasmtime.NewConfig()
	wcfg.SetConsumeFuel(cfg.FuelMetering)
	wcfg.SetEpochInterruption(cfg.EpochInterruption)

	r := &Runtime{
		cfg:    cfg,
		engine: wasmtime.NewEngineWithConfig(wcfg),
		logger: cfg.Logger,
		tracer: cfg.Tracer,
		byHash: make(map[string]*CompiledModule),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	cache, err := lru.NewWithEvict(cfg.CacheSize, func(_ string, m *CompiledModule) {
		if r.byHash[m.Hash] == m {
			delete(r.byHash, m.Hash)
		}
	})
	if err != nil {
		return nil, wrapError(KindInternal, "create module cache", err)
	}
	r.cache = cache

	if cfg.EpochInterruption {
		go r.tick()
	} else {
		close(r.done)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Runtime) Config() RuntimeConfig { return r.cfg }

func (r *Runtime) tick() {
	defer close(r.done)
	t := time.NewTicker(r.cfg.EpochTick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.engine.IncrementEpoch()
		case <-r.stop:
			return
		}
	}
}

// epochTicks converts a wall-clock budget into epoch deadline ticks.
func (r *Runtime) epochTicks(ms uint64) uint64 {
	tick := uint64(r.cfg.EpochTick / time.Millisecond)
	if tick == 0 {
		tick = 1
	}
	if ms >= ^uint64(0)-tick {
		return ^uint64(0) >> 1
	}
	return (ms+tick-1)/tick + 1
}

// Compile compiles WAT text or a binary module and caches it under name.
// A cached module under the same name is reused while its content hash
// matches; different content under the same name replaces it.
func (r *Runtime) Compile(ctx context.Context, name string, src []byte) (*CompiledModule, error) {
	if name == "" {
		return nil, newError(KindInvalidManifest, "module name is empty")
	}
	if len(src) == 0 {
		return nil, newError(KindCompilation, "module source is empty")
	}
	sum := sha256.Sum256(src)
	hash := hex.EncodeToString(sum[:])

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if m, ok := r.cache.Get(name); ok {
		if m.Hash == hash {
			r.hits++
			return m, nil
		}
		r.cache.Remove(name)
	}
	if m, ok := r.byHash[hash]; ok {
		r.hits++
		alias := *m
		alias.Name = name
		alias.Manifest.Name = name
		r.cache.Add(name, &alias)
		return &alias, nil
	}
	r.misses++

	_, span := r.tracer.StartSpan(ctx, observability.SpanWasmCompile,
		observability.WithAttribute("module", name))
	defer r.tracer.EndSpan(span)

	start := time.Now()
	wasm := src
	if !bytes.HasPrefix(src, wasmMagic) {
		var err error
		if wasm, err = wasmtime.Wat2Wasm(string(src)); err != nil {
			span.RecordError(err)
			return nil, wrapError(KindCompilation, "parse wat "+name, err)
		}
	}
	module, err := wasmtime.NewModule(r.engine, wasm)
	if err != nil {
		span.RecordError(err)
		return nil, wrapError(KindCompilation, "compile "+name, err)
	}
	elapsed := time.Since(start)

	m := &CompiledModule{
		Name:        name,
		Hash:        hash,
		Size:        len(wasm),
		CompileTime: elapsed,
		Manifest:    Manifest{Name: name, Version: "0.0.0", Exports: describeExports(module)},
		module:      module,
		imports:     describeImports(module),
	}
	r.cache.Add(name, m)
	r.byHash[hash] = m
	r.modulesCompiled.Add(1)
	r.compileNanos.Add(int64(elapsed))

	span.SetAttribute("module.size", m.Size)
	r.logger.Debug("wasm_module_compiled",
		zap.String("module", name),
		zap.Int("size", m.Size),
		zap.Duration("compile_time", elapsed))
	return m, nil
}

// CompileWAT compiles WebAssembly text.
func (r *Runtime) CompileWAT(ctx context.Context, name, wat string) (*CompiledModule, error) {
	return r.Compile(ctx, name, []byte(wat))
}

// CachedModule returns the cached module for name.
func (r *Runtime) CachedModule(name string) (*CompiledModule, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.cache.Peek(name)
}

// EvictModule drops name from the cache.
func (r *Runtime) EvictModule(name string) bool {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.cache.Remove(name)
}

// ClearCache drops every cached module.
func (r *Runtime) ClearCache() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache.Purge()
	clear(r.byHash)
}

// Stats returns runtime statistics.
func (r *Runtime) Stats() RuntimeStats {
	r.cacheMu.Lock()
	cache := CacheStats{Entries: r.cache.Len(), Hits: r.hits, Misses: r.misses}
	r.cacheMu.Unlock()
	return RuntimeStats{
		ModulesCompiled:  r.modulesCompiled.Load(),
		TotalCompileTime: time.Duration(r.compileNanos.Load()),
		PluginsCreated:   r.pluginsCreated.Load(),
		ActivePlugins:    r.activePlugins.Load(),
		TotalExecutions:  r.totalExecutions.Load(),
		FailedExecutions: r.failedExecutions.Load(),
		Cache:            cache,
	}
}

// Close stops the epoch ticker. Plugins created by the runtime must be
// stopped first; calls made afterwards can no longer time out.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func describeExports(m *wasmtime.Module) []Export {
	var out []Export
	for _, e := range m.Exports() {
		ex := Export{Name: e.Name()}
		ty := e.Type()
		switch {
		case ty.FuncType() != nil:
			ex.Kind = ExportFunction
			ft := ty.FuncType()
			ex.Params = valKinds(ft.Params())
			ex.Results = valKinds(ft.Results())
		case ty.MemoryType() != nil:
			ex.Kind = ExportMemory
		case ty.TableType() != nil:
			ex.Kind = ExportTable
		default:
			ex.Kind = ExportGlobal
		}
		out = append(out, ex)
	}
	return out
}

func describeImports(m *wasmtime.Module) []importRef {
	var out []importRef
	for _, imp := range m.Imports() {
		ref := importRef{module: imp.Module()}
		if n := imp.Name(); n != nil {
			ref.name = *n
		}
		out = append(out, ref)
	}
	return out
}

func valKinds(vs []*wasmtime.ValType) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Kind().String()
	}
	return out
}

func (m *CompiledModule) checkImports() error {
	for _, imp := range m.imports {
		if imp.module != HostModule {
			return &Error{Kind: KindImportNotFound, Module: imp.module, Name: imp.name}
		}
		if _, ok := lookupHostFunction(imp.name); !ok {
			return &Error{Kind: KindImportNotFound, Module: imp.module, Name: imp.name}
		}
	}
	return nil
}

func (m *CompiledModule) String() string {
	return fmt.Sprintf("%s (%d bytes, %s)", m.Name, m.Size, m.Hash[:12])
}
