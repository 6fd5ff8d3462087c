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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/circuitbreaker"
	"github.com/mofa-org/mofa/pkg/config"
	"github.com/mofa-org/mofa/pkg/hardware"
	"github.com/mofa-org/mofa/pkg/inference"
	"github.com/mofa-org/mofa/pkg/llm"
	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/plugin/native"
	"github.com/mofa-org/mofa/pkg/plugin/wasm"
	"github.com/mofa-org/mofa/pkg/scheduler"
	"github.com/mofa-org/mofa/pkg/store"
	"github.com/mofa-org/mofa/pkg/tasks"
	"github.com/mofa-org/mofa/pkg/types"
)

// Maintenance job names registered with the scheduler.
const (
	jobEvictIdle    = "inference.evict_idle"
	jobStoreCompact = "store.compact"
)

// compactor is a file-backed store whose leftover temp files can be swept.
type compactor interface {
	Dir() string
	RemoveStaleTemps() (int, error)
}

// appOptions overrides collaborators that are otherwise built from config.
type appOptions struct {
	Provider types.LLMProvider
	Detector hardware.Detector
}

// app is the set of runtime components wired from one RuntimeConfig.
type app struct {
	cfg    *config.RuntimeConfig
	logger *zap.Logger
	tracer observability.Tracer

	inference *inference.Orchestrator
	tasks     *tasks.Orchestrator
	breaker   *circuitbreaker.CircuitBreaker
	limiter   *llm.RateLimiter

	loader    *native.Loader
	hotReload *native.HotReloadManager

	wasmRuntime  *wasm.Runtime
	wasm         *wasm.Manager
	wasmDefaults wasm.PluginConfig

	scheduler *scheduler.Scheduler

	compactors []compactor
	closers    []func() error

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// newApp builds every enabled component. Nothing runs in the background
// until start is called.
func newApp(ctx context.Context, cfg *config.RuntimeConfig, logger *zap.Logger, opts appOptions) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, logger: logger, tracer: cfg.NewTracer(logger)}

	built := false
	defer func() {
		if !built {
			_ = a.shutdown(context.WithoutCancel(ctx))
		}
	}()

	if err := a.buildInference(ctx, opts.Detector); err != nil {
		return nil, err
	}
	if err := a.buildTasks(opts.Provider); err != nil {
		return nil, err
	}
	if cfg.Plugins.Native.Enabled {
		if err := a.buildNative(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Plugins.Wasm.Enabled {
		if err := a.buildWasm(); err != nil {
			return nil, err
		}
	}
	if cfg.Scheduler.Enabled {
		if err := a.buildScheduler(ctx); err != nil {
			return nil, err
		}
	}

	built = true
	return a, nil
}

func (a *app) buildInference(ctx context.Context, detector hardware.Detector) error {
	ic, err := a.cfg.ToOrchestratorConfig()
	if err != nil {
		return err
	}
	ic.Logger = a.logger.Named("inference")
	ic.Tracer = a.tracer
	if detector == nil {
		detector = hardware.SystemDetector{}
	}
	a.inference, err = inference.New(ctx, ic, detector)
	if err != nil {
		return fmt.Errorf("failed to create inference orchestrator: %w", err)
	}
	return nil
}

func (a *app) buildTasks(provider types.LLMProvider) error {
	if provider == nil {
		var err error
		if provider, err = a.cfg.NewProvider(); err != nil {
			return fmt.Errorf("failed to create LLM provider: %w", err)
		}
	}
	provider = llm.NewRetryExecutor(provider, a.cfg.Retry,
		llm.WithRetryLogger(a.logger.Named("retry")),
		llm.WithRetryTracer(a.tracer))
	provider = llm.NewInstrumentedProvider(provider, a.tracer)

	bc := a.cfg.ToBreakerConfig()
	bc.Logger = a.logger.Named("breaker")
	bc.Tracer = a.tracer
	a.breaker = circuitbreaker.New(bc)

	tc := a.cfg.ToTasksConfig()
	tc.Budget = a.cfg.NewBudgetEnforcer(a.logger.Named("budget"))
	tc.Breaker = a.breaker
	if a.cfg.RateLimit.Enabled {
		a.limiter = llm.NewRateLimiter(a.cfg.ToRateLimiterConfig(a.logger.Named("rate_limiter")))
		tc.RateLimiter = a.limiter
	}
	tc.Logger = a.logger.Named("tasks")
	tc.Tracer = a.tracer
	a.tasks = tasks.New(provider, tc)
	return nil
}

func (a *app) buildNative(ctx context.Context) error {
	lc := a.cfg.ToLoaderConfig()
	lc.Logger = a.logger.Named("native")
	lc.Tracer = a.tracer
	a.loader = native.NewLoader(lc)

	repo, err := openRepository[native.Snapshot](ctx, a, "snapshots")
	if err != nil {
		return err
	}
	sc := a.cfg.ToSnapshotConfig()
	sc.Logger = a.logger.Named("snapshots")

	hc, err := a.cfg.ToHotReloadConfig()
	if err != nil {
		return err
	}
	hc.Logger = a.logger.Named("hot_reload")
	hc.Tracer = a.tracer
	a.hotReload, err = native.NewHotReloadManager(a.loader, native.NewSnapshotManager(sc, repo), hc)
	if err != nil {
		return fmt.Errorf("failed to create hot reload manager: %w", err)
	}
	return nil
}

func (a *app) buildWasm() error {
	rc := a.cfg.ToWasmRuntimeConfig()
	rc.Logger = a.logger.Named("wasm")
	rc.Tracer = a.tracer
	rt, err := wasm.NewRuntime(rc)
	if err != nil {
		return fmt.Errorf("failed to create wasm runtime: %w", err)
	}
	a.wasmRuntime = rt

	mc, err := a.cfg.ToWasmManagerConfig()
	if err != nil {
		return err
	}
	mc.Logger = a.logger.Named("wasm")
	a.wasmDefaults = mc.DefaultPlugin
	a.wasm = wasm.NewManager(rt, mc)
	return nil
}

func (a *app) buildScheduler(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	history, err := openRepository[scheduler.Record](ctx, a, "jobs")
	if err != nil {
		return err
	}
	a.scheduler = scheduler.New(scheduler.Config{
		History:  history,
		Location: loc,
		Logger:   a.logger.Named("scheduler"),
		Tracer:   a.tracer,
	})

	jobs := []scheduler.Job{{
		Name:          jobEvictIdle,
		Spec:          scheduler.Every(a.cfg.EvictIdleInterval()),
		Run:           a.evictIdle,
		SkipIfRunning: true,
	}}
	if interval := a.cfg.Scheduler.StoreCompactInterval; interval > 0 && len(a.compactors) > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:          jobStoreCompact,
			Spec:          scheduler.Every(interval),
			Run:           a.compactStores,
			SkipIfRunning: true,
		})
	}
	for _, j := range jobs {
		if err := a.scheduler.Add(ctx, j); err != nil {
			return fmt.Errorf("failed to register job %s: %w", j.Name, err)
		}
	}
	return nil
}

// openRepository opens the named collection on the configured backend.
func openRepository[T any](ctx context.Context, a *app, name string) (store.Repository[T], error) {
	logger := a.logger.Named("store")
	switch a.cfg.Store.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(a.cfg.Store.Path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		s, err := store.NewSQLiteStore[T](ctx, a.cfg.Store.Path, name, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", name, err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		s, err := store.New[T](filepath.Join(a.cfg.Store.Dir, name), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", name, err)
		}
		a.compactors = append(a.compactors, s)
		return s, nil
	}
}

// start launches the plugin watchers, loads WASM plugins from the plugin
// directory and starts the scheduler.
func (a *app) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	drain(a, a.tasks.Subscribe(runCtx), func(r tasks.Result) {
		a.logger.Debug("task_result",
			zap.String("task_id", r.TaskID),
			zap.String("routing_key", r.Origin.RoutingKey),
			zap.Bool("success", r.Success))
	})

	if a.hotReload != nil {
		for _, dir := range a.cfg.Plugins.Native.HotReload.PluginDirs {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create plugin directory: %w", err)
			}
		}
		drain(a, a.hotReload.Subscribe(runCtx), func(ev native.ReloadEvent) {
			a.logger.Debug("native_plugin_event",
				zap.Stringer("type", ev.Type),
				zap.String("plugin_id", ev.PluginID),
				zap.String("path", ev.Path),
				zap.String("error", ev.Error))
		})
		if err := a.hotReload.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start hot reload: %w", err)
		}
	}

	if a.wasm != nil {
		drain(a, a.wasm.Subscribe(runCtx), func(ev wasm.Event) {
			if ev.Type == wasm.EventError {
				a.logger.Warn("wasm_plugin_error", zap.String("plugin_id", ev.PluginID), zap.String("error", ev.Error))
			}
		})
		if _, err := a.loadWasmDir(runCtx); err != nil {
			return err
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// drain hands every value from ch to fn until ch is closed.
func drain[T any](a *app, ch <-chan T, fn func(T)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for v := range ch {
			fn(v)
		}
	}()
}

// loadWasmDir loads and initializes every .wasm and .wat file in the
// plugin directory, keyed by file name. Plugins that fail are logged and
// skipped.
func (a *app) loadWasmDir(ctx context.Context) ([]string, error) {
	dir := a.cfg.Plugins.Wasm.PluginDir
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm plugin directory: %w", err)
	}

	var loaded []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".wasm" && ext != ".wat") {
			continue
		}
		pc := a.wasmDefaults
		pc.ID = strings.TrimSuffix(e.Name(), ext)
		path := filepath.Join(dir, e.Name())

		id, err := a.wasm.LoadFile(ctx, path, &pc)
		if err != nil {
			a.logger.Warn("wasm_plugin_load_failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := a.wasm.Initialize(ctx, id); err != nil {
			a.logger.Warn("wasm_plugin_init_failed", zap.String("plugin_id", id), zap.Error(err))
			continue
		}
		loaded = append(loaded, id)
	}
	a.logger.Info("wasm_plugins_loaded", zap.String("dir", dir), zap.Strings("plugins", loaded))
	return loaded, nil
}

func (a *app) evictIdle(context.Context) error {
	if evicted := a.inference.EvictIdle(); len(evicted) > 0 {
		a.logger.Info("idle_models_evicted", zap.Strings("models", evicted))
	}
	return nil
}

func (a *app) compactStores(ctx context.Context) error {
	var errs []error
	removed := 0
	for _, c := range a.compactors {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.RemoveStaleTemps()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Dir(), err))
			continue
		}
		removed += n
	}
	if removed > 0 {
		a.logger.Info("store_temps_removed", zap.Int("count", removed))
	}
	return errors.Join(errs...)
}

// shutdown stops components in reverse dependency order. It is safe to
// call on a partially built app and more than once.
func (a *app) shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx) })
	return a.stopErr
}

func (a *app) stop(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop(ctx))
	}
	if a.tasks != nil {
		a.tasks.Close()
	}
	if a.hotReload != nil {
		errs = append(errs, a.hotReload.Stop())
	}
	if a.loader != nil {
		errs = append(errs, a.loader.Close())
	}
	if a.wasm != nil {
		errs = append(errs, a.wasm.Close(ctx))
	}
	if a.wasmRuntime != nil {
		errs = append(errs, a.wasmRuntime.Close())
	}
	if a.limiter != nil {
		errs = append(errs, a.limiter.Close())
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
