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
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/budget"
	"github.com/mofa-org/mofa/pkg/circuitbreaker"
	"github.com/mofa-org/mofa/pkg/inference"
	"github.com/mofa-org/mofa/pkg/llm"
	"github.com/mofa-org/mofa/pkg/llm/factory"
	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/plugin/native"
	"github.com/mofa-org/mofa/pkg/plugin/wasm"
	"github.com/mofa-org/mofa/pkg/tasks"
	"github.com/mofa-org/mofa/pkg/types"
)

const (
	// EnvPrefix is prepended to environment overrides (MOFA_LOGGING_LEVEL).
	EnvPrefix = "MOFA"
	// DefaultConfigFileName is the config file searched for without extension.
	DefaultConfigFileName = "mofa"
)

// RuntimeConfig aggregates the configuration of every runtime component.
// Priority: CLI flags > environment > config file > defaults.
type RuntimeConfig struct {
	// DataDir is resolved from MOFA_DATA_DIR and never read from the file.
	DataDir string `mapstructure:"-"`

	Provider       factory.Config        `mapstructure:"provider"`
	Inference      InferenceConfig       `mapstructure:"inference"`
	Tasks          tasks.Config          `mapstructure:"tasks"`
	Budget         BudgetConfig          `mapstructure:"budget"`
	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`
	Retry          llm.RetryPolicy       `mapstructure:"retry"`
	RateLimit      llm.RateLimiterConfig `mapstructure:"rate_limit"`
	Plugins        PluginsConfig         `mapstructure:"plugins"`
	Store          StoreConfig           `mapstructure:"store"`
	Logging        LoggingConfig         `mapstructure:"logging"`
	Observability  ObservabilityConfig   `mapstructure:"observability"`
	Scheduler      SchedulerConfig       `mapstructure:"scheduler"`
}

// InferenceConfig is inference.Config plus the routing policy by name.
type InferenceConfig struct {
	inference.Config `mapstructure:",squash"`
	Policy           string `mapstructure:"routing_policy"`
}

// BudgetConfig holds the default limits and per-agent overrides.
type BudgetConfig struct {
	Default budget.Config            `mapstructure:"default"`
	Agents  map[string]budget.Config `mapstructure:"agents"`
}

// PluginsConfig groups the native and WASM plugin settings.
type PluginsConfig struct {
	Native NativeConfig        `mapstructure:"native"`
	Watch  native.WatchConfig `mapstructure:"watch"`
	Wasm   WasmConfig         `mapstructure:"wasm"`
}

// NativeConfig configures the native loader and hot reload manager.
type NativeConfig struct {
	Enabled    bool                   `mapstructure:"enabled"`
	Strategy   string                 `mapstructure:"strategy"` // immediate, manual, debounced:<d>, on_idle:<d>
	MaxHistory int                    `mapstructure:"max_history"`
	Loader     native.LoaderConfig    `mapstructure:"loader"`
	HotReload  native.HotReloadConfig `mapstructure:"hot_reload"`
}

// WasmConfig configures the WASM runtime and the default plugin grant.
type WasmConfig struct {
	wasm.RuntimeConfig `mapstructure:",squash"`
	Enabled            bool     `mapstructure:"enabled"`
	PluginDir          string   `mapstructure:"plugin_dir"`
	Capabilities       []string `mapstructure:"capabilities"`
	EventBuffer        int      `mapstructure:"event_buffer"`
	UnloadWorkers      int      `mapstructure:"unload_workers"`
}

// StoreConfig selects where records are persisted.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "sqlite"
	// Dir holds one subdirectory per record kind for the file backend.
	Dir string `mapstructure:"dir"`
	// Path is the database file for the sqlite backend.
	Path string `mapstructure:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// ObservabilityConfig configures tracing.
type ObservabilityConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// SchedulerConfig configures the maintenance jobs.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// EvictIdleInterval defaults to half the inference idle timeout.
	EvictIdleInterval    time.Duration `mapstructure:"evict_idle_interval"`
	StoreCompactInterval time.Duration `mapstructure:"store_compact_interval"`
	Timezone             string        `mapstructure:"timezone"`
}

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// LoadRuntimeConfig loads configuration into a fresh viper instance.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	return Load(viper.New(), path)
}

// Load reads configuration through v, which may already carry bound flags.
// An empty path searches the data directory, the working directory and
// /etc/mofa for mofa.yaml; a missing file is not an error.
func Load(v *viper.Viper, path string) (*RuntimeConfig, error) {
	dataDir := GetDataDir()
	setDefaults(v, dataDir)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(dataDir)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mofa/")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults mirrors each component's Default*Config.
func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("provider.name", "ollama")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.endpoint", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", time.Duration(0))

	inf := inference.DefaultConfig()
	v.SetDefault("inference.memory_capacity_mb", inf.MemoryCapacityMB)
	v.SetDefault("inference.defer_threshold", inf.DeferThreshold)
	v.SetDefault("inference.reject_threshold", inf.RejectThreshold)
	v.SetDefault("inference.model_pool_capacity", inf.ModelPoolCapacity)
	v.SetDefault("inference.idle_timeout", inf.IdleTimeout)
	v.SetDefault("inference.cloud_provider", inf.CloudProvider)
	v.SetDefault("inference.routing_policy", inf.RoutingPolicy.String())

	tc := tasks.DefaultConfig()
	v.SetDefault("tasks.max_concurrent_tasks", tc.MaxConcurrentTasks)
	v.SetDefault("tasks.default_model", tc.DefaultModel)
	v.SetDefault("tasks.system_prompt", tc.SystemPrompt)
	v.SetDefault("tasks.retention", tc.Retention)
	v.SetDefault("tasks.result_buffer", tc.ResultBuffer)
	v.SetDefault("tasks.agent_id", "default")

	cb := circuitbreaker.DefaultConfig()
	v.SetDefault("circuit_breaker.name", cb.Name)
	v.SetDefault("circuit_breaker.failure_threshold", cb.FailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", cb.SuccessThreshold)
	v.SetDefault("circuit_breaker.timeout", cb.Timeout)
	v.SetDefault("circuit_breaker.enabled", cb.Enabled)
	v.SetDefault("circuit_breaker.half_open_max_requests", cb.HalfOpenMaxRequests)
	v.SetDefault("circuit_breaker.window", cb.Window)
	v.SetDefault("circuit_breaker.minimum_requests", cb.MinimumRequests)
	v.SetDefault("circuit_breaker.failure_rate_threshold", cb.FailureRateThreshold)
	v.SetDefault("circuit_breaker.count_timeouts_as_failures", cb.CountTimeoutsAsFailures)
	v.SetDefault("circuit_breaker.use_failure_rate", cb.UseFailureRate)

	rp := llm.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", rp.MaxAttempts)
	v.SetDefault("retry.backoff", string(rp.Backoff))
	v.SetDefault("retry.initial_delay", rp.InitialDelay)
	v.SetDefault("retry.max_delay", rp.MaxDelay)
	v.SetDefault("retry.multiplier", rp.Multiplier)

	rl := llm.DefaultRateLimiterConfig()
	v.SetDefault("rate_limit.enabled", rl.Enabled)
	v.SetDefault("rate_limit.requests_per_second", rl.RequestsPerSecond)
	v.SetDefault("rate_limit.burst_capacity", rl.BurstCapacity)
	v.SetDefault("rate_limit.tokens_per_minute", rl.TokensPerMinute)
	v.SetDefault("rate_limit.queue_timeout", rl.QueueTimeout)

	hr := native.DefaultHotReloadConfig()
	v.SetDefault("plugins.native.enabled", true)
	v.SetDefault("plugins.native.strategy", hr.Strategy.String())
	v.SetDefault("plugins.native.max_history", native.DefaultMaxHistory)
	v.SetDefault("plugins.native.loader.settle_delay", native.DefaultSettleDelay)
	v.SetDefault("plugins.native.hot_reload.preserve_state", hr.PreserveState)
	v.SetDefault("plugins.native.hot_reload.auto_rollback", hr.AutoRollback)
	v.SetDefault("plugins.native.hot_reload.max_reload_attempts", hr.MaxReloadAttempts)
	v.SetDefault("plugins.native.hot_reload.reload_cooldown", hr.ReloadCooldown)
	v.SetDefault("plugins.native.hot_reload.shutdown_timeout", hr.ShutdownTimeout)
	v.SetDefault("plugins.native.hot_reload.plugin_dirs", []string{filepath.Join(dataDir, PluginsDir)})
	v.SetDefault("plugins.native.hot_reload.event_buffer", hr.EventBuffer)

	wc := native.DefaultWatchConfig()
	v.SetDefault("plugins.watch.debounce", wc.Debounce)
	v.SetDefault("plugins.watch.extensions", wc.Extensions)
	v.SetDefault("plugins.watch.ignore_patterns", wc.IgnorePatterns)
	v.SetDefault("plugins.watch.recursive", wc.Recursive)
	v.SetDefault("plugins.watch.max_events_per_second", wc.MaxEventsPerSecond)
	v.SetDefault("plugins.watch.buffer", wc.Buffer)

	wr := wasm.DefaultRuntimeConfig()
	v.SetDefault("plugins.wasm.enabled", true)
	v.SetDefault("plugins.wasm.plugin_dir", filepath.Join(dataDir, PluginsDir, "wasm"))
	v.SetDefault("plugins.wasm.fuel_metering", wr.FuelMetering)
	v.SetDefault("plugins.wasm.epoch_interruption", wr.EpochInterruption)
	v.SetDefault("plugins.wasm.epoch_tick", wr.EpochTick)
	v.SetDefault("plugins.wasm.cache_size", wr.CacheSize)
	v.SetDefault("plugins.wasm.limits.max_memory_pages", wr.Limits.MaxMemoryPages)
	v.SetDefault("plugins.wasm.limits.max_table_elements", wr.Limits.MaxTableElements)
	v.SetDefault("plugins.wasm.limits.max_instances", wr.Limits.MaxInstances)
	v.SetDefault("plugins.wasm.limits.max_execution_time_ms", wr.Limits.MaxExecutionTimeMs)
	v.SetDefault("plugins.wasm.limits.max_fuel", wr.Limits.MaxFuel)
	v.SetDefault("plugins.wasm.limits.max_call_depth", wr.Limits.MaxCallDepth)
	v.SetDefault("plugins.wasm.capabilities", []string{string(wasm.CapReadConfig), string(wasm.CapSendMessage)})
	v.SetDefault("plugins.wasm.event_buffer", 1024)
	v.SetDefault("plugins.wasm.unload_workers", 4)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.dir", filepath.Join(dataDir, StoresDir))
	v.SetDefault("store.path", filepath.Join(dataDir, "mofa.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.service_name", "mofa")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.evict_idle_interval", time.Duration(0))
	v.SetDefault("scheduler.store_compact_interval", time.Hour)
	v.SetDefault("scheduler.timezone", "UTC")
}

// Validate checks cross-field constraints that the component constructors
// would otherwise apply silently.
func (c *RuntimeConfig) Validate() error {
	if !factory.IsAvailable(c.Provider.Name) {
		return fmt.Errorf("%w: unknown provider %q", types.ErrInvalidInput, c.Provider.Name)
	}
	if _, err := c.ToOrchestratorConfig(); err != nil {
		return err
	}
	if _, err := native.ParseStrategy(c.Plugins.Native.Strategy); err != nil {
		return fmt.Errorf("plugins.native.strategy: %w", err)
	}
	if _, err := wasm.ParseCapabilities(c.Plugins.Wasm.Capabilities); err != nil {
		return fmt.Errorf("plugins.wasm.capabilities: %w", err)
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("%w: unknown store backend %q", types.ErrInvalidInput, c.Store.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ToOrchestratorConfig returns the inference orchestrator config.
func (c *RuntimeConfig) ToOrchestratorConfig() (inference.Config, error) {
	out := c.Inference.Config
	policy, err := inference.ParsePolicy(c.Inference.Policy)
	if err != nil {
		return inference.Config{}, fmt.Errorf("inference.routing_policy: %w", err)
	}
	out.RoutingPolicy = policy
	if err := out.Validate(); err != nil {
		return inference.Config{}, err
	}
	return out, nil
}

// NewProvider builds the configured LLM provider.
func (c *RuntimeConfig) NewProvider() (types.LLMProvider, error) {
	return factory.NewProvider(c.Provider)
}

// ToTasksConfig returns the task orchestrator config without collaborators.
// The agent id is lowercased to match the keys of budget.agents.
func (c *RuntimeConfig) ToTasksConfig() tasks.Config {
	out := c.Tasks
	out.AgentID = budgetKey(out.AgentID)
	return out
}

// NewBudgetEnforcer builds an enforcer with the default limits installed
// for the task agent and every per-agent override.
func (c *RuntimeConfig) NewBudgetEnforcer(logger *zap.Logger) *budget.Enforcer {
	e := budget.NewEnforcer(budget.WithLogger(logger))
	if c.Budget.Default.HasLimits() && c.Tasks.AgentID != "" {
		e.SetBudget(budgetKey(c.Tasks.AgentID), c.Budget.Default)
	}
	for agent, limits := range c.Budget.Agents {
		e.SetBudget(budgetKey(agent), limits)
	}
	return e
}

// budgetKey normalizes an agent id the way viper normalizes map keys.
func budgetKey(agentID string) string {
	return strings.ToLower(agentID)
}

// ToBreakerConfig returns the circuit breaker config.
func (c *RuntimeConfig) ToBreakerConfig() circuitbreaker.Config {
	return c.CircuitBreaker
}

// ToRateLimiterConfig returns the rate limiter config.
func (c *RuntimeConfig) ToRateLimiterConfig(logger *zap.Logger) llm.RateLimiterConfig {
	out := c.RateLimit
	out.Logger = logger
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}

// ToLoaderConfig returns the native loader config.
func (c *RuntimeConfig) ToLoaderConfig() native.LoaderConfig {
	return c.Plugins.Native.Loader
}

// ToSnapshotConfig returns the snapshot manager config.
func (c *RuntimeConfig) ToSnapshotConfig() native.SnapshotConfig {
	return native.SnapshotConfig{MaxHistory: c.Plugins.Native.MaxHistory}
}

// ToHotReloadConfig returns the hot reload config with the parsed strategy
// and the shared watch section.
func (c *RuntimeConfig) ToHotReloadConfig() (native.HotReloadConfig, error) {
	out := c.Plugins.Native.HotReload
	strategy, err := native.ParseStrategy(c.Plugins.Native.Strategy)
	if err != nil {
		return native.HotReloadConfig{}, err
	}
	out.Strategy = strategy
	out.Watch = c.Plugins.Watch
	return out, nil
}

// ToWasmRuntimeConfig returns the WASM runtime config.
func (c *RuntimeConfig) ToWasmRuntimeConfig() wasm.RuntimeConfig {
	return c.Plugins.Wasm.RuntimeConfig
}

// ToWasmManagerConfig returns the WASM manager config. Plugins loaded
// without an explicit config get the configured limits and capabilities.
func (c *RuntimeConfig) ToWasmManagerConfig() (wasm.ManagerConfig, error) {
	caps, err := wasm.ParseCapabilities(c.Plugins.Wasm.Capabilities)
	if err != nil {
		return wasm.ManagerConfig{}, err
	}
	def := wasm.NewPluginConfig("")
	def.ID = ""
	def.Limits = c.Plugins.Wasm.Limits
	def.Capabilities = caps
	return wasm.ManagerConfig{
		EventBuffer:   c.Plugins.Wasm.EventBuffer,
		UnloadWorkers: c.Plugins.Wasm.UnloadWorkers,
		DefaultPlugin: def,
	}, nil
}

// EvictIdleInterval returns how often idle models are swept.
func (c *RuntimeConfig) EvictIdleInterval() time.Duration {
	if c.Scheduler.EvictIdleInterval > 0 {
		return c.Scheduler.EvictIdleInterval
	}
	if d := c.Inference.IdleTimeout / 2; d > 0 {
		return d
	}
	return time.Minute
}

// Location returns the scheduler time zone.
func (c *RuntimeConfig) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: scheduler.timezone: %v", types.ErrInvalidInput, err)
	}
	return loc, nil
}

// NewTracer returns an OpenTelemetry-backed tracer using the global
// providers when observability is enabled, and a no-op tracer otherwise.
func (c *RuntimeConfig) NewTracer(logger *zap.Logger) observability.Tracer {
	if !c.Observability.Enabled {
		return observability.NewNoOpTracer()
	}
	name := c.Observability.ServiceName
	return observability.NewOTelTracer(otel.Tracer(name), otel.Meter(name), logger)
}
