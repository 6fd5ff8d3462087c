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
package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/adapter"
	"github.com/mofa-org/mofa/pkg/hardware"
	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

// DefaultMemoryCapacityMB is the memory budget used when none is configured.
// Left at this value, the budget is replaced by the detected host memory.
const DefaultMemoryCapacityMB = 16384

// Config configures an Orchestrator.
type Config struct {
	MemoryCapacityMB  int           `mapstructure:"memory_capacity_mb"`
	DeferThreshold    float64       `mapstructure:"defer_threshold"`     // usage fraction above which requests are deferred (default: 0.75)
	RejectThreshold   float64       `mapstructure:"reject_threshold"`    // usage fraction above which requests are rejected (default: 0.90)
	ModelPoolCapacity int           `mapstructure:"model_pool_capacity"` // resident models (default: 5)
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`        // default: 5m
	RoutingPolicy     Policy        `mapstructure:"-"`
	CloudProvider     string        `mapstructure:"cloud_provider"` // default: "openai"

	// Adapters, when set, resolves a local adapter for requests that carry
	// a model description.
	Adapters *adapter.Registry    `mapstructure:"-"`
	Logger   *zap.Logger          `mapstructure:"-"`
	Tracer   observability.Tracer `mapstructure:"-"`
	Clock    func() time.Time     `mapstructure:"-"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MemoryCapacityMB:  DefaultMemoryCapacityMB,
		DeferThreshold:    0.75,
		RejectThreshold:   0.90,
		ModelPoolCapacity: 5,
		IdleTimeout:       5 * time.Minute,
		RoutingPolicy:     PolicyLocalFirst,
		CloudProvider:     "openai",
	}
}

// Validate checks the thresholds and capacities.
func (c Config) Validate() error {
	if c.MemoryCapacityMB < 0 {
		return fmt.Errorf("%w: memory_capacity_mb must not be negative", types.ErrInvalidInput)
	}
	if c.DeferThreshold <= 0 || c.RejectThreshold > 1 || c.DeferThreshold >= c.RejectThreshold {
		return fmt.Errorf("%w: thresholds must satisfy 0 < defer (%.2f) < reject (%.2f) <= 1",
			types.ErrInvalidInput, c.DeferThreshold, c.RejectThreshold)
	}
	if c.ModelPoolCapacity < 1 {
		return fmt.Errorf("%w: model_pool_capacity must be at least 1", types.ErrInvalidInput)
	}
	if c.CloudProvider == "" {
		return fmt.Errorf("%w: cloud_provider is required", types.ErrInvalidInput)
	}
	return nil
}

// Orchestrator is the single entry point for inference. It owns the model
// pool and the smart router. All routing and pool mutation happens under one
// lock so admission always sees the memory state it acts on.
type Orchestrator struct {
	mu       sync.Mutex
	config   Config
	hardware hardware.Capability
	pool     *ModelPool
	router   *SmartRouter
	adapters *adapter.Registry
	logger   *zap.Logger
	tracer   observability.Tracer
}

// New detects the host capability and builds an orchestrator. When the
// memory capacity is left at DefaultMemoryCapacityMB it is replaced by the
// detected total. A failed detection is logged and treated as an unknown
// host.
func New(ctx context.Context, cfg Config, detector hardware.Detector) (*Orchestrator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var hw hardware.Capability
	if detector != nil {
		detected, err := detector.Detect(ctx)
		if err != nil {
			logger.Warn("hardware_detection_failed", zap.Error(err))
		} else {
			hw = detected
		}
	}
	if cfg.MemoryCapacityMB == DefaultMemoryCapacityMB && hw.TotalMemoryMB() > 0 {
		cfg.MemoryCapacityMB = int(hw.TotalMemoryMB())
	}
	return NewWithHardware(cfg, hw)
}

// NewWithHardware builds an orchestrator for a known host capability. The
// configured memory capacity is used as is.
func NewWithHardware(cfg Config, hw hardware.Capability) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	logger := cfg.Logger.Named("inference")
	router := NewSmartRouter(cfg.RoutingPolicy)
	router.Register(ProviderEntry{
		ID:              cfg.CloudProvider,
		Name:            cfg.CloudProvider,
		IsLocal:         false,
		SupportedTasks:  AllTaskTypes,
		LatencyMs:       200,
		CostPer1kTokens: 0.03,
	})

	o := &Orchestrator{
		config:   cfg,
		hardware: hw,
		pool: NewModelPool(cfg.ModelPoolCapacity, cfg.IdleTimeout,
			WithPoolClock(cfg.Clock), WithPoolLogger(logger)),
		router:   router,
		adapters: cfg.Adapters,
		logger:   logger,
		tracer:   observability.OrNoOp(cfg.Tracer),
	}
	logger.Info("inference_orchestrator_ready",
		zap.Int("memory_capacity_mb", cfg.MemoryCapacityMB),
		zap.Stringer("policy", cfg.RoutingPolicy),
		zap.String("cloud_provider", cfg.CloudProvider),
		zap.Bool("gpu_available", hw.GPUAvailable))
	return o, nil
}

// Infer routes and executes req. Errors are returned only for malformed
// requests; capacity problems are reported through a rejected Result.
func (o *Orchestrator) Infer(ctx context.Context, req Request) (*Result, error) {
	if req.ModelID == "" {
		return nil, fmt.Errorf("%w: model id is required", types.ErrInvalidInput)
	}
	if req.RequiredMemoryMB < 0 {
		return nil, fmt.Errorf("%w: required memory must not be negative", types.ErrInvalidInput)
	}

	_, span := o.tracer.StartSpan(ctx, observability.SpanInferenceInfer,
		observability.WithAttribute(observability.AttrModelID, req.ModelID),
		observability.WithAttribute(observability.AttrRoutingPolicy, o.config.RoutingPolicy.String()))
	defer o.tracer.EndSpan(span)

	o.mu.Lock()
	defer o.mu.Unlock()

	if idle := o.pool.EvictIdle(); len(idle) > 0 {
		o.logger.Info("idle_models_evicted", zap.Strings("model_ids", idle))
	}

	current := o.pool.TotalMemoryMB()
	admission := o.admit(current, req.RequiredMemoryMB)
	span.SetAttribute(observability.AttrAdmission, admission.String())

	cloud := o.cloudProviderFor(req)
	decision := Resolve(o.config.RoutingPolicy, req, admission, o.hardware, cloud,
		func(mb int) Admission { return o.admit(current, mb) })

	var adapterID string
	if decision.IsLocal() {
		decision, adapterID = o.resolveAdapter(req, decision, cloud)
	}

	result := o.execute(req, decision)
	result.Adapter = adapterID

	span.SetAttribute(observability.AttrRoutedTo, result.RoutedTo.String())
	o.tracer.RecordMetric(observability.MetricInferenceRouted, 1, map[string]string{
		"backend": result.RoutedTo.Kind.String(),
	})
	o.tracer.RecordMetric(observability.MetricInferenceMemoryMB, float64(o.pool.TotalMemoryMB()), nil)

	o.logger.Debug("inference_routed",
		zap.String("model_id", req.ModelID),
		zap.Stringer("admission", admission),
		zap.Stringer("decision", decision.Kind),
		zap.Stringer("routed_to", result.RoutedTo),
		zap.Int("pool_memory_mb", o.pool.TotalMemoryMB()))
	return result, nil
}

// InferRouted asks the smart router for a provider serving task and uses it
// when one is found. Otherwise the request goes through Infer.
func (o *Orchestrator) InferRouted(ctx context.Context, req Request, task TaskType) (*Result, error) {
	sel, ok := o.router.Route(task)
	if !ok {
		return o.Infer(ctx, req)
	}

	kind := BackendCloud
	if sel.IsLocal {
		kind = BackendLocal
	}
	o.logger.Debug("inference_smart_routed",
		zap.Stringer("task", task),
		zap.String("provider_id", sel.ProviderID),
		zap.String("reason", sel.Reason))
	o.tracer.RecordMetric(observability.MetricInferenceRouted, 1, map[string]string{
		"backend": kind.String(),
		"task":    task.String(),
	})
	return &Result{
		Output:          fmt.Sprintf("[routed:%s] Inference result for: %s", sel.ProviderID, req.Prompt),
		RoutedTo:        RoutedBackend{Kind: kind, Target: sel.ProviderID},
		ActualPrecision: req.PreferredPrecision,
	}, nil
}

func (o *Orchestrator) admit(currentMB, requiredMB int) Admission {
	return EvaluateAdmission(currentMB, requiredMB, o.config.MemoryCapacityMB,
		o.config.DeferThreshold, o.config.RejectThreshold)
}

// cloudProviderFor lets the smart router choose the cloud fallback for the
// latency and cost policies. Other policies use the configured provider.
func (o *Orchestrator) cloudProviderFor(req Request) string {
	policy := o.config.RoutingPolicy
	if policy != PolicyLatencyOptimized && policy != PolicyCostOptimized {
		return o.config.CloudProvider
	}
	if sel, ok := o.router.RouteCloud(taskFor(req), policy); ok {
		return sel.ProviderID
	}
	return o.config.CloudProvider
}

// resolveAdapter finds a local adapter for requests that describe their
// model. Without one the request falls back to the cloud, or is rejected
// under the local-only policy.
func (o *Orchestrator) resolveAdapter(req Request, d Decision, cloud string) (Decision, string) {
	if o.adapters == nil || req.Model == nil {
		return d, ""
	}
	desc, err := o.adapters.Resolve(*req.Model)
	if err == nil {
		return d, desc.ID
	}

	o.logger.Warn("adapter_unavailable",
		zap.String("model_id", req.ModelID),
		zap.String("error_type", types.KindOf(err)),
		zap.Error(err))
	if o.config.RoutingPolicy == PolicyLocalOnly {
		return Decision{Kind: DecisionRejected, Reason: fmt.Sprintf(
			"No local adapter for '%s' and cloud fallback is disabled: %v", req.ModelID, err)}, ""
	}
	return Decision{Kind: DecisionUseCloud, Provider: cloud}, ""
}

func (o *Orchestrator) execute(req Request, d Decision) *Result {
	switch d.Kind {
	case DecisionUseLocal, DecisionUseLocalDegraded:
		if !o.pool.Touch(d.ModelID) {
			if evicted, ok := o.pool.Load(d.ModelID, d.MemoryMB, d.Precision); ok {
				o.logger.Info("model_evicted_for_load",
					zap.String("evicted", evicted),
					zap.String("model_id", d.ModelID))
			}
		}
		if d.QualityWarning != "" {
			o.logger.Warn("inference_precision_degraded",
				zap.String("model_id", d.ModelID),
				zap.String("warning", d.QualityWarning))
		}
		return &Result{
			Output:          fmt.Sprintf("[local:%s] Inference result for: %s", d.ModelID, req.Prompt),
			RoutedTo:        RoutedBackend{Kind: BackendLocal, Target: d.ModelID},
			ActualPrecision: d.Precision,
			QualityWarning:  d.QualityWarning,
		}
	case DecisionUseCloud:
		return &Result{
			Output:          fmt.Sprintf("[cloud:%s] Inference result for: %s", d.Provider, req.Prompt),
			RoutedTo:        RoutedBackend{Kind: BackendCloud, Target: d.Provider},
			ActualPrecision: req.PreferredPrecision,
		}
	default:
		o.logger.Info("inference_rejected",
			zap.String("model_id", req.ModelID),
			zap.String("reason", d.Reason))
		return &Result{
			Output:          fmt.Sprintf("[rejected] %s", d.Reason),
			RoutedTo:        RoutedBackend{Kind: BackendRejected, Target: d.Reason},
			ActualPrecision: req.PreferredPrecision,
		}
	}
}

// taskFor maps a request to the task type used for provider ranking.
func taskFor(req Request) TaskType {
	if req.Model == nil {
		return TaskLLM
	}
	for _, t := range AllTaskTypes {
		if t.Modality() == req.Model.Modality {
			return t
		}
	}
	return TaskLLM
}

// EvictIdle removes models idle past the configured timeout.
func (o *Orchestrator) EvictIdle() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pool.EvictIdle()
}

// MemoryUtilization returns pool memory as a fraction of capacity. A zero
// capacity reports 1.
func (o *Orchestrator) MemoryUtilization() float64 {
	if o.config.MemoryCapacityMB == 0 {
		return 1
	}
	return float64(o.pool.TotalMemoryMB()) / float64(o.config.MemoryCapacityMB)
}

// LoadedModelCount returns the number of resident models.
func (o *Orchestrator) LoadedModelCount() int {
	return o.pool.Len()
}

// LoadedModels returns the resident models, least recently used first.
func (o *Orchestrator) LoadedModels() []ModelEntry {
	return o.pool.Entries()
}

// AllocatedMemoryMB returns the memory held by resident models.
func (o *Orchestrator) AllocatedMemoryMB() int {
	return o.pool.TotalMemoryMB()
}

// MemoryCapacityMB returns the effective memory budget.
func (o *Orchestrator) MemoryCapacityMB() int {
	return o.config.MemoryCapacityMB
}

// Hardware returns the host capability the orchestrator routes against.
func (o *Orchestrator) Hardware() hardware.Capability {
	return o.hardware
}

// RoutingPolicy returns the active policy.
func (o *Orchestrator) RoutingPolicy() Policy {
	return o.config.RoutingPolicy
}

// UnloadModel removes a model from the pool and returns the memory freed.
func (o *Orchestrator) UnloadModel(modelID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	freed := o.pool.Unload(modelID)
	if freed > 0 {
		o.logger.Info("model_unloaded", zap.String("model_id", modelID), zap.Int("memory_mb", freed))
	}
	return freed
}

// SmartRouter exposes the provider catalogue for registration.
func (o *Orchestrator) SmartRouter() *SmartRouter {
	return o.router
}
