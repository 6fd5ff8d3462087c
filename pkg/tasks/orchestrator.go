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
// Package tasks runs prompts as bounded background tasks and broadcasts
// their results keyed by origin.
//
// Only tasks in the Running state count against MaxConcurrentTasks. Finished
// tasks stay queryable for the retention window and are then removed. Close
// cancels every worker, including those waiting out retention, and waits
// for them to exit.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/internal/csync"
	"github.com/mofa-org/mofa/internal/pubsub"
	"github.com/mofa-org/mofa/pkg/budget"
	"github.com/mofa-org/mofa/pkg/circuitbreaker"
	"github.com/mofa-org/mofa/pkg/llm"
	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

const (
	DefaultMaxConcurrentTasks = 10
	DefaultModel              = "gpt-4o-mini"
	DefaultRetention          = 5 * time.Minute
	DefaultResultBuffer       = 100
	DefaultSystemPrompt       = "You are a helpful assistant. Complete the given task thoroughly and concisely."
)

var (
	// ErrMaxConcurrentTasksReached is returned by Spawn when the running
	// task count is at the configured limit.
	ErrMaxConcurrentTasksReached = types.WithCategory(types.ErrResourceLimit, errors.New("maximum concurrent tasks reached"))

	// ErrClosed is returned by Spawn after Close.
	ErrClosed = errors.New("task orchestrator closed")
)

// Config configures an Orchestrator. Budget, Breaker and RateLimiter are
// optional and consulted around every provider call when set.
type Config struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	DefaultModel       string        `mapstructure:"default_model"`
	SystemPrompt       string        `mapstructure:"system_prompt"`
	Retention          time.Duration `mapstructure:"retention"`
	ResultBuffer       int           `mapstructure:"result_buffer"`
	AgentID            string        `mapstructure:"agent_id"`

	Budget      *budget.Enforcer                `mapstructure:"-"`
	Breaker     *circuitbreaker.CircuitBreaker `mapstructure:"-"`
	RateLimiter *llm.RateLimiter               `mapstructure:"-"`
	Logger      *zap.Logger                    `mapstructure:"-"`
	Tracer      observability.Tracer           `mapstructure:"-"`
	Clock       func() time.Time               `mapstructure:"-"`
}

// DefaultConfig returns the default task orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: DefaultMaxConcurrentTasks,
		DefaultModel:       DefaultModel,
		SystemPrompt:       DefaultSystemPrompt,
		Retention:          DefaultRetention,
		ResultBuffer:       DefaultResultBuffer,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Retention < 0 {
		c.Retention = 0
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = DefaultResultBuffer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.Tracer = observability.OrNoOp(c.Tracer)
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Orchestrator owns a table of background tasks and the workers running them.
type Orchestrator struct {
	cfg      Config
	provider types.LLMProvider
	logger   *zap.Logger
	tracer   observability.Tracer

	tasks   *csync.Map[string, Task]
	results *pubsub.Broker[Result]

	// spawnMu serializes the running-count check with the insert.
	spawnMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// New creates an orchestrator that runs prompts against provider.
func New(provider types.LLMProvider, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		tasks:    csync.NewMap[string, Task](),
		results:  pubsub.NewBroker[Result](cfg.ResultBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Spawn starts prompt as a background task and returns its id.
func (o *Orchestrator) Spawn(prompt string, origin Origin) (string, error) {
	o.spawnMu.Lock()
	defer o.spawnMu.Unlock()

	if o.closed {
		return "", ErrClosed
	}
	if running := o.RunningCount(); running >= o.cfg.MaxConcurrentTasks {
		return "", fmt.Errorf("%w: Maximum concurrent tasks (%d) reached",
			ErrMaxConcurrentTasksReached, o.cfg.MaxConcurrentTasks)
	}

	task := Task{
		Prompt:    prompt,
		Origin:    origin,
		Status:    StatusRunning,
		StartedAt: o.cfg.Clock(),
	}
	for {
		task.ID = uuid.NewString()[:8]
		if o.tasks.SetIfAbsent(task.ID, task) {
			break
		}
	}

	o.tracer.RecordMetric(observability.MetricTasksSpawned, 1, nil)
	o.logger.Info("task_spawned",
		zap.String(observability.AttrTaskID, task.ID),
		zap.String("origin", origin.RoutingKey))

	o.wg.Add(1)
	go o.run(task)
	return task.ID, nil
}

func (o *Orchestrator) run(task Task) {
	defer o.wg.Done()

	ctx, span := o.tracer.StartSpan(o.ctx, observability.SpanTaskRun,
		observability.WithAttribute(observability.AttrTaskID, task.ID))
	output, err := o.execute(ctx, task.Prompt)
	if err != nil {
		span.RecordError(err)
	}
	o.tracer.EndSpan(span)

	now := o.cfg.Clock()
	result := Result{TaskID: task.ID, Origin: task.Origin, Timestamp: now}
	if err != nil {
		o.tasks.Update(task.ID, func(t Task) Task { return t.fail(err.Error(), now) })
		result.Content = err.Error()
		o.tracer.RecordMetric(observability.MetricTasksFailed, 1, nil)
		o.logger.Warn("task_failed",
			zap.String(observability.AttrTaskID, task.ID),
			zap.String("error_type", types.KindOf(err)),
			zap.Error(err))
	} else {
		o.tasks.Update(task.ID, func(t Task) Task { return t.complete(output, now) })
		result.Content = output
		result.Success = true
		o.tracer.RecordMetric(observability.MetricTasksCompleted, 1, nil)
		o.logger.Info("task_completed", zap.String(observability.AttrTaskID, task.ID))
	}

	// A task aborted by Close is not reported.
	if o.ctx.Err() == nil {
		o.results.Publish(result)
	}

	if o.cfg.Retention > 0 {
		timer := time.NewTimer(o.cfg.Retention)
		select {
		case <-timer.C:
		case <-o.ctx.Done():
			timer.Stop()
		}
	}
	o.tasks.Delete(task.ID)
}

func (o *Orchestrator) execute(ctx context.Context, prompt string) (string, error) {
	if b := o.cfg.Budget; b != nil {
		if err := b.CheckBudget(o.cfg.AgentID); err != nil {
			return "", err
		}
	}

	req := types.ChatRequest{
		Model: o.cfg.DefaultModel,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: o.cfg.SystemPrompt},
			{Role: types.RoleUser, Content: prompt},
		},
	}

	var resp *types.ChatResponse
	call := func(ctx context.Context) error {
		r, err := o.provider.Chat(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	if rl := o.cfg.RateLimiter; rl != nil {
		limited := call
		call = func(ctx context.Context) error { return rl.Do(ctx, limited) }
	}

	var err error
	if o.cfg.Breaker != nil {
		err = o.cfg.Breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}

	if b := o.cfg.Budget; b != nil {
		b.RecordUsage(o.cfg.AgentID, resp.Usage.CostUSD, uint64(max(resp.Usage.TotalTokens, 0)))
	}
	if rl := o.cfg.RateLimiter; rl != nil {
		rl.RecordTokenUsage(int64(resp.Usage.TotalTokens))
	}
	return resp.Content, nil
}

// Subscribe returns a stream of results for tasks finishing after the call.
// The channel closes when ctx is done or the orchestrator is closed.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan Result {
	return o.results.Subscribe(ctx)
}

// Task returns a snapshot of the task with the given id.
func (o *Orchestrator) Task(id string) (Task, bool) {
	return o.tasks.Get(id)
}

// ActiveTasks returns a snapshot of every task still in the table,
// including finished tasks within their retention window.
func (o *Orchestrator) ActiveTasks() []Task {
	out := make([]Task, 0, o.tasks.Len())
	for _, t := range o.tasks.Seq2() {
		out = append(out, t)
	}
	return out
}

// RunningCount returns the number of tasks in the Running state.
func (o *Orchestrator) RunningCount() int {
	return o.tasks.Count(func(t Task) bool { return t.Status == StatusRunning })
}

// Close aborts every worker, waits for them to exit and closes all result
// subscriptions. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.spawnMu.Lock()
	if o.closed {
		o.spawnMu.Unlock()
		return
	}
	o.closed = true
	o.spawnMu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.tasks.Drain()
	o.results.Shutdown()
	o.logger.Debug("task_orchestrator_closed")
}
