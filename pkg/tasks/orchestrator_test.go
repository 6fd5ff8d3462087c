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
package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mofa-org/mofa/pkg/budget"
	"github.com/mofa-org/mofa/pkg/circuitbreaker"
	"github.com/mofa-org/mofa/pkg/llm"
	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

// echoProvider answers instantly and records every request.
type echoProvider struct {
	mu    sync.Mutex
	calls int
	reqs  []types.ChatRequest
	cost  float64
	err   error
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Chat(_ context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return nil, p.err
	}
	last := req.Messages[len(req.Messages)-1].Content
	return &types.ChatResponse{
		Content: "done: " + last,
		Usage:   types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: p.cost},
	}, nil
}

func (p *echoProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// blockingProvider holds every call until the context is cancelled.
func blockingProvider(started chan<- struct{}) types.LLMProvider {
	return types.ProviderFunc{
		ProviderName: "blocking",
		Fn: func(ctx context.Context, _ types.ChatRequest) (*types.ChatResponse, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func recv(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "result channel closed")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task result")
		return Result{}
	}
}

func TestSpawn_ConcurrencyCountsOnlyRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 2
	cfg.Retention = time.Hour
	o := New(&echoProvider{}, cfg)
	defer o.Close()

	results := o.Subscribe(context.Background())
	_, err := o.Spawn("first", NewOrigin("a"))
	require.NoError(t, err)
	_, err = o.Spawn("second", NewOrigin("b"))
	require.NoError(t, err)

	recv(t, results)
	recv(t, results)

	assert.Len(t, o.ActiveTasks(), 2, "finished tasks stay retained")
	assert.Equal(t, 0, o.RunningCount())

	id, err := o.Spawn("third", NewOrigin("c"))
	require.NoError(t, err)
	assert.Len(t, id, 8)
	assert.True(t, recv(t, results).Success)
}

func TestSpawn_RejectsAtRunningLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{}, 1)
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 1
	o := New(blockingProvider(started), cfg)

	_, err := o.Spawn("slow", NewOrigin("a"))
	require.NoError(t, err)
	<-started

	_, err = o.Spawn("rejected", NewOrigin("b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxConcurrentTasksReached)
	assert.ErrorIs(t, err, types.ErrResourceLimit)
	assert.Contains(t, err.Error(), "Maximum concurrent tasks (1) reached")
	assert.Equal(t, 1, o.RunningCount())

	o.Close()
	assert.Empty(t, o.ActiveTasks())
}

func TestSpawn_ResultCarriesOrigin(t *testing.T) {
	defer goleak.VerifyNone(t)

	provider := &echoProvider{}
	o := New(provider, Config{Retention: time.Hour})
	defer o.Close()

	origin := OriginFromChannel("telegram", "42").WithMetadata("user", "alice")
	results := o.Subscribe(context.Background())
	id, err := o.Spawn("summarize the report", origin)
	require.NoError(t, err)

	r := recv(t, results)
	assert.Equal(t, id, r.TaskID)
	assert.Equal(t, "telegram:42", r.Origin.RoutingKey)
	assert.Equal(t, "alice", r.Origin.Metadata["user"])
	assert.True(t, r.Success)
	assert.Equal(t, "done: summarize the report", r.Content)

	task, ok := o.Task(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.True(t, task.IsFinished())
	assert.Equal(t, r.Content, task.Output)
	require.NotNil(t, task.CompletedAt)

	require.Len(t, provider.reqs, 1)
	req := provider.reqs[0]
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, types.RoleUser, req.Messages[1].Role)
}

func TestSpawn_FailedTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.InfoLevel)
	tracer := observability.NewMockTracer()
	provider := &echoProvider{err: types.WithCategory(types.ErrUpstream, errors.New("503 from upstream"))}
	o := New(provider, Config{Retention: time.Hour, Logger: zap.New(core), Tracer: tracer})
	defer o.Close()

	results := o.Subscribe(context.Background())
	id, err := o.Spawn("will fail", NewOrigin("cli"))
	require.NoError(t, err)

	r := recv(t, results)
	assert.False(t, r.Success)
	assert.Contains(t, r.Content, "503 from upstream")

	task, ok := o.Task(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, r.Content, task.Error)

	assert.Equal(t, 1.0, tracer.MetricTotal(observability.MetricTasksFailed))
	failed := logs.FilterMessage("task_failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "upstream", failed[0].ContextMap()["error_type"])
}

func TestRetention_RemovesFinishedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := New(&echoProvider{}, Config{Retention: 10 * time.Millisecond})
	defer o.Close()

	results := o.Subscribe(context.Background())
	id, err := o.Spawn("short lived", NewOrigin("a"))
	require.NoError(t, err)
	recv(t, results)

	require.Eventually(t, func() bool {
		_, ok := o.Task(id)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClose_AbortsRetentionAndWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{}, 1)
	cfg := DefaultConfig()
	cfg.Retention = time.Hour
	o := New(blockingProvider(started), cfg)
	results := o.Subscribe(context.Background())

	_, err := o.Spawn("never finishes", NewOrigin("a"))
	require.NoError(t, err)
	<-started

	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	_, ok := <-results
	assert.False(t, ok, "aborted tasks are not reported")

	_, err = o.Spawn("late", NewOrigin("b"))
	assert.ErrorIs(t, err, ErrClosed)
	o.Close()
}

func TestSpawn_BudgetGatesProviderCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	enforcer := budget.NewEnforcer()
	enforcer.SetBudget("agent-1", budget.Config{MaxCostPerSession: 0.01})
	provider := &echoProvider{cost: 0.02}
	o := New(provider, Config{Retention: time.Hour, Budget: enforcer, AgentID: "agent-1"})
	defer o.Close()

	results := o.Subscribe(context.Background())
	_, err := o.Spawn("first", NewOrigin("a"))
	require.NoError(t, err)
	assert.True(t, recv(t, results).Success)

	_, err = o.Spawn("second", NewOrigin("a"))
	require.NoError(t, err)
	r := recv(t, results)
	assert.False(t, r.Success)
	assert.Equal(t, 1, provider.callCount())
	assert.InDelta(t, 0.02, enforcer.GetStatus("agent-1").SessionCost, 1e-9)
}

func TestSpawn_OpenCircuitShortCircuits(t *testing.T) {
	defer goleak.VerifyNone(t)

	bcfg := circuitbreaker.DefaultConfig()
	bcfg.Name = "tasks"
	bcfg.FailureThreshold = 1
	provider := &echoProvider{err: errors.New("connection refused")}
	o := New(provider, Config{Retention: time.Hour, Breaker: circuitbreaker.New(bcfg)})
	defer o.Close()

	results := o.Subscribe(context.Background())
	_, err := o.Spawn("first", NewOrigin("a"))
	require.NoError(t, err)
	assert.False(t, recv(t, results).Success)

	_, err = o.Spawn("second", NewOrigin("a"))
	require.NoError(t, err)
	r := recv(t, results)
	assert.False(t, r.Success)
	assert.Contains(t, r.Content, "open")
	assert.Equal(t, 1, provider.callCount())
}

func TestSpawn_RateLimiterRecordsTokens(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := llm.NewRateLimiter(llm.RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		BurstCapacity:     10,
		QueueTimeout:      time.Second,
	})
	defer rl.Close()

	o := New(&echoProvider{}, Config{Retention: time.Hour, RateLimiter: rl})
	defer o.Close()

	results := o.Subscribe(context.Background())
	_, err := o.Spawn("metered", NewOrigin("a"))
	require.NoError(t, err)
	assert.True(t, recv(t, results).Success)
	assert.Equal(t, int64(15), rl.TokenUsageLastMinute())
}

func TestSpawn_Instrumentation(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracer := observability.NewMockTracer()
	o := New(&echoProvider{}, Config{Retention: time.Hour, Tracer: tracer})
	defer o.Close()

	results := o.Subscribe(context.Background())
	id, err := o.Spawn("traced", NewOrigin("a"))
	require.NoError(t, err)
	recv(t, results)

	spans := tracer.GetSpansByName(observability.SpanTaskRun)
	require.Len(t, spans, 1)
	assert.Equal(t, id, spans[0].Attributes[observability.AttrTaskID])
	assert.Equal(t, 1.0, tracer.MetricTotal(observability.MetricTasksSpawned))
	assert.Equal(t, 1.0, tracer.MetricTotal(observability.MetricTasksCompleted))
}

func TestSpawn_ConcurrentCallersRespectLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{}, 20)
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 3
	o := New(blockingProvider(started), cfg)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Spawn("p", NewOrigin("x")); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), accepted.Load())
	assert.Equal(t, 3, o.RunningCount())
	o.Close()
}

func TestOrigin_WithMetadataCopies(t *testing.T) {
	base := NewOrigin("slack:C1").WithMetadata("thread", "t1")
	derived := base.WithMetadata("user", "bob")

	assert.Equal(t, map[string]any{"thread": "t1"}, base.Metadata)
	assert.Equal(t, map[string]any{"thread": "t1", "user": "bob"}, derived.Metadata)
}
