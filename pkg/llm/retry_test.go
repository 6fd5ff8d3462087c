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
package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

// scriptedProvider replays a fixed sequence of outcomes.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	outcomes []outcome
	requests []types.ChatRequest
}

type outcome struct {
	content string
	err     error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Chat(_ context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i >= len(p.outcomes) {
		return nil, errors.New("unexpected call")
	}
	o := p.outcomes[i]
	if o.err != nil {
		return nil, o.err
	}
	return &types.ChatResponse{Content: o.content, Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  attempts,
		Backoff:      BackoffFixed,
		InitialDelay: time.Millisecond,
	}
}

func jsonRequest() types.ChatRequest {
	return types.ChatRequest{
		Model:          "test-model",
		Messages:       []types.Message{{Role: types.RoleUser, Content: "Return JSON"}},
		ResponseFormat: types.ResponseFormatJSON,
	}
}

var errNetwork = types.WithCategory(types.ErrUpstream, errors.New("temporary network failure"))

func TestRetryExecutor_SucceedsOnSecondAttempt(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := &scriptedProvider{name: "mock", outcomes: []outcome{
		{err: errNetwork},
		{content: `{"status": "ok"}`},
	}}

	exec := NewRetryExecutor(p, fastPolicy(3), WithRetryLogger(zap.New(core)))
	resp, err := exec.Chat(context.Background(), jsonRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"status": "ok"}`, resp.Content)
	assert.Equal(t, 2, p.calls())

	assert.Equal(t, 1, logs.FilterMessage("llm_attempt_failed").Len())
	succeeded := logs.FilterMessage("llm_retry_succeeded").All()
	require.Len(t, succeeded, 1)
	assert.Equal(t, int64(2), succeeded[0].ContextMap()["attempt"])
}

func TestRetryExecutor_InvalidJSONTriggersPromptRetry(t *testing.T) {
	p := &scriptedProvider{name: "mock", outcomes: []outcome{
		{content: "Not valid JSON"},
		{content: `{"valid": "json"}`},
	}}

	req := jsonRequest()
	req.Messages = append([]types.Message{{Role: types.RoleSystem, Content: "You are a helpful assistant."}}, req.Messages...)

	resp, err := NewRetryExecutor(p, fastPolicy(3)).Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"valid": "json"}`, resp.Content)

	require.Equal(t, 2, p.calls())
	retried := p.requests[1].Messages[0]
	assert.Equal(t, types.RoleSystem, retried.Role)
	assert.Contains(t, retried.Content, "You are a helpful assistant.")
	assert.Contains(t, retried.Content, "RETRY CONTEXT")
	// The caller's request is untouched.
	assert.Equal(t, "You are a helpful assistant.", req.Messages[0].Content)
}

func TestRetryExecutor_PromptRetryAddsSystemMessage(t *testing.T) {
	out := withRetryContext(jsonRequest(), &JSONValidationError{ParseError: "Invalid JSON"})
	require.Len(t, out.Messages, 2)
	assert.Equal(t, types.RoleSystem, out.Messages[0].Role)
	assert.Contains(t, out.Messages[0].Content, "Invalid JSON")
}

func TestRetryExecutor_AcceptsFencedJSON(t *testing.T) {
	p := &scriptedProvider{name: "mock", outcomes: []outcome{
		{content: "```json\n{\"wrapped\": \"content\"}\n```"},
	}}
	_, err := NewRetryExecutor(p, fastPolicy(3)).Chat(context.Background(), jsonRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls())
}

func TestRetryExecutor_Exhausted(t *testing.T) {
	p := &scriptedProvider{name: "mock", outcomes: []outcome{
		{err: errNetwork}, {err: errNetwork}, {err: errNetwork},
	}}
	_, err := NewRetryExecutor(p, fastPolicy(3)).Chat(context.Background(), jsonRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUpstream))
	assert.Equal(t, 3, p.calls())
}

func TestRetryExecutor_InvalidJSONOnLastAttempt(t *testing.T) {
	p := &scriptedProvider{name: "mock", outcomes: []outcome{{content: "nope"}}}
	_, err := NewRetryExecutor(p, fastPolicy(1)).Chat(context.Background(), jsonRequest())

	var jsonErr *JSONValidationError
	require.ErrorAs(t, err, &jsonErr)
	assert.Equal(t, "nope", jsonErr.RawContent)
	assert.True(t, errors.Is(err, types.ErrSerialization))
}

func TestRetryExecutor_NoRetryForPermanentErrors(t *testing.T) {
	budgetErr := types.WithCategory(types.ErrBudgetExceeded, errors.New("daily cost exceeded"))
	p := &scriptedProvider{name: "mock", outcomes: []outcome{{err: budgetErr}}}

	_, err := NewRetryExecutor(p, fastPolicy(5)).Chat(context.Background(), jsonRequest())
	assert.ErrorIs(t, err, types.ErrBudgetExceeded)
	assert.Equal(t, 1, p.calls())

	p = &scriptedProvider{name: "mock", outcomes: []outcome{{err: errNetwork}}}
	_, err = NewRetryExecutor(p, NoRetryPolicy()).Chat(context.Background(), jsonRequest())
	assert.Error(t, err)
	assert.Equal(t, 1, p.calls())
}

func TestRetryExecutor_StrategyOverride(t *testing.T) {
	policy := fastPolicy(3)
	policy.Strategies = map[string]RetryStrategy{"upstream": NoRetry}
	p := &scriptedProvider{name: "mock", outcomes: []outcome{{err: errNetwork}}}

	_, err := NewRetryExecutor(p, policy).Chat(context.Background(), jsonRequest())
	assert.Error(t, err)
	assert.Equal(t, 1, p.calls())
}

func TestRetryExecutor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy(5)
	policy.InitialDelay = time.Hour

	p := &scriptedProvider{name: "mock", outcomes: []outcome{{err: errNetwork}, {err: errNetwork}}}
	done := make(chan error, 1)
	go func() {
		_, err := NewRetryExecutor(p, policy).Chat(ctx, jsonRequest())
		done <- err
	}()

	require.Eventually(t, func() bool { return p.calls() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop after cancel")
	}
	assert.Equal(t, 1, p.calls())
}

func TestRetryExecutor_RecordsAttemptSpans(t *testing.T) {
	tracer := observability.NewMockTracer()
	p := &scriptedProvider{name: "mock", outcomes: []outcome{{err: errNetwork}, {content: "{}"}}}

	_, err := NewRetryExecutor(p, fastPolicy(2), WithRetryTracer(tracer)).Chat(context.Background(), jsonRequest())
	require.NoError(t, err)

	spans := tracer.GetSpansByName(observability.SpanLLMRetry)
	require.Len(t, spans, 2)
	assert.Equal(t, 1, spans[0].Attributes[observability.AttrAttempt])
	assert.Equal(t, "upstream", spans[0].Attributes[observability.AttrErrorType])
	assert.InDelta(t, 1, tracer.MetricTotal(observability.MetricLLMRetries), 1e-9)
}

func TestRetryPolicy_StrategyFor(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		name string
		err  error
		want RetryStrategy
	}{
		{"upstream", errNetwork, DirectRetry},
		{"serialization", &JSONValidationError{}, PromptRetry},
		{"invalid input", types.ErrInvalidInput, NoRetry},
		{"canceled", context.Canceled, NoRetry},
		{"deadline", context.DeadlineExceeded, DirectRetry},
		{"unknown", errors.New("boom"), DirectRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.StrategyFor(tt.err))
		})
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	fixed := RetryPolicy{Backoff: BackoffFixed, InitialDelay: 50 * time.Millisecond}.NewBackOff()
	assert.Equal(t, 50*time.Millisecond, fixed.NextBackOff())
	assert.Equal(t, 50*time.Millisecond, fixed.NextBackOff())

	exp := RetryPolicy{
		Backoff:      BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}.NewBackOff()
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, exp.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second,
	}, got)

	jitter := RetryPolicy{Backoff: BackoffExponentialWithJitter, InitialDelay: 100 * time.Millisecond}.NewBackOff()
	d := jitter.NextBackOff()
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	assert.LessOrEqual(t, d, 150*time.Millisecond)
}

func TestStripJSONFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripJSONFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1]`, StripJSONFences("  ```\n[1]\n```  "))
	assert.Equal(t, "```json {", StripJSONFences("```json {"))
	assert.Equal(t, "plain", StripJSONFences(" plain "))
}

func TestIsThrottlingError(t *testing.T) {
	assert.True(t, IsThrottlingError(errors.New("HTTP 429 Too Many Requests")))
	assert.True(t, IsThrottlingError(errors.New("ThrottlingException: slow down")))
	assert.True(t, IsThrottlingError(ErrRateLimiterClosed))
	assert.False(t, IsThrottlingError(errors.New("connection refused")))
	assert.False(t, IsThrottlingError(nil))
}
