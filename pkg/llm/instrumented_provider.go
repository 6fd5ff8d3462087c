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
	"fmt"
	"time"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

// InstrumentedProvider wraps any LLMProvider with tracing and metrics. Every
// call produces one span carrying request size, token usage, cost, latency
// and the error category on failure.
type InstrumentedProvider struct {
	provider types.LLMProvider
	tracer   observability.Tracer
}

// NewInstrumentedProvider creates a new instrumented LLM provider.
func NewInstrumentedProvider(provider types.LLMProvider, tracer observability.Tracer) *InstrumentedProvider {
	return &InstrumentedProvider{
		provider: provider,
		tracer:   observability.OrNoOp(tracer),
	}
}

// Name returns the underlying provider name.
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// Chat sends a conversation to the LLM and records the call.
func (p *InstrumentedProvider) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLLMChat)
	defer p.tracer.EndSpan(span)

	start := time.Now()
	p.describeRequest(span, req)

	resp, err := p.provider.Chat(ctx, req)
	duration := time.Since(start)
	if err != nil {
		p.recordFailure(span, req, err, duration)
		return nil, err
	}

	p.recordSuccess(span, req, resp, duration)
	return resp, nil
}

// ChatStream streams through the underlying provider and records time to
// first token. It fails when the provider cannot stream.
func (p *InstrumentedProvider) ChatStream(ctx context.Context, req types.ChatRequest, onToken func(string)) (*types.ChatResponse, error) {
	streaming, ok := p.provider.(types.StreamingProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %s does not support streaming", types.ErrCapabilityUnavailable, p.provider.Name())
	}

	ctx, span := p.tracer.StartSpan(ctx, observability.SpanLLMChat)
	defer p.tracer.EndSpan(span)

	start := time.Now()
	p.describeRequest(span, req)
	span.SetAttribute("llm.streaming", true)

	var ttft time.Duration
	chunks := 0
	resp, err := streaming.ChatStream(ctx, req, func(token string) {
		if chunks == 0 {
			ttft = time.Since(start)
			span.AddEvent("stream.first_token", map[string]interface{}{
				"ttft_ms": ttft.Milliseconds(),
			})
		}
		chunks++
		if onToken != nil {
			onToken(token)
		}
	})
	duration := time.Since(start)
	span.SetAttribute("llm.streaming.chunks", chunks)
	if err != nil {
		p.recordFailure(span, req, err, duration)
		return nil, err
	}

	span.SetAttribute("llm.ttft_ms", ttft.Milliseconds())
	p.recordSuccess(span, req, resp, duration)
	return resp, nil
}

func (p *InstrumentedProvider) labels(req types.ChatRequest) map[string]string {
	return map[string]string{
		observability.AttrLLMProvider: p.provider.Name(),
		observability.AttrLLMModel:    req.Model,
	}
}

func (p *InstrumentedProvider) describeRequest(span *observability.Span, req types.ChatRequest) {
	span.SetAttribute(observability.AttrLLMProvider, p.provider.Name())
	span.SetAttribute(observability.AttrLLMModel, req.Model)
	span.SetAttribute("llm.messages.count", len(req.Messages))
	if req.ResponseFormat != "" {
		span.SetAttribute("llm.response_format", string(req.ResponseFormat))
	}
}

func (p *InstrumentedProvider) recordFailure(span *observability.Span, req types.ChatRequest, err error, duration time.Duration) {
	span.RecordError(err)
	span.AddEvent("llm.call.failed", map[string]interface{}{
		"error":       err.Error(),
		"duration_ms": duration.Milliseconds(),
	})
	labels := p.labels(req)
	labels[observability.AttrErrorType] = types.KindOf(err)
	p.tracer.RecordMetric(observability.MetricLLMErrors, 1, labels)
}

func (p *InstrumentedProvider) recordSuccess(span *observability.Span, req types.ChatRequest, resp *types.ChatResponse, duration time.Duration) {
	span.Status = observability.Status{Code: observability.StatusOK}
	span.SetAttribute("llm.tokens.input", resp.Usage.InputTokens)
	span.SetAttribute("llm.tokens.output", resp.Usage.OutputTokens)
	span.SetAttribute("llm.tokens.total", resp.Usage.TotalTokens)
	span.SetAttribute("llm.cost.usd", resp.Usage.CostUSD)
	span.SetAttribute("llm.stop_reason", resp.StopReason)
	span.SetAttribute("llm.duration_ms", duration.Milliseconds())
	span.SetAttribute("llm.content.length", len(resp.Content))
	if len(resp.ToolCalls) > 0 {
		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		span.SetAttribute("llm.tool_calls.names", names)
	}

	labels := p.labels(req)
	p.tracer.RecordMetric(observability.MetricLLMRequests, 1, labels)
	p.tracer.RecordMetric(observability.MetricLLMLatency, float64(duration.Milliseconds()), labels)
	p.tracer.RecordMetric(observability.MetricLLMTokensInput, float64(resp.Usage.InputTokens), labels)
	p.tracer.RecordMetric(observability.MetricLLMTokensOutput, float64(resp.Usage.OutputTokens), labels)
	p.tracer.RecordMetric(observability.MetricLLMCost, resp.Usage.CostUSD, labels)
}

var (
	_ types.LLMProvider       = (*InstrumentedProvider)(nil)
	_ types.StreamingProvider = (*InstrumentedProvider)(nil)
)
