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
// Package llm wraps LLM providers with retry, rate limiting and
// instrumentation. Everything here decorates a types.LLMProvider and is
// itself a types.LLMProvider, so the wrappers stack in any order.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

// BackoffKind selects how the delay between attempts grows.
type BackoffKind string

const (
	BackoffFixed                 BackoffKind = "fixed"
	BackoffExponential           BackoffKind = "exponential"
	BackoffExponentialWithJitter BackoffKind = "exponential_jitter"
)

// RetryStrategy says what to do with a request after a failed attempt.
type RetryStrategy string

const (
	// NoRetry surfaces the error immediately.
	NoRetry RetryStrategy = "no_retry"
	// DirectRetry resends the same request.
	DirectRetry RetryStrategy = "direct_retry"
	// PromptRetry appends the failure to the system message and resends.
	PromptRetry RetryStrategy = "prompt_retry"
)

// RetryPolicy configures the RetryExecutor.
type RetryPolicy struct {
	MaxAttempts  int           `mapstructure:"max_attempts"` // total attempts including the first (default: 3)
	Backoff      BackoffKind   `mapstructure:"backoff"`
	InitialDelay time.Duration `mapstructure:"initial_delay"` // default: 1s
	MaxDelay     time.Duration `mapstructure:"max_delay"`     // default: 30s
	Multiplier   float64       `mapstructure:"multiplier"`    // default: 2
	// Strategies overrides the strategy per error category, keyed by the
	// names returned from types.KindOf ("upstream", "serialization", ...).
	Strategies map[string]RetryStrategy `mapstructure:"strategies"`
}

// DefaultRetryPolicy retries three times with jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponentialWithJitter,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// NoRetryPolicy makes a single attempt.
func NoRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 1
	return p
}

// NewBackOff returns a fresh backoff sequence for one call.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	if p.Backoff == BackoffFixed {
		return backoff.NewConstantBackOff(initial)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	} else {
		b.Multiplier = 2
	}
	if p.Backoff == BackoffExponential {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// StrategyFor picks the retry strategy for err. Overrides in Strategies win
// over the built-in classification.
func (p RetryPolicy) StrategyFor(err error) RetryStrategy {
	if s, ok := p.Strategies[types.KindOf(err)]; ok {
		return s
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return NoRetry
	case errors.Is(err, types.ErrSerialization):
		return PromptRetry
	case errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, types.ErrBudgetExceeded),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrCapabilityUnavailable),
		errors.Is(err, types.ErrFatal):
		return NoRetry
	default:
		return DirectRetry
	}
}

// IsThrottlingError reports whether err looks like a provider rate limit.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrResourceLimit) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"429", "ThrottlingException", "TooManyRequests", "rate limit", "throttle"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// JSONValidationError is returned when a JSON-mode response does not parse.
type JSONValidationError struct {
	RawContent string
	ParseError string
}

func (e *JSONValidationError) Error() string {
	return "invalid JSON response: " + e.ParseError
}

// Is makes the error match types.ErrSerialization.
func (e *JSONValidationError) Is(target error) bool {
	return target == types.ErrSerialization
}

// StripJSONFences removes a surrounding ```json or ``` markdown fence.
func StripJSONFences(content string) string {
	trimmed := strings.TrimSpace(content)
	for _, prefix := range []string{"```json", "```"} {
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			if body, ok := strings.CutSuffix(rest, "```"); ok {
				return strings.TrimSpace(body)
			}
			return trimmed
		}
	}
	return trimmed
}

// ValidateJSON checks a JSON-mode response. Text-mode requests always pass.
func ValidateJSON(req types.ChatRequest, resp *types.ChatResponse) error {
	if req.ResponseFormat != types.ResponseFormatJSON || resp == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(StripJSONFences(resp.Content)), &v); err != nil {
		return &JSONValidationError{RawContent: resp.Content, ParseError: err.Error()}
	}
	return nil
}

// withRetryContext appends the failure to the first system message, or
// prepends a system message when there is none.
func withRetryContext(req types.ChatRequest, cause error) types.ChatRequest {
	out := req.Clone()
	note := fmt.Sprintf("[RETRY CONTEXT: Previous attempt failed with error: %v. The response must be valid JSON. Please fix the JSON and try again.]", cause)
	for i := range out.Messages {
		if out.Messages[i].Role == types.RoleSystem {
			out.Messages[i].Content += "\n\n" + note
			return out
		}
	}
	out.Messages = append([]types.Message{{Role: types.RoleSystem, Content: note}}, out.Messages...)
	return out
}

// RetryExecutor retries a provider according to a RetryPolicy. JSON-mode
// responses that fail to parse count as failed attempts.
type RetryExecutor struct {
	provider types.LLMProvider
	policy   RetryPolicy
	logger   *zap.Logger
	tracer   observability.Tracer
}

// RetryOption configures a RetryExecutor.
type RetryOption func(*RetryExecutor)

// WithRetryLogger sets the logger.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(e *RetryExecutor) { e.logger = logger }
}

// WithRetryTracer sets the tracer used for per-attempt spans.
func WithRetryTracer(tracer observability.Tracer) RetryOption {
	return func(e *RetryExecutor) { e.tracer = tracer }
}

// NewRetryExecutor wraps provider with policy.
func NewRetryExecutor(provider types.LLMProvider, policy RetryPolicy, opts ...RetryOption) *RetryExecutor {
	e := &RetryExecutor{
		provider: provider,
		policy:   policy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracer = observability.OrNoOp(e.tracer)
	return e
}

// Name returns the wrapped provider name.
func (e *RetryExecutor) Name() string {
	return e.provider.Name()
}

// Policy returns the retry policy.
func (e *RetryExecutor) Policy() RetryPolicy {
	return e.policy
}

// Chat sends req, retrying failed attempts per the policy.
func (e *RetryExecutor) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	maxAttempts := max(e.policy.MaxAttempts, 1)
	attempt := 0

	op := func() (*types.ChatResponse, error) {
		attempt++
		resp, err := e.attempt(ctx, req, attempt)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("llm_retry_succeeded",
					zap.String("provider", e.provider.Name()),
					zap.Int("attempt", attempt))
			}
			return resp, nil
		}

		strategy := e.policy.StrategyFor(err)
		if ctx.Err() != nil || strategy == NoRetry || attempt >= maxAttempts {
			if attempt > 1 {
				e.logger.Warn("llm_retry_exhausted",
					zap.String("provider", e.provider.Name()),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
			return nil, backoff.Permanent(err)
		}

		e.logger.Warn("llm_attempt_failed",
			zap.String("provider", e.provider.Name()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.String("strategy", string(strategy)),
			zap.String("error_type", types.KindOf(err)),
			zap.Error(err))
		e.tracer.RecordMetric(observability.MetricLLMRetries, 1, map[string]string{
			observability.AttrLLMProvider: e.provider.Name(),
		})
		if strategy == PromptRetry {
			req = withRetryContext(req, err)
		}
		return nil, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(e.policy.NewBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			e.logger.Debug("llm_retry_scheduled",
				zap.String("provider", e.provider.Name()),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", d))
		}))
}

func (e *RetryExecutor) attempt(ctx context.Context, req types.ChatRequest, attempt int) (*types.ChatResponse, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanLLMRetry,
		observability.WithAttribute(observability.AttrAttempt, attempt),
		observability.WithAttribute(observability.AttrLLMProvider, e.provider.Name()))
	defer e.tracer.EndSpan(span)

	resp, err := e.provider.Chat(ctx, req)
	if err == nil {
		err = ValidateJSON(req, resp)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp, nil
}

var _ types.LLMProvider = (*RetryExecutor)(nil)
