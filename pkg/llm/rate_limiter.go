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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mofa-org/mofa/pkg/types"
)

// ErrRateLimiterClosed is returned by a closed RateLimiter.
var ErrRateLimiterClosed = types.WithCategory(types.ErrResourceLimit, errors.New("rate limiter closed"))

// RateLimiterConfig configures the LLM rate limiter.
type RateLimiterConfig struct {
	// Enabled enables rate limiting (default: true)
	Enabled bool `mapstructure:"enabled"`

	// RequestsPerSecond is the sustained request rate across all callers.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// BurstCapacity is the maximum burst of requests allowed.
	BurstCapacity int `mapstructure:"burst_capacity"`

	// TokensPerMinute caps token consumption in a sliding one-minute window.
	// Zero disables the token cap.
	TokensPerMinute int64 `mapstructure:"tokens_per_minute"`

	// QueueTimeout is the maximum time a request may wait for a slot.
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`

	// Logger for rate limiter events
	Logger *zap.Logger `mapstructure:"-"`
}

// DefaultRateLimiterConfig returns conservative defaults for hosted providers.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2.0,
		BurstCapacity:     5,
		TokensPerMinute:   40000,
		QueueTimeout:      5 * time.Minute,
		Logger:            zap.NewNop(),
	}
}

// RateLimiterMetrics tracks rate limiter activity.
type RateLimiterMetrics struct {
	TotalRequests      int64
	DelayedRequests    int64
	DroppedRequests    int64
	AverageQueueTimeMs int64
	CurrentQueueDepth  int64
	TokensConsumed     int64
}

type tokenUsage struct {
	timestamp time.Time
	tokens    int64
}

// RateLimiter is a token bucket over requests plus a sliding window over
// consumed tokens.
type RateLimiter struct {
	config  RateLimiterConfig
	limiter *rate.Limiter

	tokenWindow   []tokenUsage
	tokenWindowMu sync.Mutex

	queueDepth atomic.Int64
	metrics    RateLimiterMetrics
	metricsMu  sync.RWMutex

	stopCh chan struct{}
	closed atomic.Bool
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.BurstCapacity < 1 {
		config.BurstCapacity = 1
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &RateLimiter{
		config:  config,
		limiter: rate.NewLimiter(limit, config.BurstCapacity),
		stopCh:  make(chan struct{}),
	}
}

// Wait blocks until a request may be sent, the queue timeout expires, ctx is
// done or the limiter is closed.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if !rl.config.Enabled {
		return nil
	}
	if rl.closed.Load() {
		return ErrRateLimiterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if rl.config.QueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rl.config.QueueTimeout)
		defer cancel()
	}
	// Closing the limiter releases waiters.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-rl.stopCh:
			stop()
		case <-ctx.Done():
		}
	}()

	rl.queueDepth.Add(1)
	defer rl.queueDepth.Add(-1)
	start := time.Now()

	err := rl.limiter.Wait(ctx)
	if err == nil {
		err = rl.waitForTokens(ctx)
	}
	if err != nil {
		rl.recordDropped()
		if rl.closed.Load() {
			return ErrRateLimiterClosed
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: rate limiter wait: %w", types.ErrResourceLimit, ctx.Err())
		}
		return fmt.Errorf("%w: %w", types.ErrResourceLimit, err)
	}

	rl.recordAdmitted(time.Since(start))
	return nil
}

// waitForTokens blocks while the last minute's token consumption is at the
// configured cap.
func (rl *RateLimiter) waitForTokens(ctx context.Context) error {
	if rl.config.TokensPerMinute <= 0 {
		return nil
	}
	for {
		used, oldest := rl.tokenWindowState(time.Now())
		if used < rl.config.TokensPerMinute {
			return nil
		}
		wait := time.Until(oldest.Add(time.Minute))
		rl.config.Logger.Debug("rate_limiter_token_cap_reached",
			zap.Int64("tokens_last_minute", used),
			zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Do waits for a slot and then calls call.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) error) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	return call(ctx)
}

// RecordTokenUsage records token consumption for the sliding window.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	if tokens <= 0 {
		return
	}
	rl.tokenWindowMu.Lock()
	now := time.Now()
	rl.tokenWindow = append(rl.tokenWindow, tokenUsage{timestamp: now, tokens: tokens})
	rl.pruneLocked(now)
	rl.tokenWindowMu.Unlock()

	rl.metricsMu.Lock()
	rl.metrics.TokensConsumed += tokens
	rl.metricsMu.Unlock()
}

// TokenUsageLastMinute returns token consumption in the last minute.
func (rl *RateLimiter) TokenUsageLastMinute() int64 {
	used, _ := rl.tokenWindowState(time.Now())
	return used
}

func (rl *RateLimiter) tokenWindowState(now time.Time) (int64, time.Time) {
	rl.tokenWindowMu.Lock()
	defer rl.tokenWindowMu.Unlock()
	rl.pruneLocked(now)

	var total int64
	var oldest time.Time
	for i, u := range rl.tokenWindow {
		if i == 0 {
			oldest = u.timestamp
		}
		total += u.tokens
	}
	return total, oldest
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(rl.tokenWindow) && !rl.tokenWindow[i].timestamp.After(cutoff) {
		i++
	}
	rl.tokenWindow = rl.tokenWindow[i:]
}

func (rl *RateLimiter) recordAdmitted(queued time.Duration) {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()
	rl.metrics.TotalRequests++
	if queued >= time.Millisecond {
		rl.metrics.DelayedRequests++
	}
	avg := time.Duration(rl.metrics.AverageQueueTimeMs) * time.Millisecond
	rl.metrics.AverageQueueTimeMs = ((avg + queued) / 2).Milliseconds()
}

func (rl *RateLimiter) recordDropped() {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()
	rl.metrics.DroppedRequests++
}

// GetMetrics returns current rate limiter metrics.
func (rl *RateLimiter) GetMetrics() RateLimiterMetrics {
	rl.metricsMu.RLock()
	defer rl.metricsMu.RUnlock()
	m := rl.metrics
	m.CurrentQueueDepth = rl.queueDepth.Load()
	return m
}

// Close stops the limiter and releases pending waiters. It is idempotent.
func (rl *RateLimiter) Close() error {
	if !rl.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(rl.stopCh)
	m := rl.GetMetrics()
	rl.config.Logger.Info("rate_limiter_closed",
		zap.Int64("total_requests", m.TotalRequests),
		zap.Int64("delayed_requests", m.DelayedRequests),
		zap.Int64("dropped_requests", m.DroppedRequests),
		zap.Int64("tokens_consumed", m.TokensConsumed))
	return nil
}

// RateLimitedProvider gates a provider behind a RateLimiter and feeds the
// token window from response usage.
type RateLimitedProvider struct {
	provider types.LLMProvider
	limiter  *RateLimiter
}

// NewRateLimitedProvider wraps provider with limiter.
func NewRateLimitedProvider(provider types.LLMProvider, limiter *RateLimiter) *RateLimitedProvider {
	return &RateLimitedProvider{provider: provider, limiter: limiter}
}

// Name returns the wrapped provider name.
func (p *RateLimitedProvider) Name() string {
	return p.provider.Name()
}

// Chat waits for the limiter and forwards the request.
func (p *RateLimitedProvider) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := p.provider.Chat(ctx, req)
	if err == nil && resp != nil {
		p.limiter.RecordTokenUsage(int64(resp.Usage.TotalTokens))
	}
	return resp, err
}

var _ types.LLMProvider = (*RateLimitedProvider)(nil)
