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
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

var errUpstream = errors.New("upstream 503")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func newTestBreaker(t *testing.T, clock *testClock, mutate func(*Config)) *CircuitBreaker {
	cfg := DefaultConfig()
	cfg.Name = "openai"
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.Timeout = time.Second
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Clock = clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(999), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigPresets(t *testing.T) {
	d := DefaultConfig()
	assert.Equal(t, 5, d.FailureThreshold)
	assert.Equal(t, 3, d.SuccessThreshold)
	assert.Equal(t, 30*time.Second, d.Timeout)
	assert.False(t, d.UseFailureRate)

	assert.Equal(t, 3, StrictConfig().FailureThreshold)
	assert.Equal(t, 1, StrictConfig().HalfOpenMaxRequests)
	assert.Equal(t, 10, LenientConfig().FailureThreshold)
	assert.False(t, DisabledConfig().Enabled)
}

func TestCircuitBreaker_HalfOpenWindow(t *testing.T) {
	clock := newTestClock()
	tracer := observability.NewMockTracer()
	var changes []string
	cb := newTestBreaker(t, clock, func(c *Config) {
		c.Tracer = tracer
		c.OnStateChange = func(name string, from, to State) {
			changes = append(changes, from.String()+"->"+to.String())
		}
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.False(t, called, "open circuit must not contact the upstream")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, types.ErrUpstream)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, time.Second, openErr.RetryAfter)

	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	assert.Equal(t, uint64(2), cb.Metrics().TotalRejected)

	clock.Advance(700 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	snap := cb.Metrics()
	assert.Equal(t, 1200*time.Millisecond, snap.TotalOpenDuration)
	assert.Equal(t, uint64(3), snap.TotalTransitions)
	assert.Equal(t, uint64(1), snap.OpenCount)
	assert.Equal(t, uint64(3), snap.TotalFailures)
	assert.Equal(t, uint64(2), snap.TotalSuccesses)
	assert.InDelta(t, 60.0, snap.FailureRate(), 1e-9)
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, changes)
	assert.Len(t, snap.Transitions, 3)

	assert.Equal(t, 3.0, tracer.MetricTotal(observability.MetricCircuitTransitions))
	assert.Equal(t, 2.0, tracer.MetricTotal(observability.MetricCircuitRejected))
}

func TestCircuitBreaker_OpenDurationAccumulatesPerCycle(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(t, clock, func(c *Config) { c.SuccessThreshold = 1 })
	ctx := context.Background()

	cycle := func(open time.Duration) {
		for i := 0; i < 3; i++ {
			_ = cb.Execute(ctx, fail)
		}
		clock.Advance(open)
		require.NoError(t, cb.Execute(ctx, succeed))
		require.Equal(t, StateClosed, cb.State())
	}

	cycle(2 * time.Second)
	assert.Equal(t, 2*time.Second, cb.Metrics().TotalOpenDuration)
	cycle(3 * time.Second)
	assert.Equal(t, 5*time.Second, cb.Metrics().TotalOpenDuration)

	// A failed half-open probe restarts the open interval.
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(time.Second)
	err := cb.Execute(ctx, func(context.Context) error {
		clock.Advance(500 * time.Millisecond)
		return errUpstream
	})
	require.ErrorIs(t, err, errUpstream)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 6*time.Second, cb.Metrics().TotalOpenDuration)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(t, clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	// Cooldown restarts from the reopen.
	clock.Advance(900 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	assert.Equal(t, errUpstream, cb.LastError())
}

func TestCircuitBreaker_ConsecutiveCountersExclusive(t *testing.T) {
	cb := newTestBreaker(t, newTestClock(), func(c *Config) { c.FailureThreshold = 10 })
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	snap := cb.Metrics()
	assert.Equal(t, uint64(2), snap.ConsecutiveFailures)
	assert.Zero(t, snap.ConsecutiveSuccesses)

	_ = cb.Execute(ctx, succeed)
	snap = cb.Metrics()
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Equal(t, uint64(1), snap.ConsecutiveSuccesses)
}

func TestCircuitBreaker_HalfOpenProbeLimit(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(t, clock, func(c *Config) { c.HalfOpenMaxRequests = 1 })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(ctx, succeed)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, StateHalfOpen, openErr.State)

	close(release)
	require.NoError(t, <-done)
}

func TestCircuitBreaker_FailureRate(t *testing.T) {
	cb := newTestBreaker(t, newTestClock(), func(c *Config) {
		c.FailureThreshold = 100
		c.UseFailureRate = true
		c.MinimumRequests = 4
		c.FailureRateThreshold = 50
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_TimeoutsIgnoredWhenConfigured(t *testing.T) {
	cb := newTestBreaker(t, newTestClock(), func(c *Config) {
		c.FailureThreshold = 1
		c.CountTimeoutsAsFailures = false
	})
	err := cb.Execute(context.Background(), func(context.Context) error { return context.DeadlineExceeded })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().TotalFailures)
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cfg := DisabledConfig()
	cfg.FailureThreshold = 1
	cb := New(cfg)
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errUpstream)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(t, newTestClock(), nil)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Nil(t, cb.LastError())
}
