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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mofa-org/mofa/pkg/types"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: false})
	defer rl.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.Equal(t, int64(0), rl.GetMetrics().TotalRequests)
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 20,
		BurstCapacity:     3,
		QueueTimeout:      time.Second,
	})
	defer rl.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 40*time.Millisecond, "burst should not wait")

	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int64(4), rl.GetMetrics().TotalRequests)
}

func TestRateLimiter_QueueTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 0.1,
		BurstCapacity:     1,
		QueueTimeout:      20 * time.Millisecond,
	})
	defer rl.Close()

	require.NoError(t, rl.Wait(context.Background()))
	err := rl.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrResourceLimit))
	assert.Equal(t, int64(1), rl.GetMetrics().DroppedRequests)
}

func TestRateLimiter_CloseReleasesWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 0.01,
		BurstCapacity:     1,
	})
	require.NoError(t, rl.Wait(context.Background()))

	done := make(chan error, 1)
	go func() { done <- rl.Wait(context.Background()) }()

	require.Eventually(t, func() bool { return rl.GetMetrics().CurrentQueueDepth == 1 }, time.Second, time.Millisecond)
	require.NoError(t, rl.Close())
	require.NoError(t, rl.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRateLimiterClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}
	assert.ErrorIs(t, rl.Wait(context.Background()), ErrRateLimiterClosed)
}

func TestRateLimiter_TokenWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: true, BurstCapacity: 10, TokensPerMinute: 100, QueueTimeout: 20 * time.Millisecond})
	defer rl.Close()

	rl.RecordTokenUsage(60)
	rl.RecordTokenUsage(0)
	assert.Equal(t, int64(60), rl.TokenUsageLastMinute())
	require.NoError(t, rl.Wait(context.Background()))

	rl.RecordTokenUsage(40)
	assert.Equal(t, int64(100), rl.TokenUsageLastMinute())
	assert.Equal(t, int64(100), rl.GetMetrics().TokensConsumed)

	// The cap is reached; the next slot only frees up a minute later.
	err := rl.Wait(context.Background())
	assert.ErrorIs(t, err, types.ErrResourceLimit)
}

func TestRateLimitedProvider(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: true, RequestsPerSecond: 100, BurstCapacity: 5})
	defer rl.Close()

	p := &scriptedProvider{name: "mock", outcomes: []outcome{{content: "hi"}}}
	limited := NewRateLimitedProvider(p, rl)

	resp, err := limited.Chat(context.Background(), types.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, "mock", limited.Name())
	assert.Equal(t, int64(15), rl.TokenUsageLastMinute())
}

func TestRateLimiter_Do(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Close()

	called := false
	err := rl.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Do(ctx, func(context.Context) error { return nil }), context.Canceled)
}
