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
package budget

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofa-org/mofa/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestConfig_HasLimits(t *testing.T) {
	assert.False(t, Config{}.HasLimits())
	assert.True(t, Config{MaxTokensPerDay: 1}.HasLimits())
}

func TestEnforcer_Violations(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		cost   float64
		tokens uint64
		want   ViolationKind
	}{
		{"session cost", Config{MaxCostPerSession: 1.0}, 1.0, 10, SessionCostExceeded},
		{"session tokens", Config{MaxTokensPerSession: 100}, 0.01, 150, SessionTokensExceeded},
		{"daily cost", Config{MaxCostPerDay: 0.5}, 0.6, 10, DailyCostExceeded},
		{"daily tokens", Config{MaxTokensPerDay: 20}, 0.0, 20, DailyTokensExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnforcer()
			e.SetBudget("agent", tt.cfg)
			require.NoError(t, e.CheckBudget("agent"))

			e.RecordUsage("agent", tt.cost, tt.tokens)
			err := e.CheckBudget("agent")
			require.Error(t, err)

			var v *ViolationError
			require.True(t, errors.As(err, &v))
			assert.Equal(t, tt.want, v.Kind)
			assert.True(t, errors.Is(err, types.ErrBudgetExceeded))
			assert.Equal(t, "budget_exceeded", types.KindOf(err))
			assert.True(t, e.GetStatus("agent").IsExceeded())
		})
	}
}

func TestEnforcer_UnlimitedAgentsPass(t *testing.T) {
	e := NewEnforcer()
	e.RecordUsage("free", 1000, 1_000_000)
	assert.NoError(t, e.CheckBudget("free"))

	e.SetBudget("free", Config{})
	assert.NoError(t, e.CheckBudget("free"))
}

func TestEnforcer_DailyResetOnDayChange(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	e := NewEnforcer(WithClock(clock.Now))
	e.SetBudget("a", Config{MaxCostPerDay: 1.0, MaxTokensPerDay: 1000})

	e.RecordUsage("a", 1.0, 500)
	assert.Error(t, e.CheckBudget("a"))

	clock.Advance(2 * time.Hour)
	assert.NoError(t, e.CheckBudget("a"), "stale day bucket must not block")

	st := e.GetStatus("a")
	assert.Zero(t, st.DailyCost)
	assert.Zero(t, st.DailyTokens)
	assert.InDelta(t, 1.0, st.SessionCost, 1e-9)

	e.RecordUsage("a", 0.25, 10)
	st = e.GetStatus("a")
	assert.InDelta(t, 0.25, st.DailyCost, 1e-9)
	assert.Equal(t, uint64(10), st.DailyTokens)
	assert.Equal(t, uint64(510), st.SessionTokens)
}

func TestEnforcer_Resets(t *testing.T) {
	e := NewEnforcer()
	e.SetBudget("a", Config{MaxCostPerSession: 1, MaxCostPerDay: 10})
	e.RecordUsage("a", 2, 0)
	require.Error(t, e.CheckBudget("a"))

	e.ResetSession("a")
	require.NoError(t, e.CheckBudget("a"))
	assert.InDelta(t, 2.0, e.GetStatus("a").DailyCost, 1e-9)

	e.ResetAll("a")
	assert.Zero(t, e.GetStatus("a").DailyCost)
}

func TestStatus_Remaining(t *testing.T) {
	st := Status{SessionCost: 3, DailyCost: 20, Config: Config{MaxCostPerSession: 2, MaxCostPerDay: 50}}
	assert.Zero(t, st.RemainingSessionCost())
	assert.InDelta(t, 30.0, st.RemainingDailyCost(), 1e-9)
	assert.Equal(t, -1.0, Status{}.RemainingSessionCost())
}

func TestDayKey(t *testing.T) {
	assert.Equal(t, int64(0), DayKey(time.Unix(86399, 0)))
	assert.Equal(t, int64(1), DayKey(time.Unix(86400, 0)))
	assert.Equal(t, int64(-1), DayKey(time.Unix(-1, 0)))
}

func TestEnforcer_ConcurrentRecord(t *testing.T) {
	e := NewEnforcer()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.RecordUsage("a", 0.01, 1)
			_ = e.CheckBudget("a")
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), e.GetStatus("a").SessionTokens)
}
