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
// Package budget enforces per-agent cost and token limits.
//
// Each agent has a session bucket and a daily bucket. The daily bucket is
// keyed by floor(unix_seconds / 86400); when the key changes, cost and tokens
// reset together with the new key. CheckBudget is called before an upstream
// call and RecordUsage after a successful one.
package budget

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/types"
)

// Config holds per-agent limits. A zero value means "no limit".
type Config struct {
	MaxCostPerSession   float64 `json:"max_cost_per_session,omitempty" mapstructure:"max_cost_per_session"`
	MaxCostPerDay       float64 `json:"max_cost_per_day,omitempty" mapstructure:"max_cost_per_day"`
	MaxTokensPerSession uint64  `json:"max_tokens_per_session,omitempty" mapstructure:"max_tokens_per_session"`
	MaxTokensPerDay     uint64  `json:"max_tokens_per_day,omitempty" mapstructure:"max_tokens_per_day"`
}

// HasLimits reports whether any limit is set.
func (c Config) HasLimits() bool {
	return c.MaxCostPerSession > 0 || c.MaxCostPerDay > 0 ||
		c.MaxTokensPerSession > 0 || c.MaxTokensPerDay > 0
}

// ViolationKind identifies the bucket that is over its limit.
type ViolationKind int

const (
	SessionCostExceeded ViolationKind = iota
	DailyCostExceeded
	SessionTokensExceeded
	DailyTokensExceeded
)

func (k ViolationKind) String() string {
	switch k {
	case SessionCostExceeded:
		return "session_cost_exceeded"
	case DailyCostExceeded:
		return "daily_cost_exceeded"
	case SessionTokensExceeded:
		return "session_tokens_exceeded"
	case DailyTokensExceeded:
		return "daily_tokens_exceeded"
	default:
		return "unknown"
	}
}

// ViolationError is returned by CheckBudget. It matches types.ErrBudgetExceeded.
type ViolationError struct {
	AgentID string
	Kind    ViolationKind
	Spent   float64
	Used    uint64
	Limit   float64
}

func (e *ViolationError) Error() string {
	switch e.Kind {
	case SessionCostExceeded:
		return fmt.Sprintf("agent %s: session cost budget exceeded: spent $%.4f of $%.4f limit", e.AgentID, e.Spent, e.Limit)
	case DailyCostExceeded:
		return fmt.Sprintf("agent %s: daily cost budget exceeded: spent $%.4f of $%.4f limit", e.AgentID, e.Spent, e.Limit)
	case SessionTokensExceeded:
		return fmt.Sprintf("agent %s: session token budget exceeded: used %d of %d token limit", e.AgentID, e.Used, uint64(e.Limit))
	default:
		return fmt.Sprintf("agent %s: daily token budget exceeded: used %d of %d token limit", e.AgentID, e.Used, uint64(e.Limit))
	}
}

// Is reports category membership.
func (e *ViolationError) Is(target error) bool {
	return target == types.ErrBudgetExceeded
}

// Status is a point-in-time view of an agent's usage.
type Status struct {
	SessionCost   float64 `json:"session_cost"`
	DailyCost     float64 `json:"daily_cost"`
	SessionTokens uint64  `json:"session_tokens"`
	DailyTokens   uint64  `json:"daily_tokens"`
	Config        Config  `json:"config"`
}

// RemainingSessionCost returns the unspent session cost, or -1 when unlimited.
func (s Status) RemainingSessionCost() float64 {
	if s.Config.MaxCostPerSession <= 0 {
		return -1
	}
	return max(s.Config.MaxCostPerSession-s.SessionCost, 0)
}

// RemainingDailyCost returns the unspent daily cost, or -1 when unlimited.
func (s Status) RemainingDailyCost() float64 {
	if s.Config.MaxCostPerDay <= 0 {
		return -1
	}
	return max(s.Config.MaxCostPerDay-s.DailyCost, 0)
}

// IsExceeded reports whether any bucket is at or over its limit.
func (s Status) IsExceeded() bool {
	c := s.Config
	return (c.MaxCostPerSession > 0 && s.SessionCost >= c.MaxCostPerSession) ||
		(c.MaxCostPerDay > 0 && s.DailyCost >= c.MaxCostPerDay) ||
		(c.MaxTokensPerSession > 0 && s.SessionTokens >= c.MaxTokensPerSession) ||
		(c.MaxTokensPerDay > 0 && s.DailyTokens >= c.MaxTokensPerDay)
}

type usage struct {
	sessionCost   float64
	sessionTokens uint64
	dailyCost     float64
	dailyTokens   uint64
	dayKey        int64
	hasDaily      bool
}

// Enforcer tracks usage for many agents. All methods are safe for concurrent use.
type Enforcer struct {
	mu      sync.RWMutex
	configs map[string]Config
	usage   map[string]*usage
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock overrides the time source used for day keys.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Enforcer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEnforcer creates an enforcer with no budgets configured.
func NewEnforcer(opts ...Option) *Enforcer {
	e := &Enforcer{
		configs: make(map[string]Config),
		usage:   make(map[string]*usage),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DayKey returns floor(unix_seconds / 86400) for t.
func DayKey(t time.Time) int64 {
	secs := t.Unix()
	if secs < 0 {
		return (secs - 86399) / 86400
	}
	return secs / 86400
}

// SetBudget installs limits for agentID.
func (e *Enforcer) SetBudget(agentID string, cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs[agentID] = cfg
}

// GetBudget returns the limits for agentID.
func (e *Enforcer) GetBudget(agentID string) (Config, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.configs[agentID]
	return cfg, ok
}

// CheckBudget returns a *ViolationError when any of the agent's buckets is at
// or over its limit. Agents without limits always pass.
func (e *Enforcer) CheckBudget(agentID string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cfg, ok := e.configs[agentID]
	if !ok || !cfg.HasLimits() {
		return nil
	}
	u, ok := e.usage[agentID]
	if !ok {
		return nil
	}

	if cfg.MaxCostPerSession > 0 && u.sessionCost >= cfg.MaxCostPerSession {
		return &ViolationError{AgentID: agentID, Kind: SessionCostExceeded, Spent: u.sessionCost, Limit: cfg.MaxCostPerSession}
	}
	if cfg.MaxTokensPerSession > 0 && u.sessionTokens >= cfg.MaxTokensPerSession {
		return &ViolationError{AgentID: agentID, Kind: SessionTokensExceeded, Used: u.sessionTokens, Limit: float64(cfg.MaxTokensPerSession)}
	}

	if u.hasDaily && u.dayKey == DayKey(e.now()) {
		if cfg.MaxCostPerDay > 0 && u.dailyCost >= cfg.MaxCostPerDay {
			return &ViolationError{AgentID: agentID, Kind: DailyCostExceeded, Spent: u.dailyCost, Limit: cfg.MaxCostPerDay}
		}
		if cfg.MaxTokensPerDay > 0 && u.dailyTokens >= cfg.MaxTokensPerDay {
			return &ViolationError{AgentID: agentID, Kind: DailyTokensExceeded, Used: u.dailyTokens, Limit: float64(cfg.MaxTokensPerDay)}
		}
	}
	return nil
}

// RecordUsage adds cost and tokens to the session bucket and to the current
// day's bucket, resetting the daily counters first when the day changed.
func (e *Enforcer) RecordUsage(agentID string, cost float64, tokens uint64) {
	today := DayKey(e.now())

	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.usage[agentID]
	if !ok {
		u = &usage{}
		e.usage[agentID] = u
	}
	u.sessionCost += cost
	u.sessionTokens += tokens

	if !u.hasDaily || u.dayKey != today {
		if u.hasDaily {
			e.logger.Debug("budget_daily_reset",
				zap.String("agent_id", agentID),
				zap.Int64("previous_day", u.dayKey),
				zap.Int64("day", today))
		}
		u.dailyCost, u.dailyTokens, u.dayKey, u.hasDaily = 0, 0, today, true
	}
	u.dailyCost += cost
	u.dailyTokens += tokens
}

// GetStatus returns current usage. Daily values from a previous day read as zero.
func (e *Enforcer) GetStatus(agentID string) Status {
	today := DayKey(e.now())

	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{Config: e.configs[agentID]}
	if u, ok := e.usage[agentID]; ok {
		st.SessionCost = u.sessionCost
		st.SessionTokens = u.sessionTokens
		if u.hasDaily && u.dayKey == today {
			st.DailyCost = u.dailyCost
			st.DailyTokens = u.dailyTokens
		}
	}
	return st
}

// ResetSession clears the session bucket for agentID.
func (e *Enforcer) ResetSession(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u, ok := e.usage[agentID]; ok {
		u.sessionCost, u.sessionTokens = 0, 0
	}
}

// ResetAll clears both buckets for agentID.
func (e *Enforcer) ResetAll(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.usage, agentID)
}
