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
	"time"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/observability"
)

// Config defines circuit breaker behavior.
type Config struct {
	Name                 string        `mapstructure:"name"`
	FailureThreshold     int           `mapstructure:"failure_threshold"`      // consecutive failures that open the circuit (default: 5)
	SuccessThreshold     int           `mapstructure:"success_threshold"`      // consecutive half-open successes that close it (default: 3)
	Timeout              time.Duration `mapstructure:"timeout"`                // cooldown before a half-open probe (default: 30s)
	Enabled              bool          `mapstructure:"enabled"`                // disabled breakers pass every call through
	HalfOpenMaxRequests  int           `mapstructure:"half_open_max_requests"` // concurrent probes admitted while half-open (default: 3)
	Window               time.Duration `mapstructure:"window"`                 // failure-rate window (default: 120s)
	MinimumRequests      int           `mapstructure:"minimum_requests"`       // requests in window before the rate applies (default: 10)
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"` // percent (default: 50)
	// CountTimeoutsAsFailures counts context.DeadlineExceeded as a failure.
	CountTimeoutsAsFailures bool `mapstructure:"count_timeouts_as_failures"`
	// UseFailureRate also opens the circuit when the window failure rate
	// reaches FailureRateThreshold. Off by default: the rate is surfaced in
	// metrics but does not drive transitions.
	UseFailureRate bool `mapstructure:"use_failure_rate"`

	OnStateChange func(name string, from, to State) `mapstructure:"-"`
	Logger        *zap.Logger                       `mapstructure:"-"`
	Tracer        observability.Tracer              `mapstructure:"-"`
	// Clock overrides time.Now (tests).
	Clock func() time.Time `mapstructure:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:                    "default",
		FailureThreshold:        5,
		SuccessThreshold:        3,
		Timeout:                 30 * time.Second,
		Enabled:                 true,
		HalfOpenMaxRequests:     3,
		Window:                  120 * time.Second,
		MinimumRequests:         10,
		FailureRateThreshold:    50,
		CountTimeoutsAsFailures: true,
	}
}

// StrictConfig opens quickly and probes conservatively.
func StrictConfig() Config {
	c := DefaultConfig()
	c.FailureThreshold = 3
	c.SuccessThreshold = 2
	c.Timeout = 10 * time.Second
	c.HalfOpenMaxRequests = 1
	c.UseFailureRate = true
	c.FailureRateThreshold = 30
	return c
}

// LenientConfig tolerates bursts of failures.
func LenientConfig() Config {
	c := DefaultConfig()
	c.FailureThreshold = 10
	c.SuccessThreshold = 5
	c.Timeout = 60 * time.Second
	c.HalfOpenMaxRequests = 5
	c.UseFailureRate = true
	c.FailureRateThreshold = 70
	return c
}

// DisabledConfig passes every call through.
func DisabledConfig() Config {
	c := DefaultConfig()
	c.Enabled = false
	return c
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinimumRequests <= 0 {
		c.MinimumRequests = d.MinimumRequests
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	if c.Logger == nil {
		c.Logger = zap.L()
	}
	c.Tracer = observability.OrNoOp(c.Tracer)
	if c.Clock == nil {
		c.Clock = time.Now
	}
}
