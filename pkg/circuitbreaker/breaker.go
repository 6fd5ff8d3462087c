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
// Package circuitbreaker isolates failing upstreams.
//
// A breaker starts Closed and lets every call through. Once FailureThreshold
// consecutive calls fail it opens and rejects calls without running them.
// After Timeout the next call runs as a half-open probe; SuccessThreshold
// consecutive probe successes close the circuit, any probe failure reopens it.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

// State represents the current state of the circuit breaker.
type State int32

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing - reject requests immediately
	StateHalfOpen              // Testing - allow limited requests
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen matches every rejection returned by a breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// OpenError is returned for calls rejected without contacting the upstream.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker %q half-open: probe limit reached", e.Name)
	}
	return fmt.Sprintf("circuit breaker %q open: retry after %v", e.Name, e.RetryAfter)
}

// Is matches ErrCircuitOpen and the upstream error category.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen || target == types.ErrUpstream
}

// CircuitBreaker implements the circuit breaker pattern to prevent cascading failures.
type CircuitBreaker struct {
	config  Config
	state   atomic.Int32
	metrics *Metrics

	// mu serializes transitions and guards the fields below.
	mu               sync.Mutex
	openedAt         time.Time
	lastError        error
	halfOpenInFlight int
	windowStart      time.Time
	windowRequests   int
	windowFailures   int
}

// New creates a circuit breaker. Zero-valued fields in cfg take defaults.
func New(cfg Config) *CircuitBreaker {
	cfg.applyDefaults()
	cb := &CircuitBreaker{
		config:  cfg,
		metrics: &Metrics{},
	}
	cb.windowStart = cfg.Clock()
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// State returns the current state without triggering transitions.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Metrics returns a snapshot of the counters and transition history.
func (cb *CircuitBreaker) Metrics() Snapshot {
	s := cb.metrics.snapshot()
	s.Name = cb.config.Name
	s.State = cb.State()
	return s
}

// LastError returns the most recent failure.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastError
}

// Execute runs op unless the circuit rejects it, then records the outcome.
// Rejections return an *OpenError.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.config.Enabled {
		return op(ctx)
	}

	ctx, span := cb.config.Tracer.StartSpan(ctx, observability.SpanCircuitExecution,
		observability.WithAttribute("circuit_breaker.name", cb.config.Name))
	defer cb.config.Tracer.EndSpan(span)

	admittedAs, err := cb.beforeRequest()
	span.SetAttribute("circuit_breaker.state", admittedAs.String())
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = op(ctx)
	cb.afterRequest(admittedAs, err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// beforeRequest decides whether a call may run and returns the state it was
// admitted under.
func (cb *CircuitBreaker) beforeRequest() (State, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Clock()
	switch cb.State() {
	case StateClosed:
		return StateClosed, nil

	case StateOpen:
		elapsed := now.Sub(cb.openedAt)
		if elapsed < cb.config.Timeout {
			cb.metrics.recordRejected()
			cb.config.Tracer.RecordMetric(observability.MetricCircuitRejected, 1,
				map[string]string{"circuit_breaker": cb.config.Name})
			return StateOpen, &OpenError{Name: cb.config.Name, State: StateOpen, RetryAfter: cb.config.Timeout - elapsed}
		}
		cb.transitionLocked(StateHalfOpen, now)
		cb.config.Logger.Info("circuit_breaker_half_open",
			zap.String("name", cb.config.Name),
			zap.String("reason", "timeout_elapsed"),
			zap.Duration("elapsed", elapsed))
		cb.halfOpenInFlight++
		return StateHalfOpen, nil

	default:
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxRequests {
			cb.metrics.recordRejected()
			return StateHalfOpen, &OpenError{Name: cb.config.Name, State: StateHalfOpen}
		}
		cb.halfOpenInFlight++
		return StateHalfOpen, nil
	}
}

// afterRequest records the result and updates circuit state.
func (cb *CircuitBreaker) afterRequest(admittedAs State, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if admittedAs == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err != nil && errors.Is(err, context.DeadlineExceeded) && !cb.config.CountTimeoutsAsFailures {
		cb.config.Logger.Debug("circuit_breaker_timeout_ignored", zap.String("name", cb.config.Name))
		return
	}

	now := cb.config.Clock()
	if err == nil {
		cb.onSuccessLocked(now)
	} else {
		cb.onFailureLocked(err, now)
	}
}

// onSuccessLocked handles successful requests.
func (cb *CircuitBreaker) onSuccessLocked(now time.Time) {
	successes := cb.metrics.recordSuccess()
	cb.countInWindowLocked(now, false)

	if cb.State() != StateHalfOpen {
		return
	}
	cb.config.Logger.Info("circuit_breaker_half_open_success",
		zap.String("name", cb.config.Name),
		zap.Uint64("success_count", successes),
		zap.Int("threshold", cb.config.SuccessThreshold))
	if successes >= uint64(cb.config.SuccessThreshold) {
		cb.transitionLocked(StateClosed, now)
		cb.config.Logger.Info("circuit_breaker_closed",
			zap.String("name", cb.config.Name),
			zap.String("reason", "success_threshold_reached"))
	}
}

// onFailureLocked handles failed requests.
func (cb *CircuitBreaker) onFailureLocked(err error, now time.Time) {
	failures := cb.metrics.recordFailure()
	cb.lastError = err
	rate := cb.countInWindowLocked(now, true)

	switch cb.State() {
	case StateClosed:
		cb.config.Logger.Warn("circuit_breaker_failure",
			zap.String("name", cb.config.Name),
			zap.Error(err),
			zap.Uint64("failure_count", failures),
			zap.Int("threshold", cb.config.FailureThreshold))

		reason := ""
		switch {
		case failures >= uint64(cb.config.FailureThreshold):
			reason = "failure_threshold_reached"
		case cb.config.UseFailureRate && cb.windowRequests >= cb.config.MinimumRequests &&
			rate >= cb.config.FailureRateThreshold:
			reason = "failure_rate_exceeded"
		}
		if reason != "" {
			cb.transitionLocked(StateOpen, now)
			cb.config.Logger.Error("circuit_breaker_opened",
				zap.String("name", cb.config.Name),
				zap.String("reason", reason),
				zap.Uint64("consecutive_failures", failures),
				zap.Float64("failure_rate", rate))
		}

	case StateHalfOpen:
		cb.transitionLocked(StateOpen, now)
		cb.config.Logger.Warn("circuit_breaker_reopened",
			zap.String("name", cb.config.Name),
			zap.Error(err),
			zap.String("reason", "half_open_failure"))
	}
}

// countInWindowLocked adds one request to the rolling window and returns the
// window failure rate in percent.
func (cb *CircuitBreaker) countInWindowLocked(now time.Time, failed bool) float64 {
	if now.Sub(cb.windowStart) >= cb.config.Window {
		cb.windowStart = now
		cb.windowRequests = 0
		cb.windowFailures = 0
	}
	cb.windowRequests++
	if failed {
		cb.windowFailures++
	}
	return float64(cb.windowFailures) / float64(cb.windowRequests) * 100
}

// transitionLocked moves to a new state (caller must hold mu).
func (cb *CircuitBreaker) transitionLocked(to State, now time.Time) {
	from := cb.State()
	if from == to {
		return
	}
	cb.state.Store(int32(to))

	switch to {
	case StateOpen:
		cb.openedAt = now
		cb.halfOpenInFlight = 0
	case StateHalfOpen:
		cb.metrics.consecutiveSuccesses.Store(0)
		cb.halfOpenInFlight = 0
	case StateClosed:
		cb.openedAt = time.Time{}
		cb.metrics.reset()
	}
	cb.metrics.recordTransition(Transition{From: from, To: to, At: now})
	cb.config.Tracer.RecordMetric(observability.MetricCircuitTransitions, 1, map[string]string{
		"circuit_breaker": cb.config.Name,
		"from":            from.String(),
		"to":              to.String(),
	})

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// Reset manually closes the circuit without waiting for the timeout.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.State()
	cb.transitionLocked(StateClosed, cb.config.Clock())
	cb.metrics.reset()
	cb.lastError = nil
	cb.windowRequests, cb.windowFailures = 0, 0

	cb.config.Logger.Info("circuit_breaker_manually_reset",
		zap.String("name", cb.config.Name),
		zap.String("previous_state", from.String()))
}
