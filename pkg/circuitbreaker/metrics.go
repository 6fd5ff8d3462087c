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
	"sync"
	"sync/atomic"
	"time"
)

const maxTransitionHistory = 100

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Metrics holds lock-free counters. Reads are consistent per counter, not
// across counters.
type Metrics struct {
	totalSuccesses       atomic.Uint64
	totalFailures        atomic.Uint64
	totalRejected        atomic.Uint64
	totalTransitions     atomic.Uint64
	consecutiveSuccesses atomic.Uint64
	consecutiveFailures  atomic.Uint64
	openCount            atomic.Uint64
	lastOpenedAt         atomic.Int64 // unix ns, 0 = never
	lastClosedAt         atomic.Int64
	totalOpenDurationNs  atomic.Int64
	currentOpenStartedAt atomic.Int64 // unix ns, 0 = not open

	mu          sync.RWMutex
	transitions []Transition
}

// recordSuccess increments successes and clears the failure streak.
func (m *Metrics) recordSuccess() uint64 {
	m.totalSuccesses.Add(1)
	m.consecutiveFailures.Store(0)
	return m.consecutiveSuccesses.Add(1)
}

// recordFailure increments failures and clears the success streak.
func (m *Metrics) recordFailure() uint64 {
	m.totalFailures.Add(1)
	m.consecutiveSuccesses.Store(0)
	return m.consecutiveFailures.Add(1)
}

func (m *Metrics) recordRejected() {
	m.totalRejected.Add(1)
}

func (m *Metrics) recordTransition(t Transition) {
	m.totalTransitions.Add(1)
	now := t.At.UnixNano()
	switch t.To {
	case StateOpen:
		m.lastOpenedAt.Store(now)
		m.openCount.Add(1)
		m.currentOpenStartedAt.Store(now)
	case StateClosed:
		m.lastClosedAt.Store(now)
		if started := m.currentOpenStartedAt.Swap(0); started > 0 {
			m.totalOpenDurationNs.Add(max(now-started, 0))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
	if len(m.transitions) > maxTransitionHistory {
		m.transitions = m.transitions[len(m.transitions)-maxTransitionHistory:]
	}
}

func (m *Metrics) reset() {
	m.consecutiveFailures.Store(0)
	m.consecutiveSuccesses.Store(0)
}

// Snapshot is a point-in-time copy of breaker metrics.
type Snapshot struct {
	Name                 string        `json:"name"`
	State                State         `json:"state"`
	TotalSuccesses       uint64        `json:"total_successes"`
	TotalFailures        uint64        `json:"total_failures"`
	TotalRejected        uint64        `json:"total_rejected"`
	TotalTransitions     uint64        `json:"total_transitions"`
	ConsecutiveSuccesses uint64        `json:"consecutive_successes"`
	ConsecutiveFailures  uint64        `json:"consecutive_failures"`
	OpenCount            uint64        `json:"open_count"`
	TotalOpenDuration    time.Duration `json:"total_open_duration"`
	LastOpenedAt         time.Time     `json:"last_opened_at"`
	LastClosedAt         time.Time     `json:"last_closed_at"`
	Transitions          []Transition  `json:"transitions,omitempty"`
}

// TotalRequests is successes plus failures; rejected calls are excluded.
func (s Snapshot) TotalRequests() uint64 {
	return s.TotalSuccesses + s.TotalFailures
}

// FailureRate is the all-time failure percentage.
func (s Snapshot) FailureRate() float64 {
	total := s.TotalRequests()
	if total == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(total) * 100
}

// SuccessRate is 100 minus FailureRate.
func (s Snapshot) SuccessRate() float64 {
	return 100 - s.FailureRate()
}

func (m *Metrics) snapshot() Snapshot {
	s := Snapshot{
		TotalSuccesses:       m.totalSuccesses.Load(),
		TotalFailures:        m.totalFailures.Load(),
		TotalRejected:        m.totalRejected.Load(),
		TotalTransitions:     m.totalTransitions.Load(),
		ConsecutiveSuccesses: m.consecutiveSuccesses.Load(),
		ConsecutiveFailures:  m.consecutiveFailures.Load(),
		OpenCount:            m.openCount.Load(),
		TotalOpenDuration:    time.Duration(m.totalOpenDurationNs.Load()),
		LastOpenedAt:         unixNanoTime(m.lastOpenedAt.Load()),
		LastClosedAt:         unixNanoTime(m.lastClosedAt.Load()),
	}
	m.mu.RLock()
	s.Transitions = append([]Transition(nil), m.transitions...)
	m.mu.RUnlock()
	return s
}

func unixNanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
