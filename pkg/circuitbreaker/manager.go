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
	"sort"
	"sync"
)

// Manager keeps one breaker per upstream name so one failing upstream does
// not block the others.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewManager creates a manager whose breakers are built from config.
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for name, creating one if needed.
func (m *Manager) Get(name string) *CircuitBreaker {
	// Fast path: read lock to check if breaker exists
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check: another goroutine might have created it while we waited
	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}
	cfg := m.config
	cfg.Name = name
	breaker = New(cfg)
	m.breakers[name] = breaker
	return breaker
}

// Names returns the managed breaker names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllMetrics returns a snapshot per breaker.
func (m *Manager) AllMetrics() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.breakers))
	for name, breaker := range m.breakers {
		out[name] = breaker.Metrics()
	}
	return out
}

// Reset closes the breaker for name if it exists.
func (m *Manager) Reset(name string) {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		breaker.Reset()
	}
}

// ResetAll closes every breaker.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, breaker := range m.breakers {
		breaker.Reset()
	}
}
