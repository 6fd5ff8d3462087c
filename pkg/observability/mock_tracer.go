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
package observability

import (
	"context"
	"sync"
)

// RecordedMetric is a metric captured by MockTracer.
type RecordedMetric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// MockTracer captures ended spans and metrics for inspection in tests.
// Thread-safe: all methods can be called concurrently.
type MockTracer struct {
	mu      sync.RWMutex
	spans   []*Span
	metrics []RecordedMetric
}

// NewMockTracer creates a new mock tracer for testing.
func NewMockTracer() *MockTracer {
	return &MockTracer{}
}

// StartSpan creates a new span.
func (m *MockTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, opts...)
	return ContextWithSpan(ctx, span), span
}

// EndSpan completes a span and stores it.
func (m *MockTracer) EndSpan(span *Span) {
	if !finishSpan(span) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, span)
}

// RecordMetric stores the metric.
func (m *MockTracer) RecordMetric(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, RecordedMetric{Name: name, Value: value, Labels: labels})
}

// RecordEvent is not captured.
func (m *MockTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

// Flush is a no-op for mock tracer.
func (m *MockTracer) Flush(ctx context.Context) error {
	return nil
}

// GetSpans returns a copy of all ended spans.
func (m *MockTracer) GetSpans() []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spans := make([]*Span, len(m.spans))
	copy(spans, m.spans)
	return spans
}

// GetSpansByName returns all ended spans with the given name.
func (m *MockTracer) GetSpansByName(name string) []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Span
	for _, span := range m.spans {
		if span.Name == name {
			result = append(result, span)
		}
	}
	return result
}

// MetricTotal sums the values recorded under name.
func (m *MockTracer) MetricTotal(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, rm := range m.metrics {
		if rm.Name == name {
			total += rm.Value
		}
	}
	return total
}

// Reset clears captured spans and metrics.
func (m *MockTracer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = nil
	m.metrics = nil
}

var _ Tracer = (*MockTracer)(nil)
