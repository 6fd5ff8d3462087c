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
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OTelTracer exports runtime spans and metrics through OpenTelemetry.
// Provider setup (exporters, sampling) belongs to the embedding process.
type OTelTracer struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger *zap.Logger

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

// NewOTelTracer wraps an OpenTelemetry tracer. meter may be nil, in which case
// RecordMetric becomes a no-op.
func NewOTelTracer(tracer trace.Tracer, meter metric.Meter, logger *zap.Logger) *OTelTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTelTracer{
		tracer:   tracer,
		meter:    meter,
		logger:   logger,
		counters: make(map[string]metric.Float64Counter),
	}
}

// StartSpan starts both a runtime span and the backing OpenTelemetry span.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, opts...)
	ctx, otelSpan := t.tracer.Start(ctx, name, trace.WithTimestamp(span.StartTime))
	if sc := otelSpan.SpanContext(); sc.IsValid() {
		span.TraceID = sc.TraceID().String()
		span.SpanID = sc.SpanID().String()
	}
	span.backend = otelSpan
	return ContextWithSpan(ctx, span), span
}

// EndSpan copies attributes, events and status onto the OpenTelemetry span and ends it.
func (t *OTelTracer) EndSpan(span *Span) {
	if !finishSpan(span) {
		return
	}
	otelSpan, ok := span.backend.(trace.Span)
	if !ok {
		return
	}

	otelSpan.SetAttributes(toAttributes(span.Attributes)...)
	for _, ev := range span.Events {
		otelSpan.AddEvent(ev.Name,
			trace.WithTimestamp(ev.Timestamp),
			trace.WithAttributes(toAttributes(ev.Attributes)...))
	}
	switch span.Status.Code {
	case StatusError:
		otelSpan.SetStatus(codes.Error, span.Status.Message)
	case StatusOK:
		otelSpan.SetStatus(codes.Ok, span.Status.Message)
	}
	otelSpan.End(trace.WithTimestamp(span.EndTime))
}

// RecordMetric adds value to a Float64Counter named after the metric.
func (t *OTelTracer) RecordMetric(name string, value float64, labels map[string]string) {
	if t.meter == nil {
		return
	}
	counter, err := t.counter(name)
	if err != nil {
		t.logger.Debug("otel_counter_unavailable", zap.String("metric", name), zap.Error(err))
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

func (t *OTelTracer) counter(name string) (metric.Float64Counter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[name]; ok {
		return c, nil
	}
	c, err := t.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	t.counters[name] = c
	return c, nil
}

// RecordEvent attaches the event to the active OpenTelemetry span in ctx.
func (t *OTelTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

// Flush is a no-op; exporters are flushed by the provider owner.
func (t *OTelTracer) Flush(ctx context.Context) error {
	return nil
}

func toAttributes(attrs map[string]interface{}) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case uint64:
			out = append(out, attribute.Int64(k, int64(val)))
		case float64:
			out = append(out, attribute.Float64(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return out
}

var _ Tracer = (*OTelTracer)(nil)
