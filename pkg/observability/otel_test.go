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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

func TestOTelTracer_WithNoopProviders(t *testing.T) {
	tracer := NewOTelTracer(
		tracenoop.NewTracerProvider().Tracer("mofa-test"),
		metricnoop.NewMeterProvider().Meter("mofa-test"),
		zaptest.NewLogger(t),
	)

	ctx, span := tracer.StartSpan(context.Background(), SpanInferenceInfer,
		WithAttribute(AttrModelID, "llama-3"),
		WithAttribute(AttrAttempt, 2),
	)
	require.NotNil(t, span)
	assert.Same(t, span, SpanFromContext(ctx))

	span.AddEvent("routed", map[string]interface{}{AttrRoutedTo: "local", "ratio": 0.5})
	span.RecordError(errors.New("boom"))

	assert.NotPanics(t, func() {
		tracer.RecordEvent(ctx, "admission", map[string]interface{}{AttrAdmission: "accepted"})
		tracer.RecordMetric(MetricInferenceRouted, 1, map[string]string{AttrRoutedTo: "local"})
		tracer.RecordMetric(MetricInferenceRouted, 1, nil)
		tracer.EndSpan(span)
		tracer.EndSpan(nil)
	})
	assert.False(t, span.EndTime.IsZero())
	assert.NoError(t, tracer.Flush(ctx))
}

func TestOTelTracer_NilMeter(t *testing.T) {
	tracer := NewOTelTracer(tracenoop.NewTracerProvider().Tracer("mofa-test"), nil, nil)
	assert.NotPanics(t, func() {
		tracer.RecordMetric(MetricTasksCompleted, 1, nil)
	})
}

func TestToAttributes(t *testing.T) {
	attrs := toAttributes(map[string]interface{}{
		"s": "x",
		"b": true,
		"i": 3,
		"l": int64(4),
		"u": uint64(5),
		"f": 1.5,
		"o": []int{1},
	})
	got := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, map[string]string{
		"s": "x", "b": "true", "i": "3", "l": "4", "u": "5", "f": "1.5", "o": "[1]",
	}, got)
}
