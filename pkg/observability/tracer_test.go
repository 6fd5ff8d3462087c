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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofa-org/mofa/pkg/types"
)

func TestNoOpTracer_SpanLifecycle(t *testing.T) {
	tracer := NewNoOpTracer()

	ctx, parent := tracer.StartSpan(context.Background(), SpanTaskRun,
		WithAttribute(AttrTaskID, "abcd1234"),
		WithSpanKind("task"),
	)
	require.NotNil(t, parent)
	assert.NotEmpty(t, parent.TraceID)
	assert.NotEmpty(t, parent.SpanID)
	assert.Equal(t, "abcd1234", parent.Attributes[AttrTaskID])
	assert.Equal(t, "task", parent.Attributes["span.kind"])
	assert.Same(t, parent, SpanFromContext(ctx))

	_, child := tracer.StartSpan(ctx, SpanLLMChat)
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)

	time.Sleep(5 * time.Millisecond)
	tracer.EndSpan(child)
	tracer.EndSpan(nil)
	assert.False(t, child.EndTime.IsZero())
	assert.GreaterOrEqual(t, child.Duration, 5*time.Millisecond)

	assert.NotPanics(t, func() {
		tracer.RecordMetric(MetricTasksSpawned, 1, nil)
		tracer.RecordEvent(ctx, "noop", nil)
	})
	assert.NoError(t, tracer.Flush(ctx))
}

func TestSpan_RecordError(t *testing.T) {
	span := &Span{}
	span.RecordError(nil)
	assert.Equal(t, StatusUnset, span.Status.Code)

	err := types.WithCategory(types.ErrResourceLimit, errors.New("fuel exhausted"))
	span.RecordError(fmt.Errorf("call: %w", err))

	assert.Equal(t, StatusError, span.Status.Code)
	assert.Equal(t, "error", span.Status.Code.String())
	assert.Equal(t, "resource_limit", span.Attributes[AttrErrorType])
	assert.Contains(t, span.Attributes[AttrErrorMessage], "fuel exhausted")
}

func TestSpan_EventsAndOptions(t *testing.T) {
	span := &Span{}
	span.AddEvent("admission_deferred", map[string]interface{}{AttrModelID: "llama"})
	require.Len(t, span.Events, 1)
	assert.Equal(t, "llama", span.Events[0].Attributes[AttrModelID])

	WithParentSpanID("parent-1")(span)
	assert.Equal(t, "parent-1", span.ParentID)
	assert.Equal(t, "unknown", StatusCode(42).String())
}

func TestMockTracer(t *testing.T) {
	tracer := NewMockTracer()

	ctx, span := tracer.StartSpan(context.Background(), SpanWasmCall)
	_, other := tracer.StartSpan(ctx, SpanPluginLoad)
	tracer.EndSpan(other)
	tracer.EndSpan(span)

	tracer.RecordMetric(MetricWasmFuelUsed, 10, nil)
	tracer.RecordMetric(MetricWasmFuelUsed, 5, map[string]string{AttrPluginID: "p"})
	tracer.RecordMetric(MetricWasmCalls, 1, nil)

	assert.Len(t, tracer.GetSpans(), 2)
	assert.Len(t, tracer.GetSpansByName(SpanWasmCall), 1)
	assert.InDelta(t, 15.0, tracer.MetricTotal(MetricWasmFuelUsed), 1e-9)

	tracer.Reset()
	assert.Empty(t, tracer.GetSpans())
	assert.Zero(t, tracer.MetricTotal(MetricWasmCalls))
}

func TestOrNoOp(t *testing.T) {
	_, ok := OrNoOp(nil).(*NoOpTracer)
	assert.True(t, ok)

	mock := NewMockTracer()
	assert.Same(t, mock, OrNoOp(mock))
}
