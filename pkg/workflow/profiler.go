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
package workflow

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"
)

// ToolSpan is one tool invocation inside a node.
type ToolSpan struct {
	ToolID      string `json:"tool_id"`
	ToolName    string `json:"tool_name"`
	StartedAtMs int64  `json:"started_at_ms"`
	EndedAtMs   *int64 `json:"ended_at_ms,omitempty"`
	DurationMs  *int64 `json:"duration_ms,omitempty"`
}

// NodeSpan is one node execution and the tools it called, in call order.
type NodeSpan struct {
	NodeID      string     `json:"node_id"`
	StartedAtMs int64      `json:"started_at_ms"`
	EndedAtMs   *int64     `json:"ended_at_ms,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	ToolSpans   []ToolSpan `json:"tool_spans"`
}

// Duration returns the recorded duration and whether the span has ended.
func (s NodeSpan) Duration() (int64, bool) {
	if s.DurationMs == nil {
		return 0, false
	}
	return *s.DurationMs, true
}

// ExecutionTimeline records node and tool spans of a single execution.
// At most one node, and within it one tool, is open at a time.
type ExecutionTimeline struct {
	WorkflowID  string     `json:"workflow_id"`
	ExecutionID string     `json:"execution_id"`
	StartedAtMs int64      `json:"started_at_ms"`
	EndedAtMs   *int64     `json:"ended_at_ms,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	NodeSpans   []NodeSpan `json:"node_spans"`

	// 1-based indexes of the open node and tool; 0 means none.
	currentNode int
	currentTool int
}

// NewExecutionTimeline starts a timeline at startedAtMs.
func NewExecutionTimeline(workflowID, executionID string, startedAtMs int64) *ExecutionTimeline {
	return &ExecutionTimeline{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		StartedAtMs: startedAtMs,
	}
}

func closeSpan(start, now int64) (*int64, *int64) {
	end := now
	d := max(0, now-start)
	return &end, &d
}

// StartNode opens a span for nodeID, closing any open node and tool first.
func (t *ExecutionTimeline) StartNode(nodeID string, nowMs int64) {
	t.EndNode(nowMs)
	t.NodeSpans = append(t.NodeSpans, NodeSpan{NodeID: nodeID, StartedAtMs: nowMs})
	t.currentNode = len(t.NodeSpans)
}

// EndNode closes the open node span and its open tool span, if any.
func (t *ExecutionTimeline) EndNode(nowMs int64) {
	if t.currentNode == 0 {
		return
	}
	t.EndTool(nowMs)
	span := &t.NodeSpans[t.currentNode-1]
	span.EndedAtMs, span.DurationMs = closeSpan(span.StartedAtMs, nowMs)
	t.currentNode = 0
}

// StartTool opens a tool span in the current node, closing any open tool
// first. It is a no-op when no node is open.
func (t *ExecutionTimeline) StartTool(toolID, toolName string, nowMs int64) {
	if t.currentNode == 0 {
		return
	}
	t.EndTool(nowMs)
	span := &t.NodeSpans[t.currentNode-1]
	span.ToolSpans = append(span.ToolSpans, ToolSpan{ToolID: toolID, ToolName: toolName, StartedAtMs: nowMs})
	t.currentTool = len(span.ToolSpans)
}

// EndTool closes the open tool span, if any.
func (t *ExecutionTimeline) EndTool(nowMs int64) {
	if t.currentNode == 0 || t.currentTool == 0 {
		t.currentTool = 0
		return
	}
	tool := &t.NodeSpans[t.currentNode-1].ToolSpans[t.currentTool-1]
	tool.EndedAtMs, tool.DurationMs = closeSpan(tool.StartedAtMs, nowMs)
	t.currentTool = 0
}

// Finish closes any open spans and the timeline itself.
func (t *ExecutionTimeline) Finish(nowMs int64) {
	t.EndNode(nowMs)
	t.EndedAtMs, t.DurationMs = closeSpan(t.StartedAtMs, nowMs)
}

// CriticalPath returns the finished node spans ordered by descending
// duration. Ties keep execution order.
func (t *ExecutionTimeline) CriticalPath() []NodeSpan {
	out := t.finishedNodes()
	slices.SortStableFunc(out, func(a, b NodeSpan) int {
		return cmp.Compare(*b.DurationMs, *a.DurationMs)
	})
	return out
}

// DurationStats summarizes node durations in milliseconds.
type DurationStats struct {
	Min  int64   `json:"min_ms"`
	Max  int64   `json:"max_ms"`
	Mean float64 `json:"mean_ms"`
}

// NodeStats reports min, max and mean over finished nodes. ok is false when
// no node has finished.
func (t *ExecutionTimeline) NodeStats() (DurationStats, bool) {
	durations := t.durations()
	if len(durations) == 0 {
		return DurationStats{}, false
	}
	var sum int64
	for _, d := range durations {
		sum += d
	}
	return DurationStats{
		Min:  slices.Min(durations),
		Max:  slices.Max(durations),
		Mean: float64(sum) / float64(len(durations)),
	}, true
}

// PercentileStats holds nearest-rank percentiles of node durations.
type PercentileStats struct {
	P50 int64 `json:"p50_ms"`
	P95 int64 `json:"p95_ms"`
}

// PercentileStats reports p50 and p95 over finished nodes using the
// nearest-rank index ceil(p/100 * (n-1)) into the sorted durations.
func (t *ExecutionTimeline) PercentileStats() (PercentileStats, bool) {
	durations := t.durations()
	if len(durations) == 0 {
		return PercentileStats{}, false
	}
	slices.Sort(durations)
	return PercentileStats{
		P50: nearestRank(durations, 50),
		P95: nearestRank(durations, 95),
	}, true
}

func nearestRank(sorted []int64, p float64) int64 {
	idx := int(math.Ceil(p / 100 * float64(len(sorted)-1)))
	return sorted[min(idx, len(sorted)-1)]
}

func (t *ExecutionTimeline) finishedNodes() []NodeSpan {
	out := make([]NodeSpan, 0, len(t.NodeSpans))
	for _, s := range t.NodeSpans {
		if s.DurationMs != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t *ExecutionTimeline) durations() []int64 {
	out := make([]int64, 0, len(t.NodeSpans))
	for _, s := range t.NodeSpans {
		if d, ok := s.Duration(); ok {
			out = append(out, d)
		}
	}
	return out
}

// clone deep-copies the timeline so callers can inspect it while recording
// continues.
func (t *ExecutionTimeline) clone() *ExecutionTimeline {
	out := *t
	out.NodeSpans = make([]NodeSpan, len(t.NodeSpans))
	for i, s := range t.NodeSpans {
		s.ToolSpans = slices.Clone(s.ToolSpans)
		out.NodeSpans[i] = s
	}
	return &out
}

// Profiler records an ExecutionTimeline. A nil *Profiler is the disabled
// mode: every method is a no-op and Timeline returns nil.
type Profiler struct {
	mu       sync.Mutex
	timeline *ExecutionTimeline
	clock    func() time.Time
}

// NewProfiler starts recording a timeline. A nil clock uses time.Now.
func NewProfiler(workflowID, executionID string, clock func() time.Time) *Profiler {
	if clock == nil {
		clock = time.Now
	}
	return &Profiler{
		timeline: NewExecutionTimeline(workflowID, executionID, clock().UnixMilli()),
		clock:    clock,
	}
}

// Enabled reports whether the profiler records anything.
func (p *Profiler) Enabled() bool { return p != nil }

func (p *Profiler) record(fn func(t *ExecutionTimeline, nowMs int64)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.timeline, p.clock().UnixMilli())
}

func (p *Profiler) StartNode(nodeID string) {
	p.record(func(t *ExecutionTimeline, now int64) { t.StartNode(nodeID, now) })
}

func (p *Profiler) EndNode() {
	p.record(func(t *ExecutionTimeline, now int64) { t.EndNode(now) })
}

func (p *Profiler) StartTool(toolID, toolName string) {
	p.record(func(t *ExecutionTimeline, now int64) { t.StartTool(toolID, toolName, now) })
}

func (p *Profiler) EndTool() {
	p.record(func(t *ExecutionTimeline, now int64) { t.EndTool(now) })
}

func (p *Profiler) Finish() {
	p.record(func(t *ExecutionTimeline, now int64) { t.Finish(now) })
}

// Timeline returns a copy of the recorded timeline.
func (p *Profiler) Timeline() *ExecutionTimeline {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeline.clone()
}
