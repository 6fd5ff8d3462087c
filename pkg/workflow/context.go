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
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/types"
)

// StateUpdate is one reducer-merged write to the shared workflow state.
type StateUpdate struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Checkpoint is a labelled copy of the mutable parts of a Context.
type Checkpoint struct {
	Label        string                `json:"label"`
	Timestamp    time.Time             `json:"timestamp"`
	NodeOutputs  map[string]Value      `json:"node_outputs"`
	NodeStatuses map[string]NodeStatus `json:"node_statuses"`
	Variables    map[string]Value      `json:"variables"`
	State        map[string]Value      `json:"state"`
}

// NodeFunc is the body of a workflow node.
type NodeFunc func(ctx context.Context, wc *Context) (Value, error)

// Context carries the data of one workflow execution: input, node outputs
// and statuses, variables, reducer-merged state and checkpoints. All
// fields live behind one RWMutex; no lock is held while a node runs.
type Context struct {
	workflowID  string
	executionID string

	mu          sync.RWMutex
	input       Value
	outputs     map[string]Value
	statuses    map[string]NodeStatus
	variables   map[string]Value
	state       map[string]Value
	reducers    map[string]Reducer
	checkpoints []Checkpoint
	status      WorkflowStatus

	profiling bool
	profiler  *Profiler
	tracer   observability.Tracer
	logger   *zap.Logger
	clock    func() time.Time
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithExecutionID overrides the generated execution id.
func WithExecutionID(id string) ContextOption {
	return func(c *Context) { c.executionID = id }
}

// WithReducer registers r for key.
func WithReducer(key string, r Reducer) ContextOption {
	return func(c *Context) { c.reducers[key] = r }
}

// WithProfiling records an ExecutionTimeline for the execution.
func WithProfiling() ContextOption {
	return func(c *Context) { c.profiling = true }
}

func WithTracer(t observability.Tracer) ContextOption {
	return func(c *Context) { c.tracer = observability.OrNoOp(t) }
}

func WithLogger(l *zap.Logger) ContextOption {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(clock func() time.Time) ContextOption {
	return func(c *Context) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewContext creates the context for a new execution of workflowID. The
// execution id is a time-ordered UUID unless WithExecutionID is given.
func NewContext(workflowID string, opts ...ContextOption) *Context {
	c := &Context{
		workflowID:  workflowID,
		executionID: uuid.Must(uuid.NewV7()).String(),
		outputs:     make(map[string]Value),
		statuses:    make(map[string]NodeStatus),
		variables:   make(map[string]Value),
		state:       make(map[string]Value),
		reducers:    make(map[string]Reducer),
		tracer:      observability.NewNoOpTracer(),
		logger:      zap.NewNop(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.profiling {
		c.profiler = NewProfiler(c.workflowID, c.executionID, c.clock)
	}
	c.logger = c.logger.With(
		zap.String(observability.AttrWorkflowID, c.workflowID),
		zap.String(observability.AttrExecutionID, c.executionID))
	return c
}

func (c *Context) WorkflowID() string  { return c.workflowID }
func (c *Context) ExecutionID() string { return c.executionID }
func (c *Context) Profiler() *Profiler { return c.profiler }

func (c *Context) SetInput(v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = v
}

func (c *Context) Input() Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.input
}

func (c *Context) SetNodeOutput(nodeID string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[nodeID] = v
}

func (c *Context) NodeOutput(nodeID string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[nodeID]
	return v, ok
}

// NodeOutputs returns the outputs of the listed nodes that have one.
func (c *Context) NodeOutputs(nodeIDs ...string) map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Value, len(nodeIDs))
	for _, id := range nodeIDs {
		if v, ok := c.outputs[id]; ok {
			out[id] = v
		}
	}
	return out
}

// SetNodeStatus moves a node to next. Nodes without a status are Pending.
func (c *Context) SetNodeStatus(nodeID string, next NodeStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setNodeStatusLocked(nodeID, next)
}

func (c *Context) setNodeStatusLocked(nodeID string, next NodeStatus) error {
	cur := c.statuses[nodeID]
	if !cur.State.CanTransition(next.State) {
		return fmt.Errorf("%w: node %q %s -> %s", ErrInvalidTransition, nodeID, cur.State, next.State)
	}
	c.statuses[nodeID] = next
	return nil
}

// NodeStatus returns the status of nodeID, Pending when unknown.
func (c *Context) NodeStatus(nodeID string) NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses[nodeID]
}

func (c *Context) NodeStatuses() map[string]NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.statuses)
}

// Advance applies NextNodeState to nodeID using the current statuses of
// predecessors and stores the result. Running is returned but not stored;
// RunNode performs that move.
func (c *Context) Advance(nodeID string, predecessors []string, conditionMet bool) (NodeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	preds := make([]NodeStatus, len(predecessors))
	for i, p := range predecessors {
		preds[i] = c.statuses[p]
	}
	next := NextNodeState(preds, conditionMet)
	if next == NodeRunning {
		return next, nil
	}
	if c.statuses[nodeID].State == next {
		return next, nil
	}
	return next, c.setNodeStatusLocked(nodeID, NodeStatus{State: next})
}

func (c *Context) SetVariable(name string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = v
}

func (c *Context) Variable(name string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetReducer registers r for key. Keys without a reducer overwrite.
func (c *Context) SetReducer(key string, r Reducer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reducers[key] = r
}

func (c *Context) reducerFor(key string) Reducer {
	if r, ok := c.reducers[key]; ok {
		return r
	}
	return OverwriteReducer{}
}

// ApplyUpdate merges v into state key through its reducer and returns the
// stored result.
func (c *Context) ApplyUpdate(key string, v Value) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(c.state, key, v)
}

// ApplyUpdates applies updates in order. Either all of them are stored or,
// when a reducer fails, none are.
func (c *Context) ApplyUpdates(updates ...StateUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := maps.Clone(c.state)
	for _, u := range updates {
		if _, err := c.applyLocked(next, u.Key, u.Value); err != nil {
			return err
		}
	}
	c.state = next
	return nil
}

func (c *Context) applyLocked(state map[string]Value, key string, v Value) (Value, error) {
	r := c.reducerFor(key)
	var current *Value
	if cur, ok := state[key]; ok {
		current = &cur
	}
	merged, err := r.Reduce(current, v)
	if err != nil {
		return Value{}, fmt.Errorf("reducer %s for key %q: %w", r.Name(), key, err)
	}
	state[key] = merged
	return merged, nil
}

// State returns the merged value of key.
func (c *Context) State(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

// StateSnapshot returns a copy of the whole merged state.
func (c *Context) StateSnapshot() map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.state)
}

// CreateCheckpoint stores a copy of outputs, statuses, variables and state
// under label.
func (c *Context) CreateCheckpoint(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoints = append(c.checkpoints, Checkpoint{
		Label:        label,
		Timestamp:    c.clock(),
		NodeOutputs:  maps.Clone(c.outputs),
		NodeStatuses: maps.Clone(c.statuses),
		Variables:    maps.Clone(c.variables),
		State:        maps.Clone(c.state),
	})
}

// RestoreCheckpoint restores the most recent checkpoint named label and
// reports whether one existed.
func (c *Context) RestoreCheckpoint(label string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.checkpoints) - 1; i >= 0; i-- {
		cp := c.checkpoints[i]
		if cp.Label != label {
			continue
		}
		c.outputs = maps.Clone(cp.NodeOutputs)
		c.statuses = maps.Clone(cp.NodeStatuses)
		c.variables = maps.Clone(cp.Variables)
		c.state = maps.Clone(cp.State)
		c.logger.Debug("checkpoint_restored", zap.String("label", label))
		return true
	}
	return false
}

// Checkpoints lists checkpoint labels oldest first.
func (c *Context) Checkpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	labels := make([]string, len(c.checkpoints))
	for i, cp := range c.checkpoints {
		labels[i] = cp.Label
	}
	return labels
}

func (c *Context) Status() WorkflowStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Transition moves the workflow to next. Reaching a terminal state
// finishes the profiler timeline.
func (c *Context) Transition(next WorkflowStatus) error {
	c.mu.Lock()
	cur := c.status
	if !cur.State.CanTransition(next.State) {
		c.mu.Unlock()
		return fmt.Errorf("%w: workflow %s -> %s", ErrInvalidTransition, cur.State, next.State)
	}
	c.status = next
	c.mu.Unlock()

	c.logger.Info("workflow_transition",
		zap.Stringer("from", cur.State),
		zap.Stringer("to", next.State),
		zap.String("reason", next.Reason))
	if next.State.IsTerminal() {
		c.profiler.Finish()
	}
	return nil
}

func (c *Context) Start() error    { return c.Transition(WorkflowStatus{State: WorkflowRunning}) }
func (c *Context) Pause() error    { return c.Transition(WorkflowStatus{State: WorkflowPaused}) }
func (c *Context) Resume() error   { return c.Transition(WorkflowStatus{State: WorkflowRunning}) }
func (c *Context) Complete() error { return c.Transition(WorkflowStatus{State: WorkflowCompleted}) }
func (c *Context) Cancel() error   { return c.Transition(WorkflowStatus{State: WorkflowCancelled}) }

func (c *Context) Fail(reason string) error {
	return c.Transition(WorkflowStatus{State: WorkflowFailed, Reason: reason})
}

// RunNode executes fn as node nodeID. The node moves to Running, then to
// Completed with its output stored, or to Failed with the error message.
// The run is recorded on the profiler and traced as a workflow.node span.
func (c *Context) RunNode(ctx context.Context, nodeID string, fn NodeFunc) (Value, error) {
	if err := c.SetNodeStatus(nodeID, NodeStatus{State: NodeRunning}); err != nil {
		return Value{}, err
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanWorkflowNode,
		observability.WithAttribute(observability.AttrWorkflowID, c.workflowID),
		observability.WithAttribute(observability.AttrExecutionID, c.executionID),
		observability.WithAttribute(observability.AttrNodeID, nodeID))
	defer c.tracer.EndSpan(span)
	c.profiler.StartNode(nodeID)
	defer c.profiler.EndNode()

	out, err := fn(ctx, c)
	if err != nil {
		span.RecordError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A node cancelled while fn ran stays cancelled.
	cancelled := c.statuses[nodeID].State != NodeRunning
	if err != nil {
		if !cancelled {
			c.statuses[nodeID] = NodeFailedWith(err.Error())
		}
		c.logger.Warn("node_failed",
			zap.String("node_id", nodeID),
			zap.String("error_type", types.KindOf(err)),
			zap.Error(err))
		return Value{}, fmt.Errorf("node %q: %w", nodeID, err)
	}
	if cancelled {
		return out, nil
	}
	c.outputs[nodeID] = out
	c.statuses[nodeID] = NodeStatus{State: NodeCompleted}
	c.logger.Debug("node_completed", zap.String("node_id", nodeID))
	return out, nil
}

// RunTool records fn as a tool span of the currently running node.
func (c *Context) RunTool(ctx context.Context, toolID, toolName string, fn func(context.Context) error) error {
	c.profiler.StartTool(toolID, toolName)
	defer c.profiler.EndTool()
	return fn(ctx)
}

// CancelPending marks the listed nodes, or every node with a status when
// none are listed, as Cancelled unless they already finished.
func (c *Context) CancelPending(nodeIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(nodeIDs) == 0 {
		nodeIDs = slices.Collect(maps.Keys(c.statuses))
	}
	for _, id := range nodeIDs {
		if !c.statuses[id].IsTerminal() {
			c.statuses[id] = NodeStatus{State: NodeCancelled}
		}
	}
}
