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
	"errors"
	"fmt"

	"github.com/mofa-org/mofa/pkg/types"
)

// ErrInvalidTransition is returned when a state machine move is not allowed.
var ErrInvalidTransition = types.WithCategory(types.ErrInvalidInput, errors.New("invalid state transition"))

// NodeState is the state of a node within one workflow execution.
//
//	Pending -> Waiting -> Running -> Completed | Failed | Skipped | Cancelled
type NodeState uint8

const (
	NodePending NodeState = iota
	NodeWaiting
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeSkipped
	NodeCancelled
)

var nodeStateNames = [...]string{"pending", "waiting", "running", "completed", "failed", "skipped", "cancelled"}

func (s NodeState) String() string {
	if int(s) < len(nodeStateNames) {
		return nodeStateNames[s]
	}
	return fmt.Sprintf("node_state(%d)", s)
}

// IsTerminal reports whether no further transition is possible.
func (s NodeState) IsTerminal() bool {
	return s >= NodeCompleted
}

// IsSuccess reports whether downstream nodes may run after s.
func (s NodeState) IsSuccess() bool {
	return s == NodeCompleted || s == NodeSkipped
}

var nodeTransitions = map[NodeState][]NodeState{
	NodePending: {NodeWaiting, NodeRunning, NodeSkipped, NodeCancelled},
	NodeWaiting: {NodeWaiting, NodeRunning, NodeSkipped, NodeCancelled},
	NodeRunning: {NodeCompleted, NodeFailed, NodeCancelled},
}

// CanTransition reports whether a node may move from s to next.
func (s NodeState) CanTransition(next NodeState) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NodeStatus is a node state plus the failure reason for NodeFailed.
type NodeStatus struct {
	State  NodeState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// NodeFailedWith returns a failed status carrying reason.
func NodeFailedWith(reason string) NodeStatus {
	return NodeStatus{State: NodeFailed, Reason: reason}
}

func (s NodeStatus) IsTerminal() bool { return s.State.IsTerminal() }
func (s NodeStatus) IsSuccess() bool  { return s.State.IsSuccess() }

func (s NodeStatus) String() string {
	if s.State == NodeFailed && s.Reason != "" {
		return "failed: " + s.Reason
	}
	return s.State.String()
}

// NextNodeState decides where a not yet running node goes given the
// statuses of its declared predecessors. A node entered through an edge
// whose condition was false is Skipped. It waits while any predecessor is
// unfinished, runs once all succeeded, and is Cancelled when a predecessor
// failed or was cancelled.
func NextNodeState(predecessors []NodeStatus, conditionMet bool) NodeState {
	if !conditionMet {
		return NodeSkipped
	}
	blocked := false
	for _, p := range predecessors {
		if !p.IsTerminal() {
			return NodeWaiting
		}
		if !p.IsSuccess() {
			blocked = true
		}
	}
	if blocked {
		return NodeCancelled
	}
	return NodeRunning
}

// WorkflowState is the state of one workflow execution. Paused is a side
// branch of Running.
//
//	NotStarted -> Running -> Completed | Failed | Cancelled
//	              Running <-> Paused
type WorkflowState uint8

const (
	WorkflowNotStarted WorkflowState = iota
	WorkflowRunning
	WorkflowPaused
	WorkflowCompleted
	WorkflowFailed
	WorkflowCancelled
)

var workflowStateNames = [...]string{"not_started", "running", "paused", "completed", "failed", "cancelled"}

func (s WorkflowState) String() string {
	if int(s) < len(workflowStateNames) {
		return workflowStateNames[s]
	}
	return fmt.Sprintf("workflow_state(%d)", s)
}

func (s WorkflowState) IsTerminal() bool {
	return s >= WorkflowCompleted
}

var workflowTransitions = map[WorkflowState][]WorkflowState{
	WorkflowNotStarted: {WorkflowRunning},
	WorkflowRunning:    {WorkflowPaused, WorkflowCompleted, WorkflowFailed, WorkflowCancelled},
	WorkflowPaused:     {WorkflowRunning, WorkflowCancelled},
}

// CanTransition reports whether a workflow may move from s to next.
func (s WorkflowState) CanTransition(next WorkflowState) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkflowStatus is a workflow state plus the failure reason for
// WorkflowFailed.
type WorkflowStatus struct {
	State  WorkflowState `json:"state"`
	Reason string        `json:"reason,omitempty"`
}

func (s WorkflowStatus) String() string {
	if s.State == WorkflowFailed && s.Reason != "" {
		return "failed: " + s.Reason
	}
	return s.State.String()
}
