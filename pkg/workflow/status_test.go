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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeState_Transitions(t *testing.T) {
	tests := []struct {
		from, to NodeState
		want     bool
	}{
		{NodePending, NodeWaiting, true},
		{NodePending, NodeRunning, true},
		{NodePending, NodeSkipped, true},
		{NodeWaiting, NodeRunning, true},
		{NodeRunning, NodeCompleted, true},
		{NodeRunning, NodeFailed, true},
		{NodeRunning, NodeCancelled, true},
		{NodePending, NodeCompleted, false},
		{NodeRunning, NodeWaiting, false},
		{NodeCompleted, NodeRunning, false},
		{NodeFailed, NodeCompleted, false},
		{NodeSkipped, NodeRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestNodeState_Classification(t *testing.T) {
	for _, s := range []NodeState{NodeCompleted, NodeFailed, NodeSkipped, NodeCancelled} {
		assert.True(t, s.IsTerminal(), s.String())
	}
	for _, s := range []NodeState{NodePending, NodeWaiting, NodeRunning} {
		assert.False(t, s.IsTerminal(), s.String())
	}
	assert.True(t, NodeCompleted.IsSuccess())
	assert.True(t, NodeSkipped.IsSuccess())
	assert.False(t, NodeFailed.IsSuccess())
	assert.Equal(t, "failed: timeout", NodeFailedWith("timeout").String())
}

func TestNextNodeState(t *testing.T) {
	done := NodeStatus{State: NodeCompleted}
	skipped := NodeStatus{State: NodeSkipped}
	running := NodeStatus{State: NodeRunning}
	failed := NodeFailedWith("boom")

	assert.Equal(t, NodeRunning, NextNodeState(nil, true))
	assert.Equal(t, NodeRunning, NextNodeState([]NodeStatus{done, skipped}, true))
	assert.Equal(t, NodeWaiting, NextNodeState([]NodeStatus{done, running}, true))
	assert.Equal(t, NodeWaiting, NextNodeState([]NodeStatus{failed, running}, true))
	assert.Equal(t, NodeCancelled, NextNodeState([]NodeStatus{done, failed}, true))
	assert.Equal(t, NodeSkipped, NextNodeState([]NodeStatus{done}, false))
}

func TestWorkflowState_Transitions(t *testing.T) {
	assert.True(t, WorkflowNotStarted.CanTransition(WorkflowRunning))
	assert.False(t, WorkflowNotStarted.CanTransition(WorkflowCompleted))
	assert.True(t, WorkflowRunning.CanTransition(WorkflowPaused))
	assert.True(t, WorkflowPaused.CanTransition(WorkflowRunning))
	assert.False(t, WorkflowPaused.CanTransition(WorkflowCompleted))
	for _, s := range []WorkflowState{WorkflowCompleted, WorkflowFailed, WorkflowCancelled} {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.CanTransition(WorkflowRunning))
	}
	assert.Equal(t, "failed: bad input", WorkflowStatus{State: WorkflowFailed, Reason: "bad input"}.String())
}
