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
package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofa-org/mofa/pkg/types"
)

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUnloaded, StateLoading, true},
		{StateUnloaded, StateRunning, false},
		{StateLoading, StateLoaded, true},
		{StateLoaded, StateRunning, true},
		{StateRunning, StateUnloading, true},
		{StateUnloading, StateUnloaded, true},
		{StateUnloading, StateRunning, false},
		{StateRunning, StateFailed, true},
		{StateUnloaded, StateFailed, true},
		{StateFailed, StateLoading, true},
		{StateFailed, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatus_StringAndTransition(t *testing.T) {
	assert.Equal(t, "Running", Status{State: StateRunning}.String())
	assert.Equal(t, "Failed: boom", Failed("boom").String())
	assert.Equal(t, "State(42)", State(42).String())

	s, err := Status{}.Transition(StateLoading)
	require.NoError(t, err)
	assert.Equal(t, StateLoading, s.State)

	_, err = s.Transition(StateUnloaded)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestMetadata(t *testing.T) {
	assert.Error(t, Metadata{}.Validate())
	assert.NoError(t, Metadata{Name: "echo"}.Validate())
	assert.Equal(t, "echo", Metadata{Name: "echo"}.Key())
	assert.Equal(t, "p1", Metadata{ID: "p1", Name: "echo"}.Key())
}
