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
// Package plugin holds the lifecycle vocabulary shared by the native and
// WASM plugin runtimes.
package plugin

import (
	"errors"
	"fmt"

	"github.com/mofa-org/mofa/pkg/types"
)

// State is a plugin lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateRunning
	StateReloading
	StateFailed
	StateUnloading
)

var stateNames = map[State]string{
	StateUnloaded:  "Unloaded",
	StateLoading:   "Loading",
	StateLoaded:    "Loaded",
	StateRunning:   "Running",
	StateReloading: "Reloading",
	StateFailed:    "Failed",
	StateUnloading: "Unloading",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrInvalidTransition is returned when a lifecycle step is not allowed from
// the current state.
var ErrInvalidTransition = types.WithCategory(types.ErrInvalidInput, errors.New("invalid plugin state transition"))

var transitions = map[State][]State{
	StateUnloaded:  {StateLoading},
	StateLoading:   {StateLoaded},
	StateLoaded:    {StateRunning, StateReloading, StateUnloading},
	StateRunning:   {StateLoaded, StateReloading, StateUnloading},
	StateReloading: {StateLoaded, StateRunning},
	StateFailed:    {StateLoading, StateUnloading, StateUnloaded},
	StateUnloading: {StateUnloaded},
}

// CanTransition reports whether a plugin in s may move to next. Every state
// may move to Failed.
func (s State) CanTransition(next State) bool {
	if next == StateFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Status is a State plus the failure reason when State is StateFailed.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Failed returns a failed status carrying reason.
func Failed(reason string) Status {
	return Status{State: StateFailed, Reason: reason}
}

func (s Status) String() string {
	if s.State == StateFailed {
		return "Failed: " + s.Reason
	}
	return s.State.String()
}

// Transition returns the status after moving to next, or ErrInvalidTransition.
func (s Status) Transition(next State) (Status, error) {
	if !s.State.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}
	return Status{State: next}, nil
}

// Metadata describes a plugin. Native libraries return it as JSON from
// their metadata entry point.
type Metadata struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description,omitempty"`
	Author       string   `json:"author,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Validate checks the fields every plugin must declare.
func (m Metadata) Validate() error {
	if m.ID == "" && m.Name == "" {
		return fmt.Errorf("%w: plugin metadata has neither id nor name", types.ErrInvalidInput)
	}
	return nil
}

// Key returns the identifier the runtimes index the plugin by.
func (m Metadata) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.Name
}
