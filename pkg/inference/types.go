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
// Package inference routes inference requests between local model backends
// and cloud providers under a memory budget.
//
// The Orchestrator is the single entry point. For every request it evicts
// idle models, runs admission control against the memory reported by the
// ModelPool, resolves a RoutingDecision from the configured RoutingPolicy and
// executes it. The pool is the only source of memory accounting.
package inference

import (
	"fmt"
	"strings"

	"github.com/mofa-org/mofa/pkg/adapter"
)

// Precision is the numeric format a model is loaded with.
type Precision int

const (
	PrecisionF32 Precision = iota
	PrecisionF16
	PrecisionQ8
	PrecisionQ4
)

// String returns the lowercase precision name.
func (p Precision) String() string {
	switch p {
	case PrecisionF32:
		return "f32"
	case PrecisionF16:
		return "f16"
	case PrecisionQ8:
		return "q8"
	case PrecisionQ4:
		return "q4"
	default:
		return fmt.Sprintf("precision(%d)", int(p))
	}
}

// BytesPerParam is the storage cost of one parameter at this precision.
func (p Precision) BytesPerParam() float64 {
	switch p {
	case PrecisionF32:
		return 4
	case PrecisionF16:
		return 2
	case PrecisionQ8:
		return 1
	case PrecisionQ4:
		return 0.5
	default:
		return 0
	}
}

// NextLower returns the next cheaper precision on the degradation ladder.
// It reports false for Q4, the bottom rung.
func (p Precision) NextLower() (Precision, bool) {
	switch p {
	case PrecisionF32:
		return PrecisionF16, true
	case PrecisionF16:
		return PrecisionQ8, true
	case PrecisionQ8:
		return PrecisionQ4, true
	default:
		return p, false
	}
}

// ParsePrecision parses "f32", "f16", "q8" or "q4".
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "fp32":
		return PrecisionF32, nil
	case "f16", "fp16":
		return PrecisionF16, nil
	case "q8", "int8":
		return PrecisionQ8, nil
	case "q4", "int4":
		return PrecisionQ4, nil
	default:
		return 0, fmt.Errorf("unknown precision %q", s)
	}
}

// Priority orders requests that compete for local memory.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Request is a single inference request.
type Request struct {
	ModelID            string
	Prompt             string
	RequiredMemoryMB   int
	Priority           Priority
	PreferredPrecision Precision
	// Model optionally describes the model so a local adapter can be
	// resolved from the orchestrator's adapter registry.
	Model *adapter.ModelConfig
}

// NewRequest returns a request with normal priority and F16 precision.
func NewRequest(modelID, prompt string, requiredMemoryMB int) Request {
	return Request{
		ModelID:            modelID,
		Prompt:             prompt,
		RequiredMemoryMB:   requiredMemoryMB,
		Priority:           PriorityNormal,
		PreferredPrecision: PrecisionF16,
	}
}

// WithPriority returns a copy of r with the given priority.
func (r Request) WithPriority(p Priority) Request {
	r.Priority = p
	return r
}

// WithPrecision returns a copy of r with the given preferred precision.
func (r Request) WithPrecision(p Precision) Request {
	r.PreferredPrecision = p
	return r
}

// WithModel returns a copy of r carrying a model description.
func (r Request) WithModel(cfg adapter.ModelConfig) Request {
	r.Model = &cfg
	return r
}

// BackendKind says where a request ended up.
type BackendKind int

const (
	BackendLocal BackendKind = iota
	BackendCloud
	BackendRejected
)

func (k BackendKind) String() string {
	switch k {
	case BackendLocal:
		return "local"
	case BackendCloud:
		return "cloud"
	case BackendRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RoutedBackend records where a request was executed. Target is the model id
// for local, the provider id for cloud and the reason for rejected requests.
type RoutedBackend struct {
	Kind   BackendKind
	Target string
}

func (b RoutedBackend) String() string {
	return fmt.Sprintf("%s(%s)", b.Kind, b.Target)
}

// Result is the outcome of an inference request.
type Result struct {
	Output          string
	RoutedTo        RoutedBackend
	ActualPrecision Precision
	// Adapter is the id of the resolved local adapter, if any.
	Adapter string
	// QualityWarning is set when the request ran at a degraded precision.
	QualityWarning string
}
