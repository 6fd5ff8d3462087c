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
package inference

import (
	"fmt"
	"math"
	"strings"

	"github.com/mofa-org/mofa/pkg/hardware"
	"github.com/mofa-org/mofa/pkg/types"
)

// Policy governs how requests are split between local and cloud backends.
type Policy int

const (
	// PolicyLocalFirst runs locally when admission accepts and falls back to
	// the cloud otherwise. It is the default.
	PolicyLocalFirst Policy = iota
	// PolicyLocalOnly never leaves the machine.
	PolicyLocalOnly
	// PolicyCloudOnly always uses the cloud provider.
	PolicyCloudOnly
	// PolicyLatencyOptimized runs locally only on GPU hosts with headroom.
	PolicyLatencyOptimized
	// PolicyCostOptimized runs locally whenever memory is not exhausted.
	PolicyCostOptimized
	// PolicyDegradationLadder retries admission at lower precisions before
	// falling back to the cloud.
	PolicyDegradationLadder
)

var policyNames = map[Policy]string{
	PolicyLocalFirst:        "local_first",
	PolicyLocalOnly:         "local_only",
	PolicyCloudOnly:         "cloud_only",
	PolicyLatencyOptimized:  "latency_optimized",
	PolicyCostOptimized:     "cost_optimized",
	PolicyDegradationLadder: "degradation_ladder",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy parses a policy name as produced by String. Hyphens are
// accepted in place of underscores.
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "" || norm == "local_first_with_cloud_fallback" {
		return PolicyLocalFirst, nil
	}
	for p, name := range policyNames {
		if name == norm {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown routing policy %q: %w", s, types.ErrInvalidInput)
}

// Admission is the result of checking a request against the memory budget.
type Admission int

const (
	AdmissionAccepted Admission = iota
	AdmissionDeferred
	AdmissionRejected
)

func (a Admission) String() string {
	switch a {
	case AdmissionAccepted:
		return "accepted"
	case AdmissionDeferred:
		return "deferred"
	default:
		return "rejected"
	}
}

// EvaluateAdmission classifies a request needing requiredMB on top of
// currentMB against a capacity of capacityMB. Usage up to deferAt is
// accepted, up to rejectAt deferred and anything above rejected. A zero
// capacity rejects everything.
func EvaluateAdmission(currentMB, requiredMB, capacityMB int, deferAt, rejectAt float64) Admission {
	if capacityMB <= 0 {
		return AdmissionRejected
	}
	usage := float64(currentMB+requiredMB) / float64(capacityMB)
	switch {
	case usage <= deferAt:
		return AdmissionAccepted
	case usage <= rejectAt:
		return AdmissionDeferred
	default:
		return AdmissionRejected
	}
}

// DecisionKind enumerates routing outcomes.
type DecisionKind int

const (
	DecisionUseLocal DecisionKind = iota
	DecisionUseLocalDegraded
	DecisionUseCloud
	DecisionRejected
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionUseLocal:
		return "use_local"
	case DecisionUseLocalDegraded:
		return "use_local_degraded"
	case DecisionUseCloud:
		return "use_cloud"
	default:
		return "rejected"
	}
}

// Decision is the routing verdict for one request. Only the fields relevant
// to Kind are set.
type Decision struct {
	Kind     DecisionKind
	ModelID  string
	Provider string
	Reason   string
	// Precision and MemoryMB describe a degraded local load.
	Precision      Precision
	MemoryMB       int
	QualityWarning string
}

// IsLocal reports whether the decision runs on a local backend.
func (d Decision) IsLocal() bool {
	return d.Kind == DecisionUseLocal || d.Kind == DecisionUseLocalDegraded
}

// AdmitFunc re-evaluates admission for a different memory requirement.
type AdmitFunc func(requiredMB int) Admission

// Resolve maps a policy, the admission outcome and the host capability to a
// Decision. cloud is the provider used for any cloud fallback. admit is
// consulted by the degradation ladder; when nil the ladder compares against
// the available memory reported by hw.
func Resolve(policy Policy, req Request, admission Admission, hw hardware.Capability, cloud string, admit AdmitFunc) Decision {
	useLocal := Decision{Kind: DecisionUseLocal, ModelID: req.ModelID, Precision: req.PreferredPrecision, MemoryMB: req.RequiredMemoryMB}
	useCloud := Decision{Kind: DecisionUseCloud, Provider: cloud}

	switch policy {
	case PolicyLocalOnly:
		switch admission {
		case AdmissionAccepted:
			return useLocal
		case AdmissionDeferred:
			return Decision{Kind: DecisionRejected, Reason: fmt.Sprintf(
				"Local admission deferred for '%s' and cloud fallback is disabled (LocalOnly policy)", req.ModelID)}
		default:
			return Decision{Kind: DecisionRejected, Reason: fmt.Sprintf(
				"Local admission rejected for '%s' (%dMB required) and cloud fallback is disabled (LocalOnly policy)",
				req.ModelID, req.RequiredMemoryMB)}
		}

	case PolicyCloudOnly:
		return useCloud

	case PolicyLatencyOptimized:
		if hw.GPUAvailable && admission == AdmissionAccepted {
			return useLocal
		}
		return useCloud

	case PolicyCostOptimized:
		if admission != AdmissionRejected {
			return useLocal
		}
		return useCloud

	case PolicyDegradationLadder:
		if admission == AdmissionAccepted {
			return useLocal
		}
		if d, ok := degrade(req, hw, admit); ok {
			return d
		}
		return useCloud

	default:
		if admission == AdmissionAccepted {
			return useLocal
		}
		return useCloud
	}
}

// degrade walks down from the preferred precision and returns the first rung
// that fits.
func degrade(req Request, hw hardware.Capability, admit AdmitFunc) (Decision, bool) {
	level := req.PreferredPrecision
	for {
		next, ok := level.NextLower()
		if !ok {
			return Decision{}, false
		}
		level = next

		mb := MemoryAtPrecision(req.RequiredMemoryMB, req.PreferredPrecision, next)
		var fits bool
		var budget string
		if admit != nil {
			fits = admit(mb) == AdmissionAccepted
			budget = "admission accepted"
		} else {
			avail := hw.AvailableMemoryMB()
			fits = uint64(mb) <= avail
			budget = fmt.Sprintf("%d MB available", avail)
		}
		if !fits {
			continue
		}
		return Decision{
			Kind:      DecisionUseLocalDegraded,
			ModelID:   req.ModelID,
			Precision: next,
			MemoryMB:  mb,
			QualityWarning: fmt.Sprintf("Degraded from %s to %s due to memory pressure (%s, %d MB needed at %s)",
				req.PreferredPrecision, next, budget, mb, next),
		}, true
	}
}

// MemoryAtPrecision rescales a memory estimate taken at one precision to
// another, rounding up.
func MemoryAtPrecision(mb int, from, to Precision) int {
	fromBPP := from.BytesPerParam()
	if fromBPP == 0 {
		return mb
	}
	return int(math.Ceil(float64(mb) * to.BytesPerParam() / fromBPP))
}
