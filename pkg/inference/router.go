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
	"slices"
	"strings"
	"sync"

	"github.com/mofa-org/mofa/pkg/adapter"
)

// TaskType is the kind of work a provider can serve.
type TaskType int

const (
	TaskLLM TaskType = iota
	TaskASR
	TaskTTS
	TaskEmbedding
	TaskVLM
)

// AllTaskTypes lists every task type.
var AllTaskTypes = []TaskType{TaskLLM, TaskASR, TaskTTS, TaskEmbedding, TaskVLM}

func (t TaskType) String() string {
	switch t {
	case TaskLLM:
		return "llm"
	case TaskASR:
		return "asr"
	case TaskTTS:
		return "tts"
	case TaskEmbedding:
		return "embedding"
	case TaskVLM:
		return "vlm"
	default:
		return fmt.Sprintf("task(%d)", int(t))
	}
}

// Modality maps the task to the adapter modality that serves it.
func (t TaskType) Modality() adapter.Modality {
	switch t {
	case TaskASR:
		return adapter.ModalitySpeechToText
	case TaskTTS:
		return adapter.ModalityTextToSpeech
	case TaskEmbedding:
		return adapter.ModalityEmbedding
	case TaskVLM:
		return adapter.ModalityVision
	default:
		return adapter.ModalityTextGeneration
	}
}

// ParseTaskType accepts the canonical names and common aliases
// ("chat", "speech", "audio", "vector", "vision", ...).
func ParseTaskType(s string) (TaskType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llm", "language", "chat", "completion":
		return TaskLLM, true
	case "asr", "speech", "transcription":
		return TaskASR, true
	case "tts", "synthesis", "audio":
		return TaskTTS, true
	case "embedding", "vector", "vec":
		return TaskEmbedding, true
	case "vlm", "vision", "multimodal":
		return TaskVLM, true
	default:
		return 0, false
	}
}

// ProviderEntry describes a provider known to the SmartRouter.
type ProviderEntry struct {
	ID              string
	Name            string
	IsLocal         bool
	SupportedTasks  []TaskType
	LatencyMs       uint32
	CostPer1kTokens float64
}

// Supports reports whether the provider serves task.
func (p ProviderEntry) Supports(task TaskType) bool {
	return slices.Contains(p.SupportedTasks, task)
}

// RouteSelection is the provider chosen for a task.
type RouteSelection struct {
	ProviderID   string
	ProviderName string
	IsLocal      bool
	Reason       string
}

// SmartRouter picks a provider per task type. Providers are kept in
// registration order and ties are broken in favour of the earliest one.
type SmartRouter struct {
	mu        sync.RWMutex
	policy    Policy
	providers []ProviderEntry
}

// NewSmartRouter creates an empty router using policy.
func NewSmartRouter(policy Policy) *SmartRouter {
	return &SmartRouter{policy: policy}
}

// Register adds a provider. A provider whose id is already registered is
// ignored; Register reports whether the entry was added.
func (r *SmartRouter) Register(entry ProviderEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		if p.ID == entry.ID {
			return false
		}
	}
	entry.SupportedTasks = slices.Clone(entry.SupportedTasks)
	r.providers = append(r.providers, entry)
	return true
}

// Unregister removes the provider with the given id.
func (r *SmartRouter) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.providers)
	r.providers = slices.DeleteFunc(r.providers, func(p ProviderEntry) bool { return p.ID == id })
	return len(r.providers) != n
}

// Providers returns the registered providers in registration order.
func (r *SmartRouter) Providers() []ProviderEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.providers)
}

// SetPolicy changes the default policy used by Route.
func (r *SmartRouter) SetPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// Policy returns the default policy.
func (r *SmartRouter) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// Route selects a provider for task under the default policy.
func (r *SmartRouter) Route(task TaskType) (RouteSelection, bool) {
	return r.RouteWithPolicy(task, r.Policy())
}

// RouteWithPolicy selects a provider for task under policy. It reports false
// when no registered provider supports the task or none matches the policy.
// The degradation ladder is a memory concern and ranks like local-first.
func (r *SmartRouter) RouteWithPolicy(task TaskType, policy Policy) (RouteSelection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []ProviderEntry
	for _, p := range r.providers {
		if p.Supports(task) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return RouteSelection{}, false
	}

	isLocal := func(p ProviderEntry) bool { return p.IsLocal }
	isCloud := func(p ProviderEntry) bool { return !p.IsLocal }
	all := func(ProviderEntry) bool { return true }
	byLatency := func(p ProviderEntry) float64 { return float64(p.LatencyMs) }
	byCost := func(p ProviderEntry) float64 { return p.CostPer1kTokens }

	switch policy {
	case PolicyLocalOnly:
		return pick(eligible, isLocal, byLatency, "local-only")
	case PolicyCloudOnly:
		return pick(eligible, isCloud, byLatency, "cloud-only")
	case PolicyLatencyOptimized:
		return pick(eligible, all, byLatency, "latency-optimized")
	case PolicyCostOptimized:
		return pick(eligible, all, byCost, "cost-optimized")
	default:
		if sel, ok := pick(eligible, isLocal, byLatency, "local-first"); ok {
			return sel, true
		}
		return pick(eligible, isCloud, byLatency, "local-first-fallback")
	}
}

// RouteCloud selects the cloud provider for task ranked by policy: lowest
// cost for PolicyCostOptimized, lowest latency otherwise.
func (r *SmartRouter) RouteCloud(task TaskType, policy Policy) (RouteSelection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []ProviderEntry
	for _, p := range r.providers {
		if !p.IsLocal && p.Supports(task) {
			eligible = append(eligible, p)
		}
	}
	all := func(ProviderEntry) bool { return true }
	if policy == PolicyCostOptimized {
		return pick(eligible, all, func(p ProviderEntry) float64 { return p.CostPer1kTokens }, "cost-optimized")
	}
	return pick(eligible, all, func(p ProviderEntry) float64 { return float64(p.LatencyMs) }, "latency-optimized")
}

// pick returns the first provider with the minimum key among those matching
// filter.
func pick(eligible []ProviderEntry, filter func(ProviderEntry) bool, key func(ProviderEntry) float64, reason string) (RouteSelection, bool) {
	var best *ProviderEntry
	for i := range eligible {
		p := &eligible[i]
		if !filter(*p) {
			continue
		}
		if best == nil || key(*p) < key(*best) {
			best = p
		}
	}
	if best == nil {
		return RouteSelection{}, false
	}
	return RouteSelection{
		ProviderID:   best.ID,
		ProviderName: best.Name,
		IsLocal:      best.IsLocal,
		Reason:       reason,
	}, true
}
