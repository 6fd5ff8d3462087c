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
// Package adapter resolves a model request to the backend adapter that can serve it.
//
// Resolution is deterministic: descriptors are scanned in id order and the
// first one satisfying every hard constraint wins, regardless of the order in
// which adapters were registered.
package adapter

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/mofa-org/mofa/pkg/types"
)

// Modality is a kind of model workload.
type Modality string

const (
	ModalityTextGeneration Modality = "text-generation"
	ModalityEmbedding      Modality = "embedding"
	ModalitySpeechToText   Modality = "speech-to-text"
	ModalityTextToSpeech   Modality = "text-to-speech"
	ModalityVision         Modality = "vision-language"
)

// ModelFormat is a weight file format.
type ModelFormat string

const (
	FormatGGUF        ModelFormat = "gguf"
	FormatSafetensors ModelFormat = "safetensors"
	FormatONNX        ModelFormat = "onnx"
	FormatMLX         ModelFormat = "mlx"
	FormatPyTorch     ModelFormat = "pytorch"
)

var (
	ErrEmptyRegistry            = types.WithCategory(types.ErrNotFound, errors.New("adapter registry is empty"))
	ErrModalityNotSupported     = types.WithCategory(types.ErrNotFound, errors.New("modality not supported"))
	ErrFormatNotSupported       = types.WithCategory(types.ErrNotFound, errors.New("format not supported"))
	ErrQuantizationNotSupported = types.WithCategory(types.ErrNotFound, errors.New("quantization not supported"))
	ErrNoCompatibleAdapter      = types.WithCategory(types.ErrNotFound, errors.New("no compatible adapter"))
	ErrAlreadyRegistered        = types.WithCategory(types.ErrInvalidInput, errors.New("adapter already registered"))
)

// Descriptor describes what a backend adapter can run. An empty
// Quantizations set accepts any quantization profile.
type Descriptor struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Modalities    []Modality    `json:"modalities"`
	Formats       []ModelFormat `json:"formats"`
	Quantizations []string      `json:"quantizations,omitempty"`
}

// SupportsModality reports whether m is served.
func (d Descriptor) SupportsModality(m Modality) bool {
	return slices.Contains(d.Modalities, m)
}

// SupportsFormat reports whether f is served.
func (d Descriptor) SupportsFormat(f ModelFormat) bool {
	return slices.Contains(d.Formats, f)
}

// SupportsQuantization reports whether q is served. An empty q or an empty
// quantization set always matches.
func (d Descriptor) SupportsQuantization(q string) bool {
	return q == "" || len(d.Quantizations) == 0 || slices.Contains(d.Quantizations, q)
}

func (d Descriptor) clone() Descriptor {
	d.Modalities = slices.Clone(d.Modalities)
	d.Formats = slices.Clone(d.Formats)
	d.Quantizations = slices.Clone(d.Quantizations)
	return d
}

// ModelConfig is a resolution request.
type ModelConfig struct {
	Modality     Modality    `json:"modality"`
	Format       ModelFormat `json:"format"`
	Quantization string      `json:"quantization,omitempty"`
}

// Registry holds adapter descriptors. Descriptors are copied on the way in and
// out, so they cannot change after registration.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Descriptor)}
}

// Register adds d. Registering an id twice is an error.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("adapter id is empty: %w", types.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, d.ID)
	}
	r.adapters[d.ID] = d.clone()
	return nil
}

// Unregister removes the adapter with id.
func (r *Registry) Unregister(id string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.adapters[id]
	delete(r.adapters, id)
	return d, ok
}

// Get returns a copy of the adapter with id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.adapters[id]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// List returns copies of all adapters sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// FindByModality returns adapters serving m, sorted by id.
func (r *Registry) FindByModality(m Modality) []Descriptor {
	var out []Descriptor
	for _, d := range r.List() {
		if d.SupportsModality(m) {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) sortedLocked() []Descriptor {
	out := make([]Descriptor, 0, len(r.adapters))
	for _, d := range r.adapters {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns the first adapter in id order that satisfies every
// constraint of req. When none does, the error names the most specific
// constraint that no candidate could meet.
func (r *Registry) Resolve(req ModelConfig) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.adapters) == 0 {
		return Descriptor{}, ErrEmptyRegistry
	}

	var modalityOK, formatOK bool
	for _, d := range r.sortedLocked() {
		if !d.SupportsModality(req.Modality) {
			continue
		}
		modalityOK = true
		if !d.SupportsFormat(req.Format) {
			continue
		}
		formatOK = true
		if !d.SupportsQuantization(req.Quantization) {
			continue
		}
		return d, nil
	}

	switch {
	case !modalityOK:
		return Descriptor{}, fmt.Errorf("%w: %s", ErrModalityNotSupported, req.Modality)
	case !formatOK:
		return Descriptor{}, fmt.Errorf("%w: %s", ErrFormatNotSupported, req.Format)
	case req.Quantization != "":
		return Descriptor{}, fmt.Errorf("%w: %s", ErrQuantizationNotSupported, req.Quantization)
	default:
		return Descriptor{}, ErrNoCompatibleAdapter
	}
}
