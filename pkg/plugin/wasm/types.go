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
// Package wasm runs sandboxed WebAssembly plugins on wasmtime. Guests talk
// to the host through capability-gated functions imported from the "env"
// module, and every call is bounded by fuel and epoch deadlines.
package wasm

import (
	"fmt"
	"math"
	"strings"
)

// PageSize is the size of one WebAssembly linear memory page.
const PageSize = 64 * 1024

// Capability is a permission a plugin must hold before the matching host
// function runs.
type Capability string

const (
	CapReadConfig     Capability = "read_config"
	CapWriteConfig    Capability = "write_config"
	CapSendMessage    Capability = "send_message"
	CapReceiveMessage Capability = "receive_message"
	CapCallTool       Capability = "call_tool"
	CapStorage        Capability = "storage"
	CapHTTPClient     Capability = "http_client"
	CapFileSystem     Capability = "filesystem"
	CapTimer          Capability = "timer"
	CapRandom         Capability = "random"
)

const customPrefix = "custom:"

var builtinCapabilities = []Capability{
	CapReadConfig, CapWriteConfig, CapSendMessage, CapReceiveMessage, CapCallTool,
	CapStorage, CapHTTPClient, CapFileSystem, CapTimer, CapRandom,
}

// Custom returns the capability guarding the custom host function name.
func Custom(name string) Capability {
	return Capability(customPrefix + name)
}

// IsCustom reports whether c guards a custom host function.
func (c Capability) IsCustom() bool {
	return strings.HasPrefix(string(c), customPrefix)
}

// ParseCapability converts a configuration string into a Capability.
func ParseCapability(s string) (Capability, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, customPrefix) && len(s) > len(customPrefix) {
		return Capability(s), nil
	}
	for _, c := range builtinCapabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", newError(KindInvalidManifest, fmt.Sprintf("unknown capability %q", s))
}

// ParseCapabilities converts a list of configuration strings.
func ParseCapabilities(in []string) ([]Capability, error) {
	out := make([]Capability, 0, len(in))
	for _, s := range in {
		c, err := ParseCapability(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ResourceLimits bounds what a single plugin instance may consume.
// MaxFuel of zero disables the instruction budget.
type ResourceLimits struct {
	MaxMemoryPages     uint32 `mapstructure:"max_memory_pages"`
	MaxTableElements   uint32 `mapstructure:"max_table_elements"`
	MaxInstances       uint32 `mapstructure:"max_instances"`
	MaxExecutionTimeMs uint64 `mapstructure:"max_execution_time_ms"`
	MaxFuel            uint64 `mapstructure:"max_fuel"`
	MaxCallDepth       uint32 `mapstructure:"max_call_depth"`
}

// DefaultLimits suits ordinary trusted plugins.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryPages:     256,
		MaxTableElements:   10000,
		MaxInstances:       10,
		MaxExecutionTimeMs: 30000,
		MaxFuel:            100_000_000,
		MaxCallDepth:       1000,
	}
}

// RestrictiveLimits suits untrusted plugins.
func RestrictiveLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryPages:     16,
		MaxTableElements:   1000,
		MaxInstances:       1,
		MaxExecutionTimeMs: 5000,
		MaxFuel:            10_000_000,
		MaxCallDepth:       100,
	}
}

// UnlimitedLimits removes every bound except the 4 GiB address space.
func UnlimitedLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryPages:     65536,
		MaxTableElements:   math.MaxUint32,
		MaxInstances:       math.MaxUint32,
		MaxExecutionTimeMs: math.MaxUint64,
		MaxCallDepth:       math.MaxUint32,
	}
}

// MaxMemoryBytes returns the memory bound in bytes.
func (l ResourceLimits) MaxMemoryBytes() uint64 {
	return uint64(l.MaxMemoryPages) * PageSize
}

// ExportKind is the kind of a module export.
type ExportKind int

const (
	ExportFunction ExportKind = iota
	ExportMemory
	ExportTable
	ExportGlobal
)

func (k ExportKind) String() string {
	switch k {
	case ExportFunction:
		return "function"
	case ExportMemory:
		return "memory"
	case ExportTable:
		return "table"
	case ExportGlobal:
		return "global"
	default:
		return fmt.Sprintf("ExportKind(%d)", int(k))
	}
}

// Export describes one module export. Params and Results are only set for
// functions.
type Export struct {
	Name    string     `json:"name"`
	Kind    ExportKind `json:"kind"`
	Params  []string   `json:"params,omitempty"`
	Results []string   `json:"results,omitempty"`
}

// Manifest describes a compiled plugin module.
type Manifest struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Exports      []Export     `json:"exports,omitempty"`
}

// Validate checks the manifest is usable.
func (m Manifest) Validate() error {
	if m.Name == "" {
		return newError(KindInvalidManifest, "manifest has no name")
	}
	return nil
}

// Export returns the export named name.
func (m Manifest) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// HasFunction reports whether the module exports a function named name.
func (m Manifest) HasFunction(name string) bool {
	e, ok := m.Export(name)
	return ok && e.Kind == ExportFunction
}
