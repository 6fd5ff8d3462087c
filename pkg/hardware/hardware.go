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
// Package hardware describes the compute capability of the local machine.
package hardware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mofa-org/mofa/pkg/types"
)

// OSClass is the operating system family.
type OSClass string

const (
	OSMacOS   OSClass = "macos"
	OSLinux   OSClass = "linux"
	OSWindows OSClass = "windows"
	OSOther   OSClass = "other"
)

// CPUFamily is the processor family.
type CPUFamily string

const (
	CPUAppleSilicon CPUFamily = "apple_silicon"
	CPUX86_64       CPUFamily = "x86_64"
	CPUArm64        CPUFamily = "arm64"
	CPUOther        CPUFamily = "other"
)

// GPUType is the accelerator API available to local backends.
type GPUType string

const (
	GPUNone   GPUType = ""
	GPUMetal  GPUType = "metal"
	GPUCUDA   GPUType = "cuda"
	GPUROCm   GPUType = "rocm"
	GPUVulkan GPUType = "vulkan"
)

// Capability is a snapshot of the machine. On unified-memory systems the
// memory figures cover both CPU and GPU.
type Capability struct {
	OS                   OSClass   `json:"os"`
	CPUFamily            CPUFamily `json:"cpu_family"`
	GPUAvailable         bool      `json:"gpu_available"`
	GPUType              GPUType   `json:"gpu_type,omitempty"`
	TotalMemoryBytes     uint64    `json:"total_memory_bytes"`
	AvailableMemoryBytes uint64    `json:"available_memory_bytes"`
}

// TotalMemoryMB returns total memory in MiB.
func (c Capability) TotalMemoryMB() uint64 {
	return c.TotalMemoryBytes / (1024 * 1024)
}

// AvailableMemoryMB returns available memory in MiB.
func (c Capability) AvailableMemoryMB() uint64 {
	return c.AvailableMemoryBytes / (1024 * 1024)
}

// Detector reports the machine capability.
type Detector interface {
	Detect(ctx context.Context) (Capability, error)
}

// Static always returns the wrapped capability.
type Static Capability

// Detect returns c.
func (s Static) Detect(context.Context) (Capability, error) {
	return Capability(s), nil
}

// SystemDetector inspects the running host.
type SystemDetector struct {
	// DevRoot is where GPU device nodes are looked up (default "/dev").
	DevRoot string
}

// Detect reads memory via gopsutil and probes for GPU device nodes.
func (d SystemDetector) Detect(ctx context.Context) (Capability, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Capability{}, types.WithCategory(types.ErrCapabilityUnavailable,
			fmt.Errorf("failed to read system memory: %w", err))
	}

	c := Capability{
		OS:                   classifyOS(runtime.GOOS),
		CPUFamily:            classifyCPU(runtime.GOOS, runtime.GOARCH),
		TotalMemoryBytes:     vm.Total,
		AvailableMemoryBytes: vm.Available,
	}
	c.GPUType = d.detectGPU(c)
	c.GPUAvailable = c.GPUType != GPUNone
	return c, nil
}

func (d SystemDetector) detectGPU(c Capability) GPUType {
	if c.OS == OSMacOS && c.CPUFamily == CPUAppleSilicon {
		return GPUMetal
	}
	root := d.DevRoot
	if root == "" {
		root = "/dev"
	}
	probes := []struct {
		node string
		gpu  GPUType
	}{
		{"nvidia0", GPUCUDA},
		{"kfd", GPUROCm},
		{filepath.Join("dri", "renderD128"), GPUVulkan},
	}
	for _, p := range probes {
		if _, err := os.Stat(filepath.Join(root, p.node)); err == nil {
			return p.gpu
		}
	}
	return GPUNone
}

func classifyOS(goos string) OSClass {
	switch goos {
	case "darwin":
		return OSMacOS
	case "linux":
		return OSLinux
	case "windows":
		return OSWindows
	default:
		return OSOther
	}
}

func classifyCPU(goos, goarch string) CPUFamily {
	switch {
	case goos == "darwin" && goarch == "arm64":
		return CPUAppleSilicon
	case goarch == "amd64":
		return CPUX86_64
	case goarch == "arm64":
		return CPUArm64
	default:
		return CPUOther
	}
}
