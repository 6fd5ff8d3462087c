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
package wasm

import (
	"fmt"

	"github.com/mofa-org/mofa/pkg/types"
)

// ErrorKind classifies a wasm.Error.
type ErrorKind int

const (
	KindCompilation ErrorKind = iota
	KindInstantiation
	KindLoad
	KindExportNotFound
	KindImportNotFound
	KindTypeMismatch
	KindMemoryOutOfBounds
	KindAllocationFailed
	KindExecution
	KindTimeout
	KindResourceLimit
	KindInvalidManifest
	KindPluginNotFound
	KindPluginAlreadyLoaded
	KindHostFunction
	KindSerialization
	KindIO
	KindInternal
)

var kindNames = map[ErrorKind]string{
	KindCompilation:         "compilation",
	KindInstantiation:       "instantiation",
	KindLoad:                "load",
	KindExportNotFound:      "export_not_found",
	KindImportNotFound:      "import_not_found",
	KindTypeMismatch:        "type_mismatch",
	KindMemoryOutOfBounds:   "memory_out_of_bounds",
	KindAllocationFailed:    "allocation_failed",
	KindExecution:           "execution",
	KindTimeout:             "timeout",
	KindResourceLimit:       "resource_limit",
	KindInvalidManifest:     "invalid_manifest",
	KindPluginNotFound:      "plugin_not_found",
	KindPluginAlreadyLoaded: "plugin_already_loaded",
	KindHostFunction:        "host_function",
	KindSerialization:       "serialization",
	KindIO:                  "io",
	KindInternal:            "internal",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) category() error {
	switch k {
	case KindCompilation, KindImportNotFound, KindTypeMismatch, KindMemoryOutOfBounds,
		KindInvalidManifest, KindPluginAlreadyLoaded:
		return types.ErrInvalidInput
	case KindExportNotFound, KindPluginNotFound:
		return types.ErrNotFound
	case KindAllocationFailed, KindTimeout, KindResourceLimit:
		return types.ErrResourceLimit
	case KindHostFunction:
		return types.ErrCapabilityUnavailable
	case KindSerialization:
		return types.ErrSerialization
	case KindInstantiation, KindLoad, KindExecution, KindInternal:
		return types.ErrFatal
	default:
		return nil
	}
}

// Error is returned by every operation in this package. Only the fields
// relevant to Kind are set.
type Error struct {
	Kind    ErrorKind
	Message string

	// ImportNotFound
	Module string
	Name   string
	// TypeMismatch
	Expected string
	Actual   string
	// MemoryOutOfBounds and AllocationFailed
	Offset uint32
	Size   uint32
	// Timeout
	TimeoutMs uint64

	Err error
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func outOfBounds(offset, size uint32) *Error {
	return &Error{Kind: KindMemoryOutOfBounds, Offset: offset, Size: size}
}

func (e *Error) Error() string {
	var s string
	switch e.Kind {
	case KindImportNotFound:
		s = fmt.Sprintf("import not found: %s.%s", e.Module, e.Name)
	case KindTypeMismatch:
		s = fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Actual)
	case KindMemoryOutOfBounds:
		s = fmt.Sprintf("memory access out of bounds: offset %d, size %d", e.Offset, e.Size)
	case KindAllocationFailed:
		s = fmt.Sprintf("allocation of %d bytes failed", e.Size)
	case KindTimeout:
		s = fmt.Sprintf("execution timed out after %dms", e.TimeoutMs)
	default:
		s = e.Kind.String()
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes the cause and the types category of the error.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if cat := e.Kind.category(); cat != nil {
		errs = append(errs, cat)
	}
	return errs
}
