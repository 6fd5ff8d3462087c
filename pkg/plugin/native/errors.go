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
package native

import (
	"fmt"

	"github.com/mofa-org/mofa/pkg/types"
)

// LoadErrorKind classifies a LoadError.
type LoadErrorKind int

const (
	KindLibraryLoad LoadErrorKind = iota
	KindSymbolNotFound
	KindCreationFailed
	KindInvalidPlugin
	KindVersionMismatch
	KindIO
	KindAlreadyLoaded
	KindNotFound
)

func (k LoadErrorKind) String() string {
	switch k {
	case KindLibraryLoad:
		return "library_load"
	case KindSymbolNotFound:
		return "symbol_not_found"
	case KindCreationFailed:
		return "creation_failed"
	case KindInvalidPlugin:
		return "invalid_plugin"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindIO:
		return "io"
	case KindAlreadyLoaded:
		return "already_loaded"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

func (k LoadErrorKind) category() error {
	switch k {
	case KindNotFound:
		return types.ErrNotFound
	case KindSymbolNotFound, KindInvalidPlugin, KindAlreadyLoaded:
		return types.ErrInvalidInput
	case KindLibraryLoad, KindCreationFailed, KindVersionMismatch:
		return types.ErrFatal
	default:
		return nil
	}
}

// LoadError is returned by the Loader. Detail names the symbol, plugin or
// reason; Expected and Actual are set for KindVersionMismatch.
type LoadError struct {
	Kind     LoadErrorKind
	Path     string
	Detail   string
	Expected uint32
	Actual   uint32
	Err      error
}

func (e *LoadError) Error() string {
	var msg string
	switch e.Kind {
	case KindLibraryLoad:
		msg = fmt.Sprintf("failed to load library %s", e.Path)
	case KindSymbolNotFound:
		msg = fmt.Sprintf("symbol %s not found in %s", e.Detail, e.Path)
	case KindCreationFailed:
		msg = fmt.Sprintf("plugin creation failed for %s", e.Path)
	case KindInvalidPlugin:
		msg = fmt.Sprintf("invalid plugin %s: %s", e.Path, e.Detail)
	case KindVersionMismatch:
		msg = fmt.Sprintf("plugin API version mismatch for %s: expected %d, got %d", e.Path, e.Expected, e.Actual)
	case KindIO:
		msg = fmt.Sprintf("plugin I/O error for %s", e.Path)
	case KindAlreadyLoaded:
		msg = fmt.Sprintf("plugin already loaded: %s", e.Detail)
	case KindNotFound:
		if e.Detail != "" {
			msg = fmt.Sprintf("plugin not found: %s", e.Detail)
		} else {
			msg = fmt.Sprintf("plugin not found: %s", e.Path)
		}
	default:
		msg = "plugin load error"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying error and the taxonomy category of Kind.
func (e *LoadError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if c := e.Kind.category(); c != nil {
		errs = append(errs, c)
	}
	return errs
}
