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
//go:build !(darwin || linux || freebsd)

package native

import (
	"runtime"

	"github.com/mofa-org/mofa/pkg/types"
)

// OpenLibrary reports that native plugins are not supported on this platform.
func OpenLibrary(path string) (*ABI, error) {
	return nil, &LoadError{
		Kind:   KindLibraryLoad,
		Path:   path,
		Detail: runtime.GOOS,
		Err:    types.ErrCapabilityUnavailable,
	}
}
