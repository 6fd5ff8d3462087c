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
//go:build darwin || linux || freebsd

package native

import (
	"github.com/ebitengine/purego"
)

// OpenLibrary opens a shared library with dlopen and binds the plugin entry
// points.
func OpenLibrary(path string) (*ABI, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, &LoadError{Kind: KindLibraryLoad, Path: path, Err: err}
	}

	abi := &ABI{Close: func() error { return purego.Dlclose(handle) }}

	required := []struct {
		name string
		fn   any
	}{
		{SymbolCreate, &abi.Create},
		{SymbolDestroy, &abi.Destroy},
		{SymbolMetadata, &abi.Metadata},
	}
	for _, r := range required {
		sym, err := purego.Dlsym(handle, r.name)
		if err != nil {
			_ = purego.Dlclose(handle)
			return nil, &LoadError{Kind: KindSymbolNotFound, Path: path, Detail: r.name, Err: err}
		}
		purego.RegisterFunc(r.fn, sym)
	}

	optional := []struct {
		name string
		fn   any
	}{
		{SymbolAPIVersion, &abi.APIVersion},
		{SymbolSaveState, &abi.SaveState},
		{SymbolRestoreState, &abi.RestoreState},
	}
	for _, o := range optional {
		if sym, err := purego.Dlsym(handle, o.name); err == nil {
			purego.RegisterFunc(o.fn, sym)
		}
	}

	return abi, nil
}
