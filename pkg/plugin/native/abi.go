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
// Package native loads plugins from C-ABI dynamic libraries, watches plugin
// directories for changes and hot-reloads libraries while carrying plugin
// state across the reload through versioned snapshots.
//
// A plugin library exports:
//
//	uintptr_t   _plugin_create(void);
//	void        _plugin_destroy(uintptr_t);
//	const char* _plugin_metadata(void);      // JSON plugin.Metadata
//	uint32_t    _plugin_api_version(void);   // optional, 1 when absent
//	const char* _plugin_save_state(uintptr_t);            // optional, JSON object
//	int32_t     _plugin_restore_state(uintptr_t, const char*); // optional, 0 on success
package native

const (
	SymbolCreate       = "_plugin_create"
	SymbolDestroy      = "_plugin_destroy"
	SymbolMetadata     = "_plugin_metadata"
	SymbolAPIVersion   = "_plugin_api_version"
	SymbolSaveState    = "_plugin_save_state"
	SymbolRestoreState = "_plugin_restore_state"
)

// CurrentAPIVersion is the plugin ABI version this host implements.
const CurrentAPIVersion uint32 = 1

// ABI holds the resolved entry points of an opened library. Optional entry
// points are nil when the library does not export them.
type ABI struct {
	Create       func() uintptr
	Destroy      func(uintptr)
	Metadata     func() string
	APIVersion   func() uint32
	SaveState    func(uintptr) string
	RestoreState func(uintptr, string) int32

	// Close releases the library handle.
	Close func() error
}

// Opener opens the library at path and resolves its entry points. Missing
// required symbols are reported as a *LoadError of KindSymbolNotFound.
type Opener func(path string) (*ABI, error)

func (a *ABI) version() uint32 {
	if a.APIVersion == nil {
		return 1
	}
	return a.APIVersion()
}

func (a *ABI) close() error {
	if a.Close == nil {
		return nil
	}
	return a.Close()
}
