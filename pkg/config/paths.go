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
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv names the environment variable overriding the data directory.
const DataDirEnv = "MOFA_DATA_DIR"

// Subdirectories of the data directory used by the runtime.
const (
	StoresDir    = "stores"
	SnapshotsDir = "snapshots"
	PluginsDir   = "plugins"
)

// GetDataDir returns the MoFA data directory.
//
// Priority:
// 1. MOFA_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.mofa (default)
//
// The returned path is absolute. A leading ~ in MOFA_DATA_DIR is expanded to
// the user's home directory and relative paths are resolved against the
// working directory.
//
// Examples:
//
//	MOFA_DATA_DIR=/srv/mofa         -> /srv/mofa
//	MOFA_DATA_DIR=~/agents          -> /home/user/agents
//	MOFA_DATA_DIR=relative/path     -> /current/dir/relative/path
//	MOFA_DATA_DIR not set           -> /home/user/.mofa
//
// It reads os.Getenv directly because it runs before the config file is
// located.
func GetDataDir() string {
	if dataDir := os.Getenv(DataDirEnv); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".mofa"
	}
	return filepath.Join(homeDir, ".mofa")
}

// GetSubDir returns a subdirectory within the data directory.
// Example: GetSubDir("snapshots") returns ~/.mofa/snapshots
func GetSubDir(subdir string) string {
	return filepath.Join(GetDataDir(), subdir)
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
