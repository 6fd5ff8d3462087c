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
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/store"
	"github.com/mofa-org/mofa/pkg/types"
)

// DefaultMaxHistory is the number of superseded snapshots kept per plugin.
const DefaultMaxHistory = 10

// Snapshot is a versioned capture of plugin state. Timestamp is in Unix
// seconds.
type Snapshot struct {
	PluginID      string            `json:"plugin_id"`
	Timestamp     int64             `json:"timestamp"`
	Data          map[string]any    `json:"data"`
	PluginVersion string            `json:"plugin_version"`
	Metadata      map[string]string `json:"metadata"`
}

// NewSnapshot returns an empty snapshot for a plugin at version.
func NewSnapshot(pluginID, version string, at time.Time) Snapshot {
	return Snapshot{
		PluginID:      pluginID,
		Timestamp:     at.Unix(),
		Data:          map[string]any{},
		PluginVersion: version,
		Metadata:      map[string]string{},
	}
}

// WithData returns a copy of s with key set to value.
func (s Snapshot) WithData(key string, value any) Snapshot {
	s.Data = maps.Clone(s.Data)
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	s.Data[key] = value
	return s
}

// WithMetadata returns a copy of s with the metadata key set.
func (s Snapshot) WithMetadata(key, value string) Snapshot {
	s.Metadata = maps.Clone(s.Metadata)
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	s.Metadata[key] = value
	return s
}

// Get returns the data value stored under key.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.Data[key]
	return v, ok
}

// IsCompatible reports whether the snapshot can be restored into a plugin
// at version: both versions must share the same major version.
func (s Snapshot) IsCompatible(version string) bool {
	a, b := canonicalVersion(s.PluginVersion), canonicalVersion(version)
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return s.PluginVersion == version
	}
	return semver.Major(a) == semver.Major(b)
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func (s Snapshot) clone() Snapshot {
	s.Data = maps.Clone(s.Data)
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

// SnapshotConfig configures a SnapshotManager.
type SnapshotConfig struct {
	MaxHistory int `mapstructure:"max_history"`

	Logger *zap.Logger `mapstructure:"-"`
}

// SnapshotManager keeps the current snapshot and a bounded history per
// plugin, optionally persisting the current snapshot.
type SnapshotManager struct {
	mu         sync.RWMutex
	current    map[string]Snapshot
	history    map[string][]Snapshot
	repo       store.Repository[Snapshot]
	maxHistory int
	logger     *zap.Logger
}

// NewSnapshotManager creates a SnapshotManager. repo may be nil to keep
// snapshots in memory only.
func NewSnapshotManager(cfg SnapshotConfig, repo store.Repository[Snapshot]) *SnapshotManager {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SnapshotManager{
		current:    make(map[string]Snapshot),
		history:    make(map[string][]Snapshot),
		repo:       repo,
		maxHistory: cfg.MaxHistory,
		logger:     cfg.Logger,
	}
}

// Save installs s as the current snapshot of its plugin, moving the previous
// one into history.
func (m *SnapshotManager) Save(ctx context.Context, s Snapshot) error {
	if s.PluginID == "" {
		return fmt.Errorf("%w: snapshot without plugin id", types.ErrInvalidInput)
	}
	s = s.clone()

	m.mu.Lock()
	if prev, ok := m.current[s.PluginID]; ok {
		h := append(m.history[s.PluginID], prev)
		if len(h) > m.maxHistory {
			h = h[len(h)-m.maxHistory:]
		}
		m.history[s.PluginID] = h
	}
	m.current[s.PluginID] = s
	m.mu.Unlock()

	if err := m.persist(ctx, s); err != nil {
		return err
	}
	m.logger.Debug("plugin_state_saved",
		zap.String(observability.AttrPluginID, s.PluginID),
		zap.String("version", s.PluginVersion))
	return nil
}

func (m *SnapshotManager) persist(ctx context.Context, s Snapshot) error {
	if m.repo == nil {
		return nil
	}
	if err := m.repo.Save(ctx, s.PluginID, s); err != nil {
		return fmt.Errorf("persist snapshot %s: %w", s.PluginID, err)
	}
	return nil
}

// Current returns the in-memory current snapshot.
func (m *SnapshotManager) Current(pluginID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.current[pluginID]
	if !ok {
		return Snapshot{}, false
	}
	return s.clone(), true
}

// Latest returns the current snapshot, falling back to the persisted copy.
func (m *SnapshotManager) Latest(ctx context.Context, pluginID string) (Snapshot, bool, error) {
	if s, ok := m.Current(pluginID); ok {
		return s, true, nil
	}
	if m.repo == nil {
		return Snapshot{}, false, nil
	}
	s, ok, err := m.repo.Get(ctx, pluginID)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}

	m.mu.Lock()
	if _, exists := m.current[pluginID]; !exists {
		m.current[pluginID] = s.clone()
	}
	m.mu.Unlock()
	return s, true, nil
}

// Rollback reinstalls the most recent history entry as the current
// snapshot and returns it.
func (m *SnapshotManager) Rollback(ctx context.Context, pluginID string) (Snapshot, error) {
	m.mu.Lock()
	h := m.history[pluginID]
	if len(h) == 0 {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: no snapshot history for plugin %s", types.ErrNotFound, pluginID)
	}
	s := h[len(h)-1]
	m.history[pluginID] = h[:len(h)-1]
	m.current[pluginID] = s
	m.mu.Unlock()

	if err := m.persist(ctx, s); err != nil {
		return Snapshot{}, err
	}
	m.logger.Info("plugin_state_rolled_back",
		zap.String(observability.AttrPluginID, pluginID),
		zap.Int64("timestamp", s.Timestamp))
	return s.clone(), nil
}

// History returns the superseded snapshots of a plugin, oldest first.
func (m *SnapshotManager) History(pluginID string) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[pluginID]
	out := make([]Snapshot, len(h))
	for i, s := range h {
		out[i] = s.clone()
	}
	return out
}

// PluginIDs returns the plugins with a current snapshot, sorted.
func (m *SnapshotManager) PluginIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.current))
	for id := range m.current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear drops every snapshot of a plugin, including the persisted one.
func (m *SnapshotManager) Clear(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	delete(m.current, pluginID)
	delete(m.history, pluginID)
	m.mu.Unlock()

	if m.repo == nil {
		return nil
	}
	if _, err := m.repo.Delete(ctx, pluginID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", pluginID, err)
	}
	return nil
}

// ClearAll drops every snapshot.
func (m *SnapshotManager) ClearAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.PluginIDs() {
		if err := m.Clear(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Lock()
	m.history = make(map[string][]Snapshot)
	m.mu.Unlock()
	return errors.Join(errs...)
}
