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
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/internal/pubsub"
	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/plugin"
	"github.com/mofa-org/mofa/pkg/types"
)

const pendingCheckInterval = 100 * time.Millisecond

// ErrReloadCooldown is returned when a reload arrives sooner than the
// configured cooldown after the previous reload of the same plugin.
var ErrReloadCooldown = types.WithCategory(types.ErrResourceLimit, errors.New("plugin reload cooldown active"))

// HotReloadConfig configures a HotReloadManager.
type HotReloadConfig struct {
	Strategy          Strategy      `mapstructure:"-"`
	PreserveState     bool          `mapstructure:"preserve_state"`
	AutoRollback      bool          `mapstructure:"auto_rollback"`
	MaxReloadAttempts int           `mapstructure:"max_reload_attempts"`
	ReloadCooldown    time.Duration `mapstructure:"reload_cooldown"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	PluginDirs        []string      `mapstructure:"plugin_dirs"`
	EventBuffer       int           `mapstructure:"event_buffer"`
	Watch             WatchConfig   `mapstructure:"watch"`

	Logger *zap.Logger          `mapstructure:"-"`
	Tracer observability.Tracer `mapstructure:"-"`
	Clock  func() time.Time     `mapstructure:"-"`
}

// DefaultHotReloadConfig returns the default hot reload configuration.
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Strategy:          Debounced(500 * time.Millisecond),
		PreserveState:     true,
		AutoRollback:      true,
		MaxReloadAttempts: 3,
		ReloadCooldown:    time.Second,
		ShutdownTimeout:   5 * time.Second,
		EventBuffer:       pubsub.DefaultBufferSize,
		Watch:             DefaultWatchConfig(),
	}
}

func (c *HotReloadConfig) applyDefaults() {
	def := DefaultHotReloadConfig()
	if c.MaxReloadAttempts <= 0 {
		c.MaxReloadAttempts = def.MaxReloadAttempts
	}
	if c.ReloadCooldown < 0 {
		c.ReloadCooldown = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if (c.Strategy.Kind == StrategyDebounced || c.Strategy.Kind == StrategyOnIdle) && c.Strategy.Delay <= 0 {
		c.Strategy.Delay = def.Strategy.Delay
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.Tracer = observability.OrNoOp(c.Tracer)
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Watch.Logger == nil {
		c.Watch.Logger = c.Logger
	}
}

// LoadedPlugin describes a plugin managed by the HotReloadManager.
type LoadedPlugin struct {
	ID          string
	Path        string
	Metadata    plugin.Metadata
	Status      plugin.Status
	LoadedAt    time.Time
	LastReload  time.Time
	ReloadCount int
}

type managedPlugin struct {
	LoadedPlugin
	inst *Instance
}

// HotReloadManager keeps the libraries in the plugin directories loaded and
// reloads them when they change.
type HotReloadManager struct {
	cfg       HotReloadConfig
	loader    *Loader
	snapshots *SnapshotManager
	watcher   *Watcher
	events    *pubsub.Broker[ReloadEvent]
	logger    *zap.Logger
	tracer    observability.Tracer

	// opMu serialises load, reload and unload and guards plugins.
	opMu    sync.Mutex
	plugins map[string]*managedPlugin

	pendingMu sync.Mutex
	pending   map[string]time.Time

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
}

// NewHotReloadManager creates a manager. snapshots may be nil when
// PreserveState is off.
func NewHotReloadManager(loader *Loader, snapshots *SnapshotManager, cfg HotReloadConfig) (*HotReloadManager, error) {
	cfg.applyDefaults()
	if cfg.PreserveState && snapshots == nil {
		snapshots = NewSnapshotManager(SnapshotConfig{Logger: cfg.Logger}, nil)
	}
	watcher, err := NewWatcher(cfg.Watch)
	if err != nil {
		return nil, err
	}
	return &HotReloadManager{
		cfg:       cfg,
		loader:    loader,
		snapshots: snapshots,
		watcher:   watcher,
		events:    pubsub.NewBroker[ReloadEvent](cfg.EventBuffer),
		logger:    cfg.Logger.Named("hot_reload"),
		tracer:    cfg.Tracer,
		plugins:   make(map[string]*managedPlugin),
		pending:   make(map[string]time.Time),
	}, nil
}

// Subscribe returns a stream of reload events until ctx is done or the
// manager stops.
func (m *HotReloadManager) Subscribe(ctx context.Context) <-chan ReloadEvent {
	return m.events.Subscribe(ctx)
}

// Snapshots returns the snapshot manager holding preserved plugin state.
func (m *HotReloadManager) Snapshots() *SnapshotManager { return m.snapshots }

// Start watches the plugin directories, loads the libraries already present
// and processes changes until ctx is done or Stop is called.
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.started || m.stopped {
		return errors.New("hot reload manager already started")
	}

	for _, dir := range m.cfg.PluginDirs {
		if err := m.watcher.Watch(dir); err != nil {
			return err
		}
	}
	existing, err := m.watcher.ScanExisting()
	if err != nil {
		return err
	}
	for _, path := range existing {
		m.publish(ReloadEvent{Type: EventPluginDiscovered, Path: path})
		if _, err := m.Load(ctx, path); err != nil {
			m.logger.Warn("plugin_load_failed", zap.String("path", path), zap.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := m.watcher.Start(runCtx); err != nil {
		cancel()
		return err
	}
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.loop(runCtx)

	m.logger.Info("hot_reload_started",
		zap.Strings("plugin_dirs", m.cfg.PluginDirs),
		zap.String("strategy", m.cfg.Strategy.String()),
		zap.Int("plugins", len(existing)))
	return nil
}

func (m *HotReloadManager) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-m.watcher.Events():
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)

		case <-ticker.C:
			m.processPending(ctx, m.cfg.Clock())

		case <-ctx.Done():
			return
		}
	}
}

func (m *HotReloadManager) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventCreated:
		m.publish(ReloadEvent{Type: EventPluginDiscovered, Path: ev.Path})
		if _, err := m.Load(ctx, ev.Path); err != nil {
			m.logger.Warn("plugin_load_failed", zap.String("path", ev.Path), zap.Error(err))
		}

	case EventModified:
		switch m.cfg.Strategy.Kind {
		case StrategyImmediate:
			if err := m.reloadPath(ctx, ev.Path); err != nil {
				m.logger.Warn("plugin_reload_failed", zap.String("path", ev.Path), zap.Error(err))
			}
		case StrategyDebounced:
			m.schedule(ev.Path, ev.Time, false)
		case StrategyOnIdle:
			m.schedule(ev.Path, ev.Time, true)
		case StrategyManual:
			m.logger.Debug("plugin_change_ignored", zap.String("path", ev.Path))
		}

	case EventRemoved:
		m.remove(ev.Path)

	case EventRenamed:
		m.remove(ev.From)
		m.publish(ReloadEvent{Type: EventPluginDiscovered, Path: ev.Path})
		if _, err := m.Load(ctx, ev.Path); err != nil {
			m.logger.Warn("plugin_load_failed", zap.String("path", ev.Path), zap.Error(err))
		}
	}
}

// schedule queues a reload of path. With reset, a queued reload is pushed
// back to Delay after at.
func (m *HotReloadManager) schedule(path string, at time.Time, reset bool) {
	if at.IsZero() {
		at = m.cfg.Clock()
	}
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if _, queued := m.pending[path]; queued && !reset {
		return
	}
	m.pending[path] = at.Add(m.cfg.Strategy.Delay)
}

func (m *HotReloadManager) processPending(ctx context.Context, now time.Time) {
	m.pendingMu.Lock()
	var ready []string
	for path, due := range m.pending {
		if !now.Before(due) {
			ready = append(ready, path)
			delete(m.pending, path)
		}
	}
	m.pendingMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if err := m.reloadPath(ctx, path); err != nil {
			m.logger.Warn("plugin_reload_failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func (m *HotReloadManager) publish(ev ReloadEvent) {
	m.events.Publish(ev)
}

func (m *HotReloadManager) byPathLocked(path string) *managedPlugin {
	for _, mp := range m.plugins {
		if mp.Path == path {
			return mp
		}
	}
	return nil
}

// Load loads the library at path and creates its plugin instance. Loading a
// path that is already managed returns the existing plugin.
func (m *HotReloadManager) Load(ctx context.Context, path string) (LoadedPlugin, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.loadLocked(ctx, cleanPath(path))
}

func (m *HotReloadManager) loadLocked(ctx context.Context, path string) (LoadedPlugin, error) {
	if mp := m.byPathLocked(path); mp != nil && mp.inst != nil {
		return mp.LoadedPlugin, nil
	}

	start := m.cfg.Clock()
	inst, err := m.loader.CreatePlugin(ctx, path)
	if err != nil {
		return LoadedPlugin{}, err
	}
	meta := inst.Library().Metadata
	id := meta.Key()
	if other, ok := m.plugins[id]; ok && other.Path != path {
		_ = m.loader.DestroyPlugin(inst)
		_ = m.loader.UnloadLibrary(path)
		return LoadedPlugin{}, &LoadError{Kind: KindAlreadyLoaded, Path: path, Detail: id}
	}

	mp := &managedPlugin{
		LoadedPlugin: LoadedPlugin{
			ID:       id,
			Path:     path,
			Metadata: meta,
			Status:   plugin.Status{State: plugin.StateRunning},
			LoadedAt: start,
		},
		inst: inst,
	}
	m.restoreLocked(ctx, mp)
	m.plugins[id] = mp

	m.publish(ReloadEvent{
		Type:     EventReloadCompleted,
		PluginID: id,
		Path:     path,
		Success:  true,
		Duration: m.cfg.Clock().Sub(start),
	})
	m.logger.Info("plugin_loaded",
		zap.String(observability.AttrPluginID, id),
		zap.String("path", path),
		zap.String("version", meta.Version))
	return mp.LoadedPlugin, nil
}

func (m *HotReloadManager) restoreLocked(ctx context.Context, mp *managedPlugin) {
	if !m.cfg.PreserveState || m.snapshots == nil {
		return
	}
	snap, ok, err := m.snapshots.Latest(ctx, mp.ID)
	if err != nil {
		m.logger.Warn("plugin_state_lookup_failed", zap.String(observability.AttrPluginID, mp.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if !snap.IsCompatible(mp.Metadata.Version) {
		m.logger.Warn("plugin_state_incompatible",
			zap.String(observability.AttrPluginID, mp.ID),
			zap.String("snapshot_version", snap.PluginVersion),
			zap.String("plugin_version", mp.Metadata.Version))
		return
	}
	if err := mp.inst.RestoreState(snap.Data); err != nil {
		m.logger.Warn("plugin_state_restore_failed", zap.String(observability.AttrPluginID, mp.ID), zap.Error(err))
		return
	}
	m.publish(ReloadEvent{Type: EventStateRestored, PluginID: mp.ID, Path: mp.Path})
}

func (m *HotReloadManager) reloadPath(ctx context.Context, path string) error {
	path = cleanPath(path)
	m.opMu.Lock()
	defer m.opMu.Unlock()

	mp := m.byPathLocked(path)
	if mp == nil {
		_, err := m.loadLocked(ctx, path)
		return err
	}
	return m.reloadLocked(ctx, mp, false)
}

// ReloadPlugin reloads a plugin even when its library is unchanged. It is
// the only way to reload under the Manual strategy.
func (m *HotReloadManager) ReloadPlugin(ctx context.Context, pluginID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	mp, ok := m.plugins[pluginID]
	if !ok {
		return &LoadError{Kind: KindNotFound, Detail: pluginID}
	}
	return m.reloadLocked(ctx, mp, true)
}

func (m *HotReloadManager) reloadLocked(ctx context.Context, mp *managedPlugin, force bool) error {
	now := m.cfg.Clock()
	if !mp.LastReload.IsZero() && now.Sub(mp.LastReload) < m.cfg.ReloadCooldown {
		m.logger.Debug("plugin_reload_throttled", zap.String(observability.AttrPluginID, mp.ID))
		return fmt.Errorf("%w: %s", ErrReloadCooldown, mp.ID)
	}
	if !force && mp.inst != nil {
		changed, err := m.loader.HasChanged(mp.Path)
		if err == nil && !changed {
			m.logger.Debug("plugin_unchanged", zap.String(observability.AttrPluginID, mp.ID))
			return nil
		}
	}

	m.logger.Info("plugin_reload_started", zap.String(observability.AttrPluginID, mp.ID), zap.String("path", mp.Path))
	m.publish(ReloadEvent{Type: EventReloadStarted, PluginID: mp.ID, Path: mp.Path})
	mp.Status = plugin.Status{State: plugin.StateReloading}
	mp.LastReload = now

	preserved := m.preserveLocked(ctx, mp, now)

	if err := m.loader.DestroyPlugin(mp.inst); err != nil {
		m.logger.Warn("plugin_destroy_failed", zap.String(observability.AttrPluginID, mp.ID), zap.Error(err))
	}
	mp.inst = nil

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxReloadAttempts; attempt++ {
		inst, err := m.reopen(ctx, mp.Path)
		if err == nil {
			m.installLocked(ctx, mp, inst)
			lastErr = nil
			break
		}
		lastErr = err
		m.publish(ReloadEvent{
			Type:     EventReloadFailed,
			PluginID: mp.ID,
			Path:     mp.Path,
			Error:    err.Error(),
			Attempt:  attempt,
		})
		m.logger.Warn("plugin_reload_attempt_failed",
			zap.String(observability.AttrPluginID, mp.ID),
			zap.Int(observability.AttrAttempt, attempt),
			zap.String("error_type", types.KindOf(err)),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		mp.Status = plugin.Failed(lastErr.Error())
		m.tracer.RecordMetric(observability.MetricPluginReloads, 1, map[string]string{"result": "failure"})
		if m.cfg.AutoRollback && preserved {
			m.publish(ReloadEvent{
				Type:     EventRollbackTriggered,
				PluginID: mp.ID,
				Path:     mp.Path,
				Reason:   "library reload failed",
			})
			m.logger.Warn("plugin_rollback_triggered", zap.String(observability.AttrPluginID, mp.ID))
		}
		return lastErr
	}

	mp.Status = plugin.Status{State: plugin.StateRunning}
	mp.ReloadCount++
	elapsed := m.cfg.Clock().Sub(now)
	m.tracer.RecordMetric(observability.MetricPluginReloads, 1, map[string]string{"result": "success"})
	m.publish(ReloadEvent{
		Type:     EventReloadCompleted,
		PluginID: mp.ID,
		Path:     mp.Path,
		Success:  true,
		Duration: elapsed,
	})
	m.logger.Info("plugin_reloaded",
		zap.String(observability.AttrPluginID, mp.ID),
		zap.String("version", mp.Metadata.Version),
		zap.Duration("duration", elapsed))
	return nil
}

// preserveLocked saves the plugin state and reports whether a snapshot was
// taken.
func (m *HotReloadManager) preserveLocked(ctx context.Context, mp *managedPlugin, now time.Time) bool {
	if !m.cfg.PreserveState || m.snapshots == nil || mp.inst == nil {
		return false
	}
	data, err := mp.inst.SaveState()
	if err != nil {
		m.logger.Warn("plugin_state_save_failed", zap.String(observability.AttrPluginID, mp.ID), zap.Error(err))
		return false
	}
	snap := NewSnapshot(mp.ID, mp.Metadata.Version, now)
	for k, v := range data {
		snap.Data[k] = v
	}
	snap.Metadata["path"] = mp.Path
	if err := m.snapshots.Save(ctx, snap); err != nil {
		m.logger.Warn("plugin_state_save_failed", zap.String(observability.AttrPluginID, mp.ID), zap.Error(err))
		return false
	}
	m.publish(ReloadEvent{Type: EventStatePreserved, PluginID: mp.ID, Path: mp.Path})
	return true
}

func (m *HotReloadManager) reopen(ctx context.Context, path string) (*Instance, error) {
	if _, err := m.loader.ReloadLibrary(ctx, path); err != nil {
		return nil, err
	}
	return m.loader.CreatePlugin(ctx, path)
}

// installLocked attaches a fresh instance, re-keying the plugin when the new
// library reports a different id.
func (m *HotReloadManager) installLocked(ctx context.Context, mp *managedPlugin, inst *Instance) {
	meta := inst.Library().Metadata
	if key := meta.Key(); key != mp.ID {
		delete(m.plugins, mp.ID)
		mp.ID = key
		m.plugins[key] = mp
	}
	mp.Metadata = meta
	mp.inst = inst
	m.restoreLocked(ctx, mp)
}

func (m *HotReloadManager) remove(path string) {
	path = cleanPath(path)
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.pendingMu.Lock()
	delete(m.pending, path)
	m.pendingMu.Unlock()

	mp := m.byPathLocked(path)
	if mp == nil {
		return
	}
	m.unloadLocked(mp)
	m.publish(ReloadEvent{Type: EventPluginRemoved, PluginID: mp.ID, Path: path})
}

func (m *HotReloadManager) unloadLocked(mp *managedPlugin) {
	if err := m.loader.DestroyPlugin(mp.inst); err != nil {
		m.logger.Warn("plugin_destroy_failed", zap.String(observability.AttrPluginID, mp.ID), zap.Error(err))
	}
	if err := m.loader.UnloadLibrary(mp.Path); err != nil {
		var le *LoadError
		if !errors.As(err, &le) || le.Kind != KindNotFound {
			m.logger.Warn("plugin_unload_failed", zap.String(observability.AttrPluginID, mp.ID), zap.Error(err))
		}
	}
	delete(m.plugins, mp.ID)
	m.logger.Info("plugin_unloaded", zap.String(observability.AttrPluginID, mp.ID), zap.String("path", mp.Path))
}

// Plugin returns the managed plugin with the given id.
func (m *HotReloadManager) Plugin(pluginID string) (LoadedPlugin, bool) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	mp, ok := m.plugins[pluginID]
	if !ok {
		return LoadedPlugin{}, false
	}
	return mp.LoadedPlugin, true
}

// Instance returns the live instance of a plugin.
func (m *HotReloadManager) Instance(pluginID string) (*Instance, bool) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	mp, ok := m.plugins[pluginID]
	if !ok || mp.inst == nil {
		return nil, false
	}
	return mp.inst, true
}

// Plugins returns every managed plugin ordered by id.
func (m *HotReloadManager) Plugins() []LoadedPlugin {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	out := make([]LoadedPlugin, 0, len(m.plugins))
	for _, mp := range m.plugins {
		out = append(out, mp.LoadedPlugin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop stops watching, unloads every plugin and closes event streams. It
// waits at most ShutdownTimeout for the event loop to exit.
func (m *HotReloadManager) Stop() error {
	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		return nil
	}
	m.stopped = true
	started, cancel, done := m.started, m.cancel, m.done
	m.lifeMu.Unlock()

	var errs []error
	if started {
		cancel()
		timer := time.NewTimer(m.cfg.ShutdownTimeout)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			errs = append(errs, fmt.Errorf("%w: hot reload loop did not stop within %s", types.ErrResourceLimit, m.cfg.ShutdownTimeout))
		}
	}
	if err := m.watcher.Close(); err != nil {
		errs = append(errs, err)
	}

	m.opMu.Lock()
	for _, mp := range m.plugins {
		m.unloadLocked(mp)
	}
	m.opMu.Unlock()

	m.events.Shutdown()
	m.logger.Info("hot_reload_stopped")
	return errors.Join(errs...)
}
