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
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mofa-org/mofa/internal/csync"
	"github.com/mofa-org/mofa/internal/pubsub"
	"github.com/mofa-org/mofa/pkg/plugin"
)

// EventType identifies a manager event.
type EventType int

const (
	EventLoaded EventType = iota
	EventInitialized
	EventStateChanged
	EventExecuted
	EventUnloaded
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventInitialized:
		return "initialized"
	case EventStateChanged:
		return "state_changed"
	case EventExecuted:
		return "executed"
	case EventUnloaded:
		return "unloaded"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is published on every plugin lifecycle change and guest call.
type Event struct {
	Type     EventType
	PluginID string
	Manifest *Manifest
	OldState plugin.State
	NewState plugin.State
	Function string
	Duration time.Duration
	Success  bool
	Error    string
}

// ManagerStats aggregates manager activity.
type ManagerStats struct {
	TotalLoaded        uint64
	TotalUnloaded      uint64
	ActivePlugins      int
	TotalCalls         uint64
	FailedCalls        uint64
	TotalExecutionTime time.Duration
}

// LoadedPlugin describes a managed plugin.
type LoadedPlugin struct {
	ID           string
	Manifest     Manifest
	State        plugin.State
	LoadedAt     time.Time
	LastActivity time.Time
	Metrics      PluginMetrics
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	EventBuffer   int          `mapstructure:"event_buffer"`
	UnloadWorkers int          `mapstructure:"unload_workers"`
	DefaultPlugin PluginConfig `mapstructure:"default_plugin"`

	Logger *zap.Logger      `mapstructure:"-"`
	Clock  func() time.Time `mapstructure:"-"`
}

type managed struct {
	p        *Plugin
	loadedAt time.Time
	lastSeen time.Time
}

// Manager loads, runs and unloads WASM plugins on a shared Runtime and
// broadcasts their lifecycle events.
type Manager struct {
	rt      *Runtime
	cfg     ManagerConfig
	plugins *csync.Map[string, *managed]
	events  *pubsub.Broker[Event]
	logger  *zap.Logger
	clock   func() time.Time

	// loadMu serialises loads so duplicate ids are rejected atomically.
	loadMu sync.Mutex

	regMu sync.RWMutex
	byCap map[Capability][]string

	statsMu sync.Mutex
	stats   ManagerStats
}

// NewManager creates a manager on rt.
func NewManager(rt *Runtime, cfg ManagerConfig) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.UnloadWorkers <= 0 {
		cfg.UnloadWorkers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		rt:      rt,
		cfg:     cfg,
		plugins: csync.NewMap[string, *managed](),
		events:  pubsub.NewBroker[Event](cfg.EventBuffer),
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		byCap:   make(map[Capability][]string),
	}
}

// Runtime returns the shared runtime.
func (m *Manager) Runtime() *Runtime { return m.rt }

// Subscribe returns a stream of events until ctx is done or the manager
// is closed.
func (m *Manager) Subscribe(ctx context.Context) <-chan Event {
	return m.events.Subscribe(ctx)
}

func (m *Manager) pluginConfig(cfg *PluginConfig) PluginConfig {
	if cfg != nil {
		return *cfg
	}
	out := m.cfg.DefaultPlugin
	if len(out.Capabilities) == 0 && out.Limits == (ResourceLimits{}) {
		out = NewPluginConfig("")
	}
	out.ID = NewPluginConfig("").ID
	return out
}

// LoadBytes compiles src (WAT or binary) and instantiates it. A nil cfg
// uses the default plugin config with a fresh id.
func (m *Manager) LoadBytes(ctx context.Context, src []byte, cfg *PluginConfig) (string, error) {
	pc := m.pluginConfig(cfg)
	if pc.ID == "" {
		pc.ID = NewPluginConfig("").ID
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if _, ok := m.plugins.Get(pc.ID); ok {
		return "", &Error{Kind: KindPluginAlreadyLoaded, Message: pc.ID}
	}

	mod, err := m.rt.Compile(ctx, pc.ID, src)
	if err != nil {
		m.publishError(pc.ID, err)
		return "", err
	}
	p, err := m.rt.CreatePlugin(ctx, mod, pc)
	if err != nil {
		m.publishError(pc.ID, err)
		return "", err
	}

	now := m.clock()
	m.plugins.Set(pc.ID, &managed{p: p, loadedAt: now, lastSeen: now})
	m.register(pc.ID, p.Manifest().Capabilities)
	m.statsMu.Lock()
	m.stats.TotalLoaded++
	m.statsMu.Unlock()

	manifest := p.Manifest()
	m.events.Publish(Event{Type: EventLoaded, PluginID: pc.ID, Manifest: &manifest, NewState: p.State()})
	m.logger.Info("wasm_plugin_loaded", zap.String("plugin_id", pc.ID), zap.String("module", mod.String()))
	return pc.ID, nil
}

// LoadWAT loads a plugin from WebAssembly text.
func (m *Manager) LoadWAT(ctx context.Context, wat string, cfg *PluginConfig) (string, error) {
	return m.LoadBytes(ctx, []byte(wat), cfg)
}

// LoadFile loads a plugin from a .wasm or .wat file.
func (m *Manager) LoadFile(ctx context.Context, path string, cfg *PluginConfig) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", wrapError(KindIO, "read "+path, err)
	}
	return m.LoadBytes(ctx, src, cfg)
}

func (m *Manager) get(id string) (*managed, error) {
	mp, ok := m.plugins.Get(id)
	if !ok {
		return nil, &Error{Kind: KindPluginNotFound, Message: id}
	}
	return mp, nil
}

// Plugin returns the plugin with id.
func (m *Manager) Plugin(id string) (*Plugin, error) {
	mp, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return mp.p, nil
}

// Initialize runs the plugin's initializer.
func (m *Manager) Initialize(ctx context.Context, id string) error {
	mp, err := m.get(id)
	if err != nil {
		return err
	}
	old := mp.p.State()
	if err := mp.p.Initialize(ctx); err != nil {
		m.publishState(id, old, mp.p.State())
		m.publishError(id, err)
		return err
	}
	m.publishState(id, old, mp.p.State())
	m.events.Publish(Event{Type: EventInitialized, PluginID: id})
	return nil
}

// Call invokes name on plugin id and records the outcome.
func (m *Manager) Call(ctx context.Context, id, name string, args ...any) (any, error) {
	mp, err := m.get(id)
	if err != nil {
		return nil, err
	}
	start := m.clock()
	res, err := mp.p.Call(ctx, name, args...)
	m.recordCall(id, name, start, err)
	return res, err
}

// CallI32 invokes a function returning a single i32.
func (m *Manager) CallI32(ctx context.Context, id, name string, args ...int32) (int32, error) {
	mp, err := m.get(id)
	if err != nil {
		return 0, err
	}
	start := m.clock()
	res, err := mp.p.CallI32(ctx, name, args...)
	m.recordCall(id, name, start, err)
	return res, err
}

// CallVoid invokes a function and discards its results.
func (m *Manager) CallVoid(ctx context.Context, id, name string, args ...int32) error {
	mp, err := m.get(id)
	if err != nil {
		return err
	}
	start := m.clock()
	err = mp.p.CallVoid(ctx, name, args...)
	m.recordCall(id, name, start, err)
	return err
}

func (m *Manager) recordCall(id, name string, start time.Time, err error) {
	now := m.clock()
	d := now.Sub(start)
	m.plugins.Update(id, func(mp *managed) *managed {
		cp := *mp
		cp.lastSeen = now
		return &cp
	})

	m.statsMu.Lock()
	m.stats.TotalCalls++
	m.stats.TotalExecutionTime += d
	if err != nil {
		m.stats.FailedCalls++
	}
	m.statsMu.Unlock()

	ev := Event{Type: EventExecuted, PluginID: id, Function: name, Duration: d, Success: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	m.events.Publish(ev)
}

// Unload stops and removes plugin id.
func (m *Manager) Unload(ctx context.Context, id string) error {
	mp, ok := m.plugins.Delete(id)
	if !ok {
		return &Error{Kind: KindPluginNotFound, Message: id}
	}
	m.unregister(id)

	old := mp.p.State()
	err := mp.p.Stop(ctx)
	m.publishState(id, old, mp.p.State())

	m.statsMu.Lock()
	m.stats.TotalUnloaded++
	m.statsMu.Unlock()

	m.events.Publish(Event{Type: EventUnloaded, PluginID: id})
	m.logger.Info("wasm_plugin_unloaded", zap.String("plugin_id", id))
	if err != nil {
		m.publishError(id, err)
	}
	return err
}

// UnloadAll unloads every plugin concurrently. Failures are logged and do
// not stop the others.
func (m *Manager) UnloadAll(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(m.cfg.UnloadWorkers)
	for _, id := range m.List() {
		g.Go(func() error {
			if err := m.Unload(ctx, id); err != nil {
				m.logger.Error("wasm_plugin_unload_failed", zap.String("plugin_id", id), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Close unloads every plugin and closes event subscriptions.
func (m *Manager) Close(ctx context.Context) error {
	err := m.UnloadAll(ctx)
	m.events.Shutdown()
	return err
}

// State returns the lifecycle state of plugin id.
func (m *Manager) State(id string) (plugin.State, error) {
	mp, err := m.get(id)
	if err != nil {
		return plugin.StateUnloaded, err
	}
	return mp.p.State(), nil
}

// Metrics returns the call metrics of plugin id.
func (m *Manager) Metrics(id string) (PluginMetrics, error) {
	mp, err := m.get(id)
	if err != nil {
		return PluginMetrics{}, err
	}
	return mp.p.Metrics(), nil
}

// Info describes plugin id.
func (m *Manager) Info(id string) (LoadedPlugin, error) {
	mp, err := m.get(id)
	if err != nil {
		return LoadedPlugin{}, err
	}
	return LoadedPlugin{
		ID:           id,
		Manifest:     mp.p.Manifest(),
		State:        mp.p.State(),
		LoadedAt:     mp.loadedAt,
		LastActivity: mp.lastSeen,
		Metrics:      mp.p.Metrics(),
	}, nil
}

// List returns the loaded plugin ids, sorted.
func (m *Manager) List() []string {
	ids := m.plugins.Keys()
	slices.Sort(ids)
	return ids
}

// WithCapability returns the ids of plugins granted c, sorted.
func (m *Manager) WithCapability(c Capability) []string {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	ids := slices.Clone(m.byCap[c])
	slices.Sort(ids)
	return ids
}

// Stats returns aggregate statistics.
func (m *Manager) Stats() ManagerStats {
	m.statsMu.Lock()
	s := m.stats
	m.statsMu.Unlock()
	s.ActivePlugins = m.plugins.Len()
	return s
}

func (m *Manager) register(id string, caps []Capability) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	for _, c := range caps {
		m.byCap[c] = append(m.byCap[c], id)
	}
}

func (m *Manager) unregister(id string) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	for c, ids := range m.byCap {
		ids = slices.DeleteFunc(ids, func(s string) bool { return s == id })
		if len(ids) == 0 {
			delete(m.byCap, c)
		} else {
			m.byCap[c] = ids
		}
	}
}

func (m *Manager) publishState(id string, old, next plugin.State) {
	if old == next {
		return
	}
	m.events.Publish(Event{Type: EventStateChanged, PluginID: id, OldState: old, NewState: next})
}

func (m *Manager) publishError(id string, err error) {
	m.events.Publish(Event{Type: EventError, PluginID: id, Error: err.Error()})
}
