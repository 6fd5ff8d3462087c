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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mofa-org/mofa/internal/csync"
	"github.com/mofa-org/mofa/pkg/observability"
	"github.com/mofa-org/mofa/pkg/plugin"
)

// DefaultSettleDelay is the pause between unloading and reopening a library
// during a reload.
const DefaultSettleDelay = 100 * time.Millisecond

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// APIVersion is the ABI version libraries must report. Zero means
	// CurrentAPIVersion.
	APIVersion uint32 `mapstructure:"api_version"`
	// UnsafeMode skips the API version check.
	UnsafeMode  bool          `mapstructure:"unsafe_mode"`
	SearchPaths []string      `mapstructure:"search_paths"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	Open   Opener               `mapstructure:"-"`
	Logger *zap.Logger          `mapstructure:"-"`
	Tracer observability.Tracer `mapstructure:"-"`
	Clock  func() time.Time     `mapstructure:"-"`
}

func (c *LoaderConfig) applyDefaults() {
	if c.APIVersion == 0 {
		c.APIVersion = CurrentAPIVersion
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.Open == nil {
		c.Open = OpenLibrary
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.Tracer = observability.OrNoOp(c.Tracer)
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Library is an opened plugin library. The handle stays open until the
// library is unloaded and its last instance is destroyed.
type Library struct {
	Path       string
	Hash       string
	LoadedAt   time.Time
	Metadata   plugin.Metadata
	APIVersion uint32

	abi       *ABI
	mu        sync.Mutex
	instances int
	unloaded  bool
}

func (l *Library) acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unloaded {
		return false
	}
	l.instances++
	return true
}

// release drops one instance and closes the handle when the library is
// unloaded and no instance is left.
func (l *Library) release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.instances--
	if l.unloaded && l.instances == 0 {
		return l.abi.close()
	}
	return nil
}

func (l *Library) unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unloaded {
		return nil
	}
	l.unloaded = true
	if l.instances == 0 {
		return l.abi.close()
	}
	return nil
}

// Instances returns the number of live plugin instances.
func (l *Library) Instances() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instances
}

// Instance is a plugin object created by a library.
type Instance struct {
	ID        string
	Path      string
	CreatedAt time.Time

	lib       *Library
	handle    uintptr
	destroyed atomic.Bool
}

// Library returns the library the instance was created from.
func (i *Instance) Library() *Library { return i.lib }

// SaveState asks the plugin for its state. It returns nil when the library
// does not export a save entry point.
func (i *Instance) SaveState() (map[string]any, error) {
	if i.lib.abi.SaveState == nil || i.destroyed.Load() {
		return nil, nil
	}
	raw := i.lib.abi.SaveState(i.handle)
	if raw == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, &LoadError{Kind: KindInvalidPlugin, Path: i.Path, Detail: "state is not a JSON object", Err: err}
	}
	return data, nil
}

// RestoreState hands previously saved state to the plugin. It is a no-op
// when the library does not export a restore entry point.
func (i *Instance) RestoreState(data map[string]any) error {
	if i.lib.abi.RestoreState == nil || i.destroyed.Load() || len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode plugin state: %w", err)
	}
	if rc := i.lib.abi.RestoreState(i.handle, string(raw)); rc != 0 {
		return &LoadError{Kind: KindInvalidPlugin, Path: i.Path, Detail: fmt.Sprintf("restore state returned %d", rc)}
	}
	return nil
}

// Loader opens plugin libraries and caches them by path.
type Loader struct {
	cfg    LoaderConfig
	libs   *csync.Map[string, *Library]
	group  singleflight.Group
	logger *zap.Logger
	tracer observability.Tracer
}

// NewLoader creates a Loader.
func NewLoader(cfg LoaderConfig) *Loader {
	cfg.applyDefaults()
	return &Loader{
		cfg:    cfg,
		libs:   csync.NewMap[string, *Library](),
		logger: cfg.Logger,
		tracer: cfg.Tracer,
	}
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- plugin paths come from configured directories
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LoadLibrary opens the library at path, or returns the cached one.
// Concurrent loads of the same path share one open.
func (l *Loader) LoadLibrary(ctx context.Context, path string) (*Library, error) {
	path = cleanPath(path)
	if lib, ok := l.libs.Get(path); ok {
		return lib, nil
	}

	v, err, _ := l.group.Do(path, func() (any, error) {
		if lib, ok := l.libs.Get(path); ok {
			return lib, nil
		}
		return l.load(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Library), nil
}

func (l *Loader) load(ctx context.Context, path string) (*Library, error) {
	_, span := l.tracer.StartSpan(ctx, observability.SpanPluginLoad,
		observability.WithAttribute("plugin.path", path))
	defer l.tracer.EndSpan(span)

	lib, err := l.open(path)
	if err != nil {
		span.RecordError(err)
		l.logger.Warn("plugin_library_load_failed",
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}
	span.SetAttribute(observability.AttrPluginID, lib.Metadata.Key())

	l.libs.Set(path, lib)
	l.logger.Info("plugin_library_loaded",
		zap.String("path", path),
		zap.String(observability.AttrPluginID, lib.Metadata.Key()),
		zap.String("version", lib.Metadata.Version),
		zap.Uint32("api_version", lib.APIVersion))
	return lib, nil
}

func (l *Loader) open(path string) (*Library, error) {
	hash, err := HashFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Kind: KindNotFound, Path: path, Err: err}
		}
		return nil, &LoadError{Kind: KindIO, Path: path, Err: err}
	}

	abi, err := l.cfg.Open(path)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &LoadError{Kind: KindLibraryLoad, Path: path, Err: err}
	}

	version := abi.version()
	if !l.cfg.UnsafeMode && version != l.cfg.APIVersion {
		_ = abi.close()
		return nil, &LoadError{Kind: KindVersionMismatch, Path: path, Expected: l.cfg.APIVersion, Actual: version}
	}

	var meta plugin.Metadata
	if err := json.Unmarshal([]byte(abi.Metadata()), &meta); err != nil {
		_ = abi.close()
		return nil, &LoadError{Kind: KindInvalidPlugin, Path: path, Detail: "metadata is not valid JSON", Err: err}
	}
	if err := meta.Validate(); err != nil {
		_ = abi.close()
		return nil, &LoadError{Kind: KindInvalidPlugin, Path: path, Detail: "incomplete metadata", Err: err}
	}

	return &Library{
		Path:       path,
		Hash:       hash,
		LoadedAt:   l.cfg.Clock(),
		Metadata:   meta,
		APIVersion: version,
		abi:        abi,
	}, nil
}

// UnloadLibrary removes the library from the cache. The handle is closed
// once every instance created from it has been destroyed.
func (l *Loader) UnloadLibrary(path string) error {
	path = cleanPath(path)
	lib, ok := l.libs.Delete(path)
	if !ok {
		return &LoadError{Kind: KindNotFound, Path: path}
	}
	if err := lib.unload(); err != nil {
		return &LoadError{Kind: KindLibraryLoad, Path: path, Detail: "close", Err: err}
	}
	l.logger.Info("plugin_library_unloaded",
		zap.String("path", path),
		zap.String(observability.AttrPluginID, lib.Metadata.Key()))
	return nil
}

// HasChanged reports whether the file at path differs from the loaded copy.
// A library that is not loaded counts as changed.
func (l *Loader) HasChanged(path string) (bool, error) {
	path = cleanPath(path)
	lib, ok := l.libs.Get(path)
	if !ok {
		return true, nil
	}
	hash, err := HashFile(path)
	if err != nil {
		return false, &LoadError{Kind: KindIO, Path: path, Err: err}
	}
	return hash != lib.Hash, nil
}

// Library returns the loaded library for path.
func (l *Loader) Library(path string) (*Library, bool) {
	return l.libs.Get(cleanPath(path))
}

// Libraries returns the loaded libraries ordered by path.
func (l *Loader) Libraries() []*Library {
	snap := l.libs.Snapshot()
	out := make([]*Library, 0, len(snap))
	for _, lib := range snap {
		out = append(out, lib)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// LibraryFileNames returns the file names a plugin called name may have,
// the current platform's convention first.
func LibraryFileNames(name string) []string {
	names := map[string]string{
		"linux":   "lib" + name + ".so",
		"freebsd": "lib" + name + ".so",
		"darwin":  "lib" + name + ".dylib",
		"windows": name + ".dll",
	}
	out := make([]string, 0, 4)
	if own, ok := names[runtime.GOOS]; ok {
		out = append(out, own)
	}
	for _, n := range []string{"lib" + name + ".so", "lib" + name + ".dylib", name + ".dll"} {
		if len(out) == 0 || out[0] != n {
			out = append(out, n)
		}
	}
	return out
}

// FindPlugin searches the configured search paths for a library of the given
// plugin name.
func (l *Loader) FindPlugin(name string) (string, error) {
	for _, dir := range l.cfg.SearchPaths {
		for _, file := range LibraryFileNames(name) {
			candidate := filepath.Join(dir, file)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
		}
	}
	return "", &LoadError{Kind: KindNotFound, Detail: name}
}

// CreatePlugin creates a plugin instance from the library at path, loading
// the library first when needed.
func (l *Loader) CreatePlugin(ctx context.Context, path string) (*Instance, error) {
	lib, err := l.LoadLibrary(ctx, path)
	if err != nil {
		return nil, err
	}
	if !lib.acquire() {
		return nil, &LoadError{Kind: KindNotFound, Path: lib.Path, Detail: "library unloaded"}
	}

	handle := lib.abi.Create()
	if handle == 0 {
		_ = lib.release()
		return nil, &LoadError{Kind: KindCreationFailed, Path: lib.Path}
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	inst := &Instance{
		ID:        id.String(),
		Path:      lib.Path,
		CreatedAt: l.cfg.Clock(),
		lib:       lib,
		handle:    handle,
	}
	l.logger.Debug("plugin_instance_created",
		zap.String(observability.AttrPluginID, lib.Metadata.Key()),
		zap.String("instance_id", inst.ID))
	return inst, nil
}

// DestroyPlugin destroys inst. Destroying an instance twice is a no-op.
func (l *Loader) DestroyPlugin(inst *Instance) error {
	if inst == nil || inst.destroyed.Swap(true) {
		return nil
	}
	inst.lib.abi.Destroy(inst.handle)
	if err := inst.lib.release(); err != nil {
		return &LoadError{Kind: KindLibraryLoad, Path: inst.Path, Detail: "close", Err: err}
	}
	return nil
}

// ReloadLibrary unloads the library at path, waits for the settle delay and
// opens it again.
func (l *Loader) ReloadLibrary(ctx context.Context, path string) (*Library, error) {
	path = cleanPath(path)
	ctx, span := l.tracer.StartSpan(ctx, observability.SpanPluginReload,
		observability.WithAttribute("plugin.path", path))
	defer l.tracer.EndSpan(span)

	if err := l.UnloadLibrary(path); err != nil {
		var le *LoadError
		if !errors.As(err, &le) || le.Kind != KindNotFound {
			span.RecordError(err)
			return nil, err
		}
	}

	timer := time.NewTimer(l.cfg.SettleDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	}

	lib, err := l.LoadLibrary(ctx, path)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return lib, nil
}

// Close unloads every library.
func (l *Loader) Close() error {
	var errs []error
	for path, lib := range l.libs.Drain() {
		if err := lib.unload(); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
