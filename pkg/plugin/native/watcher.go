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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventKind is the kind of a watcher Event.
type EventKind int

const (
	EventCreated EventKind = iota
	EventModified
	EventRemoved
	EventRenamed
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is a plugin file change. From is set for EventRenamed.
type Event struct {
	Kind EventKind
	Path string
	From string
	Time time.Time
}

// WatchConfig configures a Watcher.
type WatchConfig struct {
	Debounce           time.Duration `mapstructure:"debounce"`
	Extensions         []string      `mapstructure:"extensions"`
	IgnorePatterns     []string      `mapstructure:"ignore_patterns"`
	Recursive          bool          `mapstructure:"recursive"`
	MaxEventsPerSecond int           `mapstructure:"max_events_per_second"`
	Buffer             int           `mapstructure:"buffer"`

	Logger *zap.Logger      `mapstructure:"-"`
	Clock  func() time.Time `mapstructure:"-"`
}

// DefaultWatchConfig returns the default watcher configuration.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Debounce:           500 * time.Millisecond,
		Extensions:         []string{"so", "dylib", "dll"},
		IgnorePatterns:     []string{"*.tmp", "*.swp", "*~"},
		MaxEventsPerSecond: 100,
		Buffer:             64,
	}
}

func (c *WatchConfig) applyDefaults() {
	def := DefaultWatchConfig()
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
	if len(c.Extensions) == 0 {
		c.Extensions = def.Extensions
	}
	if c.IgnorePatterns == nil {
		c.IgnorePatterns = def.IgnorePatterns
	}
	if c.MaxEventsPerSecond <= 0 {
		c.MaxEventsPerSecond = def.MaxEventsPerSecond
	}
	if c.Buffer <= 0 {
		c.Buffer = def.Buffer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type pendingRename struct {
	from string
	at   time.Time
}

// Watcher turns filesystem notifications for plugin libraries into Events.
//
// Created and Modified events for a path are debounced on the leading edge:
// the first is delivered and later ones inside the window are dropped. A
// rename is delivered as EventRenamed when the new name shows up within the
// debounce window, otherwise as EventRemoved.
type Watcher struct {
	cfg     WatchConfig
	fsw     *fsnotify.Watcher
	events  chan Event
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	pending  *pendingRename
	watched  map[string]struct{}
	dropped  int64

	stopCh    chan struct{}
	done      chan struct{}
	started   bool
	closed    bool
	closeOnce sync.Once
}

// NewWatcher creates a Watcher. Call Watch to add directories and Start to
// begin delivering events.
func NewWatcher(cfg WatchConfig) (*Watcher, error) {
	cfg.applyDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		events:   make(chan Event, cfg.Buffer),
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSecond), cfg.MaxEventsPerSecond),
		logger:   cfg.Logger,
		lastSeen: make(map[string]time.Time),
		watched:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the event channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Dropped returns how many events were discarded by the rate limit.
func (w *Watcher) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Watch adds a directory, and its subdirectories when Recursive is set.
func (w *Watcher) Watch(dir string) error {
	dir = cleanPath(dir)
	dirs := []string{dir}
	if w.cfg.Recursive {
		dirs = dirs[:0]
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, p)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", dir, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range dirs {
		if _, ok := w.watched[d]; ok {
			continue
		}
		if err := w.fsw.Add(d); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
		w.watched[d] = struct{}{}
	}
	w.logger.Info("plugin_watch_added", zap.String("path", dir), zap.Int("directories", len(dirs)))
	return nil
}

// Unwatch stops watching dir and, with Recursive, the directories below it.
func (w *Watcher) Unwatch(dir string) error {
	dir = cleanPath(dir)
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for d := range w.watched {
		if d != dir && !(w.cfg.Recursive && strings.HasPrefix(d, dir+string(filepath.Separator))) {
			continue
		}
		if err := w.fsw.Remove(d); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			errs = append(errs, err)
		}
		delete(w.watched, d)
	}
	return errors.Join(errs...)
}

// WatchedPaths returns the watched directories in sorted order.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for d := range w.watched {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// ScanExisting lists the plugin libraries already present in the watched
// directories.
func (w *Watcher) ScanExisting() ([]string, error) {
	var out []string
	for _, dir := range w.WatchedPaths() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if w.Matches(p) {
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Matches reports whether path has a plugin extension and no ignore pattern
// matches its base name.
func (w *Watcher) Matches(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return false
		}
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	for _, want := range w.cfg.Extensions {
		if strings.EqualFold(ext, strings.TrimPrefix(want, ".")) {
			return true
		}
	}
	return false
}

// Start begins delivering events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("watcher closed")
	}
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Debounce)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			for _, out := range w.handle(ev, w.cfg.Clock()) {
				if !w.emit(ctx, out) {
					return
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("plugin_watch_error", zap.Error(err))

		case <-ticker.C:
			if out, ok := w.expireRename(w.cfg.Clock()); ok {
				if !w.emit(ctx, out) {
					return
				}
			}

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) emit(ctx context.Context, ev Event) bool {
	select {
	case w.events <- ev:
		w.logger.Debug("plugin_file_event",
			zap.String("kind", ev.Kind.String()),
			zap.String("path", ev.Path))
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// handle maps one fsnotify event to the events to deliver.
func (w *Watcher) handle(ev fsnotify.Event, now time.Time) []Event {
	path := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Event
	if exp, ok := w.expireRenameLocked(now); ok {
		out = append(out, exp)
	}

	if !w.Matches(path) {
		return out
	}
	if !w.limiter.AllowN(now, 1) {
		w.dropped++
		return out
	}

	switch {
	case ev.Has(fsnotify.Rename):
		if w.pending != nil {
			out = append(out, Event{Kind: EventRemoved, Path: w.pending.from, Time: now})
		}
		w.pending = &pendingRename{from: path, at: now}
		delete(w.lastSeen, path)

	case ev.Has(fsnotify.Create):
		if w.pending != nil {
			from := w.pending.from
			w.pending = nil
			w.lastSeen[path] = now
			out = append(out, Event{Kind: EventRenamed, Path: path, From: from, Time: now})
			break
		}
		if w.debouncedLocked(path, now) {
			break
		}
		out = append(out, Event{Kind: EventCreated, Path: path, Time: now})

	case ev.Has(fsnotify.Write):
		if w.debouncedLocked(path, now) {
			break
		}
		out = append(out, Event{Kind: EventModified, Path: path, Time: now})

	case ev.Has(fsnotify.Remove):
		delete(w.lastSeen, path)
		out = append(out, Event{Kind: EventRemoved, Path: path, Time: now})
	}
	return out
}

// debouncedLocked reports whether path was delivered within the debounce
// window and otherwise records now as its last delivery.
func (w *Watcher) debouncedLocked(path string, now time.Time) bool {
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < w.cfg.Debounce {
		return true
	}
	w.lastSeen[path] = now
	return false
}

func (w *Watcher) expireRename(now time.Time) (Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expireRenameLocked(now)
}

func (w *Watcher) expireRenameLocked(now time.Time) (Event, bool) {
	if w.pending == nil || now.Sub(w.pending.at) < w.cfg.Debounce {
		return Event{}, false
	}
	from := w.pending.from
	w.pending = nil
	return Event{Kind: EventRemoved, Path: from, Time: now}, true
}

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		started := w.started
		w.mu.Unlock()

		close(w.stopCh)
		err = w.fsw.Close()
		if started {
			<-w.done
		}
		close(w.events)
	})
	return err
}
