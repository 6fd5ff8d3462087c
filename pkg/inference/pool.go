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
package inference

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// ModelEntry describes a model resident in the pool. MemoryMB is fixed at
// load time.
type ModelEntry struct {
	ModelID   string
	MemoryMB  int
	Precision Precision
	LastUsed  time.Time
}

// ModelPool tracks loaded models in least-recently-used order. The pool is
// the sole record of local memory use: TotalMemoryMB is always the sum of
// the resident entries.
type ModelPool struct {
	mu          sync.Mutex
	lru         *simplelru.LRU[string, *ModelEntry]
	capacity    int
	idleTimeout time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

// PoolOption configures a ModelPool.
type PoolOption func(*ModelPool)

// WithPoolClock overrides the time source.
func WithPoolClock(clock func() time.Time) PoolOption {
	return func(p *ModelPool) { p.clock = clock }
}

// WithPoolLogger sets the logger for eviction events.
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *ModelPool) { p.logger = logger }
}

// NewModelPool creates a pool holding at most capacity models. A capacity
// below one is raised to one.
func NewModelPool(capacity int, idleTimeout time.Duration, opts ...PoolOption) *ModelPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &ModelPool{
		capacity:    capacity,
		idleTimeout: idleTimeout,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	// Eviction is done explicitly before Add so the evicted id can be
	// returned; the LRU never overflows on its own.
	p.lru, _ = simplelru.NewLRU[string, *ModelEntry](capacity, nil)
	return p
}

// Capacity returns the maximum number of resident models.
func (p *ModelPool) Capacity() int {
	return p.capacity
}

// Load makes modelID resident. A model already loaded only has its
// timestamp refreshed and keeps its original memory tally. When the pool is
// full the least recently used model is evicted first and its id returned.
func (p *ModelPool) Load(modelID string, memoryMB int, precision Precision) (evicted string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if e, found := p.lru.Get(modelID); found {
		e.LastUsed = now
		return "", false
	}

	if p.lru.Len() >= p.capacity {
		evicted, ok = p.evictOldestLocked("capacity")
	}
	p.lru.Add(modelID, &ModelEntry{
		ModelID:   modelID,
		MemoryMB:  memoryMB,
		Precision: precision,
		LastUsed:  now,
	})
	p.logger.Debug("model_loaded",
		zap.String("model_id", modelID),
		zap.Int("memory_mb", memoryMB),
		zap.Stringer("precision", precision))
	return evicted, ok
}

// Touch refreshes the last-used time of a resident model and reports
// whether it was present.
func (p *ModelPool) Touch(modelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.lru.Get(modelID)
	if ok {
		e.LastUsed = p.clock()
	}
	return ok
}

// IsLoaded reports whether modelID is resident.
func (p *ModelPool) IsLoaded(modelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Contains(modelID)
}

// Get returns a copy of the entry for modelID without refreshing it.
func (p *ModelPool) Get(modelID string) (ModelEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.lru.Peek(modelID)
	if !ok {
		return ModelEntry{}, false
	}
	return *e, true
}

// Unload removes modelID and returns the memory it held, or 0 when absent.
func (p *ModelPool) Unload(modelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.lru.Peek(modelID)
	if !ok {
		return 0
	}
	p.lru.Remove(modelID)
	return e.MemoryMB
}

// TotalMemoryMB sums the memory of every resident model.
func (p *ModelPool) TotalMemoryMB() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalLocked()
}

func (p *ModelPool) totalLocked() int {
	total := 0
	for _, e := range p.lru.Values() {
		total += e.MemoryMB
	}
	return total
}

// Len returns the number of resident models.
func (p *ModelPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Entries returns copies of the resident entries, least recently used first.
func (p *ModelPool) Entries() []ModelEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	vals := p.lru.Values()
	out := make([]ModelEntry, len(vals))
	for i, e := range vals {
		out[i] = *e
	}
	return out
}

// EvictIdle removes every model unused for longer than the idle timeout and
// returns their ids, oldest first.
func (p *ModelPool) EvictIdle() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	var evicted []string
	for _, id := range p.lru.Keys() {
		e, ok := p.lru.Peek(id)
		if !ok || now.Sub(e.LastUsed) <= p.idleTimeout {
			continue
		}
		p.lru.Remove(id)
		evicted = append(evicted, id)
		p.logger.Debug("model_evicted",
			zap.String("model_id", id),
			zap.String("reason", "idle"),
			zap.Int("memory_mb", e.MemoryMB))
	}
	return evicted
}

// EvictLRU removes the least recently used model.
func (p *ModelPool) EvictLRU() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictOldestLocked("lru")
}

// EvictUntilBelow evicts least recently used models until the total memory
// is at or below targetMB.
func (p *ModelPool) EvictUntilBelow(targetMB int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	for p.lru.Len() > 0 && p.totalLocked() > targetMB {
		id, ok := p.evictOldestLocked("memory_pressure")
		if !ok {
			break
		}
		evicted = append(evicted, id)
	}
	return evicted
}

func (p *ModelPool) evictOldestLocked(reason string) (string, bool) {
	id, e, ok := p.lru.RemoveOldest()
	if !ok {
		return "", false
	}
	p.logger.Debug("model_evicted",
		zap.String("model_id", id),
		zap.String("reason", reason),
		zap.Int("memory_mb", e.MemoryMB))
	return id, true
}
