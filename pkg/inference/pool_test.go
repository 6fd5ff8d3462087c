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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestModelPool_LoadAndQuery(t *testing.T) {
	pool := NewModelPool(3, time.Minute)

	_, evicted := pool.Load("llama", 4096, PrecisionF16)
	assert.False(t, evicted)
	pool.Load("phi", 2048, PrecisionQ8)

	assert.True(t, pool.IsLoaded("llama"))
	assert.False(t, pool.IsLoaded("mistral"))
	assert.Equal(t, 2, pool.Len())
	assert.Equal(t, 6144, pool.TotalMemoryMB())

	e, ok := pool.Get("phi")
	require.True(t, ok)
	assert.Equal(t, 2048, e.MemoryMB)
	assert.Equal(t, PrecisionQ8, e.Precision)
}

func TestModelPool_ReloadKeepsMemoryTally(t *testing.T) {
	clock := newTestClock()
	pool := NewModelPool(2, time.Minute, WithPoolClock(clock.Now))

	pool.Load("llama", 4096, PrecisionF16)
	clock.Advance(10 * time.Second)
	_, evicted := pool.Load("llama", 9999, PrecisionF32)

	assert.False(t, evicted)
	e, _ := pool.Get("llama")
	assert.Equal(t, 4096, e.MemoryMB)
	assert.Equal(t, PrecisionF16, e.Precision)
	assert.Equal(t, clock.Now(), e.LastUsed)
}

func TestModelPool_EvictsLRUAtCapacity(t *testing.T) {
	pool := NewModelPool(2, time.Minute)

	pool.Load("a", 100, PrecisionF16)
	pool.Load("b", 200, PrecisionF16)
	assert.True(t, pool.Touch("a"))

	id, evicted := pool.Load("c", 300, PrecisionF16)
	require.True(t, evicted)
	assert.Equal(t, "b", id)
	assert.Equal(t, 400, pool.TotalMemoryMB())
	assert.ElementsMatch(t, []string{"a", "c"}, entryIDs(pool.Entries()))
}

func TestModelPool_Unload(t *testing.T) {
	pool := NewModelPool(2, time.Minute)
	pool.Load("a", 512, PrecisionF16)

	assert.Equal(t, 512, pool.Unload("a"))
	assert.Equal(t, 0, pool.Unload("a"))
	assert.Equal(t, 0, pool.TotalMemoryMB())
	assert.False(t, pool.Touch("a"))
}

func TestModelPool_EvictIdle(t *testing.T) {
	clock := newTestClock()
	pool := NewModelPool(4, 5*time.Minute, WithPoolClock(clock.Now))

	pool.Load("old", 100, PrecisionF16)
	clock.Advance(3 * time.Minute)
	pool.Load("fresh", 100, PrecisionF16)
	clock.Advance(2 * time.Minute)

	// Exactly at the timeout is not idle.
	assert.Empty(t, pool.EvictIdle())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"old"}, pool.EvictIdle())
	assert.True(t, pool.IsLoaded("fresh"))
}

func TestModelPool_EvictUntilBelow(t *testing.T) {
	pool := NewModelPool(5, time.Minute)
	pool.Load("a", 1000, PrecisionF16)
	pool.Load("b", 2000, PrecisionF16)
	pool.Load("c", 3000, PrecisionF16)

	assert.Equal(t, []string{"a", "b"}, pool.EvictUntilBelow(3000))
	assert.Equal(t, 3000, pool.TotalMemoryMB())
	assert.Empty(t, pool.EvictUntilBelow(3000))

	id, ok := pool.EvictLRU()
	assert.True(t, ok)
	assert.Equal(t, "c", id)
	_, ok = pool.EvictLRU()
	assert.False(t, ok)
}

func TestModelPool_CapacityFloor(t *testing.T) {
	pool := NewModelPool(0, time.Minute)
	assert.Equal(t, 1, pool.Capacity())
	pool.Load("a", 1, PrecisionF16)
	id, ok := pool.Load("b", 1, PrecisionF16)
	assert.True(t, ok)
	assert.Equal(t, "a", id)
}

// Random load/touch/unload sequences never let the memory total drift from
// the resident entries or the pool exceed its capacity.
func TestModelPool_MemoryIsSumOfEntries(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("total equals sum of entries", prop.ForAll(
		func(ops []int) bool {
			pool := NewModelPool(3, time.Hour)
			for _, op := range ops {
				id := fmt.Sprintf("m%d", op%5)
				switch op % 3 {
				case 0:
					pool.Load(id, 100+op, PrecisionF16)
				case 1:
					pool.Touch(id)
				default:
					pool.Unload(id)
				}

				sum := 0
				for _, e := range pool.Entries() {
					sum += e.MemoryMB
				}
				if sum != pool.TotalMemoryMB() || pool.Len() > 3 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))
	properties.TestingRun(t)
}

func entryIDs(entries []ModelEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ModelID
	}
	return ids
}
