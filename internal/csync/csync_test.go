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
package csync

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_Basics(t *testing.T) {
	m := NewMap[string, int]()

	m.Set("a", 1)
	assert.True(t, m.SetIfAbsent("b", 2))
	assert.False(t, m.SetIfAbsent("b", 3))

	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	assert.True(t, m.Update("a", func(v int) int { return v + 10 }))
	assert.False(t, m.Update("missing", func(v int) int { return v }))
	v, _ = m.Get("a")
	assert.Equal(t, 11, v)

	keys := m.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, 1, m.Count(func(v int) bool { return v > 5 }))

	old, ok := m.Delete("a")
	assert.True(t, ok)
	assert.Equal(t, 11, old)
	_, ok = m.Delete("a")
	assert.False(t, ok)

	assert.Equal(t, map[string]int{"b": 2}, m.Snapshot())
	assert.Equal(t, map[string]int{"b": 2}, m.Drain())
	assert.Equal(t, 0, m.Len())
}

func TestMap_Seq2StopsEarly(t *testing.T) {
	m := NewMap[int, int]()
	for i := 0; i < 10; i++ {
		m.Set(i, i)
	}

	seen := 0
	for range m.Seq2() {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}

func TestMap_Concurrent(t *testing.T) {
	m := NewMap[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i, i)
			m.Get(i)
			m.Len()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}
