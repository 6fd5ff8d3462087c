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
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeLibs stands in for dlopen. A library file holds the JSON metadata the
// fake library reports; "broken" fails to open and "nosym" lacks a symbol.
type fakeLibs struct {
	mu      sync.Mutex
	opens   map[string]int
	closes  map[string]int
	next    uintptr
	state   map[uintptr]map[string]any
	live    map[uintptr]string
	version map[string]uint32
}

func newFakeLibs() *fakeLibs {
	return &fakeLibs{
		opens:   map[string]int{},
		closes:  map[string]int{},
		state:   map[uintptr]map[string]any{},
		live:    map[uintptr]string{},
		version: map[string]uint32{},
	}
}

func (f *fakeLibs) open(path string) (*ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(string(raw))
	switch content {
	case "broken":
		return nil, errors.New("invalid ELF header")
	case "nosym":
		return nil, &LoadError{Kind: KindSymbolNotFound, Path: path, Detail: SymbolCreate}
	}

	f.mu.Lock()
	f.opens[path]++
	ver, hasVer := f.version[path]
	f.mu.Unlock()

	abi := &ABI{
		Create: func() uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.next++
			f.live[f.next] = path
			f.state[f.next] = map[string]any{}
			return f.next
		},
		Destroy: func(h uintptr) {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.live, h)
		},
		Metadata: func() string { return content },
		SaveState: func(h uintptr) string {
			f.mu.Lock()
			defer f.mu.Unlock()
			b, _ := json.Marshal(f.state[h])
			return string(b)
		},
		RestoreState: func(h uintptr, s string) int32 {
			f.mu.Lock()
			defer f.mu.Unlock()
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return 1
			}
			f.state[h] = m
			return 0
		},
		Close: func() error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.closes[path]++
			return nil
		},
	}
	if hasVer {
		abi.APIVersion = func() uint32 { return ver }
	}
	return abi, nil
}

func (f *fakeLibs) opened(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[path]
}

func (f *fakeLibs) closed(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes[path]
}

func (f *fakeLibs) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeLibs) setState(h uintptr, key string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[h][key] = v
}

func (f *fakeLibs) stateOf(h uintptr) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[h]
}

func writeLib(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

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
