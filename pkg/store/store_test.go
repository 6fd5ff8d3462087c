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
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mofa-org/mofa/pkg/types"
)

type agentState struct {
	Name  string   `json:"name"`
	Turns int      `json:"turns"`
	Tags  []string `json:"tags,omitempty"`
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"agent-1", "agent-1"},
		{"a.b_c", "a.b_c"},
		{"../etc/passwd", ".._etc_passwd"},
		{"hello world", "hello_world"},
		{"über", "_ber"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeID(tt.in))
		})
	}
}

func TestStore_SaveReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New[agentState](dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	v1 := agentState{Name: "v1", Turns: 1}
	v2 := agentState{Name: "v2", Turns: 2, Tags: []string{"x"}}

	require.NoError(t, s.Save(ctx, "k", v1))
	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v1, got)
	assertOnlyFiles(t, dir, "k.json")

	require.NoError(t, s.Save(ctx, "k", v2))
	got, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v2, got)
	assertOnlyFiles(t, dir, "k.json")

	data, err := os.ReadFile(filepath.Join(dir, "k.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"name\": \"v2\"")
}

func TestStore_GetMissing(t *testing.T) {
	s, err := New[agentState](t.TempDir(), nil)
	require.NoError(t, err)

	_, found, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_ListSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := New[agentState](dir, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "b", agentState{Name: "b"}))
	require.NoError(t, s.Save(ctx, "a", agentState{Name: "a"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)

	assert.Equal(t, 1, logs.FilterMessage("store_record_corrupt").Len())

	_, _, err = s.Get(ctx, "broken")
	assert.True(t, errors.Is(err, types.ErrSerialization))
}

func TestStore_ListKeepsDotIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New[agentState](dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, ".hidden", agentState{Name: "hidden"}))
	require.NoError(t, s.Save(ctx, ".x.tmp-y", agentState{Name: "tmp-like"}))
	require.NoError(t, s.Save(ctx, ".k.json.tmp-9", agentState{Name: "json-tmp-like"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".k.json.tmp-123"), []byte("partial"), 0o600))

	records, err := s.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{".hidden", ".k.json.tmp-9", ".x.tmp-y"}, ids)

	n, err := s.RemoveStaleTemps()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, found, err := s.Get(ctx, ".x.tmp-y")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tmp-like", v.Name)
	assert.NoFileExists(t, filepath.Join(dir, ".k.json.tmp-123"))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, err := New[agentState](t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "agent/1", agentState{Name: "x"}))
	assert.FileExists(t, filepath.Join(s.Dir(), "agent_1.json"))

	existed, err := s.Delete(ctx, "agent/1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "agent/1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStore_RemoveStaleTemps(t *testing.T) {
	dir := t.TempDir()
	s, err := New[agentState](dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".k.json.tmp-123"), []byte("partial"), 0o600))
	n, err := s.RemoveStaleTemps()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertOnlyFiles(t, dir)
}

func TestStore_CancelledContext(t *testing.T) {
	s, err := New[agentState](t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, "k", agentState{}), context.Canceled)
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New[agentState]("", nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func assertOnlyFiles(t *testing.T, dir string, want ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if want == nil {
		want = []string{}
	}
	assert.ElementsMatch(t, want, names)
}
