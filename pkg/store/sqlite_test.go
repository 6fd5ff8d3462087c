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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mofa-org/mofa/pkg/types"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore[agentState] {
	t.Helper()
	s, err := NewSQLiteStore[agentState](context.Background(),
		filepath.Join(t.TempDir(), "mofa.db"), "agent_state", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.Save(ctx, "k", agentState{Name: "v1"}))
	require.NoError(t, s.Save(ctx, "k", agentState{Name: "v2", Turns: 3}))
	require.NoError(t, s.Save(ctx, "a", agentState{Name: "a"}))

	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, agentState{Name: "v2", Turns: 3}, got)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)

	existed, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)

	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStore_ListSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.Save(ctx, "good", agentState{Name: "good"}))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO "agent_state" (id, value_json, updated_at) VALUES ('bad', '{oops', 0)`)
	require.NoError(t, err)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID)
}

func TestNewSQLiteStore_RejectsBadTable(t *testing.T) {
	_, err := NewSQLiteStore[agentState](context.Background(),
		filepath.Join(t.TempDir(), "x.db"), "bad table;", nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRepositoryImplementations(t *testing.T) {
	fileStore, err := New[agentState](t.TempDir(), nil)
	require.NoError(t, err)

	repos := map[string]Repository[agentState]{
		"file":   fileStore,
		"sqlite": newTestSQLiteStore(t),
	}
	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, "x y", agentState{Name: "spaced"}))
			got, found, err := repo.Get(ctx, "x y")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "spaced", got.Name)

			records, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "x_y", records[0].ID)
		})
	}
}
