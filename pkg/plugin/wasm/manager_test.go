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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mofa-org/mofa/pkg/plugin"
	"github.com/mofa-org/mofa/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, <-chan Event) {
	t.Helper()
	rt, _ := newTestRuntime(t)
	m := NewManager(rt, ManagerConfig{Logger: zaptest.NewLogger(t)})
	ctx, cancel := context.WithCancel(context.Background())
	events := m.Subscribe(ctx)
	t.Cleanup(func() {
		cancel()
		_ = m.Close(context.Background())
	})
	return m, events
}

func drainEvents(ch <-chan Event) []EventType {
	var out []EventType
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func TestManager_Lifecycle(t *testing.T) {
	m, events := newTestManager(t)
	ctx := context.Background()

	cfg := NewPluginConfig("life")
	id, err := m.LoadWAT(ctx, lifecycleWAT, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "life", id)

	require.NoError(t, m.Initialize(ctx, id))
	ready, err := m.CallI32(ctx, id, "ready")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ready)

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, plugin.StateLoaded, info.State)
	assert.Equal(t, "life", info.Manifest.Name)
	assert.False(t, info.LastActivity.Before(info.LoadedAt))

	require.NoError(t, m.Unload(ctx, id))
	_, err = m.State(id)
	requireKind(t, err, KindPluginNotFound)

	assert.Equal(t, []EventType{EventLoaded, EventInitialized, EventExecuted, EventStateChanged, EventUnloaded}, drainEvents(events))

	st := m.Stats()
	assert.Equal(t, uint64(1), st.TotalLoaded)
	assert.Equal(t, uint64(1), st.TotalUnloaded)
	assert.Equal(t, uint64(1), st.TotalCalls)
	assert.Zero(t, st.ActivePlugins)
}

func TestManager_DuplicateAndMissing(t *testing.T) {
	m, events := newTestManager(t)
	ctx := context.Background()

	cfg := NewPluginConfig("math")
	_, err := m.LoadWAT(ctx, addWAT, &cfg)
	require.NoError(t, err)
	_, err = m.LoadWAT(ctx, addWAT, &cfg)
	requireKind(t, err, KindPluginAlreadyLoaded)

	_, err = m.CallI32(ctx, "ghost", "add")
	requireKind(t, err, KindPluginNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)
	requireKind(t, m.Unload(ctx, "ghost"), KindPluginNotFound)

	_, err = m.LoadWAT(ctx, "(module (", nil)
	requireKind(t, err, KindCompilation)

	assert.Equal(t, []EventType{EventLoaded, EventError}, drainEvents(events))
}

func TestManager_DefaultConfigGetsFreshIDs(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.LoadWAT(ctx, addWAT, nil)
	require.NoError(t, err)
	b, err := m.LoadWAT(ctx, addWAT, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, m.List(), 2)
	assert.Equal(t, uint64(1), m.Runtime().Stats().ModulesCompiled, "same content compiles once")
}

func TestManager_CapabilityIndex(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	store := NewPluginConfig("store").WithCapability(CapStorage)
	plain := NewPluginConfig("plain")
	_, err := m.LoadWAT(ctx, storageWAT, &store)
	require.NoError(t, err)
	_, err = m.LoadWAT(ctx, addWAT, &plain)
	require.NoError(t, err)

	assert.Equal(t, []string{"store"}, m.WithCapability(CapStorage))
	assert.Equal(t, []string{"plain", "store"}, m.WithCapability(CapReadConfig))

	require.NoError(t, m.Unload(ctx, "store"))
	assert.Empty(t, m.WithCapability(CapStorage))
	assert.Equal(t, []string{"plain"}, m.WithCapability(CapSendMessage))
}

func TestManager_RunawayGuestIsReported(t *testing.T) {
	m, events := newTestManager(t)
	ctx := context.Background()

	limits := DefaultLimits()
	limits.MaxExecutionTimeMs = 50
	cfg := NewPluginConfig("spinner").WithLimits(limits)
	id, err := m.LoadWAT(ctx, spinWAT, &cfg)
	require.NoError(t, err)
	drainEvents(events)

	err = m.CallVoid(ctx, id, "spin")
	assert.ErrorIs(t, err, types.ErrResourceLimit)

	ev := <-events
	assert.Equal(t, EventExecuted, ev.Type)
	assert.False(t, ev.Success)
	assert.Contains(t, ev.Error, "timed out")

	st := m.Stats()
	assert.Equal(t, uint64(1), st.TotalCalls)
	assert.Equal(t, uint64(1), st.FailedCalls)
	metrics, err := m.Metrics(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), metrics.ErrorCount)
}

func TestManager_UnloadAll(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		cfg := NewPluginConfig(id)
		_, err := m.LoadWAT(ctx, lifecycleWAT, &cfg)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(5), m.Runtime().Stats().ActivePlugins)

	require.NoError(t, m.UnloadAll(ctx))
	assert.Empty(t, m.List())
	assert.Zero(t, m.Runtime().Stats().ActivePlugins)
	assert.Equal(t, uint64(5), m.Stats().TotalUnloaded)
}
