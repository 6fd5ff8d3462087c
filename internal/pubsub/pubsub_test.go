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
package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBroker_OnlySeesValuesAfterSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroker[int](10)
	defer b.Shutdown()

	assert.Equal(t, 0, b.Publish(1))

	ch := b.Subscribe(context.Background())
	assert.Equal(t, 1, b.Publish(2))
	assert.Equal(t, 1, b.Publish(3))

	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

func TestBroker_FanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroker[string](4)
	defer b.Shutdown()

	a := b.Subscribe(context.Background())
	c := b.Subscribe(context.Background())
	require.Equal(t, 2, b.SubscriberCount())

	assert.Equal(t, 2, b.Publish("hello"))
	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-c)
}

func TestBroker_LaggingSubscriberDrops(t *testing.T) {
	b := NewBroker[int](2)
	defer b.Shutdown()

	ch := b.Subscribe(context.Background())
	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	assert.Equal(t, int64(1), b.Dropped())
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
}

func TestBroker_ContextCancelUnsubscribes(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroker[int](1)
	defer b.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroker_Shutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroker[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	b.Shutdown()
	b.Shutdown()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish(1))

	late := b.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
}
