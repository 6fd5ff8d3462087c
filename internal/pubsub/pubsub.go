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
// Package pubsub provides a typed one-producer, many-consumer broadcast broker.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber buffer used when none is given.
const DefaultBufferSize = 100

// Broker fans every published value out to the subscribers registered at
// publish time. Subscribers only see values published after they subscribed.
// A subscriber whose buffer is full misses the value (it lags) instead of
// blocking the publisher; Dropped reports how many deliveries were lost.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]chan T
	nextID  uint64
	bufSize int
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewBroker creates a broker with the given per-subscriber buffer size.
func NewBroker[T any](bufSize int) *Broker[T] {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Broker[T]{
		subs:    make(map[uint64]chan T),
		bufSize: bufSize,
		done:    make(chan struct{}),
	}
}

// Subscribe returns a channel receiving published values until ctx is done
// or the broker is shut down, at which point the channel is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.bufSize)
	if b.closed {
		close(ch)
		return ch
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.unsubscribe(id)
			case <-b.done:
			}
		}()
	}

	return ch
}

func (b *Broker[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers v to every current subscriber without blocking and
// returns the number of subscribers that received it.
func (b *Broker[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber lagged.
func (b *Broker[T]) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown closes every subscriber channel. Later publishes are ignored.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
