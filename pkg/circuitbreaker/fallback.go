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
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FallbackKind selects what a fallback does when the primary call cannot be used.
type FallbackKind int

const (
	FallbackReturnError FallbackKind = iota
	FallbackReturnCachedResponse
	FallbackReturnDefault
	FallbackCallAlternative
	FallbackQueueForRetry
)

func (k FallbackKind) String() string {
	switch k {
	case FallbackReturnError:
		return "return_error"
	case FallbackReturnCachedResponse:
		return "return_cached_response"
	case FallbackReturnDefault:
		return "return_default"
	case FallbackCallAlternative:
		return "call_alternative"
	case FallbackQueueForRetry:
		return "queue_for_retry"
	default:
		return "unknown"
	}
}

// FallbackContext describes why a fallback ran.
type FallbackContext struct {
	CircuitName string
	State       State
	OpenCount   uint64
	LastError   error
	RequestTime time.Time
}

// ErrQueuedForRetry is returned after a request was handed to a retry queue.
var ErrQueuedForRetry = errors.New("request queued for retry")

// ResponseCache keeps the last successful response for ReturnCachedResponse.
type ResponseCache[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

// Set stores v.
func (c *ResponseCache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value, c.set = v, true
}

// Get returns the cached value.
func (c *ResponseCache[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Fallback is a closed set of fallback strategies. Build one with the
// constructors below.
type Fallback[T any] struct {
	Kind        FallbackKind
	Message     string
	Default     T
	Cache       *ResponseCache[T]
	Alternative func(ctx context.Context) (T, error)
	Enqueue     func(ctx context.Context, fc FallbackContext) error
}

// ReturnError fails with msg.
func ReturnError[T any](msg string) Fallback[T] {
	return Fallback[T]{Kind: FallbackReturnError, Message: msg}
}

// ReturnCachedResponse answers from cache. Successful primary calls refresh it.
func ReturnCachedResponse[T any](cache *ResponseCache[T]) Fallback[T] {
	return Fallback[T]{Kind: FallbackReturnCachedResponse, Cache: cache}
}

// ReturnDefault answers with v.
func ReturnDefault[T any](v T) Fallback[T] {
	return Fallback[T]{Kind: FallbackReturnDefault, Default: v}
}

// CallAlternative calls another service named name.
func CallAlternative[T any](name string, fn func(ctx context.Context) (T, error)) Fallback[T] {
	return Fallback[T]{Kind: FallbackCallAlternative, Message: name, Alternative: fn}
}

// QueueForRetry hands the request to enqueue and returns ErrQueuedForRetry.
func QueueForRetry[T any](enqueue func(ctx context.Context, fc FallbackContext) error) Fallback[T] {
	return Fallback[T]{Kind: FallbackQueueForRetry, Enqueue: enqueue}
}

func (f Fallback[T]) handle(ctx context.Context, fc FallbackContext, cause error) (T, error) {
	var zero T
	switch f.Kind {
	case FallbackReturnCachedResponse:
		if f.Cache != nil {
			if v, ok := f.Cache.Get(); ok {
				return v, nil
			}
		}
		return zero, fmt.Errorf("no cached response for %s: %w", fc.CircuitName, cause)
	case FallbackReturnDefault:
		return f.Default, nil
	case FallbackCallAlternative:
		if f.Alternative == nil {
			return zero, fmt.Errorf("alternative %q not configured: %w", f.Message, cause)
		}
		return f.Alternative(ctx)
	case FallbackQueueForRetry:
		if f.Enqueue != nil {
			if err := f.Enqueue(ctx, fc); err != nil {
				return zero, fmt.Errorf("failed to queue request: %w", err)
			}
		}
		return zero, fmt.Errorf("%w: %w", ErrQueuedForRetry, cause)
	default:
		msg := f.Message
		if msg == "" {
			msg = "fallback"
		}
		return zero, fmt.Errorf("%s: %w", msg, cause)
	}
}

// Do runs op through cb and returns its value.
func Do[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// DoWithFallback runs op through cb. When the circuit rejects the call or op
// fails, fb produces the result instead.
func DoWithFallback[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error), fb Fallback[T]) (T, error) {
	v, err := Do(ctx, cb, op)
	if err == nil {
		if fb.Kind == FallbackReturnCachedResponse && fb.Cache != nil {
			fb.Cache.Set(v)
		}
		return v, nil
	}

	snap := cb.Metrics()
	fc := FallbackContext{
		CircuitName: cb.Name(),
		State:       snap.State,
		OpenCount:   snap.OpenCount,
		LastError:   err,
		RequestTime: cb.config.Clock(),
	}
	cb.config.Logger.Debug("circuit_breaker_fallback",
		zap.String("name", cb.Name()),
		zap.String("fallback", fb.Kind.String()),
		zap.String("state", fc.State.String()),
		zap.Error(err))
	return fb.handle(ctx, fc, err)
}

// ExecuteWithFallback runs op and, when it is rejected or fails, runs fallback.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, op func(context.Context) error, fallback func(context.Context, FallbackContext) error) error {
	err := cb.Execute(ctx, op)
	if err == nil || fallback == nil {
		return err
	}
	snap := cb.Metrics()
	return fallback(ctx, FallbackContext{
		CircuitName: cb.Name(),
		State:       snap.State,
		OpenCount:   snap.OpenCount,
		LastError:   err,
		RequestTime: cb.config.Clock(),
	})
}
