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
package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mofa-org/mofa/pkg/types"
)

func TestStatusError_Category(t *testing.T) {
	tests := []struct {
		code     int
		category error
		strategy RetryStrategy
	}{
		{http.StatusTooManyRequests, types.ErrResourceLimit, DirectRetry},
		{http.StatusServiceUnavailable, types.ErrUpstream, DirectRetry},
		{http.StatusRequestTimeout, types.ErrUpstream, DirectRetry},
		{http.StatusUnauthorized, types.ErrCapabilityUnavailable, NoRetry},
		{http.StatusNotFound, types.ErrNotFound, NoRetry},
		{http.StatusBadRequest, types.ErrInvalidInput, NoRetry},
	}
	policy := DefaultRetryPolicy()
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := NewStatusError("openai", tt.code, []byte("boom"))
			assert.ErrorIs(t, err, tt.category)
			assert.Equal(t, tt.strategy, policy.StrategyFor(err))
			assert.Contains(t, err.Error(), "openai API error")
		})
	}
	assert.True(t, IsThrottlingError(NewStatusError("ollama", http.StatusTooManyRequests, nil)))
}

func TestStatusError_TrimsBody(t *testing.T) {
	body := make([]byte, 2*maxErrorBody)
	for i := range body {
		body[i] = 'x'
	}
	err := NewStatusError("ollama", http.StatusInternalServerError, body)
	assert.Len(t, err.Body, maxErrorBody+3)
	assert.Equal(t, "ollama API error (status 500)", NewStatusError("ollama", 500, nil).Error())
}

func TestTransportAndDecodeErrors(t *testing.T) {
	err := TransportError("ollama", context.DeadlineExceeded)
	assert.ErrorIs(t, err, types.ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = DecodeError("openai", errors.New("unexpected EOF"))
	assert.ErrorIs(t, err, types.ErrSerialization)
	assert.Equal(t, PromptRetry, DefaultRetryPolicy().StrategyFor(err))
}
