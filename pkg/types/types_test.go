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
package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "unknown"},
		{"sentinel", ErrNotFound, "not_found"},
		{"wrapped sentinel", fmt.Errorf("load plugin: %w", ErrFatal), "fatal"},
		{"category error", WithCategory(ErrBudgetExceeded, errors.New("daily cost")), "budget_exceeded"},
		{"wrapped category error", fmt.Errorf("call: %w", WithCategory(ErrResourceLimit, errors.New("fuel"))), "resource_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWithCategory(t *testing.T) {
	assert.NoError(t, WithCategory(ErrUpstream, nil))

	inner := errors.New("connection refused")
	err := WithCategory(ErrUpstream, inner)

	assert.True(t, errors.Is(err, ErrUpstream))
	assert.True(t, errors.Is(err, inner))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "connection refused", err.Error())
}

func TestChatRequest_Clone(t *testing.T) {
	temp := 0.2
	req := ChatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: &temp,
	}

	clone := req.Clone()
	clone.Messages[0].Content = "changed"
	*clone.Temperature = 0.9

	assert.Equal(t, "hi", req.Messages[0].Content)
	assert.Equal(t, 0.2, *req.Temperature)
}

func TestProviderFunc(t *testing.T) {
	p := ProviderFunc{
		ProviderName: "echo",
		Fn: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{Content: req.Messages[len(req.Messages)-1].Content}, nil
		},
	}

	var provider LLMProvider = p
	resp, err := provider.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "ping"}}})
	require.NoError(t, err)
	assert.Equal(t, "echo", provider.Name())
	assert.Equal(t, "ping", resp.Content)
}
