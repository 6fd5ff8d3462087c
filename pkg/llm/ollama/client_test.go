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
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofa-org/mofa/pkg/llm"
	"github.com/mofa-org/mofa/pkg/types"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		endpoint    string
		model       string
		maxTokens   int
		temperature float64
	}{
		{"default config", Config{}, DefaultEndpoint, DefaultModel, 4096, 0.8},
		{"custom config", Config{Endpoint: "http://custom:8080/", Model: "mistral", MaxTokens: 2048, Temperature: 0.5, Timeout: 30 * time.Second},
			"http://custom:8080", "mistral", 2048, 0.5},
		{"large model", Config{Model: "llama3.3:70b"}, DefaultEndpoint, "llama3.3:70b", 8192, 0.8},
		{"medium model", Config{Model: "qwen2.5:32b"}, DefaultEndpoint, "qwen2.5:32b", 6144, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.config)
			assert.Equal(t, tt.endpoint, c.endpoint)
			assert.Equal(t, tt.model, c.Model())
			assert.Equal(t, tt.maxTokens, c.maxTokens)
			assert.Equal(t, tt.temperature, c.temperature)
			assert.Equal(t, "ollama", c.Name())
		})
	}
}

func TestClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)
		assert.Equal(t, 0.1, req.Options["temperature"])
		require.Len(t, req.Messages, 2)
		assert.Equal(t, types.RoleSystem, req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(chatResponse{
			Model: "llama3.1",
			Message: ollamaMessage{
				Role:    "assistant",
				Content: `{"ok":true}`,
				ToolCalls: []ollamaToolCall{
					{Function: ollamaFunctionCall{Name: "search", Arguments: map[string]interface{}{"q": "go"}}},
					{ID: "t2", Function: ollamaFunctionCall{Name: "fetch", Arguments: "`{\"url\":\"x\"}`"}},
				},
			},
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       15,
		})
	}))
	defer server.Close()

	temp := 0.1
	c := NewClient(Config{Endpoint: server.URL})
	resp, err := c.Chat(context.Background(), types.ChatRequest{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "be terse"},
			{Role: types.RoleUser, Content: "Hello!"},
		},
		Temperature:    &temp,
		ResponseFormat: types.ResponseFormatJSON,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, types.Usage{InputTokens: 10, OutputTokens: 15, TotalTokens: 25}, resp.Usage)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_0", resp.ToolCalls[0].ID)
	assert.Equal(t, "go", resp.ToolCalls[0].Input["q"])
	assert.Equal(t, "t2", resp.ToolCalls[1].ID)
	assert.Equal(t, "x", resp.ToolCalls[1].Input["url"])
}

func TestClient_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		for _, tok := range []string{"Hel", "lo", "!"} {
			_ = json.NewEncoder(w).Encode(chatResponse{Message: ollamaMessage{Content: tok}})
		}
		fmt.Fprintln(w, "not json")
		_ = json.NewEncoder(w).Encode(chatResponse{Model: "llama3.1", Done: true, DoneReason: "length", PromptEvalCount: 3, EvalCount: 3})
	}))
	defer server.Close()

	var tokens []string
	resp, err := NewClient(Config{Endpoint: server.URL}).ChatStream(context.Background(),
		types.ChatRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}},
		func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo", "!"}, tokens)
	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, "length", resp.StopReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestClient_ErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category error
	}{
		{"model missing", http.StatusNotFound, `{"error":"model not found"}`, types.ErrNotFound},
		{"overloaded", http.StatusServiceUnavailable, "busy", types.ErrUpstream},
		{"bad body", http.StatusOK, "{", types.ErrSerialization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := NewClient(Config{Endpoint: server.URL}).Chat(context.Background(), types.ChatRequest{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.category)
			if tt.status != http.StatusOK {
				var se *llm.StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, tt.status, se.StatusCode)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewClient(Config{Endpoint: url}).HealthCheck(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstream)
}

func TestClient_EmbedAndTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "nomic-embed-text", req.Model)
			_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}}})
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"llama3.1:8b"},{"name":"qwen2.5:7b"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL})
	vecs, err := c.Embed(context.Background(), "nomic-embed-text", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)

	_, err = c.Embed(context.Background(), "nomic-embed-text", []string{"a"})
	assert.ErrorIs(t, err, types.ErrSerialization)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "qwen2.5:7b"}, models)
	assert.NoError(t, c.HealthCheck(context.Background()))
}
