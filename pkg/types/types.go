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

// Package types holds the collaborator contracts the runtime core consumes
// (LLM providers, tool executors) and the shared error taxonomy.
//
// Provider wire formats live outside the core. Anything that can answer
// Chat can be plugged into the task orchestrator or the retry executor.
package types

import (
	"context"
	"encoding/json"
)

// ============================================================================
// LLM Types
// ============================================================================

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single message in a chat request.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// Name optionally identifies the tool or participant
	Name string `json:"name,omitempty"`

	// ToolCallID links a tool result to the call that produced it
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ResponseFormat selects plain text or JSON-mode output.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json"
)

// ChatRequest is the provider-neutral request shape.
type ChatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
}

// Clone returns a deep copy of the request so retries can rewrite messages.
func (r ChatRequest) Clone() ChatRequest {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	return out
}

// Usage tracks token consumption and cost of a call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// ChatResponse is the provider-neutral response shape.
type ChatResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
	Model      string     `json:"model,omitempty"`
}

// LLMProvider is the only method every provider must implement.
type LLMProvider interface {
	// Name returns the provider name (e.g. "openai", "ollama").
	Name() string

	// Chat sends a conversation and returns the model reply.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingProvider is implemented by providers that can stream tokens.
type StreamingProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, req ChatRequest, onToken func(token string)) (*ChatResponse, error)
}

// EmbeddingProvider is implemented by providers that expose embeddings.
type EmbeddingProvider interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// HealthChecker is implemented by providers that can report reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModelInfo describes a model served by a provider.
type ModelInfo struct {
	ID             string `json:"id"`
	ContextWindow  int    `json:"context_window"`
	SupportsJSON   bool   `json:"supports_json"`
	SupportsVision bool   `json:"supports_vision"`
}

// ModelInfoProvider is implemented by providers that describe their models.
type ModelInfoProvider interface {
	ModelInfo(ctx context.Context, model string) (*ModelInfo, error)
}

// ============================================================================
// Tool Types
// ============================================================================

// ToolExecutor runs host tools on behalf of agents and plugins.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

// Execute calls f.
func (f ToolExecutorFunc) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, name, args)
}

// ProviderFunc adapts a function to LLMProvider, mainly for tests and wiring.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Name returns the configured provider name.
func (p ProviderFunc) Name() string { return p.ProviderName }

// Chat calls Fn.
func (p ProviderFunc) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.Fn(ctx, req)
}
