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
// Package ollama implements types.LLMProvider against a local Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mofa-org/mofa/pkg/llm"
	"github.com/mofa-org/mofa/pkg/types"
)

const providerName = "ollama"

// Defaults applied by NewClient.
const (
	DefaultEndpoint    = "http://localhost:11434"
	DefaultModel       = "llama3.1"
	DefaultTemperature = 0.8
	DefaultTimeout     = 120 * time.Second
)

// Config holds configuration for the Ollama client.
type Config struct {
	Endpoint    string        // Default: http://localhost:11434
	Model       string        // Default: llama3.1
	MaxTokens   int           // Default: model-aware (4096 for 7B/8B, 6144 for 13B-32B, 8192 for 70B+)
	Temperature float64       // Default: 0.8
	Timeout     time.Duration // Default: 120s

	HTTPClient *http.Client
}

// Client talks to Ollama's /api endpoints. Local inference is free, so
// reported cost is always zero.
type Client struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// defaultMaxTokens sizes the output budget from the parameter count in the
// model name. Unknown sizes get the small-model default.
func defaultMaxTokens(model string) int {
	m := strings.ToLower(model)
	for _, tag := range []string{"70b", "72b", "405b"} {
		if strings.Contains(m, tag) {
			return 8192
		}
	}
	for _, tag := range []string{"13b", "14b", "20b", "32b"} {
		if strings.Contains(m, tag) {
			return 6144
		}
	}
	return 4096
}

// NewClient creates a new Ollama client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens(cfg.Model)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  cfg.HTTPClient,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

// Model returns the default model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to Ollama and returns the reply.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	httpResp, err := c.post(ctx, "/api/chat", c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, llm.DecodeError(providerName, err)
	}
	return c.convertResponse(&resp, resp.Message.Content, resp.Message.ToolCalls), nil
}

// ChatStream streams the reply token by token. onToken is called from the
// calling goroutine for every non-empty content chunk.
func (c *Client) ChatStream(ctx context.Context, req types.ChatRequest, onToken func(token string)) (*types.ChatResponse, error) {
	httpResp, err := c.post(ctx, "/api/chat", c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var (
		content   strings.Builder
		toolCalls []ollamaToolCall
		last      chatResponse
	)
	scanner := bufio.NewScanner(httpResp.Body)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var chunk chatResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			// newline-delimited JSON; skip keep-alive noise
			continue
		}
		if tok := chunk.Message.Content; tok != "" {
			content.WriteString(tok)
			if onToken != nil {
				onToken(tok)
			}
		}
		toolCalls = append(toolCalls, chunk.Message.ToolCalls...)
		if chunk.Done {
			last = chunk
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, llm.TransportError(providerName, err)
	}
	return c.convertResponse(&last, content.String(), toolCalls), nil
}

// Embed returns one embedding per input.
func (c *Client) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if model == "" {
		model = c.model
	}
	httpResp, err := c.post(ctx, "/api/embed", embedRequest{Model: model, Input: inputs})
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp embedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, llm.DecodeError(providerName, err)
	}
	if len(resp.Embeddings) != len(inputs) {
		return nil, llm.DecodeError(providerName,
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(inputs)))
	}
	return resp.Embeddings, nil
}

// HealthCheck verifies the server answers /api/tags.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// ListModels returns the names of locally pulled models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpResp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&tags); err != nil {
		return nil, llm.DecodeError(providerName, err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) buildRequest(req types.ChatRequest, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	out := chatRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Stream:   stream,
		Options: map[string]interface{}{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}
	if req.ResponseFormat == types.ResponseFormatJSON {
		out.Format = "json"
	}
	return out
}

func convertMessages(messages []types.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

func (c *Client) convertResponse(resp *chatResponse, content string, calls []ollamaToolCall) *types.ChatResponse {
	out := &types.ChatResponse{
		Content:    content,
		StopReason: "stop",
		Model:      resp.Model,
		Usage: types.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
		},
	}
	if resp.DoneReason != "" {
		out.StopReason = resp.DoneReason
	}
	for i, tc := range calls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    id,
			Name:  tc.Function.Name,
			Input: parseArguments(tc.Function.Arguments),
		})
	}
	return out
}

// parseArguments accepts arguments as an object or as a JSON string, which
// some models wrap in backticks.
func parseArguments(raw interface{}) map[string]interface{} {
	switch args := raw.(type) {
	case map[string]interface{}:
		return args
	case string:
		var params map[string]interface{}
		if err := json.Unmarshal([]byte(strings.Trim(llm.StripJSONFences(args), "`")), &params); err == nil {
			return params
		}
	}
	return map[string]interface{}{}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, types.WithCategory(types.ErrSerialization, fmt.Errorf("failed to marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

// do sends the request and converts non-200 replies into StatusErrors.
func (c *Client) do(httpReq *http.Request) (*http.Response, error) {
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := httpReq.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, llm.TransportError(providerName, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, llm.NewStatusError(providerName, httpResp.StatusCode, body)
	}
	return httpResp, nil
}

// Ollama API types

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	ID       string             `json:"id"`
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"` // string or object
}

type chatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	EvalDuration    int64         `json:"eval_duration"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

var (
	_ types.StreamingProvider = (*Client)(nil)
	_ types.EmbeddingProvider = (*Client)(nil)
	_ types.HealthChecker     = (*Client)(nil)
)
