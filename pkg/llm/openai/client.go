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
// Package openai implements types.LLMProvider against the OpenAI chat
// completions API and compatible servers.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mofa-org/mofa/pkg/llm"
	"github.com/mofa-org/mofa/pkg/types"
)

const providerName = "openai"

// Default configuration values. Model and endpoint can be overridden via
// OPENAI_DEFAULT_MODEL and OPENAI_API_ENDPOINT, the key via OPENAI_API_KEY.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey      string
	Model       string        // Default: gpt-4o-mini
	Endpoint    string        // Default: https://api.openai.com/v1/chat/completions
	Timeout     time.Duration // Default: 60s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0

	HTTPClient *http.Client
}

// Client calls the chat completions endpoint.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewClient creates a new OpenAI client.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = envOr("OPENAI_DEFAULT_MODEL", DefaultModel)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = envOr("OPENAI_API_ENDPOINT", DefaultEndpoint)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		endpoint:    cfg.Endpoint,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  cfg.HTTPClient,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

// Model returns the default model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation and returns the first choice.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	httpResp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, llm.DecodeError(providerName, err)
	}
	if resp.Error != nil {
		return nil, types.WithCategory(types.ErrUpstream,
			fmt.Errorf("openai API error: %s (type: %s)", resp.Error.Message, resp.Error.Type))
	}
	if len(resp.Choices) == 0 {
		return nil, llm.DecodeError(providerName, fmt.Errorf("response has no choices"))
	}

	ch := resp.Choices[0]
	out := &types.ChatResponse{
		StopReason: stopReason(ch.FinishReason),
		Model:      resp.Model,
		Usage:      c.usage(resp.Model, resp.Usage),
	}
	if ch.Message.Content != nil {
		out.Content = *ch.Message.Content
	}
	for _, tc := range ch.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, convertToolCall(tc))
	}
	return out, nil
}

// ChatStream streams the reply over server-sent events. Usage arrives in
// the final chunk.
func (c *Client) ChatStream(ctx context.Context, req types.ChatRequest, onToken func(token string)) (*types.ChatResponse, error) {
	httpResp, err := c.post(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var (
		content strings.Builder
		finish  string
		model   string
		u       usage
	)
	calls := make(map[int]*toolCall)
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			u = *chunk.Usage
		}
		for _, d := range chunk.Choices {
			if tok := d.Delta.Content; tok != "" {
				content.WriteString(tok)
				if onToken != nil {
					onToken(tok)
				}
			}
			for _, tcd := range d.Delta.ToolCalls {
				tc, ok := calls[tcd.Index]
				if !ok {
					tc = &toolCall{Type: "function"}
					calls[tcd.Index] = tc
				}
				if tcd.ID != "" {
					tc.ID = tcd.ID
				}
				tc.Function.Name += tcd.Function.Name
				tc.Function.Arguments += tcd.Function.Arguments
			}
			if d.FinishReason != "" {
				finish = d.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, llm.TransportError(providerName, err)
	}

	out := &types.ChatResponse{
		Content:    content.String(),
		StopReason: stopReason(finish),
		Model:      model,
		Usage:      c.usage(model, u),
	}
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		out.ToolCalls = append(out.ToolCalls, convertToolCall(*calls[i]))
	}
	return out, nil
}

// HealthCheck is satisfied when the endpoint accepts the credentials for a
// one-token completion.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Chat(ctx, types.ChatRequest{
		Messages:  []types.Message{{Role: types.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

func (c *Client) buildRequest(req types.ChatRequest, stream bool) chatCompletionRequest {
	out := chatCompletionRequest{
		Model:       req.Model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
	if out.Model == "" {
		out.Model = c.model
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if req.ResponseFormat == types.ResponseFormatJSON {
		out.ResponseFormat = map[string]interface{}{"type": "json_object"}
	}
	for _, m := range req.Messages {
		content := m.Content
		out.Messages = append(out.Messages, chatMessage{
			Role:       m.Role,
			Content:    &content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func convertToolCall(tc toolCall) types.ToolCall {
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
		input = map[string]interface{}{"_raw": tc.Function.Arguments}
	}
	return types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input}
}

// stopReason maps finish_reason onto the provider-neutral names.
func stopReason(finish string) string {
	switch finish {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return finish
	}
}

func (c *Client) usage(model string, u usage) types.Usage {
	if model == "" {
		model = c.model
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return types.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  total,
		CostUSD:      CalculateCost(model, u.PromptTokens, u.CompletionTokens),
	}
}

// pricing is USD per million input and output tokens.
var pricing = map[string][2]float64{
	"gpt-4o":        {2.50, 10.00},
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4.1":       {2.00, 8.00},
	"gpt-4.1-mini":  {0.40, 1.60},
	"gpt-4-turbo":   {10.00, 30.00},
	"gpt-4":         {30.00, 60.00},
	"gpt-3.5-turbo": {0.50, 1.50},
	"o1-mini":       {3.00, 12.00},
}

// CalculateCost estimates the cost in USD of a call. Dated snapshots
// (gpt-4o-2024-08-06) are priced as their base model; unknown models use
// gpt-4o pricing.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	price, ok := pricing[model]
	if !ok {
		best := ""
		for name := range pricing {
			if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
				best = name
			}
		}
		price, ok = pricing[best]
		if !ok {
			price = pricing["gpt-4o"]
		}
	}
	return float64(inputTokens)*price[0]/1_000_000 + float64(outputTokens)*price[1]/1_000_000
}

func (c *Client) post(ctx context.Context, body chatCompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, types.WithCategory(types.ErrSerialization, fmt.Errorf("failed to marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, llm.TransportError(providerName, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, llm.NewStatusError(providerName, httpResp.StatusCode, respBody)
	}
	return httpResp, nil
}

var (
	_ types.StreamingProvider = (*Client)(nil)
	_ types.HealthChecker     = (*Client)(nil)
)
