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
// Package factory builds LLM providers from configuration.
package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mofa-org/mofa/pkg/llm/ollama"
	"github.com/mofa-org/mofa/pkg/llm/openai"
	"github.com/mofa-org/mofa/pkg/types"
)

// Config selects and configures a provider. Zero values fall back to the
// provider's own defaults.
type Config struct {
	Name        string        `mapstructure:"name"` // ollama, openai
	Model       string        `mapstructure:"model"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type constructor func(Config) types.LLMProvider

var providers = map[string]constructor{
	"ollama": func(c Config) types.LLMProvider {
		return ollama.NewClient(ollama.Config{
			Endpoint:    c.Endpoint,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
			Timeout:     c.Timeout,
		})
	},
	"openai": func(c Config) types.LLMProvider {
		return openai.NewClient(openai.Config{
			APIKey:      c.APIKey,
			Model:       c.Model,
			Endpoint:    c.Endpoint,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
			Timeout:     c.Timeout,
		})
	},
}

// NewProvider creates the provider named by cfg.Name.
func NewProvider(cfg Config) (types.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	ctor, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown LLM provider %q (available: %s)",
			types.ErrInvalidInput, cfg.Name, strings.Join(Available(), ", "))
	}
	return ctor(cfg), nil
}

// Available returns the supported provider names.
func Available() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAvailable reports whether name is a supported provider.
func IsAvailable(name string) bool {
	_, ok := providers[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
