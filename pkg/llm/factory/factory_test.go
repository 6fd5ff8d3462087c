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
package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofa-org/mofa/pkg/llm/ollama"
	"github.com/mofa-org/mofa/pkg/llm/openai"
	"github.com/mofa-org/mofa/pkg/types"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{Name: "Ollama", Model: "qwen2.5:7b"})
	require.NoError(t, err)
	require.IsType(t, &ollama.Client{}, p)
	assert.Equal(t, "qwen2.5:7b", p.(*ollama.Client).Model())

	p, err = NewProvider(Config{Name: "openai", APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	require.IsType(t, &openai.Client{}, p)
	assert.Equal(t, "openai", p.Name())

	_, err = NewProvider(Config{Name: "bedrock"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Contains(t, err.Error(), "ollama, openai")
}

func TestAvailable(t *testing.T) {
	assert.Equal(t, []string{"ollama", "openai"}, Available())
	assert.True(t, IsAvailable(" OpenAI "))
	assert.False(t, IsAvailable("anthropic"))
}
