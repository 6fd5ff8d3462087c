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
	"fmt"
	"net/http"
	"strings"

	"github.com/mofa-org/mofa/pkg/types"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// StatusError is a non-2xx reply from a provider's HTTP API. It answers
// errors.Is for the category its status code maps to.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

// NewStatusError builds a StatusError, trimming body.
func NewStatusError(provider string, code int, body []byte) *StatusError {
	b := strings.TrimSpace(string(body))
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody] + "..."
	}
	return &StatusError{Provider: provider, StatusCode: code, Body: b}
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap returns the category for the status code.
func (e *StatusError) Unwrap() error {
	return StatusCategory(e.StatusCode)
}

// StatusCategory maps an HTTP status code onto the error taxonomy.
func StatusCategory(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return types.ErrResourceLimit
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return types.ErrCapabilityUnavailable
	case code == http.StatusNotFound:
		return types.ErrNotFound
	case code == http.StatusRequestTimeout, code >= 500:
		return types.ErrUpstream
	case code >= 400:
		return types.ErrInvalidInput
	default:
		return types.ErrUpstream
	}
}

// TransportError marks a failed round trip (DNS, refused connection, reset)
// as an upstream error.
func TransportError(provider string, err error) error {
	return types.WithCategory(types.ErrUpstream, fmt.Errorf("%s request failed: %w", provider, err))
}

// DecodeError marks an unparseable provider reply as a serialization error.
func DecodeError(provider string, err error) error {
	return types.WithCategory(types.ErrSerialization, fmt.Errorf("failed to decode %s response: %w", provider, err))
}
