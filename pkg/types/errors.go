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
	"errors"
)

// Error categories shared by every runtime component.
//
// Component errors carry their own context (path, id, limits) and report their
// category through errors.Is, so callers can branch on the category without
// knowing the concrete type:
//
//	if errors.Is(err, types.ErrBudgetExceeded) { ... }
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrBudgetExceeded        = errors.New("budget exceeded")
	ErrResourceLimit         = errors.New("resource limit exceeded")
	ErrUpstream              = errors.New("upstream error")
	ErrSerialization         = errors.New("serialization error")
	ErrFatal                 = errors.New("fatal error")
)

var categories = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrNotFound, "not_found"},
	{ErrCapabilityUnavailable, "capability_unavailable"},
	{ErrBudgetExceeded, "budget_exceeded"},
	{ErrResourceLimit, "resource_limit"},
	{ErrUpstream, "upstream"},
	{ErrSerialization, "serialization"},
	{ErrFatal, "fatal"},
}

// KindOf returns the category name of err for log fields ("unknown" when the
// error does not belong to a category, "" for nil).
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "unknown"
}

// CategoryError attaches a category to an arbitrary error.
type CategoryError struct {
	Category error
	Err      error
}

// WithCategory wraps err so that errors.Is(err, category) holds.
func WithCategory(category, err error) error {
	if err == nil {
		return nil
	}
	return &CategoryError{Category: category, Err: err}
}

func (e *CategoryError) Error() string {
	return e.Err.Error()
}

func (e *CategoryError) Unwrap() []error {
	return []error{e.Err, e.Category}
}
