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
package tasks

import (
	"time"
)

// Origin routes a task result back to whoever asked for it. RoutingKey is
// opaque to the orchestrator.
type Origin struct {
	RoutingKey string         `json:"routing_key"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewOrigin creates an origin with the given routing key.
func NewOrigin(routingKey string) Origin {
	return Origin{RoutingKey: routingKey}
}

// OriginFromChannel builds a "channel:chat" routing key.
func OriginFromChannel(channel, chatID string) Origin {
	return NewOrigin(channel + ":" + chatID)
}

// WithMetadata returns a copy of o with key set.
func (o Origin) WithMetadata(key string, value any) Origin {
	md := make(map[string]any, len(o.Metadata)+1)
	for k, v := range o.Metadata {
		md[k] = v
	}
	md[key] = value
	o.Metadata = md
	return o
}

// Status is the lifecycle state of a background task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is a background task. Output holds the model reply once completed
// and Error the failure message once failed.
type Task struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Origin      Origin     `json:"origin"`
	Status      Status     `json:"status"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsFinished reports whether the task reached a terminal state.
func (t Task) IsFinished() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

func (t Task) complete(output string, at time.Time) Task {
	t.Status = StatusCompleted
	t.Output = output
	t.CompletedAt = &at
	return t
}

func (t Task) fail(msg string, at time.Time) Task {
	t.Status = StatusFailed
	t.Error = msg
	t.CompletedAt = &at
	return t
}

// Result is broadcast once a task finishes. Content is the model reply on
// success and the error message on failure.
type Result struct {
	TaskID    string    `json:"task_id"`
	Origin    Origin    `json:"origin"`
	Content   string    `json:"content"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}
