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
package native

import (
	"fmt"
	"strings"
	"time"

	"github.com/mofa-org/mofa/pkg/types"
)

// ReloadEventType is the kind of a ReloadEvent.
type ReloadEventType int

const (
	EventPluginDiscovered ReloadEventType = iota
	EventReloadStarted
	EventStatePreserved
	EventStateRestored
	EventReloadCompleted
	EventReloadFailed
	EventRollbackTriggered
	EventPluginRemoved
)

func (t ReloadEventType) String() string {
	switch t {
	case EventPluginDiscovered:
		return "plugin_discovered"
	case EventReloadStarted:
		return "reload_started"
	case EventStatePreserved:
		return "state_preserved"
	case EventStateRestored:
		return "state_restored"
	case EventReloadCompleted:
		return "reload_completed"
	case EventReloadFailed:
		return "reload_failed"
	case EventRollbackTriggered:
		return "rollback_triggered"
	case EventPluginRemoved:
		return "plugin_removed"
	default:
		return "unknown"
	}
}

// ReloadEvent is published by the HotReloadManager. Fields not relevant to
// Type are zero.
type ReloadEvent struct {
	Type     ReloadEventType
	PluginID string
	Path     string
	Success  bool
	Duration time.Duration
	Attempt  int
	Error    string
	Reason   string
}

// StrategyKind selects when a modified library is reloaded.
type StrategyKind int

const (
	// StrategyImmediate reloads on every delivered change.
	StrategyImmediate StrategyKind = iota
	// StrategyDebounced reloads once Delay after the first change.
	StrategyDebounced
	// StrategyManual only reloads through ReloadPlugin.
	StrategyManual
	// StrategyOnIdle reloads once no change arrived for Delay.
	StrategyOnIdle
)

// Strategy is a reload strategy with its delay.
type Strategy struct {
	Kind  StrategyKind
	Delay time.Duration
}

func Immediate() Strategy                { return Strategy{Kind: StrategyImmediate} }
func Debounced(d time.Duration) Strategy { return Strategy{Kind: StrategyDebounced, Delay: d} }
func Manual() Strategy                   { return Strategy{Kind: StrategyManual} }
func OnIdle(d time.Duration) Strategy    { return Strategy{Kind: StrategyOnIdle, Delay: d} }

func (s Strategy) String() string {
	switch s.Kind {
	case StrategyImmediate:
		return "immediate"
	case StrategyDebounced:
		return "debounced:" + s.Delay.String()
	case StrategyManual:
		return "manual"
	case StrategyOnIdle:
		return "on_idle:" + s.Delay.String()
	default:
		return "unknown"
	}
}

// ParseStrategy parses "immediate", "manual", "debounced:<duration>" or
// "on_idle:<duration>".
func ParseStrategy(s string) (Strategy, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(strings.ToLower(s)), ":")
	switch name {
	case "", "immediate":
		return Immediate(), nil
	case "manual":
		return Manual(), nil
	case "debounced", "on_idle":
		d := 500 * time.Millisecond
		if hasArg {
			var err error
			if d, err = time.ParseDuration(arg); err != nil || d <= 0 {
				return Strategy{}, fmt.Errorf("%w: bad reload delay %q", types.ErrInvalidInput, arg)
			}
		}
		if name == "debounced" {
			return Debounced(d), nil
		}
		return OnIdle(d), nil
	default:
		return Strategy{}, fmt.Errorf("%w: unknown reload strategy %q", types.ErrInvalidInput, s)
	}
}
