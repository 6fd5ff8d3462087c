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
package workflow

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/mofa-org/mofa/pkg/types"
)

// Reducer merges an update into the current value of a state key. current
// is nil when the key has no value yet. Reducers never mutate current.
type Reducer interface {
	Name() string
	Spec() ReducerSpec
	Reduce(current *Value, update Value) (Value, error)
}

// ReducerKind enumerates the built-in reducers.
type ReducerKind uint8

const (
	ReducerOverwrite ReducerKind = iota
	ReducerAppend
	ReducerExtend
	ReducerMerge
	ReducerLastN
	ReducerFirst
	ReducerLast
	ReducerCustom
)

var reducerKindNames = map[ReducerKind]string{
	ReducerOverwrite: "overwrite",
	ReducerAppend:    "append",
	ReducerExtend:    "extend",
	ReducerMerge:     "merge",
	ReducerLastN:     "last_n",
	ReducerFirst:     "first",
	ReducerLast:      "last",
	ReducerCustom:    "custom",
}

func (k ReducerKind) String() string {
	if s, ok := reducerKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("reducer(%d)", k)
}

// ReducerSpec describes a reducer. Deep applies to Merge, N to LastN and
// Name to Custom.
type ReducerSpec struct {
	Kind ReducerKind
	Deep bool
	N    int
	Name string
}

// String renders the spec in the form accepted by ParseReducerSpec.
func (s ReducerSpec) String() string {
	switch s.Kind {
	case ReducerMerge:
		if s.Deep {
			return "merge_deep"
		}
	case ReducerLastN:
		return "last_n:" + strconv.Itoa(s.N)
	case ReducerCustom:
		return "custom:" + s.Name
	}
	return s.Kind.String()
}

// ParseReducerSpec parses "overwrite", "append", "extend", "merge",
// "merge_deep", "last_n:<n>", "first", "last" and "custom:<name>".
func ParseReducerSpec(s string) (ReducerSpec, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch name {
	case "overwrite", "":
		return ReducerSpec{Kind: ReducerOverwrite}, nil
	case "append":
		return ReducerSpec{Kind: ReducerAppend}, nil
	case "extend":
		return ReducerSpec{Kind: ReducerExtend}, nil
	case "merge":
		return ReducerSpec{Kind: ReducerMerge}, nil
	case "merge_deep":
		return ReducerSpec{Kind: ReducerMerge, Deep: true}, nil
	case "last_n":
		n, err := strconv.Atoi(arg)
		if !hasArg || err != nil || n < 0 {
			return ReducerSpec{}, fmt.Errorf("%w: last_n needs a non-negative count, got %q", types.ErrInvalidInput, s)
		}
		return ReducerSpec{Kind: ReducerLastN, N: n}, nil
	case "first":
		return ReducerSpec{Kind: ReducerFirst}, nil
	case "last":
		return ReducerSpec{Kind: ReducerLast}, nil
	case "custom":
		if arg == "" {
			return ReducerSpec{}, fmt.Errorf("%w: custom reducer needs a name", types.ErrInvalidInput)
		}
		return ReducerSpec{Kind: ReducerCustom, Name: arg}, nil
	}
	return ReducerSpec{}, fmt.Errorf("%w: unknown reducer %q", types.ErrInvalidInput, s)
}

// NewReducer builds a built-in reducer. Custom reducers carry a closure and
// must be created with NewCustomReducer.
func NewReducer(spec ReducerSpec) (Reducer, error) {
	switch spec.Kind {
	case ReducerOverwrite:
		return OverwriteReducer{}, nil
	case ReducerAppend:
		return AppendReducer{}, nil
	case ReducerExtend:
		return ExtendReducer{}, nil
	case ReducerMerge:
		return MergeReducer{Deep: spec.Deep}, nil
	case ReducerLastN:
		if spec.N < 0 {
			return nil, fmt.Errorf("%w: last_n count %d", types.ErrInvalidInput, spec.N)
		}
		return LastNReducer{N: spec.N}, nil
	case ReducerFirst:
		return FirstReducer{}, nil
	case ReducerLast:
		return LastReducer{}, nil
	case ReducerCustom:
		return nil, fmt.Errorf("%w: cannot create reducer for unknown custom type %q", types.ErrInvalidInput, spec.Name)
	}
	return nil, fmt.Errorf("%w: unknown reducer kind %d", types.ErrInvalidInput, spec.Kind)
}

// OverwriteReducer replaces the current value. It is used for keys without
// a registered reducer.
type OverwriteReducer struct{}

func (OverwriteReducer) Name() string      { return "overwrite" }
func (OverwriteReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerOverwrite} }

func (OverwriteReducer) Reduce(_ *Value, update Value) (Value, error) {
	return update, nil
}

// AppendReducer pushes update onto the current list. A missing or non-list
// current value starts a new list.
type AppendReducer struct{}

func (AppendReducer) Name() string      { return "append" }
func (AppendReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerAppend} }

func (AppendReducer) Reduce(current *Value, update Value) (Value, error) {
	items := currentList(current, 1)
	return Value{kind: KindList, list: append(items, update)}, nil
}

// ExtendReducer is AppendReducer with list updates flattened one level.
type ExtendReducer struct{}

func (ExtendReducer) Name() string      { return "extend" }
func (ExtendReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerExtend} }

func (ExtendReducer) Reduce(current *Value, update Value) (Value, error) {
	return Value{kind: KindList, list: extend(current, update)}, nil
}

// MergeReducer merges map updates into the current map. With Deep set,
// colliding keys whose values are both maps are merged recursively. A
// non-map update leaves an existing value untouched.
type MergeReducer struct {
	Deep bool
}

func (r MergeReducer) Name() string {
	if r.Deep {
		return "merge_deep"
	}
	return "merge"
}

func (r MergeReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerMerge, Deep: r.Deep} }

func (r MergeReducer) Reduce(current *Value, update Value) (Value, error) {
	switch {
	case current != nil && current.kind == KindMap && update.kind == KindMap:
		if r.Deep {
			return Value{kind: KindMap, m: mergeDeep(current.m, update.m)}, nil
		}
		out := maps.Clone(current.m)
		if out == nil {
			out = make(map[string]Value, len(update.m))
		}
		maps.Copy(out, update.m)
		return Value{kind: KindMap, m: out}, nil
	case current != nil:
		return *current, nil
	default:
		return update, nil
	}
}

func mergeDeep(base, update map[string]Value) map[string]Value {
	out := make(map[string]Value, len(base)+len(update))
	maps.Copy(out, base)
	for k, v := range update {
		if existing, ok := out[k]; ok && existing.kind == KindMap && v.kind == KindMap {
			out[k] = Value{kind: KindMap, m: mergeDeep(existing.m, v.m)}
			continue
		}
		out[k] = v
	}
	return out
}

// LastNReducer extends the current list and keeps only the last N items.
type LastNReducer struct {
	N int
}

func (LastNReducer) Name() string        { return "last_n" }
func (r LastNReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerLastN, N: r.N} }

func (r LastNReducer) Reduce(current *Value, update Value) (Value, error) {
	items := extend(current, update)
	if n := max(r.N, 0); len(items) > n {
		items = items[len(items)-n:]
	}
	return Value{kind: KindList, list: items}, nil
}

// FirstReducer keeps the first non-null value.
type FirstReducer struct{}

func (FirstReducer) Name() string      { return "first" }
func (FirstReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerFirst} }

func (FirstReducer) Reduce(current *Value, update Value) (Value, error) {
	if current != nil && !current.IsNull() {
		return *current, nil
	}
	return update, nil
}

// LastReducer always takes the update, null included.
type LastReducer struct{}

func (LastReducer) Name() string      { return "last" }
func (LastReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerLast} }

func (LastReducer) Reduce(_ *Value, update Value) (Value, error) {
	return update, nil
}

// ReduceFunc is the closure behind a CustomReducer.
type ReduceFunc func(current *Value, update Value) (Value, error)

// CustomReducer is a named user-supplied reducer.
type CustomReducer struct {
	name string
	fn   ReduceFunc
}

// NewCustomReducer wraps fn as a reducer called name.
func NewCustomReducer(name string, fn ReduceFunc) *CustomReducer {
	return &CustomReducer{name: name, fn: fn}
}

func (r *CustomReducer) Name() string      { return r.name }
func (r *CustomReducer) Spec() ReducerSpec { return ReducerSpec{Kind: ReducerCustom, Name: r.name} }

func (r *CustomReducer) Reduce(current *Value, update Value) (Value, error) {
	return r.fn(current, update)
}

// currentList copies the current list, reserving room for extra items.
func currentList(current *Value, extra int) []Value {
	if current == nil || current.kind != KindList {
		return make([]Value, 0, extra)
	}
	out := make([]Value, len(current.list), len(current.list)+extra)
	copy(out, current.list)
	return out
}

func extend(current *Value, update Value) []Value {
	if update.kind == KindList {
		return append(currentList(current, len(update.list)), update.list...)
	}
	return append(currentList(current, 1), update)
}
