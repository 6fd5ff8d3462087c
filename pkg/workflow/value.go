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
// Package workflow holds the state core shared by multi-step agent
// workflows: typed values, per-key reducers, node and workflow state
// machines, an execution-timeline profiler and the execution Context.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindJSON
)

var kindNames = [...]string{"null", "bool", "int", "float", "string", "bytes", "list", "map", "json"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is a tagged union over the data a workflow step can produce.
// The zero Value is Null. Values are immutable once built: constructors copy
// their inputs and accessors for lists and maps return copies.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	list []Value
	m    map[string]Value
}

func Null() Value               { return Value{} }
func Bool(v bool) Value         { return Value{kind: KindBool, b: v} }
func Int(v int64) Value         { return Value{kind: KindInt, i: v} }
func Float(v float64) Value     { return Value{kind: KindFloat, f: v} }
func String(v string) Value     { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value      { return Value{kind: KindBytes, raw: bytes.Clone(v)} }
func List(items ...Value) Value { return Value{kind: KindList, list: slices.Clone(items)} }

// Map builds a map value. A nil map yields an empty map.
func Map(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	maps.Copy(out, m)
	return Value{kind: KindMap, m: out}
}

// JSON wraps an opaque JSON document. Invalid JSON is rejected.
func JSON(raw json.RawMessage) (Value, error) {
	if !json.Valid(raw) {
		return Value{}, fmt.Errorf("workflow: invalid JSON value")
	}
	return Value{kind: KindJSON, raw: bytes.Clone(raw)}, nil
}

// FromAny converts plain Go data (as produced by encoding/json or literals)
// into a Value.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("workflow: invalid number %q: %w", x, err)
		}
		return Float(f), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case json.RawMessage:
		return JSON(x)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			item, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Value{kind: KindList, list: items}, nil
	case []Value:
		return List(x...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			item, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = item
		}
		return Value{kind: KindMap, m: m}, nil
	case map[string]Value:
		return Map(x), nil
	default:
		return Value{}, fmt.Errorf("workflow: unsupported value type %T", v)
	}
}

// MustFromAny is FromAny for literals known to be valid.
func MustFromAny(v any) Value {
	out, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return out
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsList() bool { return v.kind == KindList }
func (v Value) IsMap() bool  { return v.kind == KindMap }

func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsFloat also accepts Int values.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return bytes.Clone(v.raw), true
}

func (v Value) AsJSON() (json.RawMessage, bool) {
	if v.kind != KindJSON {
		return nil, false
	}
	return bytes.Clone(v.raw), true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return slices.Clone(v.list), true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return maps.Clone(v.m), true
}

// Len returns the number of items of a list or map and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	}
	return 0
}

// Get returns the entry stored under key in a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	e, ok := v.m[key]
	return e, ok
}

// Equal reports deep equality. Int and Float never compare equal, and NaN
// equals NaN so values containing it still round-trip in tests.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	case KindBytes, KindJSON:
		return bytes.Equal(v.raw, o.raw)
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		return maps.EqualFunc(v.m, o.m, Value.Equal)
	}
	return false
}

// Interface converts the value back to plain Go data. Bytes become []byte
// and opaque JSON becomes json.RawMessage.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return bytes.Clone(v.raw)
	case KindJSON:
		return json.RawMessage(bytes.Clone(v.raw))
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(b)
}

// MarshalJSON encodes the value untagged. Bytes are base64 strings, so they
// decode back as String.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindJSON:
		return bytes.Clone(v.raw), nil
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON document. Integral numbers become Int.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
