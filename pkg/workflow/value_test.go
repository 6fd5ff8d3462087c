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
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Accessors(t *testing.T) {
	v := MustFromAny(map[string]any{
		"name":  "agent",
		"count": 3,
		"ratio": 0.5,
		"ok":    true,
		"tags":  []any{"a", "b"},
		"none":  nil,
	})
	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, 6, v.Len())

	name, _ := v.Get("name")
	s, ok := name.AsString()
	assert.True(t, ok)
	assert.Equal(t, "agent", s)

	count, _ := v.Get("count")
	i, ok := count.AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(3), i)
	f, ok := count.AsFloat()
	assert.True(t, ok, "ints widen to float")
	assert.Equal(t, 3.0, f)

	tags, _ := v.Get("tags")
	items, ok := tags.AsList()
	require.True(t, ok)
	items[0] = String("mutated")
	again, _ := tags.AsList()
	assert.True(t, again[0].Equal(String("a")), "AsList returns a copy")

	none, _ := v.Get("none")
	assert.True(t, none.IsNull())

	_, ok = name.AsInt()
	assert.False(t, ok)
}

func TestValue_JSON(t *testing.T) {
	raw := `{"a":1,"b":[true,null,"x"],"c":{"d":1.5}}`
	var v Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))

	want := Map(map[string]Value{
		"a": Int(1),
		"b": List(Bool(true), Null(), String("x")),
		"c": Map(map[string]Value{"d": Float(1.5)}),
	})
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("decoded value (-want +got):\n%s", diff)
	}

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestValue_BytesAndOpaqueJSON(t *testing.T) {
	b := Bytes([]byte("hi"))
	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, `"aGk="`, string(out))

	j, err := JSON(json.RawMessage(`{"k":[1,2]}`))
	require.NoError(t, err)
	out, err = json.Marshal(List(j))
	require.NoError(t, err)
	assert.Equal(t, `[{"k":[1,2]}]`, string(out))

	_, err = JSON(json.RawMessage(`{broken`))
	assert.Error(t, err)

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, Null().Equal(Value{}))
	assert.False(t, Int(1).Equal(Float(1)))
	assert.True(t, List().Equal(List()))
	assert.False(t, List(Int(1)).Equal(List(Int(2))))
	assert.True(t, Map(nil).Equal(Map(map[string]Value{})))
}
