package cachekey

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCanonicalizeScalars(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"string", "hello", `"hello"`},
		{"string escape", "a\"b\n", `"a\"b\n"`},
		{"int", 42, "42"},
		{"negative", -7, "-7"},
		{"float", 1.5, "1.5"},
		{"zero float", 0.0, "0"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"large float", 1e21, "1e+21"},
		{"safe int64", int64(1) << 53, "9007199254740992"},
		{"big int64", int64(1)<<53 + 1, `"9007199254740993"`},
		{"big uint64", uint64(1) << 60, `"1152921504606846976"`},
		{"big json number", json.Number("123456789012345678901234567890"), `"123456789012345678901234567890"`},
		{"small json number", json.Number("12"), "12"},
		{"decimal json number", json.Number("1.25"), "1.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeSortsObjectKeys(t *testing.T) {
	got, err := Canonicalize(map[string]interface{}{
		"zebra": 1,
		"alpha": 2,
		"Beta":  3,
	})
	require.NoError(t, err)
	// Byte order puts upper-case before lower-case.
	assert.Equal(t, `{"Beta":3,"alpha":2,"zebra":1}`, got)
}

func TestCanonicalizeNested(t *testing.T) {
	got, err := Canonicalize(map[string]interface{}{
		"b": []interface{}{1, "two", nil},
		"a": map[string]interface{}{"y": false, "x": true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":true,"y":false},"b":[1,"two",null]}`, got)
}

func TestCanonicalizeDropsUnserializableMembers(t *testing.T) {
	got, err := Canonicalize(map[string]interface{}{
		"keep": "value",
		"fn":   func() {},
		"ch":   make(chan int),
		"nan":  math.NaN(),
		"inf":  math.Inf(1),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"keep":"value"}`, got)
}

func TestCanonicalizeNullsUnserializableItems(t *testing.T) {
	got, err := Canonicalize([]interface{}{"a", func() {}, math.NaN(), 2})
	require.NoError(t, err)
	assert.Equal(t, `["a",null,null,2]`, got)
}

func TestCanonicalizeTime(t *testing.T) {
	ts := time.Date(2024, 5, 17, 9, 30, 0, 120*int(time.Millisecond), time.UTC)
	got, err := Canonicalize(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-17T09:30:00.120Z"`, got)

	// Non-UTC times normalize to UTC before formatting.
	loc := time.FixedZone("X", 2*60*60)
	got, err = Canonicalize(ts.In(loc))
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-17T09:30:00.120Z"`, got)
}

type customMarshaler struct {
	V int
}

func (c customMarshaler) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{"wrapped": c.V, "also": "here"})
}

func TestCanonicalizeMarshalerReserialized(t *testing.T) {
	// Marshaler output runs back through canonicalization so its
	// object keys come out sorted.
	got, err := Canonicalize(customMarshaler{V: 9})
	require.NoError(t, err)
	assert.Equal(t, `{"also":"here","wrapped":9}`, got)
}

func TestCanonicalizeStructViaReflection(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	got, err := Canonicalize(payload{Name: "n", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"name":"n"}`, got)
}

func TestCanonicalizeCircularMap(t *testing.T) {
	m := map[string]interface{}{}
	m["loop"] = m
	_, err := Canonicalize(m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularStructure)
	assert.Contains(t, err.Error(), "circular structure")
}

func TestCanonicalizeCircularSlice(t *testing.T) {
	s := make([]interface{}, 1)
	s[0] = s
	_, err := Canonicalize(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularStructure)
}

func TestCanonicalizeSharedSubtreeIsNotACycle(t *testing.T) {
	shared := map[string]interface{}{"k": "v"}
	got, err := Canonicalize(map[string]interface{}{"a": shared, "b": shared})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"k":"v"},"b":{"k":"v"}}`, got)
}

func genJSONValue(depth int) *rapid.Generator[interface{}] {
	return rapid.Custom(func(t *rapid.T) interface{} {
		max := 5
		if depth <= 0 {
			max = 3
		}
		switch rapid.IntRange(0, max).Draw(t, "kind") {
		case 0:
			return nil
		case 1:
			return rapid.Bool().Draw(t, "bool")
		case 2:
			return rapid.Float64Range(-1e12, 1e12).Draw(t, "num")
		case 3:
			return rapid.String().Draw(t, "str")
		case 4:
			n := rapid.IntRange(0, 4).Draw(t, "len")
			arr := make([]interface{}, n)
			for i := range arr {
				arr[i] = genJSONValue(depth - 1).Draw(t, "item")
			}
			return arr
		default:
			n := rapid.IntRange(0, 4).Draw(t, "size")
			obj := make(map[string]interface{}, n)
			for i := 0; i < n; i++ {
				key := rapid.String().Draw(t, "key")
				obj[key] = genJSONValue(depth - 1).Draw(t, "val")
			}
			return obj
		}
	})
}

func deepCopyValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, item := range tv {
			out[k] = deepCopyValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, item := range tv {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := genJSONValue(3).Draw(t, "tree")

		c1, err := Canonicalize(tree)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		c2, err := Canonicalize(deepCopyValue(tree))
		if err != nil {
			t.Fatalf("canonicalize copy: %v", err)
		}
		if c1 != c2 {
			t.Fatalf("canonical form not stable:\n%s\n%s", c1, c2)
		}

		// The canonical form must itself be valid JSON.
		var decoded interface{}
		if err := json.Unmarshal([]byte(c1), &decoded); err != nil {
			t.Fatalf("canonical form is not valid JSON: %v", err)
		}
	})
}

func TestCanonicalizeRoundTripsThroughJSON(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := genJSONValue(2).Draw(t, "tree")

		c1, err := Canonicalize(tree)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}

		// Decoding and re-canonicalizing the canonical form is a
		// fixed point.
		dec := json.NewDecoder(strings.NewReader(c1))
		dec.UseNumber()
		var decoded interface{}
		if err := dec.Decode(&decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		c2, err := Canonicalize(decoded)
		if err != nil {
			t.Fatalf("canonicalize decoded: %v", err)
		}
		if c1 != c2 {
			t.Fatalf("canonical form is not a fixed point:\n%s\n%s", c1, c2)
		}
	})
}
