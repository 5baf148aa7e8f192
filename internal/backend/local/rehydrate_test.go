package local

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRehydrateParsesSerializedObjects(t *testing.T) {
	args := map[string]interface{}{
		"filter": `{"property":"object","value":"page"}`,
		"query":  "meeting notes",
	}

	out := Rehydrate(args)

	filter, ok := out["filter"].(map[string]interface{})
	if assert.True(t, ok, "filter should be parsed into an object") {
		assert.Equal(t, "object", filter["property"])
		assert.Equal(t, "page", filter["value"])
	}
	assert.Equal(t, "meeting notes", out["query"])

	// The input map is left untouched.
	assert.IsType(t, "", args["filter"])
}

func TestRehydrateParsesSerializedArrays(t *testing.T) {
	out := Rehydrate(map[string]interface{}{
		"sorts": `[{"direction":"ascending"}]`,
	})

	sorts, ok := out["sorts"].([]interface{})
	if assert.True(t, ok) {
		assert.Len(t, sorts, 1)
	}
}

func TestRehydrateRecursesIntoParsedValues(t *testing.T) {
	// The parsed object itself carries another serialized layer.
	out := Rehydrate(map[string]interface{}{
		"filter": `{"and":"[{\"property\":\"title\"}]"}`,
	})

	filter, ok := out["filter"].(map[string]interface{})
	if !assert.True(t, ok) {
		return
	}
	and, ok := filter["and"].([]interface{})
	if assert.True(t, ok, "nested serialized array should be parsed") {
		inner, ok := and[0].(map[string]interface{})
		if assert.True(t, ok) {
			assert.Equal(t, "title", inner["property"])
		}
	}
}

func TestRehydrateLeavesNonJSONStringsAlone(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"plain text", "hello world"},
		{"braces but invalid", "{not json}"},
		{"bracket but invalid", "[1, 2,"},
		{"uuid", "abcdef01-2345-6789-0abc-def012345678"},
		{"empty", ""},
		{"brace only prefix", "{unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Rehydrate(map[string]interface{}{"value": tt.value})
			assert.Equal(t, tt.value, out["value"])
		})
	}
}

func TestRehydrateTrimsWhitespaceBeforeSniffing(t *testing.T) {
	out := Rehydrate(map[string]interface{}{
		"filter": "  {\"a\":1}\n",
	})
	filter, ok := out["filter"].(map[string]interface{})
	if assert.True(t, ok) {
		// Numbers survive as json.Number so large values keep their digits.
		assert.Equal(t, json.Number("1"), filter["a"])
	}
}

func TestRehydrateWalksNestedContainers(t *testing.T) {
	out := Rehydrate(map[string]interface{}{
		"outer": map[string]interface{}{
			"items": []interface{}{`{"deep":true}`, "plain"},
		},
	})

	outer := out["outer"].(map[string]interface{})
	items := outer["items"].([]interface{})
	deep, ok := items[0].(map[string]interface{})
	if assert.True(t, ok) {
		assert.Equal(t, true, deep["deep"])
	}
	assert.Equal(t, "plain", items[1])
}

func TestRehydrateNilArgs(t *testing.T) {
	out := Rehydrate(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestSplitControlsStripsForceRefresh(t *testing.T) {
	sanitized, force := SplitControls(map[string]interface{}{
		"page_id":       "abc",
		ForceRefreshKey: true,
		"start_cursor":  "cur",
	})

	assert.True(t, force)
	assert.NotContains(t, sanitized, ForceRefreshKey)
	assert.Equal(t, "abc", sanitized["page_id"])
	assert.Equal(t, "cur", sanitized["start_cursor"])
}

func TestSplitControlsFalseAndNonBool(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"false", false},
		{"string true", "true"},
		{"number", float64(1)},
		{"nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sanitized, force := SplitControls(map[string]interface{}{
				ForceRefreshKey: tt.value,
				"block_id":      "xyz",
			})
			assert.False(t, force)
			// Control keys are stripped no matter what they carry.
			assert.NotContains(t, sanitized, ForceRefreshKey)
			assert.Equal(t, "xyz", sanitized["block_id"])
		})
	}
}

func TestSplitControlsWithoutControls(t *testing.T) {
	sanitized, force := SplitControls(map[string]interface{}{"a": 1})
	assert.False(t, force)
	assert.Equal(t, map[string]interface{}{"a": 1}, sanitized)
}
