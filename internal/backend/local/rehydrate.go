package local

import (
	"encoding/json"
	"strings"
)

// ForceRefreshKey is the reserved argument that bypasses both cache stages
// for a single call. It is stripped before hashing and never forwarded to the
// HTTP API.
const ForceRefreshKey = "__mcpFastForceRefresh"

// Rehydrate returns a copy of the argument tree in which every string whose
// trimmed value is a JSON object or array literal has been parsed and
// substituted, recursively. Clients routinely double-serialize nested
// structures; hashing or forwarding the serialized form would split the cache
// and confuse the API.
func Rehydrate(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	out, _ := rehydrateValue(args).(map[string]interface{})
	return out
}

func rehydrateValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if parsed, ok := parseEmbedded(v); ok {
			return rehydrateValue(parsed)
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = rehydrateValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = rehydrateValue(item)
		}
		return out
	default:
		return value
	}
}

// parseEmbedded parses a string that looks like a serialized JSON object or
// array. Anything else, including strings that merely fail to parse, is left
// alone.
func parseEmbedded(s string) (interface{}, bool) {
	trimmed := strings.TrimSpace(s)
	looksObject := strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
	looksArray := strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")
	if !looksObject && !looksArray {
		return nil, false
	}

	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.UseNumber()
	var parsed interface{}
	if err := decoder.Decode(&parsed); err != nil {
		return nil, false
	}

	switch parsed.(type) {
	case map[string]interface{}, []interface{}:
		return parsed, true
	default:
		return nil, false
	}
}

// SplitControls separates routing directives from the operation arguments.
// It is total: any value under a control key is removed, whatever its type,
// and only a boolean true turns the force-refresh flag on.
func SplitControls(args map[string]interface{}) (sanitized map[string]interface{}, forceRefresh bool) {
	sanitized = make(map[string]interface{}, len(args))
	for key, value := range args {
		if key == ForceRefreshKey {
			if flag, ok := value.(bool); ok && flag {
				forceRefresh = true
			}
			continue
		}
		sanitized[key] = value
	}
	return sanitized, forceRefresh
}
