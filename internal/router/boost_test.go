package router

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		found    bool
	}{
		{
			name:     "dashed id passes through",
			input:    "123e4567-e89b-12d3-a456-426614174000",
			expected: "123e4567-e89b-12d3-a456-426614174000",
			found:    true,
		},
		{
			name:     "dashed id is lowercased",
			input:    "123E4567-E89B-12D3-A456-426614174000",
			expected: "123e4567-e89b-12d3-a456-426614174000",
			found:    true,
		},
		{
			name:     "compact id gains dashes",
			input:    "abcdef01234567890abcdef012345678",
			expected: "abcdef01-2345-6789-0abc-def012345678",
			found:    true,
		},
		{
			name:     "id embedded in a share url",
			input:    "https://www.notion.so/workspace/Roadmap-123e4567e89b12d3a456426614174000",
			expected: "123e4567-e89b-12d3-a456-426614174000",
			found:    true,
		},
		{
			name:     "dashed form wins over a later compact one",
			input:    "123e4567-e89b-12d3-a456-426614174000 vs abcdef01234567890abcdef012345678",
			expected: "123e4567-e89b-12d3-a456-426614174000",
			found:    true,
		},
		{
			name:     "no id returns the input unchanged",
			input:    "not-an-id",
			expected: "not-an-id",
			found:    false,
		},
		{
			name:     "short hex run is not an id",
			input:    "abcdef0123456789",
			expected: "abcdef0123456789",
			found:    false,
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
			found:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := extractUUID(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestEmptyRead(t *testing.T) {
	twoParts := &mcp.CallToolResult{Content: []mcp.Content{
		mcp.TextContent{Type: "text", Text: `{"results":[]}`},
		mcp.TextContent{Type: "text", Text: `{"results":[]}`},
	}}

	tests := []struct {
		name     string
		result   *mcp.CallToolResult
		expected bool
	}{
		{name: "nil result", result: nil, expected: false},
		{name: "error result", result: mcp.NewToolResultError("boom"), expected: false},
		{name: "non json text", result: mcp.NewToolResultText("plain text"), expected: false},
		{name: "json array payload", result: mcp.NewToolResultText(`[]`), expected: false},
		{name: "multiple content parts", result: twoParts, expected: false},
		{name: "empty results array", result: mcp.NewToolResultText(`{"results":[]}`), expected: true},
		{name: "empty results among siblings", result: mcp.NewToolResultText(`{"object":"list","results":[],"has_more":false}`), expected: true},
		{name: "empty users array", result: mcp.NewToolResultText(`{"users":[]}`), expected: true},
		{name: "empty items array", result: mcp.NewToolResultText(`{"items":[]}`), expected: true},
		{name: "populated results array", result: mcp.NewToolResultText(`{"results":[{"id":"1"}]}`), expected: false},
		{name: "null results value", result: mcp.NewToolResultText(`{"results":null}`), expected: false},
		{name: "results holds an object", result: mcp.NewToolResultText(`{"results":{}}`), expected: false},
		{name: "page payload", result: mcp.NewToolResultText(`{"object":"page","id":"abc"}`), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, emptyRead(tt.result))
		})
	}
}

func planRouter(fastTools ...mcp.Tool) *Router {
	fast := newFakeBackend("fast", fastTools...)
	official := newFakeBackend("official", officialSurface()...)
	return New(fast, official, zap.NewNop())
}

func TestBoostPlanSearch(t *testing.T) {
	r := planRouter(fastSurface()...)
	args := map[string]interface{}{"query": "meeting notes"}

	plan := r.boostCalls("notion-search", args)

	require.Len(t, plan, 1)
	assert.Equal(t, "post-search", plan[0].tool)
	assert.Equal(t, args, plan[0].args)

	// Without the fast search tool there is nothing to try.
	bare := planRouter(tool("retrieve-a-page", "Retrieve a page"))
	assert.Empty(t, bare.boostCalls("notion-search", args))
}

func TestBoostPlanGetUsers(t *testing.T) {
	r := planRouter(fastSurface()...)

	plan := r.boostCalls("notion-get-users", map[string]interface{}{})
	require.Len(t, plan, 1)
	assert.Equal(t, "get-users", plan[0].tool)

	plan = r.boostCalls("notion-get-users", map[string]interface{}{"user_id": "a1b2"})
	require.Len(t, plan, 1)
	assert.Equal(t, "get-user", plan[0].tool)

	// An empty user_id means the listing variant.
	plan = r.boostCalls("notion-get-users", map[string]interface{}{"user_id": ""})
	require.Len(t, plan, 1)
	assert.Equal(t, "get-users", plan[0].tool)

	// The single-user variant is only planned when the fast backend has it.
	listOnly := planRouter(tool("get-users", "List users"))
	assert.Empty(t, listOnly.boostCalls("notion-get-users", map[string]interface{}{"user_id": "a1b2"}))
}

func TestBoostPlanFetch(t *testing.T) {
	r := planRouter(fastSurface()...)

	t.Run("collection prefixed compact id", func(t *testing.T) {
		plan := r.boostCalls("notion-fetch", map[string]interface{}{
			"id": "collection://abcdef01234567890abcdef012345678",
		})
		require.Len(t, plan, 5)
		assert.Equal(t, "retrieve-a-page", plan[0].tool)
		assert.Equal(t, map[string]interface{}{"page_id": "abcdef01-2345-6789-0abc-def012345678"}, plan[0].args)
		assert.Equal(t, "retrieve-a-database", plan[1].tool)
		assert.Equal(t, map[string]interface{}{"database_id": "abcdef01-2345-6789-0abc-def012345678"}, plan[1].args)
		assert.Equal(t, "retrieve-a-data-source", plan[2].tool)
		assert.Equal(t, "retrieve-a-block", plan[3].tool)
		assert.Equal(t, map[string]interface{}{"block_id": "abcdef01-2345-6789-0abc-def012345678"}, plan[3].args)
		assert.Equal(t, "retrieve-a-comment", plan[4].tool)
		assert.Equal(t, map[string]interface{}{"block_id": "abcdef01-2345-6789-0abc-def012345678"}, plan[4].args)
	})

	t.Run("bare dashed id", func(t *testing.T) {
		plan := r.boostCalls("notion-fetch", map[string]interface{}{
			"id": "123e4567-e89b-12d3-a456-426614174000",
		})
		require.Len(t, plan, 5)
		assert.Equal(t, map[string]interface{}{"page_id": "123e4567-e89b-12d3-a456-426614174000"}, plan[0].args)
	})

	t.Run("prefixed opaque key is kept verbatim", func(t *testing.T) {
		plan := r.boostCalls("notion-fetch", map[string]interface{}{
			"id": "collection://favorites-view",
		})
		require.Len(t, plan, 5)
		assert.Equal(t, map[string]interface{}{"page_id": "favorites-view"}, plan[0].args)
	})

	t.Run("preconditions", func(t *testing.T) {
		tests := []struct {
			name string
			args map[string]interface{}
		}{
			{name: "no arguments", args: map[string]interface{}{}},
			{name: "extra argument", args: map[string]interface{}{
				"id":     "123e4567-e89b-12d3-a456-426614174000",
				"format": "markdown",
			}},
			{name: "id is not a string", args: map[string]interface{}{"id": 42}},
			{name: "id is empty", args: map[string]interface{}{"id": ""}},
			{name: "bare id without a uuid", args: map[string]interface{}{"id": "my-favorite-page"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Empty(t, r.boostCalls("notion-fetch", tt.args))
			})
		}
	})

	t.Run("plan shrinks to the tools the fast backend has", func(t *testing.T) {
		partial := planRouter(
			tool("retrieve-a-page", "Retrieve a page"),
			tool("retrieve-a-block", "Retrieve a block"),
		)
		plan := partial.boostCalls("notion-fetch", map[string]interface{}{
			"id": "123e4567-e89b-12d3-a456-426614174000",
		})
		require.Len(t, plan, 2)
		assert.Equal(t, "retrieve-a-page", plan[0].tool)
		assert.Equal(t, "retrieve-a-block", plan[1].tool)
	})
}
