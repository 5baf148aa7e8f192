package router

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// collectionPrefix marks ids copied out of Notion collection views.
const collectionPrefix = "collection://"

// boostCall is one fast-backend attempt standing in for an official tool.
type boostCall struct {
	tool string
	args map[string]interface{}
}

// fetchTargets are tried in order until one returns a usable result. Comments
// are addressed by the id of the block they hang off, hence block_id twice.
var fetchTargets = []struct {
	tool  string
	param string
}{
	{tool: "retrieve-a-page", param: "page_id"},
	{tool: "retrieve-a-database", param: "database_id"},
	{tool: "retrieve-a-data-source", param: "data_source_id"},
	{tool: "retrieve-a-block", param: "block_id"},
	{tool: "retrieve-a-comment", param: "block_id"},
}

// boostCalls plans the fast-backend attempts for an official-only tool. An
// empty plan means the preconditions failed and the call goes straight to
// the official backend.
func (r *Router) boostCalls(name string, args map[string]interface{}) []boostCall {
	switch normalize(name) {
	case "search":
		if r.fast.HasTool("post-search") {
			return []boostCall{{tool: "post-search", args: args}}
		}
	case "get-users":
		target := "get-users"
		if userID, ok := args["user_id"].(string); ok && userID != "" {
			target = "get-user"
		}
		if r.fast.HasTool(target) {
			return []boostCall{{tool: target, args: args}}
		}
	case "fetch":
		return r.fetchBoostCalls(args)
	}
	return nil
}

// fetchBoostCalls maps the official fetch tool onto typed retrieve calls.
// The plan is only built when the arguments are exactly {id: <string>} and
// the id carries a collection:// prefix or yields a UUID-ish token.
func (r *Router) fetchBoostCalls(args map[string]interface{}) []boostCall {
	if len(args) != 1 {
		return nil
	}
	raw, ok := args["id"].(string)
	if !ok || raw == "" {
		return nil
	}

	id := raw
	hadPrefix := strings.HasPrefix(raw, collectionPrefix)
	if hadPrefix {
		id = strings.TrimPrefix(raw, collectionPrefix)
	}
	if token, found := extractUUID(id); found {
		id = token
	} else if !hadPrefix {
		return nil
	}

	calls := make([]boostCall, 0, len(fetchTargets))
	for _, target := range fetchTargets {
		if r.fast.HasTool(target.tool) {
			calls = append(calls, boostCall{
				tool: target.tool,
				args: map[string]interface{}{target.param: id},
			})
		}
	}
	return calls
}

var (
	dashedUUIDPattern  = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	compactUUIDPattern = regexp.MustCompile(`[0-9a-fA-F]{32}`)
)

// extractUUID finds the first dashed or 32-hex UUID in s and returns it in
// canonical dashed lowercase form. Without a match it returns s unchanged
// and reports false.
func extractUUID(s string) (string, bool) {
	match := dashedUUIDPattern.FindString(s)
	if match == "" {
		match = compactUUIDPattern.FindString(s)
	}
	if match == "" {
		return s, false
	}
	id, err := uuid.Parse(match)
	if err != nil {
		return s, false
	}
	return id.String(), true
}

// emptyReadArrays is the fixed set of payload keys whose empty array marks a
// result as an empty read. Extend only deliberately.
var emptyReadArrays = []string{"results", "users", "items"}

// emptyRead reports whether a successful result carries a single JSON text
// payload whose results, users or items array is empty. Such answers from
// the fast backend are retried against the official one, which sees content
// the integration token cannot.
func emptyRead(result *mcp.CallToolResult) bool {
	if result == nil || result.IsError {
		return false
	}
	if len(result.Content) != 1 {
		return false
	}
	textContent, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return false
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(textContent.Text), &payload); err != nil {
		return false
	}
	for _, key := range emptyReadArrays {
		if arr, ok := payload[key].([]interface{}); ok && len(arr) == 0 {
			return true
		}
	}
	return false
}
