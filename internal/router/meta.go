package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"notionfast-go/internal/backend"
	"notionfast-go/internal/respcache"
	"notionfast-go/internal/storage"
	"notionfast-go/internal/tokencache"
)

// Meta tool names. These are exposed in every lifecycle state, on top of
// whatever the backends contribute.
const (
	MetaReauthToolName   = "proxy_reauth"
	MetaStatusToolName   = "proxy_status"
	MetaFindToolToolName = "proxy_find_tool"
)

// metaTools returns the descriptors of the operational tools.
func metaTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(MetaReauthToolName,
			mcp.WithDescription("Clear the cached OAuth tokens for the official Notion backend and run the sign-in flow again. Use this when calls start failing with authentication errors."),
		),
		mcp.NewTool(MetaStatusToolName,
			mcp.WithDescription("Report the proxy state: backend connections, response cache statistics, call journal counts and the token cache contents."),
		),
		mcp.NewTool(MetaFindToolToolName,
			mcp.WithDescription("Search the exposed tools by keyword and return the best matches."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Words describing what the tool should do"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of matches to return"),
			),
		),
	}
}

// handleReauth evicts the official backend's cached tokens, reconnects it
// and rebuilds the route table unconditionally; tool names are not assumed
// stable across sign-ins.
func (r *Router) handleReauth(ctx context.Context) *mcp.CallToolResult {
	reauther, ok := r.official.(Reauther)
	if !ok {
		return mcp.NewToolResultError("the official backend does not support reauthentication")
	}

	r.logger.Info("Reauthentication requested")
	result, err := reauther.Reauth(ctx)

	r.setState(r.stateFromBackends())
	r.rebuildRoutes(ctx)

	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(
			"reauth failed after deleting %d token cache files: %v", result.DeletedFiles, err))
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode reauth result: %v", merr))
	}
	return mcp.NewToolResultText(string(payload))
}

// backendStatus is the per-backend slice of the status payload.
type backendStatus struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	ServerName    string `json:"server_name,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
	Tools         int    `json:"tools"`
	Reconnects    int    `json:"reconnects"`
	LastError     string `json:"last_error,omitempty"`
}

// routerStatus is the proxy_status payload.
type routerStatus struct {
	State      string                  `json:"state"`
	Tools      int                     `json:"tools"`
	Backends   []backendStatus         `json:"backends"`
	Cache      *respcache.Stats        `json:"cache,omitempty"`
	Journal    *storage.JournalStats   `json:"journal,omitempty"`
	TokenCache []tokencache.FileStatus `json:"token_cache,omitempty"`
}

func (r *Router) handleStatus() *mcp.CallToolResult {
	r.mu.RLock()
	state := r.state
	toolCount := r.routes.len()
	r.mu.RUnlock()

	status := routerStatus{
		State: state.String(),
		Tools: toolCount,
	}

	for _, b := range []backend.Backend{r.fast, r.official} {
		info := b.ConnectionInfo()
		bs := backendStatus{
			Name:          b.Name(),
			State:         info.State.String(),
			ServerName:    info.ServerName,
			ServerVersion: info.ServerVersion,
			Tools:         info.ToolCount,
			Reconnects:    info.Reconnects,
		}
		if info.LastError != nil {
			bs.LastError = info.LastError.Error()
		}
		status.Backends = append(status.Backends, bs)
	}

	if statser, ok := r.fast.(cacheStatser); ok {
		if stats, enabled := statser.CacheStats(); enabled {
			status.Cache = &stats
		}
	}
	if r.journal != nil {
		if stats, err := r.journal.Stats(); err == nil {
			status.Journal = &stats
		}
	}
	if r.tokenStatus != nil {
		status.TokenCache = r.tokenStatus()
	}

	payload, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode status: %v", err))
	}
	return mcp.NewToolResultText(string(payload))
}

func (r *Router) handleFindTool(args map[string]interface{}) *mcp.CallToolResult {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query must be a non-empty string")
	}
	if r.toolIndex == nil {
		return mcp.NewToolResultError("tool search is not available")
	}

	limit := 0
	if n, ok := args["limit"].(float64); ok {
		limit = int(n)
	}

	results, err := r.toolIndex.Search(query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool search failed: %v", err))
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode matches: %v", err))
	}
	return mcp.NewToolResultText(string(payload))
}

func marshalSchema(tool mcp.Tool) (string, error) {
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
