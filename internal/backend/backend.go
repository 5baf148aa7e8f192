// Package backend defines the contract shared by the two tool providers the
// router fans out to: the in-process read-only backend over the Notion HTTP
// API and the official hosted server reached through a child process. The
// router programs against this surface only; whether a backend runs in
// process or behind stdio stays inside the implementation.
package backend

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Backend is the capability surface the router depends on.
type Backend interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// Connect establishes the backend and discovers its tools, bounded by
	// the deadline on ctx.
	Connect(ctx context.Context) error

	// ListTools returns the tool descriptors discovered at connect time.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// HasTool reports whether the backend exposes the named tool.
	HasTool(name string) bool

	// FindToolName returns the first candidate this backend exposes, or ""
	// when none match. Implementations may consult alias tables.
	FindToolName(candidates ...string) string

	// CallTool executes a tool. Failures describing the call itself come
	// back as error results with IsError set; a non-nil error means the
	// backend could not complete the exchange at all.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)

	// ConnectionInfo reports the connection state for status output.
	ConnectionInfo() ConnectionInfo

	// Close releases transports, file handles and child processes.
	Close() error
}

// ResultText extracts the text of the first text content item of a tool
// result. It returns false for nil results and results without text content.
func ResultText(result *mcp.CallToolResult) (string, bool) {
	if result == nil {
		return "", false
	}
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text, true
		}
	}
	return "", false
}
