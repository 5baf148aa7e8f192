// Package server exposes the merged tool surface to MCP clients over stdio.
// It owns no routing decisions: every tool call is handed to the router and
// the registered tool set mirrors the router's route table, re-registered
// whenever the table is rebuilt.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// ToolRouter is the routing surface the stdio server serves.
type ToolRouter interface {
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	SetOnRoutesRebuilt(func())
}

// Server adapts a ToolRouter to an MCP server on the standard streams.
type Server struct {
	router ToolRouter
	logger *zap.Logger
	mcp    *mcpserver.MCPServer
}

// New builds the MCP server, registers the router's current tool surface and
// subscribes to route rebuilds so reauth-driven changes reach the client as
// list_changed notifications.
func New(router ToolRouter, logger *zap.Logger, version string) *Server {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		var clientName, clientVersion string
		if withInfo, ok := sess.(mcpserver.SessionWithClientInfo); ok {
			info := withInfo.GetClientInfo()
			clientName = info.Name
			clientVersion = info.Version
		}
		logger.Info("MCP session registered",
			zap.String("session_id", sess.SessionID()),
			zap.String("client_name", clientName),
			zap.String("client_version", clientVersion))
	})

	mcpServer := mcpserver.NewMCPServer(
		"notionfast",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)

	s := &Server{
		router: router,
		logger: logger,
		mcp:    mcpServer,
	}
	s.registerTools()
	router.SetOnRoutesRebuilt(s.registerTools)
	return s
}

// registerTools replaces the registered tool set with the router's current
// surface. mcp-go notifies connected sessions about the change.
func (s *Server) registerTools() {
	tools := s.router.Tools()
	serverTools := make([]mcpserver.ServerTool, 0, len(tools))
	for _, tool := range tools {
		serverTools = append(serverTools, mcpserver.ServerTool{
			Tool:    tool,
			Handler: s.toolHandler(tool.Name),
		})
	}
	s.mcp.SetTools(serverTools...)
	s.logger.Info("Registered tool surface", zap.Int("tools", len(serverTools)))
}

// toolHandler forwards a call to the router under the registered name. The
// captured name, not the client-supplied one, drives routing.
func (s *Server) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]interface{}
		if request.Params.Arguments != nil {
			argsMap, ok := request.Params.Arguments.(map[string]interface{})
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("arguments for %s must be an object", name)), nil
			}
			args = argsMap
		}
		return s.router.CallTool(ctx, name, args)
	}
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Serve runs the MCP server over stdin/stdout until ctx is cancelled or the
// client closes its end. Cancellation is a clean exit.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", zap.String("transport", "stdio"))

	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
