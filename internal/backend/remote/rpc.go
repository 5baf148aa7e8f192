package remote

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/mark3labs/mcp-go/client"
	uptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// rpc is the slice of the MCP client surface the backend drives. Production
// wraps mcp-go over stdio; tests substitute scripted implementations.
type rpc interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// rpcFactory builds a fresh, unstarted client for the launch spec. A rebuild
// after a call failure goes through the same factory with the same spec.
type rpcFactory func(spec launchSpec, env []string, logger *zap.Logger) (rpc, error)

// stdioRPC pairs the mcp-go client with its transport so stderr pass-through
// can be hooked after the child starts.
type stdioRPC struct {
	*client.Client
	transport *uptransport.Stdio
}

func newStdioRPC(spec launchSpec, env []string, logger *zap.Logger) (rpc, error) {
	var stdioTransport *uptransport.Stdio
	if spec.WorkingDir != "" {
		commandFunc := workingDirCommandFunc(spec.WorkingDir)
		stdioTransport = uptransport.NewStdioWithOptions(spec.Command, env, spec.Args,
			uptransport.WithCommandFunc(commandFunc))
	} else {
		stdioTransport = uptransport.NewStdio(spec.Command, env, spec.Args...)
	}

	logger.Debug("Initialized stdio transport",
		zap.String("command", spec.Command),
		zap.Strings("args", spec.Args),
		zap.String("working_dir", spec.WorkingDir))

	return &stdioRPC{
		Client:    client.NewClient(stdioTransport),
		transport: stdioTransport,
	}, nil
}

// Start launches the child and begins copying its stderr onto ours, so
// diagnostics from the child (OAuth prompts included) stay visible. Stdout
// carries the JSON-RPC stream and is owned by the transport.
func (r *stdioRPC) Start(ctx context.Context) error {
	if err := r.Client.Start(ctx); err != nil {
		return err
	}
	if stderr := r.transport.Stderr(); stderr != nil {
		go func() {
			_, _ = io.Copy(os.Stderr, stderr)
		}()
	}
	return nil
}

// workingDirCommandFunc sets the child's working directory.
func workingDirCommandFunc(workingDir string) uptransport.CommandFunc {
	return func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		cmd.Dir = workingDir
		return cmd, nil
	}
}
