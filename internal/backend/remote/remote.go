// Package remote drives the official hosted Notion MCP server through a
// child process bridge speaking MCP over stdio. The child owns the OAuth
// session with the hosted endpoint; this backend owns the child: it spawns it
// with a filtered environment, discovers its tools once per connection, and
// rebuilds the whole transport when a call fails.
package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notionfast-go/internal/backend"
	"notionfast-go/internal/config"
	"notionfast-go/internal/secureenv"
	"notionfast-go/internal/tokencache"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// BackendName identifies this backend in logs, status output and journal
// records.
const BackendName = "official"

const (
	// connectTimeout bounds the initial spawn + handshake + discovery.
	connectTimeout = 30 * time.Second

	// reconnectTimeout bounds the rebuild performed after a call failure.
	reconnectTimeout = 10 * time.Second

	// reauthTimeout bounds the reconnect after token eviction. Generous on
	// purpose: the child may walk the user through a browser sign-in.
	reauthTimeout = 120 * time.Second
)

// launchSpec is the immutable description of how the child is started.
// Reconnects reuse it verbatim.
type launchSpec struct {
	Command    string
	Args       []string
	WorkingDir string
}

// Backend supervises the mcp-remote child process.
type Backend struct {
	cfg    *config.Config
	logger *zap.Logger
	state  *backend.StateManager
	newRPC rpcFactory

	envManager *secureenv.Manager

	connectTimeout   time.Duration
	reconnectTimeout time.Duration
	reauthTimeout    time.Duration

	// callMu serializes RPC traffic to the child and any transport
	// rebuild. Exactly one call is in flight at a time; callers queue.
	callMu sync.Mutex

	// mu guards the connection fields below.
	mu     sync.RWMutex
	client rpc
	tools  []mcp.Tool
	names  map[string]struct{}
}

// ReauthResult is the summary returned by Reauth.
type ReauthResult struct {
	Status       string `json:"status"`
	DeletedFiles int    `json:"deleted_files"`
	SearchedDirs int    `json:"searched_dirs"`
	Message      string `json:"message"`
}

// Option overrides a collaborator, used by tests.
type Option func(*Backend)

// WithRPCFactory substitutes the transport builder.
func WithRPCFactory(factory rpcFactory) Option {
	return func(b *Backend) { b.newRPC = factory }
}

// New builds the remote backend. No process is spawned until Connect.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{
		cfg:              cfg,
		logger:           logger.With(zap.String("backend", BackendName)),
		state:            backend.NewStateManager(logger),
		newRPC:           newStdioRPC,
		connectTimeout:   connectTimeout,
		reconnectTimeout: reconnectTimeout,
		reauthTimeout:    reauthTimeout,
	}

	// The child sees only the allowlisted parent environment plus explicit
	// extras from the launch configuration.
	envConfig := cfg.Environment
	if envConfig == nil {
		envConfig = secureenv.DefaultEnvConfig()
	}
	if cfg.Remote != nil && len(cfg.Remote.Env) > 0 {
		merged := *envConfig
		merged.CustomVars = make(map[string]string, len(envConfig.CustomVars)+len(cfg.Remote.Env))
		for k, v := range envConfig.CustomVars {
			merged.CustomVars[k] = v
		}
		for k, v := range cfg.Remote.Env {
			merged.CustomVars[k] = v
		}
		envConfig = &merged
	}
	b.envManager = secureenv.NewManager(envConfig)

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return BackendName }

// launchSpec resolves the child command line from configuration.
func (b *Backend) launchSpec() (launchSpec, error) {
	remote := b.cfg.Remote
	if remote == nil {
		return launchSpec{}, fmt.Errorf("remote backend is not configured")
	}
	if remote.Command != "" {
		return launchSpec{
			Command:    remote.Command,
			Args:       remote.Args,
			WorkingDir: remote.WorkingDir,
		}, nil
	}
	if remote.AllowNpxFallback {
		return launchSpec{
			Command:    "npx",
			Args:       []string{"-y", "mcp-remote", remote.URL},
			WorkingDir: remote.WorkingDir,
		}, nil
	}
	return launchSpec{}, fmt.Errorf("no remote command configured and the npx fallback is disabled")
}

// remoteURL recovers the endpoint URL the token cache hash derives from.
func (b *Backend) remoteURL() string {
	fallback := config.DefaultRemoteURL
	if b.cfg.Remote != nil && b.cfg.Remote.URL != "" {
		fallback = b.cfg.Remote.URL
	}
	spec, err := b.launchSpec()
	if err != nil {
		return fallback
	}
	return extractRemoteURL(spec.Command, spec.Args, fallback)
}

// Connect spawns the child, performs the MCP handshake and lists its tools,
// all bounded by the connect deadline. On failure the backend stays down and
// the router decides what that means for routing.
func (b *Backend) Connect(ctx context.Context) error {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()

	b.state.TransitionTo(backend.StateConnecting)
	if err := b.connectLocked(connectCtx); err != nil {
		b.state.SetError(err)
		return err
	}
	b.state.TransitionTo(backend.StateReady)
	return nil
}

// connectLocked builds and starts a fresh transport, then discovers tools.
// Callers hold callMu and own the state transitions around failure.
func (b *Backend) connectLocked(ctx context.Context) error {
	spec, err := b.launchSpec()
	if err != nil {
		return err
	}

	rpcClient, err := b.newRPC(spec, b.envManager.BuildSecureEnvironment(), b.logger)
	if err != nil {
		return fmt.Errorf("failed to build transport: %w", err)
	}

	if err := rpcClient.Start(ctx); err != nil {
		_ = rpcClient.Close()
		return fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "notionfast-go",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := rpcClient.Initialize(ctx, initRequest)
	if err != nil {
		_ = rpcClient.Close()
		return fmt.Errorf("MCP initialize failed: %w", err)
	}

	b.state.TransitionTo(backend.StateDiscovering)

	toolsResult, err := rpcClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = rpcClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	names := make(map[string]struct{}, len(toolsResult.Tools))
	for _, tool := range toolsResult.Tools {
		names[tool.Name] = struct{}{}
	}

	b.mu.Lock()
	b.client = rpcClient
	b.tools = toolsResult.Tools
	b.names = names
	b.mu.Unlock()

	b.state.SetServerInfo(serverInfo.ServerInfo.Name, serverInfo.ServerInfo.Version)
	b.state.SetToolCount(len(toolsResult.Tools))

	b.logger.Info("Official backend connected",
		zap.String("server_name", serverInfo.ServerInfo.Name),
		zap.String("server_version", serverInfo.ServerInfo.Version),
		zap.Int("tool_count", len(toolsResult.Tools)))

	return nil
}

// ListTools returns the descriptors cached at connect time.
func (b *Backend) ListTools(_ context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, fmt.Errorf("official backend is not connected")
	}
	out := make([]mcp.Tool, len(b.tools))
	copy(out, b.tools)
	return out, nil
}

// HasTool implements backend.Backend against the cached descriptor set.
func (b *Backend) HasTool(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.names[name]
	return ok
}

// FindToolName returns the first candidate the child exposes, or "".
func (b *Backend) FindToolName(candidates ...string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, name := range candidates {
		if _, ok := b.names[name]; ok {
			return name
		}
	}
	return ""
}

// ConnectionInfo implements backend.Backend.
func (b *Backend) ConnectionInfo() backend.ConnectionInfo {
	return b.state.GetConnectionInfo()
}

// Reconnects reports how many transport rebuilds have happened.
func (b *Backend) Reconnects() int {
	return b.state.Reconnects()
}

// CallTool forwards one call to the child. On any RPC failure it tears the
// transport down, rebuilds it from the identical spec bounded by the
// reconnect deadline, and retries the original call exactly once. The retry's
// outcome is returned as-is; no further reconnects happen here or above.
func (b *Backend) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	rpcClient := b.currentClient()
	if rpcClient == nil {
		return nil, fmt.Errorf("official backend is not connected")
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := rpcClient.CallTool(ctx, request)
	if err == nil {
		return result, nil
	}

	b.logger.Warn("Tool call failed, rebuilding transport for one retry",
		zap.String("tool", name),
		zap.Error(err))

	if recErr := b.reconnectLocked(ctx); recErr != nil {
		b.state.SetError(recErr)
		return nil, fmt.Errorf("tool call failed (%v) and reconnect failed: %w", err, recErr)
	}

	return b.currentClient().CallTool(ctx, request)
}

// reconnectLocked tears down and rebuilds the transport under the reconnect
// deadline. Close errors during teardown are deliberately ignored; the child
// may already be gone.
func (b *Backend) reconnectLocked(ctx context.Context) error {
	b.teardownLocked()

	reconnectCtx, cancel := context.WithTimeout(ctx, b.reconnectTimeout)
	defer cancel()

	b.state.TransitionTo(backend.StateConnecting)
	if err := b.connectLocked(reconnectCtx); err != nil {
		return err
	}

	b.state.RecordReconnect()
	b.state.TransitionTo(backend.StateReady)
	return nil
}

// Reauth evicts the child's cached OAuth material and reconnects under the
// extended deadline so an interactive sign-in can complete. The summary is
// returned even when the reconnect fails.
func (b *Backend) Reauth(ctx context.Context) (ReauthResult, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	b.teardownLocked()

	hash := tokencache.URLHash(b.remoteURL())
	eviction := tokencache.Evict(b.cfg.TokenCacheDir(), hash, b.logger)

	result := ReauthResult{
		Status:       "reauth_triggered",
		DeletedFiles: eviction.DeletedFiles,
		SearchedDirs: eviction.SearchedDirs,
	}

	b.logger.Info("Evicted token cache for reauth",
		zap.String("url_hash", hash),
		zap.Int("deleted_files", eviction.DeletedFiles),
		zap.Int("searched_dirs", eviction.SearchedDirs))

	reauthCtx, cancel := context.WithTimeout(ctx, b.reauthTimeout)
	defer cancel()

	b.state.TransitionTo(backend.StateConnecting)
	if err := b.connectLocked(reauthCtx); err != nil {
		b.state.SetError(err)
		result.Message = fmt.Sprintf("deleted %d token cache files; reconnect failed: %v", eviction.DeletedFiles, err)
		return result, fmt.Errorf("reconnect after reauth failed: %w", err)
	}
	b.state.TransitionTo(backend.StateReady)

	result.Message = fmt.Sprintf("deleted %d token cache files across %d directories; sign-in completed", eviction.DeletedFiles, eviction.SearchedDirs)
	return result, nil
}

// Close tears down the child for good.
func (b *Backend) Close() error {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	b.teardownLocked()
	return nil
}

// teardownLocked closes the transport and clears the connection fields.
// Callers hold callMu.
func (b *Backend) teardownLocked() {
	b.mu.Lock()
	rpcClient := b.client
	b.client = nil
	b.tools = nil
	b.names = nil
	b.mu.Unlock()

	if rpcClient != nil {
		_ = rpcClient.Close()
	}

	if b.state.GetState() != backend.StateDisconnected {
		b.state.TransitionTo(backend.StateDisconnected)
	}
}

func (b *Backend) currentClient() rpc {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}
