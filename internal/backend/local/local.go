// Package local implements the in-process backend: the read-only slice of
// the Notion public API served through a tiered read path. A call checks the
// response cache, then the desktop application's SQLite database, then the
// HTTP API. Only allowlisted operations are listed or served; writes are
// refused and belong to the official backend.
package local

import (
	"context"
	"fmt"
	"sync"

	"notionfast-go/internal/backend"
	"notionfast-go/internal/config"
	"notionfast-go/internal/localdb"
	"notionfast-go/internal/notionapi"
	"notionfast-go/internal/openapi"
	"notionfast-go/internal/respcache"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// BackendName identifies this backend in logs, status output and journal
// records.
const BackendName = "fast"

// Backend serves allowlisted Notion read operations without a child process.
type Backend struct {
	cfg      *config.Config
	registry *openapi.Registry
	api      *notionapi.Client
	cache    *respcache.Cache
	state    *backend.StateManager
	logger   *zap.Logger

	mu    sync.RWMutex
	db    *localdb.Store
	tools []mcp.Tool

	trustWarned sync.Once
}

// New builds the local backend. The HTTP client is constructed immediately;
// the response cache file and the desktop database are opened during Connect.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{
		cfg:      cfg,
		registry: openapi.Default(),
		logger:   logger.With(zap.String("backend", BackendName)),
		state:    backend.NewStateManager(logger),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.api == nil {
		b.api = notionapi.New(cfg.API.BaseURL, cfg.API.Token, cfg.API.NotionVersion, logger)
	}
	if b.cache == nil && cfg.Cache != nil && cfg.Cache.Enabled {
		b.cache = respcache.New(cfg.CacheFilePath(), cfg.Cache.TTLMillis, cfg.Cache.MaxEntries, logger)
	}

	return b, nil
}

// Option overrides a collaborator, used by tests and by callers that already
// hold a configured client.
type Option func(*Backend)

// WithAPIClient substitutes the HTTP client.
func WithAPIClient(client *notionapi.Client) Option {
	return func(b *Backend) { b.api = client }
}

// WithCache substitutes the response cache.
func WithCache(cache *respcache.Cache) Option {
	return func(b *Backend) { b.cache = cache }
}

// WithStore substitutes the desktop database store.
func WithStore(store *localdb.Store) Option {
	return func(b *Backend) {
		b.mu.Lock()
		b.db = store
		b.mu.Unlock()
	}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return BackendName }

// Connect loads the persisted response cache, opens the desktop database when
// the configuration both enables and trusts it, and builds the tool
// descriptors. It does not touch the network, so it cannot fail transiently;
// any returned error is a programming or configuration bug.
func (b *Backend) Connect(_ context.Context) error {
	b.state.TransitionTo(backend.StateConnecting)

	if b.cache != nil {
		b.cache.Load()
	}

	b.openStore()

	b.state.TransitionTo(backend.StateDiscovering)

	operations := b.registry.ReadOnly()
	tools := make([]mcp.Tool, 0, len(operations))
	for _, op := range operations {
		tools = append(tools, toolFromOperation(op))
	}

	b.mu.Lock()
	b.tools = tools
	b.mu.Unlock()

	b.state.SetServerInfo("notionfast", b.api.Version())
	b.state.SetToolCount(len(tools))
	b.state.TransitionTo(backend.StateReady)

	b.logger.Info("Local backend ready",
		zap.Int("tool_count", len(tools)),
		zap.Bool("cache_enabled", b.cache != nil),
		zap.Bool("fastpath_enabled", b.store() != nil))

	return nil
}

// openStore opens the Notion desktop database if the trust gate passes. Every
// failure is a silent downgrade: the read path simply skips the fast-path
// stage.
func (b *Backend) openStore() {
	if b.store() != nil {
		return
	}
	ldb := b.cfg.LocalDB
	if ldb == nil || !ldb.Enabled {
		return
	}
	if !ldb.TrustEnabled {
		b.trustWarned.Do(func() {
			b.logger.Warn("Local app cache requested but not trusted; set the trust flag to serve reads from the desktop database")
		})
		return
	}

	store, err := localdb.Open(b.cfg.LocalDBPath(), ldb.MaxPageSize, b.logger)
	if err != nil {
		b.logger.Debug("Local app database unavailable",
			zap.String("path", b.cfg.LocalDBPath()),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	b.db = store
	b.mu.Unlock()
}

func (b *Backend) store() *localdb.Store {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db
}

// ListTools implements backend.Backend.
func (b *Backend) ListTools(_ context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]mcp.Tool, len(b.tools))
	copy(out, b.tools)
	return out, nil
}

// HasTool reports whether the name resolves to an allowlisted operation.
func (b *Backend) HasTool(name string) bool {
	op, ok := b.registry.Resolve(name)
	return ok && openapi.IsReadOnly(op.ID)
}

// FindToolName returns the first candidate that resolves to an allowlisted
// operation, or "".
func (b *Backend) FindToolName(candidates ...string) string {
	for _, name := range candidates {
		if b.HasTool(name) {
			return name
		}
	}
	return ""
}

// ConnectionInfo implements backend.Backend.
func (b *Backend) ConnectionInfo() backend.ConnectionInfo {
	return b.state.GetConnectionInfo()
}

// CacheStats exposes response-cache counters for status output. The second
// return is false when the cache is disabled.
func (b *Backend) CacheStats() (respcache.Stats, bool) {
	if b.cache == nil {
		return respcache.Stats{}, false
	}
	return b.cache.Stats(), true
}

// Close persists the response cache and releases the database handle.
func (b *Backend) Close() error {
	if b.cache != nil {
		if err := b.cache.Save(); err != nil {
			b.logger.Warn("Failed to persist response cache on shutdown", zap.Error(err))
		}
	}

	b.mu.Lock()
	store := b.db
	b.db = nil
	b.mu.Unlock()

	b.state.TransitionTo(backend.StateDisconnected)

	if store != nil {
		if err := store.Close(); err != nil {
			return fmt.Errorf("failed to close local app database: %w", err)
		}
	}
	return nil
}

// toolFromOperation converts a manifest operation into an MCP tool
// descriptor.
func toolFromOperation(op openapi.Operation) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(describeOperation(op))}
	for _, p := range op.Parameters {
		opts = append(opts, parameterOption(p))
	}
	return mcp.NewTool(op.ToolName(), opts...)
}

func describeOperation(op openapi.Operation) string {
	if op.Description != "" {
		return op.Description
	}
	return op.Summary
}

func parameterOption(p openapi.Parameter) mcp.ToolOption {
	var propOpts []mcp.PropertyOption
	if p.Description != "" {
		propOpts = append(propOpts, mcp.Description(p.Description))
	}
	if p.Required {
		propOpts = append(propOpts, mcp.Required())
	}

	switch p.Type {
	case "number", "integer":
		return mcp.WithNumber(p.Name, propOpts...)
	case "boolean":
		return mcp.WithBoolean(p.Name, propOpts...)
	case "object":
		return mcp.WithObject(p.Name, propOpts...)
	case "array":
		return mcp.WithArray(p.Name, propOpts...)
	default:
		return mcp.WithString(p.Name, propOpts...)
	}
}
