// Package router merges the tool surfaces of the fast and official backends
// into one routing plan and dispatches every call according to it. The plan
// is built once after startup and rebuilt only when a reauth changes what the
// official backend exposes; each call samples a snapshot at entry.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"notionfast-go/internal/backend"
	"notionfast-go/internal/backend/remote"
	"notionfast-go/internal/index"
	"notionfast-go/internal/observability"
	"notionfast-go/internal/respcache"
	"notionfast-go/internal/storage"
	"notionfast-go/internal/tokencache"
)

// State describes where the router is in its lifecycle.
type State int

const (
	// StateInit is the state before Start.
	StateInit State = iota
	// StateConnecting means the backends are being established.
	StateConnecting
	// StateReady means the official backend answered; the full surface is
	// exposed whether or not the fast backend also came up.
	StateReady
	// StateDegradedReadOnly means only the fast backend answered; the
	// exposed surface shrinks to read-looking tools.
	StateDegradedReadOnly
	// StateDead means neither backend answered.
	StateDead
)

// String returns the wire name of the state
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateDegradedReadOnly:
		return "DEGRADED_READ_ONLY"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Reauther is implemented by backends that can rerun their sign-in flow.
type Reauther interface {
	Reauth(ctx context.Context) (remote.ReauthResult, error)
}

// cacheStatser is implemented by backends carrying a response cache.
type cacheStatser interface {
	CacheStats() (respcache.Stats, bool)
}

// authErrorMarkers flag official-backend failures that smell like an expired
// or missing OAuth token.
var authErrorMarkers = []string{"401", "unauthorized", "token expired", "token invalid", "authentication"}

const authHint = "Authentication may have expired. Run the proxy_reauth tool to sign in again."

// Router routes tool calls between the two backends.
type Router struct {
	logger   *zap.Logger
	fast     backend.Backend
	official backend.Backend

	journal     *storage.Journal
	obs         *observability.Manager
	toolIndex   *index.Index
	tokenStatus func() []tokencache.FileStatus

	mu              sync.RWMutex
	state           State
	routes          *routeTable
	onRoutesRebuilt func()

	// rebuildMu serializes route table rebuilds; readers keep using the
	// previous snapshot until the swap.
	rebuildMu sync.Mutex
}

// Option customizes a Router.
type Option func(*Router)

// WithJournal records every routed call in the given journal.
func WithJournal(journal *storage.Journal) Option {
	return func(r *Router) { r.journal = journal }
}

// WithObservability wires metrics and tracing.
func WithObservability(obs *observability.Manager) Option {
	return func(r *Router) { r.obs = obs }
}

// WithToolIndex keeps the given index in sync with the exposed surface and
// backs the proxy_find_tool meta tool.
func WithToolIndex(ix *index.Index) Option {
	return func(r *Router) { r.toolIndex = ix }
}

// WithTokenStatus supplies the token cache inspection for proxy_status.
func WithTokenStatus(fn func() []tokencache.FileStatus) Option {
	return func(r *Router) { r.tokenStatus = fn }
}

// New creates a router over the two backends. Start must be called before
// the router accepts tool calls.
func New(fast, official backend.Backend, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		logger:   logger,
		fast:     fast,
		official: official,
		state:    StateInit,
		routes:   newRouteTable(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOnRoutesRebuilt registers a callback invoked after every route table
// rebuild, outside the router's locks. The server adapter uses it to refresh
// its tool registrations.
func (r *Router) SetOnRoutesRebuilt(fn func()) {
	r.mu.Lock()
	r.onRoutesRebuilt = fn
	r.mu.Unlock()
}

// State returns the current lifecycle state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Router) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Start connects both backends concurrently, settles on a lifecycle state
// and builds the initial route table. It fails only when neither backend
// came up.
func (r *Router) Start(ctx context.Context) error {
	r.setState(StateConnecting)

	var wg sync.WaitGroup
	var officialErr, fastErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		officialErr = r.connectBackend(ctx, r.official)
	}()
	go func() {
		defer wg.Done()
		fastErr = r.connectBackend(ctx, r.fast)
	}()
	wg.Wait()

	switch {
	case officialErr == nil && fastErr == nil:
		r.setState(StateReady)
	case officialErr == nil:
		r.logger.Warn("Fast backend unavailable, boosts and fast-first reads are disabled",
			zap.Error(fastErr))
		r.setState(StateReady)
	case fastErr == nil:
		r.logger.Warn("Official backend unavailable, entering read-only degraded mode",
			zap.Error(officialErr))
		r.setState(StateDegradedReadOnly)
	default:
		r.setState(StateDead)
		return fmt.Errorf("no backend available: official: %v, fast: %v", officialErr, fastErr)
	}

	r.rebuildRoutes(ctx)

	r.mu.RLock()
	state, toolCount := r.state, r.routes.len()
	r.mu.RUnlock()
	r.logger.Info("Router started",
		zap.String("state", state.String()),
		zap.Int("tools", toolCount))
	return nil
}

func (r *Router) connectBackend(ctx context.Context, b backend.Backend) error {
	if r.obs != nil && r.obs.Tracing() != nil {
		var span oteltrace.Span
		ctx, span = r.obs.Tracing().TraceBackendConnect(ctx, b.Name())
		defer span.End()
	}

	start := time.Now()
	err := b.Connect(ctx)
	if r.obs != nil {
		r.obs.RecordConnect(b.Name(), time.Since(start), err)
	}
	return err
}

// stateFromBackends recomputes the lifecycle state from what each backend
// reports, used after a reauth changed the official connection.
func (r *Router) stateFromBackends() State {
	officialUp := r.official.ConnectionInfo().State == backend.StateReady
	fastUp := r.fast.ConnectionInfo().State == backend.StateReady
	switch {
	case officialUp:
		return StateReady
	case fastUp:
		return StateDegradedReadOnly
	default:
		return StateDead
	}
}

// rebuildRoutes derives a fresh routing plan from whatever each backend
// reports right now and swaps it in atomically.
func (r *Router) rebuildRoutes(ctx context.Context) {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	officialTools := r.discoveredTools(ctx, r.official)
	fastTools := r.discoveredTools(ctx, r.fast)

	table := buildRoutes(officialTools, fastTools)

	r.mu.Lock()
	r.routes = table
	callback := r.onRoutesRebuilt
	r.mu.Unlock()

	r.refreshToolIndex(table)
	r.logger.Debug("Route table rebuilt",
		zap.Int("official_tools", len(officialTools)),
		zap.Int("fast_tools", len(fastTools)),
		zap.Int("exposed", table.len()))

	if callback != nil {
		callback()
	}
}

// discoveredTools treats a backend that cannot list tools as absent.
func (r *Router) discoveredTools(ctx context.Context, b backend.Backend) []mcp.Tool {
	if b == nil {
		return nil
	}
	tools, err := b.ListTools(ctx)
	if err != nil {
		return nil
	}
	return tools
}

// Tools returns the exposed tool surface plus the operational meta tools,
// in stable order.
func (r *Router) Tools() []mcp.Tool {
	r.mu.RLock()
	table := r.routes
	r.mu.RUnlock()

	return append(table.tools(), metaTools()...)
}

// Routes reports the dispatch mode of every exposed tool.
func (r *Router) Routes() map[string]RouteMode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]RouteMode, len(r.routes.routes))
	for name, rt := range r.routes.routes {
		out[name] = rt.mode
	}
	return out
}

// outcome is what a dispatch produced, with enough attribution for the
// journal and the metrics.
type outcome struct {
	result      *mcp.CallToolResult
	backendName string
	boostTool   string
}

// CallTool routes one call. Failures come back as error results; the error
// return is reserved for conditions the MCP layer itself must see, of which
// there are currently none.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	switch name {
	case MetaReauthToolName:
		return r.handleReauth(ctx), nil
	case MetaStatusToolName:
		return r.handleStatus(), nil
	case MetaFindToolToolName:
		return r.handleFindTool(args), nil
	}

	r.mu.RLock()
	table := r.routes
	r.mu.RUnlock()

	rt, ok := table.get(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	if r.obs != nil && r.obs.Tracing() != nil {
		var span oteltrace.Span
		ctx, span = r.obs.Tracing().TraceToolCall(ctx, name, rt.mode.String())
		defer span.End()
	}

	start := time.Now()
	out := r.dispatch(ctx, rt, args)
	r.record(ctx, name, rt.mode, out, args, time.Since(start))

	return out.result, nil
}

func (r *Router) dispatch(ctx context.Context, rt route, args map[string]interface{}) outcome {
	switch rt.mode {
	case ModeFastOnly:
		return r.dispatchFast(ctx, rt.tool.Name, args)
	case ModeOfficialWithFastBoost:
		return r.dispatchBoost(ctx, rt.tool.Name, args)
	case ModeFastThenOfficialSameName:
		return r.dispatchFastThenOfficial(ctx, rt.tool.Name, args)
	default:
		return r.dispatchOfficial(ctx, rt.tool.Name, args)
	}
}

func (r *Router) dispatchOfficial(ctx context.Context, name string, args map[string]interface{}) outcome {
	result, err := r.official.CallTool(ctx, name, args)
	if err != nil {
		msg := err.Error()
		if isAuthError(msg) {
			msg += " " + authHint
		}
		return outcome{result: mcp.NewToolResultError(msg), backendName: r.official.Name()}
	}
	return outcome{result: result, backendName: r.official.Name()}
}

func (r *Router) dispatchFast(ctx context.Context, name string, args map[string]interface{}) outcome {
	result, err := r.fast.CallTool(ctx, name, args)
	if err != nil {
		return outcome{
			result:      mcp.NewToolResultError(fmt.Sprintf("fast backend unavailable: %v", err)),
			backendName: r.fast.Name(),
		}
	}
	return outcome{result: result, backendName: r.fast.Name()}
}

// dispatchBoost tries the fast equivalents of an official-only read. The
// first non-error, non-empty answer wins; otherwise the call falls through
// to the official backend under its original name and arguments.
func (r *Router) dispatchBoost(ctx context.Context, name string, args map[string]interface{}) outcome {
	attempted := false
	reason := ""
	for _, call := range r.boostCalls(name, args) {
		attempted = true
		result, err := r.fast.CallTool(ctx, call.tool, call.args)
		if err != nil || result == nil || result.IsError {
			reason = "error"
			continue
		}
		if emptyRead(result) {
			reason = "empty"
			continue
		}
		return outcome{result: result, backendName: r.fast.Name(), boostTool: call.tool}
	}

	if attempted {
		r.recordFallback(name, reason)
		r.logger.Debug("Boost attempts exhausted, falling back to the official backend",
			zap.String("tool", name),
			zap.String("reason", reason))
	}
	return r.dispatchOfficial(ctx, name, args)
}

func (r *Router) dispatchFastThenOfficial(ctx context.Context, name string, args map[string]interface{}) outcome {
	result, err := r.fast.CallTool(ctx, name, args)
	if err == nil && result != nil && !result.IsError && !emptyRead(result) {
		return outcome{result: result, backendName: r.fast.Name()}
	}

	reason := "error"
	if err == nil && result != nil && !result.IsError {
		reason = "empty"
	}
	r.recordFallback(name, reason)
	return r.dispatchOfficial(ctx, name, args)
}

func (r *Router) recordFallback(tool, reason string) {
	if r.obs != nil && r.obs.Metrics() != nil {
		r.obs.Metrics().RecordBoostFallback(tool, reason)
	}
}

func isAuthError(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range authErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// record feeds the journal and the metrics after a dispatch. Journal writes
// are asynchronous and never delay the caller.
func (r *Router) record(ctx context.Context, name string, mode RouteMode, out outcome, args map[string]interface{}, elapsed time.Duration) {
	status := observability.StatusSuccess
	var callErr error
	if out.result == nil || out.result.IsError {
		status = observability.StatusError
		callErr = errors.New(resultErrorText(out.result))
	}

	if r.obs != nil {
		r.obs.RecordToolCall(ctx, name, mode.String(), out.backendName, elapsed, callErr)
	}

	if r.journal == nil {
		return
	}

	text, _ := backend.ResultText(out.result)
	record := &storage.CallRecord{
		Tool:       name,
		RouteMode:  mode.String(),
		Backend:    out.backendName,
		BoostTool:  out.boostTool,
		Arguments:  args,
		Response:   text,
		Status:     status,
		DurationMs: elapsed.Milliseconds(),
	}
	if callErr != nil {
		record.ErrorMessage = callErr.Error()
	}
	r.journal.RecordAsync(record)
}

func resultErrorText(result *mcp.CallToolResult) string {
	if text, ok := backend.ResultText(result); ok && text != "" {
		return text
	}
	return "tool call failed"
}

// refreshToolIndex mirrors the exposed surface into the search index.
func (r *Router) refreshToolIndex(table *routeTable) {
	if r.toolIndex == nil {
		return
	}

	docs := make([]index.ToolDocument, 0, table.len())
	for _, name := range table.order {
		rt := table.routes[name]
		doc := index.ToolDocument{
			ToolName:    name,
			Backend:     r.backendFor(rt.mode),
			Description: rt.tool.Description,
		}
		if schema, err := marshalSchema(rt.tool); err == nil {
			doc.ParamsJSON = schema
		}
		docs = append(docs, doc)
	}

	if err := r.toolIndex.Rebuild(docs); err != nil {
		r.logger.Warn("Failed to rebuild tool index", zap.Error(err))
	}
}

func (r *Router) backendFor(mode RouteMode) string {
	switch mode {
	case ModeFastOnly, ModeFastThenOfficialSameName:
		return r.fast.Name()
	default:
		return r.official.Name()
	}
}

// RefreshMetrics pushes current gauge values into the metrics registry. The
// debug endpoint calls it before every scrape.
func (r *Router) RefreshMetrics() {
	if r.obs == nil {
		return
	}
	r.obs.UpdateMetrics()

	mm := r.obs.Metrics()
	if mm == nil {
		return
	}

	for _, b := range []backend.Backend{r.fast, r.official} {
		info := b.ConnectionInfo()
		mm.SetBackendStats(b.Name(), info.State == backend.StateReady, info.ToolCount, info.Reconnects)
	}

	if statser, ok := r.fast.(cacheStatser); ok {
		if stats, enabled := statser.CacheStats(); enabled {
			mm.SetCacheStats(stats.Entries, stats.Hits, stats.Misses, stats.Expired, stats.Evicted)
		}
	}

	if r.journal != nil {
		if stats, err := r.journal.Stats(); err == nil {
			mm.SetJournalStats(stats.Records, stats.Dropped)
		}
	}

	if r.toolIndex != nil {
		if count, err := r.toolIndex.DocCount(); err == nil {
			mm.SetIndexSize(count)
		}
	}
}

// Close tears down both backends. Safe to call more than once.
func (r *Router) Close() error {
	var errs []error
	if err := r.official.Close(); err != nil {
		errs = append(errs, fmt.Errorf("official backend: %w", err))
	}
	if err := r.fast.Close(); err != nil {
		errs = append(errs, fmt.Errorf("fast backend: %w", err))
	}
	return errors.Join(errs...)
}
