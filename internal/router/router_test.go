package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notionfast-go/internal/backend"
	"notionfast-go/internal/backend/remote"
	"notionfast-go/internal/observability"
	"notionfast-go/internal/respcache"
	"notionfast-go/internal/storage"
)

// fakeBackend is a scripted backend.Backend. Responses are queued per tool
// and consumed in order; the last one repeats.
type fakeBackend struct {
	name       string
	connectErr error
	closeErr   error

	mu        sync.Mutex
	connected bool
	tools     []mcp.Tool
	scripts   map[string][]scriptedReply
	calls     []fakeCall
	closes    int

	cacheStats   respcache.Stats
	cacheEnabled bool
}

type scriptedReply struct {
	result *mcp.CallToolResult
	err    error
}

type fakeCall struct {
	tool string
	args map[string]interface{}
}

func newFakeBackend(name string, tools ...mcp.Tool) *fakeBackend {
	return &fakeBackend{
		name:    name,
		tools:   tools,
		scripts: make(map[string][]scriptedReply),
	}
}

func tool(name, description string) mcp.Tool {
	return mcp.NewTool(name, mcp.WithDescription(description))
}

func (f *fakeBackend) scriptText(toolName, text string) {
	f.script(toolName, mcp.NewToolResultText(text), nil)
}

func (f *fakeBackend) scriptErrorResult(toolName, message string) {
	f.script(toolName, mcp.NewToolResultError(message), nil)
}

func (f *fakeBackend) scriptCallError(toolName string, err error) {
	f.script(toolName, nil, err)
}

func (f *fakeBackend) script(toolName string, result *mcp.CallToolResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[toolName] = append(f.scripts[toolName], scriptedReply{result: result, err: err})
}

func (f *fakeBackend) callsTo(toolName string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.tool == toolName {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBackend) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.tool)
	}
	return names
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeBackend) ListTools(_ context.Context) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, fmt.Errorf("%s backend is not connected", f.name)
	}
	out := make([]mcp.Tool, len(f.tools))
	copy(out, f.tools)
	return out, nil
}

func (f *fakeBackend) HasTool(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (f *fakeBackend) FindToolName(candidates ...string) string {
	for _, candidate := range candidates {
		if f.HasTool(candidate) {
			return candidate
		}
	}
	return ""
}

func (f *fakeBackend) CallTool(_ context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{tool: name, args: args})
	queue := f.scripts[name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted reply for %s on %s", name, f.name)
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.scripts[name] = queue[1:]
	}
	return reply.result, reply.err
}

func (f *fakeBackend) ConnectionInfo() backend.ConnectionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := backend.StateDisconnected
	switch {
	case f.connected:
		state = backend.StateReady
	case f.connectErr != nil:
		state = backend.StateError
	}
	return backend.ConnectionInfo{
		State:     state,
		LastError: f.connectErr,
		ToolCount: len(f.tools),
	}
}

func (f *fakeBackend) CacheStats() (respcache.Stats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cacheStats, f.cacheEnabled
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return f.closeErr
}

// reauthBackend adds the official backend's reauth capability to the fake.
type reauthBackend struct {
	*fakeBackend
	reauthResult remote.ReauthResult
	reauthErr    error
	reauthed     int
	newTools     []mcp.Tool
}

func (f *reauthBackend) Reauth(_ context.Context) (remote.ReauthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauthed++
	if f.reauthErr != nil {
		f.connected = false
		return f.reauthResult, f.reauthErr
	}
	f.connected = true
	if f.newTools != nil {
		f.tools = f.newTools
	}
	return f.reauthResult, nil
}

func officialSurface() []mcp.Tool {
	return []mcp.Tool{
		tool("notion-search", "Search the workspace by keyword."),
		tool("notion-fetch", "Fetch a page, database or block by id."),
		tool("notion-get-users", "List the users in the workspace."),
		tool("notion-create-pages", "Create new pages with content."),
		tool("notion-update-page", "Update properties of an existing page."),
		tool("retrieve-a-page", "Retrieve a page object by id."),
		tool("get-block-children", "List the child blocks of a block."),
	}
}

func fastSurface() []mcp.Tool {
	return []mcp.Tool{
		tool("retrieve-a-page", "Retrieve a page object by id."),
		tool("retrieve-a-database", "Retrieve a database object by id."),
		tool("retrieve-a-data-source", "Retrieve a data source by id."),
		tool("retrieve-a-block", "Retrieve a block by id."),
		tool("retrieve-a-comment", "List the comments on a block."),
		tool("get-block-children", "List the child blocks of a block."),
		tool("post-search", "Search pages and databases by title."),
		tool("get-users", "List all users."),
		tool("get-user", "Retrieve a single user."),
	}
}

func startedRouter(t *testing.T, fast, official backend.Backend, opts ...Option) *Router {
	t.Helper()
	r := New(fast, official, zap.NewNop(), opts...)
	require.NoError(t, r.Start(context.Background()))
	return r
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	text, ok := backend.ResultText(result)
	require.True(t, ok, "result should carry text content")
	return text
}

func TestStartBothBackendsReady(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	defer r.Close()

	assert.Equal(t, StateReady, r.State())

	routes := r.Routes()
	assert.Equal(t, ModeOfficialWithFastBoost, routes["notion-search"])
	assert.Equal(t, ModeOfficialWithFastBoost, routes["notion-fetch"])
	assert.Equal(t, ModeOfficialWithFastBoost, routes["notion-get-users"])
	assert.Equal(t, ModeOfficial, routes["notion-create-pages"])
	assert.Equal(t, ModeOfficial, routes["notion-update-page"])
	assert.Equal(t, ModeFastThenOfficialSameName, routes["retrieve-a-page"])
	assert.Equal(t, ModeFastThenOfficialSameName, routes["get-block-children"])
	assert.Len(t, routes, 7)

	// The exposed surface plus the three operational tools.
	tools := r.Tools()
	assert.Len(t, tools, 10)
}

func TestStartWithoutFastStaysReady(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	fast.connectErr = errors.New("sqlite file locked")
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	defer r.Close()

	assert.Equal(t, StateReady, r.State())

	// With the fast surface gone the shared read routes to the official
	// backend and nothing runs fast-first.
	routes := r.Routes()
	assert.Equal(t, ModeOfficial, routes["retrieve-a-page"])
	for name, mode := range routes {
		assert.NotEqual(t, ModeFastThenOfficialSameName, mode, name)
		assert.NotEqual(t, ModeFastOnly, mode, name)
	}
}

func TestStartWithoutOfficialDegradesToReadOnly(t *testing.T) {
	fast := newFakeBackend("fast", append(fastSurface(), tool("create-a-comment", "Create a comment."))...)
	official := newFakeBackend("official", officialSurface()...)
	official.connectErr = errors.New("oauth token rejected")

	r := startedRouter(t, fast, official)
	defer r.Close()

	assert.Equal(t, StateDegradedReadOnly, r.State())

	routes := r.Routes()
	require.Len(t, routes, 9)
	for name, mode := range routes {
		assert.Equal(t, ModeFastOnly, mode, name)
	}
	_, hasWrite := routes["create-a-comment"]
	assert.False(t, hasWrite, "writes must not be exposed in degraded mode")

	// Official-only tools are gone entirely.
	result, err := r.CallTool(context.Background(), "notion-create-pages", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown tool")
}

func TestStartFailsWhenBothBackendsDown(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	fast.connectErr = errors.New("manifest missing")
	official := newFakeBackend("official", officialSurface()...)
	official.connectErr = errors.New("dial tcp: connection refused")

	r := New(fast, official, zap.NewNop())
	err := r.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial tcp: connection refused")
	assert.Contains(t, err.Error(), "manifest missing")
	assert.Equal(t, StateDead, r.State())
}

func TestSameNameReadPrefersFast(t *testing.T) {
	pageJSON := `{"object":"page","id":"123e4567-e89b-12d3-a456-426614174000"}`
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("retrieve-a-page", pageJSON)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	defer r.Close()

	args := map[string]interface{}{"page_id": "123e4567-e89b-12d3-a456-426614174000"}
	result, err := r.CallTool(context.Background(), "retrieve-a-page", args)

	require.NoError(t, err)
	assert.Equal(t, pageJSON, resultText(t, result))
	assert.Empty(t, official.callsTo("retrieve-a-page"), "official backend must not be called on a fast hit")
}

func TestSameNameReadFallsBackOnEmptyResult(t *testing.T) {
	officialJSON := `{"object":"list","results":[{"object":"block","id":"b1"}],"has_more":false}`
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("get-block-children", `{"object":"list","results":[],"has_more":false}`)
	official := newFakeBackend("official", officialSurface()...)
	official.scriptText("get-block-children", officialJSON)

	r := startedRouter(t, fast, official)
	defer r.Close()

	args := map[string]interface{}{"block_id": "123e4567-e89b-12d3-a456-426614174000", "page_size": float64(50)}
	result, err := r.CallTool(context.Background(), "get-block-children", args)

	require.NoError(t, err)
	assert.Equal(t, officialJSON, resultText(t, result))

	officialCalls := official.callsTo("get-block-children")
	require.Len(t, officialCalls, 1)
	assert.Equal(t, args, officialCalls[0].args, "fallback must reuse the caller's arguments")
}

func TestSameNameReadFallsBackOnErrorResult(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptErrorResult("retrieve-a-page", "could not find page")
	official := newFakeBackend("official", officialSurface()...)
	official.scriptText("retrieve-a-page", `{"object":"page","id":"p1"}`)

	r := startedRouter(t, fast, official)
	defer r.Close()

	result, err := r.CallTool(context.Background(), "retrieve-a-page",
		map[string]interface{}{"page_id": "p1"})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, `{"object":"page","id":"p1"}`, resultText(t, result))
}

func TestFetchBoostTriesTypedReadsThenOfficial(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptErrorResult("retrieve-a-page", "not a page")
	fast.scriptErrorResult("retrieve-a-database", "not a database")
	fast.scriptErrorResult("retrieve-a-data-source", "not a data source")
	fast.scriptErrorResult("retrieve-a-block", "not a block")
	fast.scriptErrorResult("retrieve-a-comment", "no comments")
	official := newFakeBackend("official", officialSurface()...)
	official.scriptText("notion-fetch", `{"object":"database","id":"abcdef01-2345-6789-0abc-def012345678"}`)

	r := startedRouter(t, fast, official)
	defer r.Close()

	args := map[string]interface{}{"id": "collection://abcdef01234567890abcdef012345678"}
	result, err := r.CallTool(context.Background(), "notion-fetch", args)

	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"object":"database"`)

	// Every typed read was tried in order with the canonical dashed id.
	assert.Equal(t, []string{
		"retrieve-a-page", "retrieve-a-database", "retrieve-a-data-source",
		"retrieve-a-block", "retrieve-a-comment",
	}, fast.callNames())
	pageCalls := fast.callsTo("retrieve-a-page")
	require.Len(t, pageCalls, 1)
	assert.Equal(t, map[string]interface{}{"page_id": "abcdef01-2345-6789-0abc-def012345678"}, pageCalls[0].args)

	// The official backend got the original name and arguments.
	officialCalls := official.callsTo("notion-fetch")
	require.Len(t, officialCalls, 1)
	assert.Equal(t, args, officialCalls[0].args)
}

func TestFetchBoostStopsAtFirstHit(t *testing.T) {
	pageJSON := `{"object":"page","id":"123e4567-e89b-12d3-a456-426614174000"}`
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("retrieve-a-page", pageJSON)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	defer r.Close()

	result, err := r.CallTool(context.Background(), "notion-fetch",
		map[string]interface{}{"id": "123e4567-e89b-12d3-a456-426614174000"})

	require.NoError(t, err)
	assert.Equal(t, pageJSON, resultText(t, result))
	assert.Equal(t, []string{"retrieve-a-page"}, fast.callNames())
	assert.Empty(t, official.callNames())
}

func TestFetchBoostSkippedWithoutCleanId(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	official := newFakeBackend("official", officialSurface()...)
	official.scriptText("notion-fetch", `{"object":"page","id":"p1"}`)

	r := startedRouter(t, fast, official)
	defer r.Close()

	result, err := r.CallTool(context.Background(), "notion-fetch",
		map[string]interface{}{"id": "My Favorite Page"})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Empty(t, fast.callNames(), "no boost without a usable id")
	assert.Len(t, official.callsTo("notion-fetch"), 1)
}

func TestSearchBoostUsesFastTitleSearch(t *testing.T) {
	searchJSON := `{"object":"list","results":[{"object":"page","id":"p1"}]}`
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("post-search", searchJSON)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	defer r.Close()

	args := map[string]interface{}{"query": "roadmap"}
	result, err := r.CallTool(context.Background(), "notion-search", args)

	require.NoError(t, err)
	assert.Equal(t, searchJSON, resultText(t, result))

	fastCalls := fast.callsTo("post-search")
	require.Len(t, fastCalls, 1)
	assert.Equal(t, args, fastCalls[0].args)
	assert.Empty(t, official.callNames())
}

func TestSearchBoostFallsBackOnEmptyResults(t *testing.T) {
	officialJSON := `{"results":[{"object":"page","id":"p2"}]}`
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("post-search", `{"object":"list","results":[]}`)
	official := newFakeBackend("official", officialSurface()...)
	official.scriptText("notion-search", officialJSON)

	r := startedRouter(t, fast, official)
	defer r.Close()

	result, err := r.CallTool(context.Background(), "notion-search",
		map[string]interface{}{"query": "not in the integration scope"})

	require.NoError(t, err)
	assert.Equal(t, officialJSON, resultText(t, result))
	assert.Len(t, official.callsTo("notion-search"), 1)
}

func TestGetUsersBoostPicksVariantByArgs(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("get-users", `{"results":[{"object":"user","id":"u1"}]}`)
	fast.scriptText("get-user", `{"object":"user","id":"u2"}`)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	defer r.Close()

	_, err := r.CallTool(context.Background(), "notion-get-users", map[string]interface{}{})
	require.NoError(t, err)
	_, err = r.CallTool(context.Background(), "notion-get-users", map[string]interface{}{"user_id": "u2"})
	require.NoError(t, err)

	assert.Len(t, fast.callsTo("get-users"), 1)
	assert.Len(t, fast.callsTo("get-user"), 1)
	assert.Empty(t, official.callNames())
}

func TestOfficialErrorGainsAuthHint(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	official := newFakeBackend("official", officialSurface()...)
	official.scriptCallError("notion-create-pages", errors.New("request failed: HTTP 401 Unauthorized"))

	r := startedRouter(t, fast, official)
	defer r.Close()

	result, err := r.CallTool(context.Background(), "notion-create-pages",
		map[string]interface{}{"pages": []interface{}{}})

	require.NoError(t, err)
	require.True(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "HTTP 401 Unauthorized")
	assert.Contains(t, text, "proxy_reauth")
}

func TestOfficialErrorWithoutAuthMarkerStaysPlain(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	official := newFakeBackend("official", officialSurface()...)
	official.scriptCallError("notion-update-page", errors.New("connection reset by peer"))

	r := startedRouter(t, fast, official)
	defer r.Close()

	result, err := r.CallTool(context.Background(), "notion-update-page",
		map[string]interface{}{"page_id": "p1"})

	require.NoError(t, err)
	require.True(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "connection reset by peer")
	assert.NotContains(t, text, "proxy_reauth")
}

func TestUnknownToolReturnsErrorResult(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	defer r.Close()

	result, err := r.CallTool(context.Background(), "definitely-not-a-tool", nil)

	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Equal(t, "unknown tool: definitely-not-a-tool", resultText(t, result))
}

func TestJournalRecordsRoutedCalls(t *testing.T) {
	journal, err := storage.Open(t.TempDir(), nil, storage.Options{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer journal.Close()

	pageJSON := `{"object":"page","id":"p1"}`
	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("retrieve-a-page", pageJSON)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official, WithJournal(journal))
	defer r.Close()

	_, err = r.CallTool(context.Background(), "retrieve-a-page",
		map[string]interface{}{"page_id": "p1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		count, cerr := journal.Count()
		return cerr == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, total, err := journal.List(storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)

	rec := records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "retrieve-a-page", rec.Tool)
	assert.Equal(t, "FAST_THEN_OFFICIAL_SAME_NAME", rec.RouteMode)
	assert.Equal(t, "fast", rec.Backend)
	assert.Equal(t, "success", rec.Status)
	assert.Equal(t, pageJSON, rec.Response)
	assert.Equal(t, map[string]interface{}{"page_id": "p1"}, rec.Arguments)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestJournalSkipsMetaTools(t *testing.T) {
	journal, err := storage.Open(t.TempDir(), nil, storage.Options{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer journal.Close()

	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("retrieve-a-page", `{"object":"page","id":"p1"}`)
	fast.scriptText("retrieve-a-page", `{"object":"page","id":"p2"}`)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official, WithJournal(journal))
	defer r.Close()

	ctx := context.Background()
	_, err = r.CallTool(ctx, "retrieve-a-page", map[string]interface{}{"page_id": "p1"})
	require.NoError(t, err)
	_, err = r.CallTool(ctx, MetaStatusToolName, nil)
	require.NoError(t, err)
	_, err = r.CallTool(ctx, "retrieve-a-page", map[string]interface{}{"page_id": "p2"})
	require.NoError(t, err)

	// The write worker preserves order, so once both routed calls are on
	// disk a journaled status call would be visible too.
	require.Eventually(t, func() bool {
		count, cerr := journal.Count()
		return cerr == nil && count == 2
	}, 2*time.Second, 10*time.Millisecond)

	records, _, err := journal.List(storage.Filter{})
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, "retrieve-a-page", rec.Tool)
	}
}

func newTestObservability(t *testing.T) *observability.Manager {
	t.Helper()
	obs, err := observability.NewManager(zap.NewNop().Sugar(),
		observability.DefaultConfig("notionfast", "test"))
	require.NoError(t, err)
	return obs
}

func counterTotal(t *testing.T, obs *observability.Manager, name string) float64 {
	t.Helper()
	families, err := obs.Metrics().Registry().Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func histogramSamples(t *testing.T, obs *observability.Manager, name string) uint64 {
	t.Helper()
	families, err := obs.Metrics().Registry().Gather()
	require.NoError(t, err)
	var total uint64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetHistogram().GetSampleCount()
		}
	}
	return total
}

func gaugeValue(t *testing.T, obs *observability.Manager, name, label, labelValue string) float64 {
	t.Helper()
	families, err := obs.Metrics().Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if label == "" {
				return metric.GetGauge().GetValue()
			}
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == labelValue {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("gauge %s{%s=%q} not found", name, label, labelValue)
	return 0
}

func TestMetricsCountCallsAndFallbacks(t *testing.T) {
	obs := newTestObservability(t)

	fast := newFakeBackend("fast", fastSurface()...)
	fast.scriptText("post-search", `{"object":"list","results":[]}`)
	official := newFakeBackend("official", officialSurface()...)
	official.scriptText("notion-search", `{"results":[{"object":"page","id":"p1"}]}`)

	r := startedRouter(t, fast, official, WithObservability(obs))
	defer r.Close()

	_, err := r.CallTool(context.Background(), "notion-search",
		map[string]interface{}{"query": "roadmap"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterTotal(t, obs, "notionfast_tool_calls_total"))
	assert.Equal(t, 1.0, counterTotal(t, obs, "notionfast_boost_fallbacks_total"))
	// One connect observation per backend.
	assert.Equal(t, uint64(2), histogramSamples(t, obs, "notionfast_backend_connect_duration_seconds"))
}

func TestRefreshMetricsPublishesBackendGauges(t *testing.T) {
	obs := newTestObservability(t)

	fast := newFakeBackend("fast", fastSurface()...)
	fast.cacheStats = respcache.Stats{Entries: 3, Hits: 10, Misses: 4}
	fast.cacheEnabled = true
	official := newFakeBackend("official", officialSurface()...)
	official.connectErr = errors.New("oauth token rejected")

	r := startedRouter(t, fast, official, WithObservability(obs))
	defer r.Close()

	r.RefreshMetrics()

	assert.Equal(t, 1.0, gaugeValue(t, obs, "notionfast_backend_up", "backend", "fast"))
	assert.Equal(t, 0.0, gaugeValue(t, obs, "notionfast_backend_up", "backend", "official"))
	assert.Equal(t, 3.0, gaugeValue(t, obs, "notionfast_cache_entries", "", ""))
}

func TestCloseClosesBothBackends(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	require.NoError(t, r.Close())

	assert.Equal(t, 1, fast.closes)
	assert.Equal(t, 1, official.closes)
}

func TestCloseCollectsBackendErrors(t *testing.T) {
	fast := newFakeBackend("fast", fastSurface()...)
	fast.closeErr = errors.New("sqlite close failed")
	official := newFakeBackend("official", officialSurface()...)

	r := startedRouter(t, fast, official)
	err := r.Close()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast backend")
	assert.Contains(t, err.Error(), "sqlite close failed")
}
