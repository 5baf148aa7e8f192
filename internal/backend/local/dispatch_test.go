package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"notionfast-go/internal/backend"
	"notionfast-go/internal/config"
	"notionfast-go/internal/notionapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	fixturePageID  = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	fixtureSpaceID = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
)

// newTestBackend wires a backend against an httptest server standing in for
// the Notion API.
func newTestBackend(t *testing.T, handler http.Handler, mutate func(cfg *config.Config)) *Backend {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	if mutate != nil {
		mutate(cfg)
	}

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := notionapi.New(srv.URL, "secret-token", "2022-06-28", zap.NewNop())

	b, err := New(cfg, zap.NewNop(), WithAPIClient(api))
	require.NoError(t, err)
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// writeFixtureDB creates a minimal desktop database holding one page.
func writeFixtureDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "notion.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE block (
		id TEXT, type TEXT, parent_table TEXT, parent_id TEXT, space_id TEXT,
		created_time INTEGER, last_edited_time INTEGER, alive INTEGER,
		properties TEXT, content TEXT, meta_last_access_timestamp INTEGER)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO block VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		fixturePageID, "page", "space", fixtureSpaceID, fixtureSpaceID,
		int64(1700000000000), int64(1700000300000), 1,
		`{"title":[["Team Meeting Notes"]]}`, "[]", int64(1700000600000))
	require.NoError(t, err)

	return path
}

func TestCallToolUnknownTool(t *testing.T) {
	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte("{}"))
	}), nil)

	result, err := b.CallTool(context.Background(), "does-not-exist", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text, ok := backend.ResultText(result)
	require.True(t, ok)
	assert.Contains(t, text, "unknown tool: does-not-exist")
	assert.Equal(t, int32(0), calls.Load())
}

func TestCallToolWriteOperationBlocked(t *testing.T) {
	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte("{}"))
	}), nil)

	result, err := b.CallTool(context.Background(), "patch-page", map[string]interface{}{
		"page_id": fixturePageID,
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text, ok := backend.ResultText(result)
	require.True(t, ok)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Equal(t, "READ_ONLY_OPERATION_BLOCKED", payload["error"])
	assert.Equal(t, "patch-page", payload["operation"])
	assert.Equal(t, int32(0), calls.Load(), "blocked operations never reach the API")
}

func TestCallToolServesRepeatFromCache(t *testing.T) {
	body := `{"object":"page","id":"` + fixturePageID + `"}`
	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(body))
	}), nil)

	args := map[string]interface{}{"page_id": fixturePageID}

	first, err := b.CallTool(context.Background(), "retrieve-a-page", args)
	require.NoError(t, err)
	assert.False(t, first.IsError)
	firstText, _ := backend.ResultText(first)
	assert.Equal(t, body, firstText)

	second, err := b.CallTool(context.Background(), "retrieve-a-page", args)
	require.NoError(t, err)
	secondText, _ := backend.ResultText(second)
	assert.Equal(t, firstText, secondText)

	assert.Equal(t, int32(1), calls.Load(), "second call should be a cache hit")
}

func TestCallToolForceRefreshBypassesCaches(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var seenBodies []map[string]interface{}

	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		var reqBody map[string]interface{}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&reqBody)
		}
		mu.Lock()
		seenBodies = append(seenBodies, reqBody)
		mu.Unlock()

		if n == 1 {
			w.Write([]byte(`{"results":[{"id":"first"}]}`))
			return
		}
		w.Write([]byte(`{"results":[{"id":"second"}]}`))
	}), nil)

	args := map[string]interface{}{"query": "roadmap"}

	first, err := b.CallTool(context.Background(), "post-search", args)
	require.NoError(t, err)
	firstText, _ := backend.ResultText(first)
	assert.Contains(t, firstText, "first")

	forced := map[string]interface{}{"query": "roadmap", ForceRefreshKey: true}
	second, err := b.CallTool(context.Background(), "post-search", forced)
	require.NoError(t, err)
	secondText, _ := backend.ResultText(second)
	assert.Contains(t, secondText, "second")
	assert.Equal(t, int32(2), calls.Load(), "force refresh must reach the API")

	// The refreshed value replaced the cached one.
	third, err := b.CallTool(context.Background(), "post-search", args)
	require.NoError(t, err)
	thirdText, _ := backend.ResultText(third)
	assert.Equal(t, secondText, thirdText)
	assert.Equal(t, int32(2), calls.Load())

	// The control field never crossed the wire.
	mu.Lock()
	defer mu.Unlock()
	for _, reqBody := range seenBodies {
		assert.NotContains(t, reqBody, ForceRefreshKey)
	}
}

func TestCallToolAPIErrorMirroredAndNotCached(t *testing.T) {
	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"object":"error","status":404,"code":"object_not_found","message":"Could not find page."}`))
	}), nil)

	args := map[string]interface{}{"page_id": fixturePageID}

	result, err := b.CallTool(context.Background(), "retrieve-a-page", args)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text, ok := backend.ResultText(result)
	require.True(t, ok)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Equal(t, "error", payload["status"], "status field is overridden to the string form")
	assert.Equal(t, "object_not_found", payload["code"])
	assert.Equal(t, "Could not find page.", payload["message"])

	// Error responses are not cached: the retry hits the API again.
	_, err = b.CallTool(context.Background(), "retrieve-a-page", args)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	stats, ok := b.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 0, stats.Entries)
}

func TestCallToolRehydratesArguments(t *testing.T) {
	var mu sync.Mutex
	var lastBody map[string]interface{}

	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		mu.Lock()
		lastBody = reqBody
		mu.Unlock()
		w.Write([]byte(`{"results":[]}`))
	}), nil)

	_, err := b.CallTool(context.Background(), "post-search", map[string]interface{}{
		"query":  "notes",
		"filter": `{"property":"object","value":"page"}`,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	filter, ok := lastBody["filter"].(map[string]interface{})
	if assert.True(t, ok, "serialized filter should arrive as an object") {
		assert.Equal(t, "page", filter["value"])
	}
}

func TestCallToolFastPathServesWithoutAPI(t *testing.T) {
	dbPath := writeFixtureDB(t)

	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte("{}"))
	}), func(cfg *config.Config) {
		cfg.LocalDB.Enabled = true
		cfg.LocalDB.TrustEnabled = true
		cfg.LocalDB.DBPath = dbPath
	})

	result, err := b.CallTool(context.Background(), "retrieve-a-page", map[string]interface{}{
		"page_id": fixturePageID,
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text, ok := backend.ResultText(result)
	require.True(t, ok)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Equal(t, "page", payload["object"])
	assert.Equal(t, fixturePageID, payload["id"])

	assert.Equal(t, int32(0), calls.Load(), "fast path hit must not reach the API")

	stats, ok := b.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 1, stats.Entries, "fast path hits populate the response cache")
}

func TestCallToolFastPathRequiresTrust(t *testing.T) {
	dbPath := writeFixtureDB(t)

	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"object":"page","id":"` + fixturePageID + `"}`))
	}), func(cfg *config.Config) {
		cfg.LocalDB.Enabled = true
		cfg.LocalDB.TrustEnabled = false
		cfg.LocalDB.DBPath = dbPath
	})

	_, err := b.CallTool(context.Background(), "retrieve-a-page", map[string]interface{}{
		"page_id": fixturePageID,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "untrusted database must be ignored")
}

func TestCallToolFastPathMissFallsThrough(t *testing.T) {
	dbPath := writeFixtureDB(t)

	body := `{"object":"page","id":"cccccccc-cccc-cccc-cccc-cccccccccccc"}`
	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(body))
	}), func(cfg *config.Config) {
		cfg.LocalDB.Enabled = true
		cfg.LocalDB.TrustEnabled = true
		cfg.LocalDB.DBPath = dbPath
	})

	result, err := b.CallTool(context.Background(), "retrieve-a-page", map[string]interface{}{
		"page_id": "cccccccc-cccc-cccc-cccc-cccccccccccc",
	})
	require.NoError(t, err)

	text, _ := backend.ResultText(result)
	assert.Equal(t, body, text)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallToolCacheDisabled(t *testing.T) {
	var calls atomic.Int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"object":"user"}`))
	}), func(cfg *config.Config) {
		cfg.Cache.Enabled = false
	})

	for i := 0; i < 2; i++ {
		result, err := b.CallTool(context.Background(), "get-self", nil)
		require.NoError(t, err)
		assert.False(t, result.IsError)
	}
	assert.Equal(t, int32(2), calls.Load(), "disabled cache means every call reaches the API")

	_, ok := b.CacheStats()
	assert.False(t, ok)
}
