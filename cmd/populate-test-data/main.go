package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"notionfast-go/internal/config"
	"notionfast-go/internal/storage"
)

// Seeds the call journal with a handful of realistic records so the debug
// endpoints under /api/v1/activity have something to show during development.
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	sugar := logger.Sugar()

	dataDir := os.Getenv(config.EnvDataDir)
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Fatal("Failed to get home dir", zap.Error(err))
		}
		dataDir = filepath.Join(homeDir, config.DefaultDataDir)
	}

	journal, err := storage.Open(dataDir, nil, storage.Options{}, sugar)
	if err != nil {
		logger.Fatal("Failed to open call journal", zap.Error(err))
	}
	defer journal.Close()

	now := time.Now().UTC()

	// A read the fast backend answered directly.
	fastRead := &storage.CallRecord{
		Tool:      "retrieve-a-page",
		RouteMode: "FAST_THEN_OFFICIAL_SAME_NAME",
		Backend:   "fast",
		Arguments: map[string]interface{}{
			"page_id": "59833787-2cf9-4fdf-8782-e53db20768a5",
		},
		Response:      `{"object":"page","id":"59833787-2cf9-4fdf-8782-e53db20768a5","archived":false}`,
		ResponseBytes: 78,
		Status:        "success",
		DurationMs:    12,
		Timestamp:     now.Add(-5 * time.Minute),
	}
	if err := journal.Record(fastRead); err != nil {
		logger.Fatal("Failed to record fast read", zap.Error(err))
	}
	logger.Info("Recorded fast read", zap.String("id", fastRead.ID))

	// A fast miss that fell through to the official backend.
	fallthroughRead := &storage.CallRecord{
		Tool:      "retrieve-a-page",
		RouteMode: "FAST_THEN_OFFICIAL_SAME_NAME",
		Backend:   "official",
		Arguments: map[string]interface{}{
			"page_id": "0b9eccff-1daf-4a1e-8c04-26a14a31a3e4",
		},
		Response:      `{"object":"page","id":"0b9eccff-1daf-4a1e-8c04-26a14a31a3e4","archived":false}`,
		ResponseBytes: 78,
		Status:        "success",
		DurationMs:    843,
		Timestamp:     now.Add(-4 * time.Minute),
		Metadata: map[string]interface{}{
			"fast_error": "page not found in local database",
		},
	}
	if err := journal.Record(fallthroughRead); err != nil {
		logger.Fatal("Failed to record fallthrough read", zap.Error(err))
	}
	logger.Info("Recorded fallthrough read", zap.String("id", fallthroughRead.ID))

	// An official-only search boosted through the fast backend's post-search.
	boostedSearch := &storage.CallRecord{
		Tool:      "notion-search",
		RouteMode: "OFFICIAL_WITH_FAST_BOOST",
		Backend:   "fast",
		BoostTool: "post-search",
		Arguments: map[string]interface{}{
			"query": "quarterly roadmap",
		},
		Response:      `{"object":"list","results":[{"object":"page","id":"9bc8a97e-4c41-4c64-9e86-5bd2f7e8c5a1"}],"has_more":false}`,
		ResponseBytes: 108,
		Status:        "success",
		DurationMs:    31,
		Timestamp:     now.Add(-3 * time.Minute),
	}
	if err := journal.Record(boostedSearch); err != nil {
		logger.Fatal("Failed to record boosted search", zap.Error(err))
	}
	logger.Info("Recorded boosted search", zap.String("id", boostedSearch.ID))

	// A write that always goes to the official backend.
	officialWrite := &storage.CallRecord{
		Tool:      "notion-create-pages",
		RouteMode: "OFFICIAL",
		Backend:   "official",
		Arguments: map[string]interface{}{
			"parent": map[string]interface{}{"page_id": "59833787-2cf9-4fdf-8782-e53db20768a5"},
			"pages":  []interface{}{map[string]interface{}{"properties": map[string]interface{}{"title": "Meeting notes"}}},
		},
		Response:      `{"object":"page","id":"c5d9f8a2-1b3e-4f6a-9c8d-7e2f4a6b8c0d"}`,
		ResponseBytes: 60,
		Status:        "success",
		DurationMs:    1290,
		Timestamp:     now.Add(-2 * time.Minute),
	}
	if err := journal.Record(officialWrite); err != nil {
		logger.Fatal("Failed to record official write", zap.Error(err))
	}
	logger.Info("Recorded official write", zap.String("id", officialWrite.ID))

	// A write that failed upstream.
	failedWrite := &storage.CallRecord{
		Tool:      "notion-update-page",
		RouteMode: "OFFICIAL",
		Backend:   "official",
		Arguments: map[string]interface{}{
			"page_id": "missing-page",
			"command": "archive",
		},
		Status:       "error",
		ErrorMessage: "HTTP 502 Bad Gateway",
		DurationMs:   2004,
		Timestamp:    now.Add(-1 * time.Minute),
	}
	if err := journal.Record(failedWrite); err != nil {
		logger.Fatal("Failed to record failed write", zap.Error(err))
	}
	logger.Info("Recorded failed write", zap.String("id", failedWrite.ID))

	count, err := journal.Count()
	if err != nil {
		logger.Fatal("Failed to count records", zap.Error(err))
	}

	fmt.Println("\nTest data populated successfully!")
	fmt.Printf("   - 2 reads on the fast path (1 direct hit, 1 fallthrough)\n")
	fmt.Printf("   - 1 boosted search\n")
	fmt.Printf("   - 2 official writes (1 success, 1 error)\n")
	fmt.Printf("   - Journal now holds %d records at %s\n", count, dataDir)
}
