package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"notionfast-go/internal/config"
	"notionfast-go/internal/storage"
)

// Dumps the call journal newest-first. Companion to populate-test-data.
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	sugar := logger.Sugar()

	dataDir := os.Getenv(config.EnvDataDir)
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, config.DefaultDataDir)
	}

	journal, err := storage.Open(dataDir, nil, storage.Options{}, sugar)
	if err != nil {
		fmt.Printf("Error opening journal: %v\n", err)
		return
	}
	defer journal.Close()

	filter := storage.DefaultFilter()
	filter.Limit = 100

	calls, total, err := journal.List(filter)
	if err != nil {
		fmt.Printf("Error listing calls: %v\n", err)
		return
	}

	fmt.Printf("Total calls in journal: %d (showing %d)\n\n", total, len(calls))
	for i, call := range calls {
		fmt.Printf("%d. ID: %s\n", i+1, call.ID)
		fmt.Printf("   Tool: %s, Mode: %s, Backend: %s\n", call.Tool, call.RouteMode, call.Backend)
		if call.BoostTool != "" {
			fmt.Printf("   Boosted via: %s\n", call.BoostTool)
		}
		fmt.Printf("   Status: %s", call.Status)
		if call.ErrorMessage != "" {
			fmt.Printf(" (%s)", call.ErrorMessage)
		}
		fmt.Printf("\n")
		fmt.Printf("   Duration: %dms, Response: %d bytes", call.DurationMs, call.ResponseBytes)
		if call.ResponseTruncated {
			fmt.Printf(" (truncated)")
		}
		fmt.Printf("\n")
		fmt.Printf("   Timestamp: %v\n\n", call.Timestamp)
	}
}
