package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names recognized at startup.
const (
	EnvCacheEnabled    = "NOTIONFAST_CACHE_ENABLED"
	EnvCacheTTLMillis  = "NOTIONFAST_CACHE_TTL_MS"
	EnvCacheMaxEntries = "NOTIONFAST_CACHE_MAX_ENTRIES"
	EnvCachePath       = "NOTIONFAST_CACHE_PATH"

	EnvLocalDBEnabled      = "NOTIONFAST_LOCAL_APP_CACHE_ENABLED"
	EnvLocalDBTrustEnabled = "NOTIONFAST_LOCAL_APP_CACHE_TRUST_ENABLED"
	EnvLocalDBPath         = "NOTIONFAST_LOCAL_APP_CACHE_DB_PATH"
	EnvLocalDBMaxPageSize  = "NOTIONFAST_LOCAL_APP_CACHE_MAX_PAGE_SIZE"

	EnvRemoteCommand    = "NOTIONFAST_REMOTE_COMMAND"
	EnvRemoteArgs       = "NOTIONFAST_REMOTE_ARGS"
	EnvRemoteURL        = "NOTIONFAST_REMOTE_URL"
	EnvAllowNpxFallback = "NOTIONFAST_ALLOW_NPX_FALLBACK"
	EnvTokenCacheDir    = "MCP_REMOTE_CONFIG_DIR"

	EnvNotionToken   = "NOTION_TOKEN"
	EnvNotionVersion = "NOTIONFAST_NOTION_VERSION"
	EnvAPIBaseURL    = "NOTIONFAST_BASE_URL"

	EnvDataDir   = "NOTIONFAST_DATA_DIR"
	EnvDebugAddr = "NOTIONFAST_DEBUG_ADDR"
	EnvLogLevel  = "NOTIONFAST_LOG_LEVEL"

	EnvJournalEnabled     = "NOTIONFAST_JOURNAL_ENABLED"
	EnvJournalMaxRecords  = "NOTIONFAST_JOURNAL_MAX_RECORDS"
	EnvJournalMaxAgeHours = "NOTIONFAST_JOURNAL_MAX_AGE_HOURS"

	EnvTracingEnabled    = "NOTIONFAST_TRACING_ENABLED"
	EnvTracingEndpoint   = "NOTIONFAST_TRACING_ENDPOINT"
	EnvTracingSampleRate = "NOTIONFAST_TRACING_SAMPLE_RATE"
)

// Load builds the runtime configuration from defaults and the process
// environment. Boolean-like values, the db path, and the page-size clamp fall
// back to their defaults when malformed; the cache TTL, cache entry bound,
// and a cache path containing a null byte abort startup with an error naming
// the variable.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return finalize(cfg)
}

// applyEnvOverrides applies the recognized environment variables onto cfg.
func applyEnvOverrides(cfg *Config) error {
	if value := os.Getenv(EnvDataDir); value != "" {
		cfg.DataDir = value
	}
	if value := os.Getenv(EnvDebugAddr); value != "" {
		cfg.DebugAddr = value
	}
	if value := os.Getenv(EnvLogLevel); value != "" {
		cfg.Logging.Level = value
	}

	// Response cache
	cfg.Cache.Enabled = envBool(EnvCacheEnabled, cfg.Cache.Enabled)
	if value := os.Getenv(EnvCacheTTLMillis); value != "" {
		ttl, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("%s: %q is not a positive integer number of milliseconds", EnvCacheTTLMillis, value)
		}
		cfg.Cache.TTLMillis = ttl
	}
	if value := os.Getenv(EnvCacheMaxEntries); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%s: %q is not a positive integer", EnvCacheMaxEntries, value)
		}
		cfg.Cache.MaxEntries = n
	}
	if value, ok := os.LookupEnv(EnvCachePath); ok {
		if strings.ContainsRune(value, 0) {
			return fmt.Errorf("%s: path must not contain a null byte", EnvCachePath)
		}
		cfg.Cache.Path = value // empty string means default
	}

	// SQLite fast-path
	cfg.LocalDB.Enabled = envBool(EnvLocalDBEnabled, cfg.LocalDB.Enabled)
	cfg.LocalDB.TrustEnabled = envBool(EnvLocalDBTrustEnabled, cfg.LocalDB.TrustEnabled)
	if value := os.Getenv(EnvLocalDBPath); value != "" && !strings.ContainsRune(value, 0) {
		cfg.LocalDB.DBPath = value
	}
	if value := os.Getenv(EnvLocalDBMaxPageSize); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			cfg.LocalDB.MaxPageSize = n
		}
	}

	// Remote backend
	if value := os.Getenv(EnvRemoteCommand); value != "" {
		cfg.Remote.Command = value
	}
	if value := os.Getenv(EnvRemoteArgs); value != "" {
		cfg.Remote.Args = splitArgs(value)
	}
	if value := os.Getenv(EnvRemoteURL); value != "" {
		cfg.Remote.URL = value
	}
	cfg.Remote.AllowNpxFallback = envBool(EnvAllowNpxFallback, cfg.Remote.AllowNpxFallback)
	if value := os.Getenv(EnvTokenCacheDir); value != "" {
		cfg.Remote.TokenCacheDir = value
	}

	// Call journal
	cfg.Journal.Enabled = envBool(EnvJournalEnabled, cfg.Journal.Enabled)
	if value := os.Getenv(EnvJournalMaxRecords); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			cfg.Journal.MaxRecords = n
		}
	}
	if value := os.Getenv(EnvJournalMaxAgeHours); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			cfg.Journal.MaxAgeHours = n
		}
	}

	// Trace export
	cfg.Tracing.Enabled = envBool(EnvTracingEnabled, cfg.Tracing.Enabled)
	if value := os.Getenv(EnvTracingEndpoint); value != "" {
		cfg.Tracing.Endpoint = value
	}
	if value := os.Getenv(EnvTracingSampleRate); value != "" {
		if rate, err := strconv.ParseFloat(value, 64); err == nil && rate > 0 && rate <= 1 {
			cfg.Tracing.SampleRate = rate
		}
	}

	// Notion HTTP API
	if value := os.Getenv(EnvNotionToken); value != "" {
		cfg.API.Token = value
	}
	if value := os.Getenv(EnvNotionVersion); value != "" {
		cfg.API.NotionVersion = value
	}
	if value := os.Getenv(EnvAPIBaseURL); value != "" {
		cfg.API.BaseURL = value
	}

	return nil
}

// envBool reads a boolean-like variable. Unset or unrecognized values keep
// the fallback.
func envBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// splitArgs splits a whitespace-separated argv string. Quoting is not
// supported; callers needing quoted arguments set Remote.Args directly.
func splitArgs(value string) []string {
	return strings.Fields(value)
}
