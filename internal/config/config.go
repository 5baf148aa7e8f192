package config

import (
	"os"
	"path/filepath"
	"runtime"

	"notionfast-go/internal/secureenv"
)

const (
	// DefaultDataDir is created under the user's home directory.
	DefaultDataDir = ".notionfast"

	// CacheFileName is the response cache file inside the data directory.
	CacheFileName = "response_cache.json"

	// DefaultRemoteURL is the hosted Notion MCP endpoint.
	DefaultRemoteURL = "https://mcp.notion.com/mcp"

	// DefaultAPIBaseURL is the Notion public HTTP API.
	DefaultAPIBaseURL = "https://api.notion.com"

	// DefaultNotionVersion is sent as the Notion-Version header.
	DefaultNotionVersion = "2022-06-28"

	defaultCacheTTLMillis  = 30000
	defaultCacheMaxEntries = 300
	defaultMaxPageSize     = 100

	defaultJournalMaxRecords  = 1000
	defaultJournalMaxAgeHours = 168

	defaultTracingEndpoint   = "localhost:4318"
	defaultTracingSampleRate = 0.1
)

// Config represents the main configuration structure
type Config struct {
	DataDir   string `json:"data_dir" mapstructure:"data-dir"`
	DebugAddr string `json:"debug_addr,omitempty" mapstructure:"debug-addr"`

	// Response cache (tiered read path, first stage)
	Cache *CacheConfig `json:"cache" mapstructure:"cache"`

	// Local Notion desktop database fast-path (second stage)
	LocalDB *LocalDBConfig `json:"local_db" mapstructure:"local-db"`

	// Remote hosted MCP backend reached through mcp-remote
	Remote *RemoteConfig `json:"remote" mapstructure:"remote"`

	// Notion public HTTP API used by the local backend
	API *APIConfig `json:"api" mapstructure:"api"`

	// Environment configuration for secure variable filtering
	Environment *secureenv.EnvConfig `json:"environment,omitempty" mapstructure:"environment"`

	// Call journal retention
	Journal *JournalConfig `json:"journal,omitempty" mapstructure:"journal"`

	// OTLP trace export, off unless pointed at a collector
	Tracing *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// CacheConfig controls the TTL + LRU response cache.
type CacheConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	TTLMillis  int64  `json:"ttl_ms" mapstructure:"ttl-ms"`
	MaxEntries int    `json:"max_entries" mapstructure:"max-entries"`
	Path       string `json:"path,omitempty" mapstructure:"path"`
}

// LocalDBConfig controls the SQLite fast-path over the Notion desktop
// application's database. Both Enabled and TrustEnabled must be true for the
// fast-path to serve reads.
type LocalDBConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	TrustEnabled bool   `json:"trust_enabled" mapstructure:"trust-enabled"`
	DBPath       string `json:"db_path,omitempty" mapstructure:"db-path"`
	MaxPageSize  int    `json:"max_page_size" mapstructure:"max-page-size"`
}

// RemoteConfig describes how the official Notion MCP subprocess is launched.
type RemoteConfig struct {
	Command          string            `json:"command,omitempty" mapstructure:"command"`
	Args             []string          `json:"args,omitempty" mapstructure:"args"`
	Env              map[string]string `json:"env,omitempty" mapstructure:"env"`
	WorkingDir       string            `json:"working_dir,omitempty" mapstructure:"working-dir"`
	URL              string            `json:"url" mapstructure:"url"`
	AllowNpxFallback bool              `json:"allow_npx_fallback" mapstructure:"allow-npx-fallback"`
	TokenCacheDir    string            `json:"token_cache_dir,omitempty" mapstructure:"token-cache-dir"`
}

// APIConfig carries the credentials forwarded verbatim to the Notion HTTP API.
type APIConfig struct {
	BaseURL       string `json:"base_url" mapstructure:"base-url"`
	Token         string `json:"-" mapstructure:"token"`
	NotionVersion string `json:"notion_version" mapstructure:"notion-version"`
}

// JournalConfig controls retention of the bbolt call journal.
type JournalConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	MaxRecords  int  `json:"max_records" mapstructure:"max-records"`
	MaxAgeHours int  `json:"max_age_hours" mapstructure:"max-age-hours"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" mapstructure:"enabled"`
	Endpoint   string  `json:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "", // Will be set to ~/.notionfast by Load

		Cache: &CacheConfig{
			Enabled:    true,
			TTLMillis:  defaultCacheTTLMillis,
			MaxEntries: defaultCacheMaxEntries,
			Path:       "", // <data>/response_cache.json
		},

		LocalDB: &LocalDBConfig{
			Enabled:      false,
			TrustEnabled: false,
			DBPath:       "", // platform default, see DefaultLocalDBPath
			MaxPageSize:  defaultMaxPageSize,
		},

		Remote: &RemoteConfig{
			URL:              DefaultRemoteURL,
			AllowNpxFallback: false,
			TokenCacheDir:    "", // ~/.mcp-auth
		},

		API: &APIConfig{
			BaseURL:       DefaultAPIBaseURL,
			NotionVersion: DefaultNotionVersion,
		},

		Journal: &JournalConfig{
			Enabled:     true,
			MaxRecords:  defaultJournalMaxRecords,
			MaxAgeHours: defaultJournalMaxAgeHours,
		},

		Tracing: &TracingConfig{
			Enabled:    false,
			Endpoint:   defaultTracingEndpoint,
			SampleRate: defaultTracingSampleRate,
		},

		// Default secure environment configuration for the subprocess
		Environment: secureenv.DefaultEnvConfig(),

		// Default logging configuration
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,  // 5 backup files
			MaxAge:        30, // 30 days
			Compress:      true,
			JSONFormat:    false, // Use console format for readability
		},
	}
}

// Validate normalizes derived fields and checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Cache == nil {
		c.Cache = DefaultConfig().Cache
	}
	if c.LocalDB == nil {
		c.LocalDB = DefaultConfig().LocalDB
	}
	if c.Remote == nil {
		c.Remote = DefaultConfig().Remote
	}
	if c.API == nil {
		c.API = DefaultConfig().API
	}
	if c.Environment == nil {
		c.Environment = secureenv.DefaultEnvConfig()
	}
	if c.Journal == nil {
		c.Journal = DefaultConfig().Journal
	}
	if c.Tracing == nil {
		c.Tracing = DefaultConfig().Tracing
	}
	if c.LocalDB.MaxPageSize <= 0 {
		c.LocalDB.MaxPageSize = defaultMaxPageSize
	}
	if c.Journal.MaxRecords <= 0 {
		c.Journal.MaxRecords = defaultJournalMaxRecords
	}
	if c.Journal.MaxAgeHours <= 0 {
		c.Journal.MaxAgeHours = defaultJournalMaxAgeHours
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = defaultTracingEndpoint
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		c.Tracing.SampleRate = defaultTracingSampleRate
	}
	if c.Remote.URL == "" {
		c.Remote.URL = DefaultRemoteURL
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	if c.API.NotionVersion == "" {
		c.API.NotionVersion = DefaultNotionVersion
	}
	return nil
}

// CacheFilePath resolves the response cache file location.
func (c *Config) CacheFilePath() string {
	if c.Cache != nil && c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.DataDir, CacheFileName)
}

// TokenCacheDir resolves the base directory that mcp-remote stores OAuth
// artifacts under.
func (c *Config) TokenCacheDir() string {
	if c.Remote != nil && c.Remote.TokenCacheDir != "" {
		return c.Remote.TokenCacheDir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".mcp-auth"
	}
	return filepath.Join(homeDir, ".mcp-auth")
}

// LocalDBPath resolves the Notion desktop database location.
func (c *Config) LocalDBPath() string {
	if c.LocalDB != nil && c.LocalDB.DBPath != "" {
		return c.LocalDB.DBPath
	}
	return DefaultLocalDBPath()
}

// DefaultLocalDBPath returns the platform-specific location of the Notion
// desktop application's SQLite database.
func DefaultLocalDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "Notion", "notion.db")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Notion", "notion.db")
	default:
		return filepath.Join(homeDir, ".config", "Notion", "notion.db")
	}
}
