package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, int64(30000), cfg.Cache.TTLMillis)
	assert.Equal(t, 300, cfg.Cache.MaxEntries)
	assert.False(t, cfg.LocalDB.Enabled)
	assert.False(t, cfg.LocalDB.TrustEnabled)
	assert.Equal(t, 100, cfg.LocalDB.MaxPageSize)
	assert.Equal(t, DefaultRemoteURL, cfg.Remote.URL)
	assert.False(t, cfg.Remote.AllowNpxFallback)
	assert.Equal(t, DefaultAPIBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultNotionVersion, cfg.API.NotionVersion)
	assert.NotNil(t, cfg.Environment)
	assert.NotNil(t, cfg.Logging)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Tracing.Endpoint)
}

func TestLoadEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(EnvDataDir, dataDir)
	t.Setenv(EnvCacheEnabled, "false")
	t.Setenv(EnvCacheTTLMillis, "5000")
	t.Setenv(EnvCacheMaxEntries, "10")
	t.Setenv(EnvLocalDBEnabled, "true")
	t.Setenv(EnvLocalDBTrustEnabled, "1")
	t.Setenv(EnvLocalDBMaxPageSize, "25")
	t.Setenv(EnvRemoteURL, "https://example.com/mcp")
	t.Setenv(EnvNotionToken, "secret-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, int64(5000), cfg.Cache.TTLMillis)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.True(t, cfg.LocalDB.Enabled)
	assert.True(t, cfg.LocalDB.TrustEnabled)
	assert.Equal(t, 25, cfg.LocalDB.MaxPageSize)
	assert.Equal(t, "https://example.com/mcp", cfg.Remote.URL)
	assert.Equal(t, "secret-token", cfg.API.Token)
}

func TestLoadInvalidTTL(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not a number", "abc"},
		{"zero", "0"},
		{"negative", "-100"},
		{"float", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, t.TempDir())
			t.Setenv(EnvCacheTTLMillis, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), EnvCacheTTLMillis)
		})
	}
}

func TestLoadInvalidMaxEntries(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvCacheMaxEntries, "none")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvCacheMaxEntries)
}

func TestLoadCachePathNullByte(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvCachePath, "bad\x00path.json")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvCachePath)
}

func TestLoadLenientFallbacks(t *testing.T) {
	// Boolean-like fields and the page-size clamp must not abort startup on
	// malformed input.
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvCacheEnabled, "maybe")
	t.Setenv(EnvLocalDBEnabled, "2")
	t.Setenv(EnvLocalDBMaxPageSize, "-5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Cache.Enabled, "unrecognized boolean keeps the default")
	assert.False(t, cfg.LocalDB.Enabled)
	assert.Equal(t, 100, cfg.LocalDB.MaxPageSize)
}

func TestLoadTracingOverrides(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvTracingEnabled, "true")
	t.Setenv(EnvTracingEndpoint, "collector:4318")
	t.Setenv(EnvTracingSampleRate, "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4318", cfg.Tracing.Endpoint)
	assert.Equal(t, 0.5, cfg.Tracing.SampleRate)
}

func TestLoadTracingRejectsBadSampleRate(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvTracingSampleRate, "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.Tracing.SampleRate, "out-of-range rate keeps the default")
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Tracing.Endpoint)
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{" no ", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("NOTIONFAST_TEST_BOOL", tt.value)
			got := envBool("NOTIONFAST_TEST_BOOL", tt.fallback)
			if got != tt.want {
				t.Errorf("envBool(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestCacheFilePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/nf-test"

	assert.Equal(t, filepath.Join("/tmp/nf-test", CacheFileName), cfg.CacheFilePath())

	cfg.Cache.Path = "/elsewhere/cache.json"
	assert.Equal(t, "/elsewhere/cache.json", cfg.CacheFilePath())
}

func TestTokenCacheDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.TokenCacheDir = "/custom/auth"
	assert.Equal(t, "/custom/auth", cfg.TokenCacheDir())

	cfg.Remote.TokenCacheDir = ""
	dir := cfg.TokenCacheDir()
	assert.True(t, strings.HasSuffix(dir, ".mcp-auth"))
}

func TestRemoteArgsSplitting(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvRemoteCommand, "node")
	t.Setenv(EnvRemoteArgs, "/opt/mcp-remote/index.js https://mcp.notion.com/mcp")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "node", cfg.Remote.Command)
	assert.Equal(t, []string{"/opt/mcp-remote/index.js", "https://mcp.notion.com/mcp"}, cfg.Remote.Args)
}
