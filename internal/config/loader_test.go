package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	path := writeConfigFile(t, "notionfast.json", `{
		"debug-addr": "127.0.0.1:9091",
		"cache": {"ttl-ms": 5000, "max-entries": 50},
		"remote": {"url": "https://mcp.example.com/mcp"}
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9091", cfg.DebugAddr)
	assert.Equal(t, int64(5000), cfg.Cache.TTLMillis)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, "https://mcp.example.com/mcp", cfg.Remote.URL)
	assert.True(t, cfg.Cache.Enabled, "unset keys keep their defaults")
}

func TestLoadFromFileEnvironmentWins(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvCacheTTLMillis, "12000")
	path := writeConfigFile(t, "notionfast.json", `{"cache": {"ttl-ms": 5000}}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, int64(12000), cfg.Cache.TTLMillis)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFromFileMalformed(t *testing.T) {
	path := writeConfigFile(t, "notionfast.json", `{"cache": `)

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromFileEmptyPathMatchesLoad(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, DefaultRemoteURL, cfg.Remote.URL)
	assert.True(t, cfg.Cache.Enabled)
}
