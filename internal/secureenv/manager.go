package secureenv

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

const osWindows = "windows"

// EnvConfig represents environment configuration for secure filtering
type EnvConfig struct {
	InheritSystemSafe bool              `json:"inherit_system_safe"`
	AllowedSystemVars []string          `json:"allowed_system_vars"`
	CustomVars        map[string]string `json:"custom_vars"`
}

// DefaultEnvConfig returns the default allowlist for the remote backend
// subprocess: process basics, proxy variables, TLS trust material, and the
// token-cache location shared with mcp-remote.
func DefaultEnvConfig() *EnvConfig {
	allowedVars := []string{
		"PATH",   // Essential for finding executables
		"HOME",   // User directory path (Unix)
		"TMPDIR", // Temporary directory (Unix)
		"TEMP",   // Temporary directory (Windows)
		"TMP",    // Temporary directory (Windows)
		"SHELL",  // Default shell
		"TERM",   // Terminal type
		"LANG",   // Language settings
		"USER",   // Current user (Unix)
		"LC_*",   // Locale settings

		// Proxy configuration, both spellings
		"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "ALL_PROXY",
		"http_proxy", "https_proxy", "no_proxy", "all_proxy",

		// TLS trust material for the child's HTTPS connections
		"SSL_CERT_FILE",
		"SSL_CERT_DIR",
		"NODE_EXTRA_CA_CERTS",

		// mcp-remote reads its token cache location from here; it must match
		// the directory this process evicts tokens from on reauth.
		"MCP_REMOTE_CONFIG_DIR",
	}

	if runtime.GOOS == osWindows {
		allowedVars = append(allowedVars,
			"USERNAME",     // Current user (Windows)
			"USERPROFILE",  // User profile directory
			"APPDATA",      // Application data directory
			"LOCALAPPDATA", // Local application data directory
			"SYSTEMROOT",   // System root directory
			"COMSPEC",      // Command interpreter
		)
	}

	return &EnvConfig{
		InheritSystemSafe: true,
		AllowedSystemVars: allowedVars,
		CustomVars:        make(map[string]string),
	}
}

// Manager handles secure environment variable filtering
type Manager struct {
	config *EnvConfig
}

// NewManager creates a new secure environment manager
func NewManager(config *EnvConfig) *Manager {
	if config == nil {
		config = DefaultEnvConfig()
	}
	return &Manager{config: config}
}

// BuildSecureEnvironment builds the environment variable list passed to the
// child process: allowlisted parent variables plus the configured extras.
// Custom variables override inherited ones with the same key.
func (m *Manager) BuildSecureEnvironment() []string {
	merged := make(map[string]string)

	if m.config.InheritSystemSafe {
		for _, envVar := range os.Environ() {
			key, _, ok := strings.Cut(envVar, "=")
			if ok && m.isKeyAllowed(key) {
				merged[key] = strings.TrimPrefix(envVar, key+"=")
			}
		}
	}

	for k, v := range m.config.CustomVars {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	envVars := make([]string, 0, len(keys))
	for _, k := range keys {
		envVars = append(envVars, k+"="+merged[k])
	}
	return envVars
}

// GetSystemEnvVar safely gets a system environment variable.
func (m *Manager) GetSystemEnvVar(key string) (string, bool) {
	if !m.isKeyAllowed(key) {
		return "", false
	}
	value := os.Getenv(key)
	return value, value != ""
}

// isKeyAllowed checks if a key is in the allowed list
func (m *Manager) isKeyAllowed(key string) bool {
	// Always allow custom variables defined in config
	if _, exists := m.config.CustomVars[key]; exists {
		return true
	}

	for _, allowedKey := range m.config.AllowedSystemVars {
		if strings.HasSuffix(allowedKey, "*") {
			// Handle wildcard matching (e.g., "LC_*")
			prefix := strings.TrimSuffix(allowedKey, "*")
			if strings.HasPrefix(key, prefix) {
				return true
			}
		} else if strings.EqualFold(allowedKey, key) {
			return true
		}
	}
	return false
}

// GetFilteredEnvCount returns the number of allowlisted and total system
// environment variables, for diagnostics.
func (m *Manager) GetFilteredEnvCount() (filteredCount, totalCount int) {
	total := os.Environ()
	filtered := 0
	for _, envVar := range total {
		key, _, ok := strings.Cut(envVar, "=")
		if ok && m.isKeyAllowed(key) {
			filtered++
		}
	}
	return filtered, len(total)
}
