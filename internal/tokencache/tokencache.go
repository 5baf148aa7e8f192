// Package tokencache locates, inspects, and evicts the OAuth token files
// the external mcp-remote bridge keeps on disk. The bridge names its
// artifacts after an MD5 hash of the remote URL; eviction must remove every
// file for one hash while leaving every other credential untouched.
package tokencache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// URLHash returns the hex MD5 of the remote URL, the prefix mcp-remote uses
// for its token cache files.
func URLHash(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// EvictionResult summarizes one eviction pass.
type EvictionResult struct {
	DeletedFiles int `json:"deleted_files"`
	SearchedDirs int `json:"searched_dirs"`
}

// Evict deletes every token cache artifact belonging to hash under baseDir.
// Known layouts: `<base>/<hash>/tokens.json` and, inside each
// `<base>/mcp-remote-*/` directory, files prefixed `<hash>_` or a nested
// `<hash>/tokens.json`. Deletion problems are logged and skipped; a missing
// base directory is a no-op.
func Evict(baseDir, hash string, logger *zap.Logger) EvictionResult {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, dirs := collect(baseDir, hash)
	result := EvictionResult{SearchedDirs: dirs}

	for _, path := range files {
		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to delete token cache file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		logger.Debug("Deleted token cache file", zap.String("path", path))
		result.DeletedFiles++

		// The nested form leaves behind a directory named after the hash;
		// remove it once empty.
		parent := filepath.Dir(path)
		if filepath.Base(parent) == hash {
			_ = os.Remove(parent)
		}
	}
	return result
}

// Discover returns the token cache files currently on disk for hash, in the
// order they were found.
func Discover(baseDir, hash string) []string {
	files, _ := collect(baseDir, hash)
	return files
}

// collect walks the known token cache layouts and returns matching file
// paths plus the number of directories searched.
func collect(baseDir, hash string) ([]string, int) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, 0
	}

	searched := 1
	var files []string

	if path := filepath.Join(baseDir, hash, "tokens.json"); fileExists(path) {
		files = append(files, path)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "mcp-remote-") {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())
		searched++

		inner, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, item := range inner {
			if !item.IsDir() && strings.HasPrefix(item.Name(), hash+"_") {
				files = append(files, filepath.Join(dir, item.Name()))
			}
		}
		if path := filepath.Join(dir, hash, "tokens.json"); fileExists(path) {
			files = append(files, path)
		}
	}
	return files, searched
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// tokenFile is the subset of an mcp-remote tokens.json this process reads.
type tokenFile struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken interface{} `json:"refresh_token"`
	ExpiresIn    interface{} `json:"expires_in"`
}

// Usable reports whether data is a usable token file: valid JSON with a
// non-empty access_token plus either a string refresh_token or a numeric
// expires_in.
func Usable(data []byte) bool {
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return false
	}
	if tf.AccessToken == "" {
		return false
	}
	if _, ok := tf.RefreshToken.(string); ok {
		return true
	}
	switch tf.ExpiresIn.(type) {
	case float64, json.Number:
		return true
	}
	return false
}

// FileStatus describes one token cache file.
type FileStatus struct {
	Path      string     `json:"path"`
	Usable    bool       `json:"usable"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Inspect reads a token file and reports whether it is usable. When the
// access token is a JWT, its exp claim is surfaced; the signature is not
// verified since this process only displays the expiry.
func Inspect(path string) FileStatus {
	status := FileStatus{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return status
	}
	status.Usable = Usable(data)
	if !status.Usable {
		return status
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return status
	}
	if exp := jwtExpiry(tf.AccessToken); exp != nil {
		status.ExpiresAt = exp
	}
	return status
}

func jwtExpiry(raw string) *time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}
