// Package respcache holds successful read responses in memory and persists
// them to a single JSON file across runs. Entries expire on a TTL measured
// from their last write and the cache is bounded by an LRU eviction pass.
package respcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileVersion identifies the on-disk format. Files carrying any other
// version are discarded on load.
const FileVersion = 1

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// Entry is one cached response. Timestamps are Unix milliseconds.
type Entry struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	AccessedAt int64  `json:"accessed_at"`
}

type cacheFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Stats is a point-in-time snapshot of cache activity since startup.
type Stats struct {
	Entries  int   `json:"entries"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Expired  int64 `json:"expired"`
	Evicted  int64 `json:"evicted"`
	SaveFail int64 `json:"save_failures"`
}

// Cache is a TTL plus LRU bounded response cache. All methods are safe for
// concurrent use; file I/O happens outside the lock on a snapshot.
type Cache struct {
	path       string
	ttlMillis  int64
	maxEntries int
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	hits    int64
	misses  int64
	expired int64
	evicted int64
	saveErr int64
}

// New creates a cache persisting to path. The cache starts empty; call Load
// to read a previous run's file.
func New(path string, ttlMillis int64, maxEntries int, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		path:       path,
		ttlMillis:  ttlMillis,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]*Entry),
	}
}

// Load reads the cache file. It never fails: a missing, unreadable, or
// incompatible file yields an empty cache.
func (c *Cache) Load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Debug("Response cache file unreadable, starting empty",
				zap.String("path", c.path), zap.Error(err))
		}
		return
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.Debug("Response cache file corrupt, starting empty",
			zap.String("path", c.path), zap.Error(err))
		return
	}
	if file.Version != FileVersion {
		c.logger.Debug("Response cache file has incompatible version, starting empty",
			zap.String("path", c.path), zap.Int("version", file.Version))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry, len(file.Entries))
	for i := range file.Entries {
		e := file.Entries[i]
		if e.Key == "" {
			continue
		}
		c.entries[e.Key] = &e
	}
	c.logger.Debug("Response cache loaded",
		zap.String("path", c.path), zap.Int("entries", len(c.entries)))
}

// Get returns the cached value for key. An entry whose TTL has elapsed is
// deleted and reported as a miss. A hit refreshes the entry's access time.
func (c *Cache) Get(key string) (string, bool) {
	nowMillis := c.now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	if c.expiredAt(entry, nowMillis) {
		delete(c.entries, key)
		c.expired++
		c.misses++
		return "", false
	}

	entry.AccessedAt = nowMillis
	c.hits++
	return entry.Value, true
}

// Set stores value under key. Re-setting an existing key keeps its original
// creation time. After the write, expired entries are pruned and the least
// recently used entries are evicted until the cache fits its bound.
func (c *Cache) Set(key, value string) {
	nowMillis := c.now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.Value = value
		existing.UpdatedAt = nowMillis
		existing.AccessedAt = nowMillis
	} else {
		c.entries[key] = &Entry{
			Key:        key,
			Value:      value,
			CreatedAt:  nowMillis,
			UpdatedAt:  nowMillis,
			AccessedAt: nowMillis,
		}
	}

	c.pruneExpiredLocked(nowMillis)
	c.evictOverflowLocked()
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear empties the cache and persists the empty state.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
	return c.Save()
}

// Len returns the number of entries currently held, including any whose TTL
// has elapsed but which have not been touched since.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:  len(c.entries),
		Hits:     c.hits,
		Misses:   c.misses,
		Expired:  c.expired,
		Evicted:  c.evicted,
		SaveFail: c.saveErr,
	}
}

// Save writes the cache to disk atomically: expired and overflowing entries
// are dropped first, then the snapshot is serialized to a sibling temp file
// named after this process, renamed over the target, and the result is
// restricted to owner-only permissions.
func (c *Cache) Save() error {
	c.mu.Lock()
	c.pruneExpiredLocked(c.now().UnixMilli())
	c.evictOverflowLocked()
	snapshot := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		snapshot = append(snapshot, *entry)
	}
	c.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Key < snapshot[j].Key })

	data, err := json.MarshalIndent(cacheFile{Version: FileVersion, Entries: snapshot}, "", "  ")
	if err != nil {
		c.countSaveFailure()
		return fmt.Errorf("marshal response cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), dirPerm); err != nil {
		c.countSaveFailure()
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + "." + strconv.Itoa(os.Getpid()) + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePerm); err != nil {
		c.countSaveFailure()
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		c.countSaveFailure()
		return fmt.Errorf("replace cache file: %w", err)
	}
	if err := os.Chmod(c.path, filePerm); err != nil {
		return fmt.Errorf("restrict cache file permissions: %w", err)
	}
	return nil
}

func (c *Cache) countSaveFailure() {
	c.mu.Lock()
	c.saveErr++
	c.mu.Unlock()
}

func (c *Cache) expiredAt(entry *Entry, nowMillis int64) bool {
	return c.ttlMillis > 0 && entry.UpdatedAt+c.ttlMillis <= nowMillis
}

func (c *Cache) pruneExpiredLocked(nowMillis int64) {
	for key, entry := range c.entries {
		if c.expiredAt(entry, nowMillis) {
			delete(c.entries, key)
			c.expired++
		}
	}
}

// evictOverflowLocked drops the least recently used entries until the cache
// fits maxEntries. Access time orders eviction, with write and creation
// times breaking ties.
func (c *Cache) evictOverflowLocked() {
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}

	candidates := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.AccessedAt != b.AccessedAt {
			return a.AccessedAt < b.AccessedAt
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt < b.UpdatedAt
		}
		return a.CreatedAt < b.CreatedAt
	})

	overflow := len(c.entries) - c.maxEntries
	for _, entry := range candidates[:overflow] {
		delete(c.entries, entry.Key)
		c.evicted++
	}
}
