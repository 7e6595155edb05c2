package versioncheck

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// CacheEntry is a cached release lookup.
type CacheEntry struct {
	LatestVersion string    `json:"latest_version"` // without v prefix
	ReleaseURL    string    `json:"release_url"`
	CheckedAt     time.Time `json:"checked_at"`
}

// IsValid reports whether the entry is younger than ttl.
func (c *CacheEntry) IsValid(ttl time.Duration) bool {
	if c == nil {
		return false
	}
	return time.Since(c.CheckedAt) < ttl
}

// ReadCacheFile reads a cache entry. A missing file returns an error.
func ReadCacheFile(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// WriteCacheFile writes entry, creating parent directories.
func WriteCacheFile(path string, entry *CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultCachePath returns the cache file under the user cache directory,
// falling back to the temp directory.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "realitycam", "version-cache.json")
}
