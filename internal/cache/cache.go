// Package cache keeps AI replies for deterministic actions on disk, one JSON
// file per key hash.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// CacheDirPerm is the permission for the cache directory (0700 = rwx------)
	// Restrictive permissions protect the directory from being accessed by other users
	CacheDirPerm os.FileMode = 0700
	// CacheFilePerm is the permission for cache files (0600 = rw-------)
	// Cached replies can contain vault content
	CacheFilePerm os.FileMode = 0600
)

type Cache struct {
	mu  sync.Mutex
	dir string
	ttl time.Duration
}

type CacheEntry struct {
	Hash      string `json:"hash"`
	Provider  string `json:"provider"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// New creates the cache directory under dir. Entries older than ttlDays are
// treated as missing.
func New(dir string, ttlDays int) (*Cache, error) {
	if ttlDays < 0 {
		return nil, fmt.Errorf("cache TTL days must be non-negative, got %d", ttlDays)
	}
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}

	cacheDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(cacheDir, CacheDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{
		dir: cacheDir,
		ttl: time.Duration(ttlDays) * 24 * time.Hour,
	}, nil
}

// Hash derives the entry key from its parts. Parts are separated so that
// ("ab", "c") and ("a", "bc") hash differently.
func (c *Cache) Hash(parts ...string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, "\x00"))))
}

// Get returns the cached entry for hash, or nil when missing or expired.
func (c *Cache) Get(hash string) *CacheEntry {
	path, ok := c.path(hash)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}

	// Check if expired
	if time.Since(time.Unix(entry.Timestamp, 0)) > c.ttl {
		_ = os.Remove(path) // Ignore error on removal
		return nil
	}

	return &entry
}

func (c *Cache) Set(hash, provider, content string) error {
	if hash == "" {
		return fmt.Errorf("hash cannot be empty")
	}
	path, ok := c.path(hash)
	if !ok {
		return fmt.Errorf("invalid hash format")
	}

	entry := CacheEntry{
		Hash:      hash,
		Provider:  provider,
		Content:   content,
		Timestamp: time.Now().Unix(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.WriteFile(path, data, CacheFilePerm); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}

// path validates hash and resolves it inside the cache directory.
func (c *Cache) path(hash string) (string, bool) {
	// Validate hash to prevent path traversal attacks
	if !isValidHash(hash) {
		return "", false
	}

	cleanPath := filepath.Clean(filepath.Join(c.dir, hash+".json"))
	if !strings.HasPrefix(cleanPath, c.dir+string(filepath.Separator)) {
		return "", false
	}
	return cleanPath, true
}

// isValidHash validates that the hash is a valid SHA256 hex string (64 characters)
func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, r := range hash {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
