package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		dir     string
		ttlDays int
		wantErr bool
	}{
		{
			name:    "valid cache with 7 days TTL",
			dir:     filepath.Join(tmpDir, "a"),
			ttlDays: 7,
		},
		{
			name:    "valid cache with 0 days TTL",
			dir:     filepath.Join(tmpDir, "b", "nested"),
			ttlDays: 0,
		},
		{
			name:    "negative TTL",
			dir:     filepath.Join(tmpDir, "c"),
			ttlDays: -1,
			wantErr: true,
		},
		{
			name:    "empty dir",
			ttlDays: 1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, err := New(tt.dir, tt.ttlDays)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			expectedTTL := time.Duration(tt.ttlDays) * 24 * time.Hour
			if cache.ttl != expectedTTL {
				t.Errorf("New() TTL = %v, want %v", cache.ttl, expectedTTL)
			}
			info, err := os.Stat(cache.dir)
			if err != nil {
				t.Fatalf("New() cache directory was not created: %v", err)
			}
			if info.Mode().Perm()&0077 != 0 {
				t.Errorf("cache directory mode = %o, want no group/other access", info.Mode().Perm())
			}
		})
	}
}

func TestHash(t *testing.T) {
	cache := &Cache{dir: "/tmp", ttl: 24 * time.Hour}

	h1 := cache.Hash("user", "openai", "summarize", "text")
	h2 := cache.Hash("user", "openai", "summarize", "text")
	if h1 != h2 {
		t.Errorf("Hash() not deterministic: %v != %v", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("Hash() length = %d, want 64", len(h1))
	}
	if !isValidHash(h1) {
		t.Errorf("Hash() produced invalid hash %q", h1)
	}

	if cache.Hash("ab", "c") == cache.Hash("a", "bc") {
		t.Error("Hash() must separate parts")
	}
	if cache.Hash("u1", "x") == cache.Hash("u2", "x") {
		t.Error("Hash() must differ per user")
	}
}

func TestSetAndGet(t *testing.T) {
	cache, err := New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name     string
		key      string
		provider string
		content  string
	}{
		{name: "simple entry", key: "a", provider: "openai", content: "A short summary"},
		{name: "entry with newlines", key: "b", provider: "gemini", content: "Line 1\nLine 2."},
		{name: "empty content", key: "c", provider: "anthropic", content: ""},
		{name: "unicode text", key: "d", provider: "openai", content: "Hello, 世界!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := cache.Hash(tt.key)
			if err := cache.Set(hash, tt.provider, tt.content); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			path := filepath.Join(cache.dir, hash+".json")
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("Set() failed to read cache file: %v", err)
			}
			info, _ := os.Stat(path)
			if info.Mode().Perm()&0077 != 0 {
				t.Errorf("cache file mode = %o, want no group/other access", info.Mode().Perm())
			}

			var entry CacheEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				t.Fatalf("Set() failed to unmarshal cache entry: %v", err)
			}
			if entry.Hash != hash || entry.Provider != tt.provider || entry.Content != tt.content {
				t.Errorf("Set() entry = %+v", entry)
			}
			if entry.Timestamp == 0 {
				t.Error("Set() entry.Timestamp should be set")
			}

			got := cache.Get(hash)
			if got == nil {
				t.Fatal("Get() = nil, want entry")
			}
			if got.Content != tt.content || got.Provider != tt.provider {
				t.Errorf("Get() = %+v", got)
			}
		})
	}
}

func TestRejectsInvalidHash(t *testing.T) {
	cache, _ := New(t.TempDir(), 1)

	for _, hash := range []string{"", "non-existent-hash", "../../etc/passwd", strings.Repeat("g", 64)} {
		if err := cache.Set(hash, "openai", "x"); err == nil {
			t.Errorf("Set(%q) should fail", hash)
		}
		if got := cache.Get(hash); got != nil {
			t.Errorf("Get(%q) = %+v, want nil", hash, got)
		}
	}
}

func writeEntry(t *testing.T, dir string, entry CacheEntry) string {
	t.Helper()
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Failed to marshal entry: %v", err)
	}
	path := filepath.Join(dir, entry.Hash+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("Failed to write cache file: %v", err)
	}
	return path
}

func TestGetExpired(t *testing.T) {
	cache := &Cache{dir: t.TempDir(), ttl: time.Hour}
	hash := cache.Hash("expired")

	path := writeEntry(t, cache.dir, CacheEntry{
		Hash:      hash,
		Provider:  "openai",
		Content:   "old",
		Timestamp: time.Now().Add(-2 * time.Hour).Unix(),
	})

	if got := cache.Get(hash); got != nil {
		t.Errorf("Get() expired entry = %+v, want nil", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Get() should have removed expired cache file")
	}
}

func TestGetNotExpired(t *testing.T) {
	cache := &Cache{dir: t.TempDir(), ttl: 24 * time.Hour}
	hash := cache.Hash("fresh")

	path := writeEntry(t, cache.dir, CacheEntry{
		Hash:      hash,
		Provider:  "openai",
		Content:   "fresh reply",
		Timestamp: time.Now().Unix(),
	})

	got := cache.Get(hash)
	if got == nil || got.Content != "fresh reply" {
		t.Errorf("Get() valid entry = %+v, want fresh reply", got)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("Get() should not remove valid cache file")
	}
}

func TestGetInvalidJSON(t *testing.T) {
	cache := &Cache{dir: t.TempDir(), ttl: 24 * time.Hour}
	hash := cache.Hash("broken")

	path := filepath.Join(cache.dir, hash+".json")
	if err := os.WriteFile(path, []byte("invalid json"), 0600); err != nil {
		t.Fatalf("Failed to write invalid JSON file: %v", err)
	}

	if got := cache.Get(hash); got != nil {
		t.Errorf("Get() invalid JSON = %+v, want nil", got)
	}
}
