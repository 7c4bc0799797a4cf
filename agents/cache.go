package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ResultCache is a filesystem cache for paid external analysis calls
// (Perplexity completions, SE Ranking summaries). Entries expire after ttl.
type ResultCache struct {
	cacheDir string
	ttl      time.Duration
	mutex    sync.RWMutex
	now      func() time.Time
}

// NewResultCache creates a cache rooted at cacheDir. A nil *ResultCache is
// valid and caches nothing.
func NewResultCache(cacheDir string, ttl time.Duration) *ResultCache {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		slog.Error("Failed to create cache directory", "dir", cacheDir, "error", err)
	}
	return &ResultCache{cacheDir: cacheDir, ttl: ttl, now: time.Now}
}

func (c *ResultCache) key(provider, query string) string {
	hash := sha256.Sum256([]byte(provider + ":" + query))
	return hex.EncodeToString(hash[:])
}

func (c *ResultCache) path(key string) string {
	return filepath.Join(c.cacheDir, key+".json")
}

func (c *ResultCache) expired(info os.FileInfo) bool {
	return c.ttl > 0 && c.now().Sub(info.ModTime()) > c.ttl
}

// Get decodes a fresh cached entry into dst. An expired entry is removed.
func (c *ResultCache) Get(ctx context.Context, provider, query string, dst interface{}) bool {
	if c == nil {
		return false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	p := c.path(c.key(provider, query))
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	if c.expired(info) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove expired cache entry", "path", p, "error", err)
		}
		return false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		slog.Error("Failed to read cached result", "path", p, "error", err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Warn("Discarding corrupt cache entry", "path", p, "error", err)
		return false
	}

	slog.Debug("Cache hit", "provider", provider)
	return true
}

func (c *ResultCache) Set(ctx context.Context, provider, query string, v interface{}) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	p := c.path(c.key(provider, query))
	if err := os.WriteFile(p, data, 0644); err != nil {
		slog.Error("Failed to write cache entry", "path", p, "error", err)
		return err
	}
	return nil
}

// Cached returns the cached value for (provider, query) or calls fetch and
// caches its result. Fetch errors are never cached.
func Cached[T any](ctx context.Context, c *ResultCache, provider, query string, fetch func(context.Context) (T, error)) (T, error) {
	var v T
	if c.Get(ctx, provider, query, &v) {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, provider, query, v); err != nil {
		slog.Warn("Failed to cache result", "provider", provider, "error", err)
	}
	return v, nil
}

// Prune deletes every expired entry and returns how many were removed.
func (c *ResultCache) Prune() int {
	if c == nil || c.ttl <= 0 {
		return 0
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		slog.Error("Failed to list cache directory", "dir", c.cacheDir, "error", err)
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !c.expired(info) {
			continue
		}
		if err := os.Remove(filepath.Join(c.cacheDir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Pruned expired cache entries", "count", removed)
	}
	return removed
}

// RunJanitor prunes expired entries every interval until ctx ends.
func (c *ResultCache) RunJanitor(ctx context.Context, interval time.Duration) {
	if c == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

// Clear removes all cached files.
func (c *ResultCache) Clear() error {
	if c == nil {
		return nil
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := os.RemoveAll(c.cacheDir); err != nil {
		return err
	}
	return os.MkdirAll(c.cacheDir, 0755)
}

// Stats returns the number of entries and their total size in bytes.
func (c *ResultCache) Stats() (int, int64, error) {
	if c == nil {
		return 0, 0, nil
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return 0, 0, err
	}

	var totalSize int64
	fileCount := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			fileCount++
			if info, err := entry.Info(); err == nil {
				totalSize += info.Size()
			}
		}
	}
	return fileCount, totalSize, nil
}
