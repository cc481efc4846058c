package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/deal-scraper/internal/models"
)

const (
	DefaultCacheDir = "cache"
	DefaultCacheTTL = time.Hour

	entryExt   = ".json"
	lockStripe = 64
)

var errCorruptEntry = errors.New("corrupt cache entry")

// CacheEntry is the on-disk record for one URL. The key is the file name.
type CacheEntry struct {
	URL      string           `json:"url"`
	Metadata *models.Metadata `json:"metadata"`
	StoredAt time.Time        `json:"stored_at"`
}

type CacheStats struct {
	Total   int           `json:"total"`
	Valid   int           `json:"valid"`
	Expired int           `json:"expired"`
	TTL     time.Duration `json:"ttl"`
}

// MetadataCache is a content-addressed TTL store with one JSON file per URL.
// Writes go through a temp file and a rename, so readers only ever observe
// a complete record.
type MetadataCache struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	locks  [lockStripe]sync.Mutex
	logger *slog.Logger
}

type CacheOption func(*MetadataCache)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) CacheOption {
	return func(c *MetadataCache) {
		c.now = now
	}
}

func NewMetadataCache(dir string, ttl time.Duration, logger *slog.Logger, opts ...CacheOption) (*MetadataCache, error) {
	if dir == "" {
		dir = DefaultCacheDir
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	c := &MetadataCache{
		dir:    dir,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "metadata_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Key returns the content-addressed key for a URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

func (c *MetadataCache) Dir() string {
	return c.dir
}

func (c *MetadataCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached metadata for url if present and not older than the TTL.
// Expired and unreadable records are removed.
func (c *MetadataCache) Get(url string) (*models.Metadata, bool) {
	key := Key(url)
	path := c.path(key)

	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	entry, err := readEntry(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false
		}
		c.logger.Warn("removing unreadable cache entry", "key", key, "error", err)
		c.remove(path)
		return nil, false
	}

	if c.expired(entry) {
		c.logger.Debug("cache entry expired", "key", key, "url", entry.URL)
		c.remove(path)
		return nil, false
	}

	return entry.Metadata.Clone(), true
}

// Set stores metadata for url. Failed extractions are never stored and write
// errors are logged, not returned.
func (c *MetadataCache) Set(url string, md *models.Metadata) {
	if md == nil || models.IsFailureTitle(md.Title) {
		c.logger.Debug("refusing to cache failed extraction", "url", url)
		return
	}

	key := Key(url)
	data, err := json.MarshalIndent(CacheEntry{
		URL:      url,
		Metadata: md,
		StoredAt: c.now().UTC(),
	}, "", "  ")
	if err != nil {
		c.logger.Warn("failed to encode cache entry", "url", url, "error", err)
		return
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		c.logger.Warn("failed to write cache", "url", url, "error", err)
		return
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		os.Remove(tmpName)
		c.logger.Warn("failed to write cache", "url", url, "error", err)
		return
	}

	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		c.logger.Warn("failed to write cache", "url", url, "error", err)
	}
}

// ClearExpired removes expired and unreadable entries and returns how many were removed.
func (c *MetadataCache) ClearExpired() int {
	removed := 0
	for _, path := range c.entries() {
		key := strings.TrimSuffix(filepath.Base(path), entryExt)
		mu := c.lockFor(key)
		mu.Lock()

		entry, err := readEntry(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil || c.expired(entry):
			if c.remove(path) {
				removed++
			}
		}

		mu.Unlock()
	}

	if removed > 0 {
		c.logger.Info("cleared expired cache entries", "count", removed)
	}
	return removed
}

// ClearAll removes every entry regardless of age.
func (c *MetadataCache) ClearAll() int {
	removed := 0
	for _, path := range c.entries() {
		if c.remove(path) {
			removed++
		}
	}
	c.logger.Info("cleared cache", "count", removed)
	return removed
}

func (c *MetadataCache) Stats() CacheStats {
	paths := c.entries()
	stats := CacheStats{
		Total: len(paths),
		TTL:   c.ttl,
	}

	for _, path := range paths {
		entry, err := readEntry(path)
		if err != nil || c.expired(entry) {
			stats.Expired++
			continue
		}
		stats.Valid++
	}

	return stats
}

func (c *MetadataCache) expired(entry *CacheEntry) bool {
	return c.now().Sub(entry.StoredAt) > c.ttl
}

func (c *MetadataCache) path(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

func (c *MetadataCache) entries() []string {
	paths, err := filepath.Glob(filepath.Join(c.dir, "*"+entryExt))
	if err != nil {
		c.logger.Warn("failed to list cache entries", "error", err)
		return nil
	}
	return paths
}

func (c *MetadataCache) remove(path string) bool {
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove cache entry", "path", path, "error", err)
		}
		return false
	}
	return true
}

func (c *MetadataCache) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.locks[h.Sum32()%lockStripe]
}

func readEntry(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptEntry, err)
	}
	if entry.Metadata == nil || entry.StoredAt.IsZero() {
		return nil, errCorruptEntry
	}

	return &entry, nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
