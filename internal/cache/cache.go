// Package cache implements the Artifact Cache: a
// content-addressable local store with LRU eviction, hit/miss accounting,
// and hook points for an optional remote tier shared across workers.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"

	"go.buildorc.dev/internal/hash"
	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/metrics"
	"go.buildorc.dev/internal/model"
)

// RemoteTier is the optional shared-cache hook point. A cache
// built without one behaves correctly as a purely local cache.
type RemoteTier interface {
	FetchRemote(key string) (io.ReadCloser, bool, error)
	PushRemote(key string, r io.Reader) error
}

// nopRemoteTier is the default stub: no remote tier is configured.
type nopRemoteTier struct{}

func (nopRemoteTier) FetchRemote(string) (io.ReadCloser, bool, error) { return nil, false, nil }
func (nopRemoteTier) PushRemote(string, io.Reader) error              { return nil }

// maxRecency bounds the internal LRU index; evict() is what actually bounds
// disk usage, this just needs to be large enough to never auto-evict on us.
const maxRecency = 1 << 20

// evictionThreshold is the default fraction of maxBytes at which a store()
// opportunistically evicts before accepting a new entry.
const evictionThreshold = 0.9

// Cache is the Artifact Cache. All mutations serialize on mu; readers observe
// atomic updates to (entries, totalSize).
type Cache struct {
	mu sync.Mutex

	dir       string
	maxBytes  int64
	maxAge    time.Duration
	entries   map[string]*model.ArtifactEntry
	recency   *lru.Cache // key -> struct{}, used only for touch ordering
	totalSize int64
	stats     model.CacheStats
	remote    RemoteTier
	metrics   *metrics.Registry
	log       log.Logger
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithRemoteTier installs a remote cache tier.
func WithRemoteTier(r RemoteTier) Option {
	return func(c *Cache) { c.remote = r }
}

// WithMaxAge sets the age past which cleanup() reclaims an entry.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

// WithMetrics publishes hit/miss/eviction counts to m as they happen.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a Cache rooted at dir, bounded to maxBytes on disk.
func New(dir string, maxBytes int64, logger log.Logger, opts ...Option) (*Cache, error) {
	if logger == nil {
		logger = log.Nop()
	}
	recency, err := lru.New(maxRecency)
	if err != nil {
		return nil, fmt.Errorf("cache: building recency index: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating cache dir: %w", err)
	}
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		maxAge:   30 * 24 * time.Hour,
		entries:  make(map[string]*model.ArtifactEntry),
		recency:  recency,
		remote:   nopRemoteTier{},
		log:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// subdir returns the two-hex-char fan-out directory for key.
func subdir(key string) string {
	if len(key) < 2 {
		return "00"
	}
	return key[:2]
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, subdir(key), key)
}

// Lookup reports whether key is present locally, remotely, or not at all,
// and touches LastAccessed/AccessCount on a local hit.
func (c *Cache) Lookup(key string) model.LookupResult {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		entry.LastAccessed = time.Now()
		entry.AccessCount++
		c.recency.Add(key, struct{}{})
		c.stats.Hits++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return model.HitLocal
	}
	c.stats.Misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	if _, ok, err := c.remote.FetchRemote(key); err == nil && ok {
		return model.HitRemote
	}
	return model.Miss
}

// Get returns a copy of the entry for key, or nil if absent. Unlike Lookup it
// does not count as a hit/miss and does not touch recency.
func (c *Cache) Get(key string) *model.ArtifactEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Contains reports whether key has a live local entry.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Retrieve copies the cached blob for key to dstPath, returning false if key
// is not present locally.
func (c *Cache) Retrieve(key, dstPath string) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	src, err := os.Open(entry.CachedPath)
	if err != nil {
		return false, fmt.Errorf("cache: opening cached blob: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return false, fmt.Errorf("cache: creating destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return false, fmt.Errorf("cache: copying blob: %w", err)
	}
	return true, nil
}

// Store computes the content hash of srcPath and registers it under key,
// copying the blob into the two-byte fan-out subdirectory. Storing an
// existing key is idempotent: it touches access time and returns the
// existing entry rather than re-copying.
func (c *Cache) Store(key, srcPath string, typ model.ArtifactType) (*model.ArtifactEntry, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return nil, fmt.Errorf("cache: store source missing: %w", err)
	}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		existing.LastAccessed = time.Now()
		existing.AccessCount++
		c.recency.Add(key, struct{}{})
		cp := *existing
		c.mu.Unlock()
		return &cp, nil
	}
	c.mu.Unlock()

	contentHash, err := hash.File(srcPath)
	if err != nil {
		return nil, fmt.Errorf("cache: hashing source: %w", err)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("cache: stat source: %w", err)
	}

	if err := c.maybeEvictBeforeStore(info.Size()); err != nil {
		c.log.Warnw("eviction before store failed", "err", err)
	}

	destPath := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating fan-out dir: %w", err)
	}
	if err := copyFile(srcPath, destPath); err != nil {
		return nil, fmt.Errorf("cache: copying blob into cache: %w", err)
	}

	now := time.Now()
	entry := &model.ArtifactEntry{
		CacheKey:     key,
		ContentHash:  contentHash,
		Type:         typ,
		SizeBytes:    info.Size(),
		CachedPath:   destPath,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.recency.Add(key, struct{}{})
	c.totalSize += entry.SizeBytes
	c.stats.Stores++
	c.stats.TotalSize = c.totalSize
	c.stats.EntryCount = int64(len(c.entries))
	cp := *entry
	c.mu.Unlock()

	c.log.Infow("stored artifact", "key", key, "size", humanize.Bytes(uint64(entry.SizeBytes)))
	return &cp, nil
}

// StoreBuffer stores raw bytes under key via a temp file, then delegates to
// Store.
func (c *Cache) StoreBuffer(key string, data []byte, typ model.ArtifactType) (*model.ArtifactEntry, error) {
	tmp, err := os.CreateTemp("", "buildorc-cache-*")
	if err != nil {
		return nil, fmt.Errorf("cache: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("cache: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("cache: closing temp file: %w", err)
	}
	return c.Store(key, tmpPath, typ)
}

// Delete removes key from the cache, both metadata and blob.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, key)
	c.recency.Remove(key)
	c.totalSize -= entry.SizeBytes
	c.stats.TotalSize = c.totalSize
	c.stats.EntryCount = int64(len(c.entries))
	c.mu.Unlock()

	if err := os.Remove(entry.CachedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: removing blob: %w", err)
	}
	return nil
}

// Clear empties the cache entirely.
func (c *Cache) Clear() error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		if err := c.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of the accumulated counters.
func (c *Cache) Stats() model.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) maybeEvictBeforeStore(incoming int64) error {
	c.mu.Lock()
	projected := c.totalSize + incoming
	threshold := int64(float64(c.maxBytes) * evictionThreshold)
	needsEviction := c.maxBytes > 0 && projected > threshold
	c.mu.Unlock()
	if !needsEviction {
		return nil
	}
	_, err := c.Evict(projected - threshold)
	return err
}

// Evict removes entries in increasing LastAccessed order until at least
// targetFreeBytes has been freed, breaking ties by smaller AccessCount then
// older CreatedAt. Returns the number of bytes actually freed.
func (c *Cache) Evict(targetFreeBytes int64) (int64, error) {
	c.mu.Lock()
	keys := c.recency.Keys() // oldest to newest touch order
	candidates := make([]*model.ArtifactEntry, 0, len(keys))
	for _, k := range keys {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if e, ok := c.entries[key]; ok {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	c.mu.Unlock()

	var freed int64
	for _, e := range candidates {
		if freed >= targetFreeBytes {
			break
		}
		if err := c.Delete(e.CacheKey); err != nil {
			return freed, err
		}
		freed += e.SizeBytes
		c.mu.Lock()
		c.stats.Evictions++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}
	return freed, nil
}

// Cleanup removes entries older than the configured max age.
func (c *Cache) Cleanup() (int, error) {
	c.mu.Lock()
	now := time.Now()
	var stale []string
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.maxAge {
			stale = append(stale, k)
		}
	}
	c.mu.Unlock()

	for _, k := range stale {
		if err := c.Delete(k); err != nil {
			return len(stale), err
		}
	}
	return len(stale), nil
}

// Verify checks that every entry's CachedPath exists on disk, optionally
// repairing (removing) entries whose blob is gone. Returns the number of
// issues found.
func (c *Cache) Verify(repair bool) (int, error) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	issues := 0
	for _, k := range keys {
		c.mu.Lock()
		entry, ok := c.entries[k]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if _, err := os.Stat(entry.CachedPath); err != nil {
			issues++
			c.log.Warnw("cache entry missing blob", "key", k, "path", entry.CachedPath)
			if repair {
				if err := c.Delete(k); err != nil {
					return issues, err
				}
			}
		}
	}
	return issues, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
