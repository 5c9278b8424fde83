// Package cache keeps photo bytes in memory under a fixed byte budget.
//
// A Cache holds two related but independent sets: the photos whose bytes are
// currently held (bounded, LRU ordered) and the index of photos the last sync
// confirmed to exist remotely, with the remote id needed to download each one.
// A photo can be indexed without being held, after it was evicted for space.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/lucasew/photosync/internal/errutil"
	"github.com/lucasew/photosync/internal/eviction"
	_ "github.com/lucasew/photosync/internal/eviction/lru"
	"github.com/lucasew/photosync/internal/eviction/policy"
	"github.com/lucasew/photosync/internal/eviction/policy/maxsize"
	"github.com/lucasew/photosync/internal/hashutil"
)

var (
	// ErrNotFound is returned when a key is not held by the cache.
	ErrNotFound = errors.New("photo not found")

	// ErrEntryTooLarge is returned when a single photo exceeds the whole capacity.
	ErrEntryTooLarge = errors.New("entry too large")

	// ErrCacheEmpty is returned by RandomKey when nothing is cached.
	ErrCacheEmpty = errors.New("cache empty")

	// ErrNotTracked is returned by PutIfTracked when the index no longer
	// maps the key to the given remote id.
	ErrNotTracked = errors.New("photo not tracked")
)

// verifyEntries makes every mutation re-sum all entry sizes. Tests turn it on.
var verifyEntries bool

// Entry is a cached photo. Entries are never modified after insertion
// except for LastAccess; replacing a photo inserts a new Entry.
type Entry struct {
	Key      string
	RemoteID string
	Bytes    []byte
	Size     int64
	ETag     string

	// LastAccess is a logical clock value, bumped on insertion and on every read.
	LastAccess uint64
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Entries     int     `json:"entry_count"`
	Indexed     int     `json:"indexed"`
	TotalBytes  int64   `json:"total_bytes"`
	MaxBytes    int64   `json:"max_bytes"`
	Utilization float64 `json:"utilization_ratio"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Stores      int64   `json:"stores"`
	Evictions   int64   `json:"evictions"`
	Removals    int64   `json:"removals"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithStrategy replaces the default LRU ordering.
func WithStrategy(s eviction.Strategy) Option {
	return func(c *Cache) {
		c.strategy = s
	}
}

// Cache is a size-bounded photo store safe for concurrent use.
//
// Every method takes the same lock, so each call is atomic on its own.
// Nothing here performs network I/O.
type Cache struct {
	maxBytes int64
	policy   policy.Policy

	mu         sync.Mutex
	strategy   eviction.Strategy
	entries    map[string]*Entry
	known      map[string]string
	totalBytes int64
	clock      uint64
	stats      Stats
}

// New creates a cache holding at most maxBytes of photo data.
func New(maxBytes int64, opts ...Option) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("invalid cache capacity: %d", maxBytes)
	}

	c := &Cache{
		maxBytes: maxBytes,
		policy:   &maxsize.Policy{MaxBytes: maxBytes},
		entries:  make(map[string]*Entry),
		known:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.strategy == nil {
		strat, err := eviction.GetStrategy(eviction.DefaultStrategy)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize eviction strategy: %w", err)
		}
		c.strategy = strat
	}

	return c, nil
}

// Get returns the cached photo and marks it most recently used.
func (c *Cache) Get(key string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	c.clock++
	e.LastAccess = c.clock
	c.strategy.OnAccess(key)
	c.stats.Hits++

	return *e, nil
}

// Peek returns the cached photo without touching recency or counters.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Put inserts or replaces a photo, evicting least recently used photos
// until the cache fits its capacity again.
//
// The cache keeps data as given; callers must not modify it afterwards.
// A photo larger than the whole capacity is rejected with ErrEntryTooLarge
// and the cache is left untouched.
func (c *Cache) Put(key, remoteID string, data []byte) error {
	return c.put(key, remoteID, data, false)
}

// PutIfTracked is Put for downloads that raced the index: it only inserts
// while the index still maps key to remoteID, and fails with ErrNotTracked
// otherwise. The check and the insertion happen under one lock, so a photo
// forgotten in the meantime is never brought back.
func (c *Cache) PutIfTracked(key, remoteID string, data []byte) error {
	return c.put(key, remoteID, data, true)
}

func (c *Cache) put(key, remoteID string, data []byte, tracked bool) error {
	size := int64(len(data))
	if !c.policy.Admits(size) {
		return fmt.Errorf("%w: %s is %d bytes, capacity is %d", ErrEntryTooLarge, key, size, c.maxBytes)
	}

	etag, err := hashutil.Sum(hashutil.Default, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tracked {
		if id, ok := c.known[key]; !ok || id != remoteID {
			return fmt.Errorf("%w: %s", ErrNotTracked, key)
		}
	}

	if _, ok := c.entries[key]; ok {
		c.deleteLocked(key)
	}

	c.clock++
	c.entries[key] = &Entry{
		Key:        key,
		RemoteID:   remoteID,
		Bytes:      data,
		Size:       size,
		ETag:       etag,
		LastAccess: c.clock,
	}
	c.totalBytes += c.strategy.OnAdd(key, size)
	c.stats.Stores++

	c.evictLocked()
	c.checkLocked()

	slog.Debug("Cached photo", "key", key, "size", size, "total_bytes", c.totalBytes)
	return nil
}

// EvictOne drops the least recently used photo and returns its key.
// ok is false when the cache is empty.
func (c *Cache) EvictOne() (key string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok = c.evictOneLocked()
	c.checkLocked()
	return key, ok
}

// Remove drops a photo regardless of its recency. Removing an absent key
// is a no-op. Removals are not counted as evictions.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	c.checkLocked()
}

// ListKeys returns the cached keys, most recently used first.
// The order is meant for display only.
func (c *Cache) ListKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Keys()
}

// RandomKey picks one of the cached keys uniformly.
func (c *Cache) RandomKey() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return "", ErrCacheEmpty
	}

	n := rand.IntN(len(c.entries))
	for key := range c.entries {
		if n == 0 {
			return key, nil
		}
		n--
	}
	panic("unreachable")
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	s.Indexed = len(c.known)
	s.TotalBytes = c.totalBytes
	s.MaxBytes = c.maxBytes
	s.Utilization = float64(c.totalBytes) / float64(c.maxBytes)
	return s
}

// Track records that key exists remotely under remoteID.
func (c *Cache) Track(key, remoteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[key] = remoteID
}

// Forget drops key from the index and removes its bytes, if held, in one step.
// It reports whether the key was indexed.
func (c *Cache) Forget(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, indexed := c.known[key]
	delete(c.known, key)
	c.removeLocked(key)
	c.checkLocked()
	return indexed
}

// RemoteID returns the remote id the index holds for key.
func (c *Cache) RemoteID(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.known[key]
	return id, ok
}

// KnownKeys returns every indexed key, sorted.
func (c *Cache) KnownKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.known))
	for key := range c.known {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (c *Cache) evictLocked() {
	for {
		toFree, err := c.policy.BytesToFree(c.totalBytes)
		if err != nil {
			errutil.ReportError(err, "Failed to check capacity policy")
			return
		}
		if toFree <= 0 {
			return
		}
		if _, ok := c.evictOneLocked(); !ok {
			return
		}
	}
}

func (c *Cache) evictOneLocked() (string, bool) {
	victim, ok := c.strategy.Victim()
	if !ok {
		return "", false
	}

	c.deleteLocked(victim.Key)
	c.stats.Evictions++
	slog.Debug("Evicted photo", "key", victim.Key, "size", victim.Size)
	return victim.Key, true
}

func (c *Cache) removeLocked(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	c.deleteLocked(key)
	c.stats.Removals++
}

// deleteLocked drops an entry that is known to be present.
func (c *Cache) deleteLocked(key string) {
	e := c.entries[key]
	delete(c.entries, key)
	c.strategy.Remove(key)
	c.totalBytes -= e.Size
}

func (c *Cache) checkLocked() {
	sum := c.totalBytes
	if verifyEntries {
		sum = 0
		for _, e := range c.entries {
			sum += e.Size
		}
	}
	errutil.Assert(
		sum == c.totalBytes && c.totalBytes >= 0 && c.totalBytes <= c.maxBytes &&
			c.strategy.Len() == len(c.entries),
		"Cache accounting out of sync",
		"total_bytes", c.totalBytes,
		"sum_bytes", sum,
		"max_bytes", c.maxBytes,
		"entries", len(c.entries),
		"tracked", c.strategy.Len(),
	)
}
