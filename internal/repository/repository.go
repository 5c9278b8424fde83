package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasew/photosync/internal/cache"
	"github.com/lucasew/photosync/internal/hashutil"
	"github.com/lucasew/photosync/internal/remote"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a miss-path download.
const DefaultTimeout = 30 * time.Second

// randomAttempts bounds how often Random retries when the picked photo
// disappears before it could be read.
const randomAttempts = 3

// Cache is the part of cache.Cache the facade reads and fills.
type Cache interface {
	Get(key string) (cache.Entry, error)
	Peek(key string) (cache.Entry, bool)
	PutIfTracked(key, remoteID string, data []byte) error
	RemoteID(key string) (string, bool)
	RandomKey() (string, error)
}

// Photo is a photo ready to be served.
type Photo struct {
	Key   string
	Bytes []byte
	ETag  string

	// Hit is set when the bytes came from the cache without a download.
	Hit bool
}

func fromEntry(e cache.Entry) Photo {
	return Photo{
		Key:   e.Key,
		Bytes: e.Bytes,
		ETag:  e.ETag,
		Hit:   true,
	}
}

// Photos serves photos from the cache, downloading known photos that were
// evicted.
type Photos struct {
	cache   Cache
	index   remote.Index
	timeout time.Duration
	g       singleflight.Group
}

func NewPhotos(c Cache, index remote.Index, timeout time.Duration) *Photos {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Photos{
		cache:   c,
		index:   index,
		timeout: timeout,
	}
}

// Lookup returns a photo only if it is cached.
func (p *Photos) Lookup(key string) (Photo, error) {
	e, err := p.cache.Get(key)
	if err != nil {
		return Photo{}, err
	}
	return fromEntry(e), nil
}

// Get returns the photo for key.
//
// A cache miss on a known key downloads the photo and stores it. Keys the
// index does not know fail with cache.ErrNotFound without touching the remote.
//
// Concurrent misses for the same key share one download. The download keeps
// running when ctx is canceled so the other waiters and the cache still get it.
func (p *Photos) Get(ctx context.Context, key string) (Photo, error) {
	if e, err := p.cache.Get(key); err == nil {
		slog.Debug("Cache hit", "key", key)
		return fromEntry(e), nil
	}

	remoteID, ok := p.cache.RemoteID(key)
	if !ok {
		return Photo{}, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}

	slog.Info("Cache miss", "key", key)

	ch := p.g.DoChan(key, func() (interface{}, error) {
		return p.fetch(context.WithoutCancel(ctx), key, remoteID)
	})

	select {
	case <-ctx.Done():
		return Photo{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Photo{}, res.Err
		}
		return res.Val.(Photo), nil
	}
}

// fetch downloads one photo and stores it. It runs inside the flight for key.
func (p *Photos) fetch(ctx context.Context, key, remoteID string) (Photo, error) {
	// A previous flight may have stored it in between.
	if e, ok := p.cache.Peek(key); ok {
		return fromEntry(e), nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := p.index.Fetch(ctx, remoteID)
	if err != nil {
		return Photo{}, fmt.Errorf("failed to download %s: %w", key, err)
	}

	etag, err := hashutil.Sum(hashutil.Default, data)
	if err != nil {
		return Photo{}, err
	}
	photo := Photo{
		Key:   key,
		Bytes: data,
		ETag:  etag,
	}

	// A sync pass may have dropped the photo while it was downloading.
	err = p.cache.PutIfTracked(key, remoteID, data)
	switch {
	case err == nil:
		slog.Info("Stored photo", "key", key, "size", len(data))
	case errors.Is(err, cache.ErrNotTracked):
		slog.Info("Photo left the album during download", "key", key)
		return Photo{}, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	case errors.Is(err, cache.ErrEntryTooLarge):
		slog.Warn("Serving photo without caching it", "key", key, "size", len(data), "error", err)
	default:
		return Photo{}, err
	}

	return photo, nil
}

// Random returns one cached photo picked uniformly. It fails with
// cache.ErrCacheEmpty when nothing is cached and never downloads.
func (p *Photos) Random(ctx context.Context) (Photo, error) {
	var lastErr error
	for range randomAttempts {
		if err := ctx.Err(); err != nil {
			return Photo{}, err
		}

		key, err := p.cache.RandomKey()
		if err != nil {
			return Photo{}, err
		}

		photo, err := p.Lookup(key)
		if err == nil {
			return photo, nil
		}
		// Evicted or removed between the pick and the read.
		lastErr = err
	}
	return Photo{}, lastErr
}
