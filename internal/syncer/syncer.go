// Package syncer keeps the photo cache in line with the remote album.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/photosync/internal/cache"
	"github.com/lucasew/photosync/internal/errutil"
	"github.com/lucasew/photosync/internal/remote"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultInterval = time.Minute
	DefaultTimeout  = 30 * time.Second
	DefaultWorkers  = 4
)

// Cache is the part of cache.Cache the syncer writes to.
type Cache interface {
	Put(key, remoteID string, data []byte) error
	Track(key, remoteID string)
	Forget(key string) bool
	RemoteID(key string) (string, bool)
	KnownKeys() []string
}

// Options configures a Syncer.
type Options struct {
	Album string

	// Interval between two passes. Zero means DefaultInterval.
	Interval time.Duration

	// Timeout bounds each remote call. Zero means DefaultTimeout.
	Timeout time.Duration

	// MinItems skips a pass when the listing holds fewer photos.
	// Zero disables the check.
	MinItems int

	// Workers caps concurrent downloads within a pass. Zero means DefaultWorkers.
	Workers int
}

// Result summarizes one pass.
type Result struct {
	Listed   int
	Added    int
	Removed  int
	Failed   int
	Oversize int

	// Skipped is set when the listing was too small to be trusted.
	Skipped bool
}

// Syncer reconciles the cache index against the remote album.
type Syncer struct {
	cache Cache
	index remote.Index
	opts  Options

	// mu keeps passes from overlapping.
	mu sync.Mutex
}

func New(c Cache, index remote.Index, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Syncer{
		cache: c,
		index: index,
		opts:  opts,
	}
}

// Start runs a pass immediately and then once per interval until ctx is done.
// Pass failures are logged, they never stop the loop.
func (s *Syncer) Start(ctx context.Context) {
	slog.Info("Starting sync loop", "album", s.opts.Album, "interval", s.opts.Interval)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Sync loop stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Syncer) runLogged(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			errutil.ReportError(fmt.Errorf("panic: %v", r), "Sync pass crashed")
		}
	}()

	start := time.Now()
	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		errutil.ReportError(err, "Sync pass failed", "album", s.opts.Album)
		return
	}
	if res.Skipped {
		return
	}
	slog.Info("Index synced",
		"total", res.Listed,
		"new", res.Added,
		"removed", res.Removed,
		"failed", res.Failed,
		"oversize", res.Oversize,
		"took", time.Since(start),
	)
}

// RunOnce performs a single reconciliation pass.
//
// A listing failure leaves the cache untouched. A failed download only
// skips that photo; it stays unknown and is retried by the next pass.
func (s *Syncer) RunOnce(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	photos, err := s.index.List(listCtx, s.opts.Album)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("failed to list album %q: %w", s.opts.Album, err)
	}

	res := Result{Listed: len(photos)}
	if len(photos) < s.opts.MinItems {
		slog.Warn("Too few photos in album, skipping sync", "count", len(photos), "min", s.opts.MinItems)
		res.Skipped = true
		return res, nil
	}

	listed := make(map[string]struct{}, len(photos))
	for _, p := range photos {
		listed[p.Key] = struct{}{}
	}

	known := make(map[string]struct{})
	for _, key := range s.cache.KnownKeys() {
		if _, ok := listed[key]; ok {
			known[key] = struct{}{}
			continue
		}
		s.cache.Forget(key)
		res.Removed++
		slog.Info("Removed photo", "key", key)
	}

	// Downloads run in parallel but are stored in listing order: each task
	// waits for its predecessor before touching the cache, so eviction under
	// pressure does not depend on the worker count. The chain also serializes
	// the updates to res.
	prev := make(chan struct{})
	close(prev)

	p := pool.New().WithMaxGoroutines(s.opts.Workers).WithContext(ctx)
	for _, photo := range photos {
		if ctx.Err() != nil {
			break
		}

		if _, ok := known[photo.Key]; ok {
			if id, _ := s.cache.RemoteID(photo.Key); id != photo.RemoteID {
				s.cache.Track(photo.Key, photo.RemoteID)
			}
			continue
		}

		wait, done := prev, make(chan struct{})
		prev = done
		p.Go(func(ctx context.Context) error {
			defer close(done)

			var data []byte
			err := ctx.Err()
			if err == nil {
				data, err = s.fetch(ctx, photo)
			}

			<-wait
			// Failures caused by a canceled pass are not counted.
			if ctx.Err() != nil && err != nil {
				return nil
			}
			if err == nil {
				err = s.store(photo, data)
			}

			switch {
			case err == nil:
				res.Added++
			case errors.Is(err, cache.ErrEntryTooLarge):
				// Known from now on so it is not downloaded again every pass.
				s.cache.Track(photo.Key, photo.RemoteID)
				res.Oversize++
				errutil.LogMsg(err, "Photo does not fit in cache", "key", photo.Key)
			default:
				res.Failed++
				errutil.LogMsg(err, "Failed to cache photo", "key", photo.Key)
			}
			return nil
		})
	}
	// Tasks report through res and never fail the pool.
	_ = p.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Syncer) fetch(ctx context.Context, p remote.Photo) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.index.Fetch(ctx, p.RemoteID)
}

func (s *Syncer) store(p remote.Photo, data []byte) error {
	if err := s.cache.Put(p.Key, p.RemoteID, data); err != nil {
		return err
	}
	s.cache.Track(p.Key, p.RemoteID)

	slog.Info("Cached photo", "key", p.Key, "size", humanize.IBytes(uint64(len(data))))
	return nil
}
