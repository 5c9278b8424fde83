// Package remote defines what the cache needs from the photo origin and
// implements it for Synology Photos.
package remote

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the origin cannot be reached or refuses
	// the credentials.
	ErrUnavailable = errors.New("remote unavailable")

	// ErrNotFound is returned when a photo disappeared between listing and download.
	ErrNotFound = errors.New("remote photo not found")
)

// Photo names one photo of an album.
type Photo struct {
	// Key is the stable identifier used as cache key and URL segment.
	Key string

	// RemoteID is opaque outside the Index that produced it.
	RemoteID string
}

// Index lists an album and downloads its photos.
//
// Implementations must be safe for concurrent use and must honour ctx.
type Index interface {
	List(ctx context.Context, album string) ([]Photo, error)
	Fetch(ctx context.Context, remoteID string) ([]byte, error)
}
