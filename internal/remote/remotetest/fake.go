// Package remotetest provides an in-memory remote.Index for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lucasew/photosync/internal/remote"
)

// Fake is a scripted remote.Index. The zero value lists nothing.
type Fake struct {
	mu       sync.Mutex
	photos   []remote.Photo
	data     map[string][]byte // remote id -> bytes
	listErr  error
	fetchErr map[string]error

	// Block, when set, is waited on by Fetch before answering.
	Block chan struct{}

	lists   int
	fetches map[string]int
}

// New returns a Fake serving the given photos.
func New() *Fake {
	return &Fake{
		data:     map[string][]byte{},
		fetchErr: map[string]error{},
		fetches:  map[string]int{},
	}
}

// RemoteID is the id Add assigns to key.
func RemoteID(key string) string {
	return "uid-" + key
}

// Add appends a photo to the album listing.
func (f *Fake) Add(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, remote.Photo{Key: key, RemoteID: RemoteID(key)})
	f.data[RemoteID(key)] = data
}

// SetAlbum replaces the listing with keys, each photo holding its key as bytes.
func (f *Fake) SetAlbum(keys ...string) {
	f.mu.Lock()
	f.photos = nil
	f.mu.Unlock()
	for _, k := range keys {
		f.Add(k, []byte(k))
	}
}

// FailList makes List return err; nil restores it.
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailFetch makes Fetch of key return err; nil restores it.
func (f *Fake) FailFetch(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fetchErr, RemoteID(key))
		return
	}
	f.fetchErr[RemoteID(key)] = err
}

// Lists returns how many times List was called.
func (f *Fake) Lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// Fetches returns how many times key was downloaded.
func (f *Fake) Fetches(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[RemoteID(key)]
}

func (f *Fake) List(ctx context.Context, album string) ([]remote.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]remote.Photo(nil), f.photos...), nil
}

func (f *Fake) Fetch(ctx context.Context, remoteID string) ([]byte, error) {
	f.mu.Lock()
	f.fetches[remoteID]++
	block := f.Block
	err := f.fetchErr[remoteID]
	data, ok := f.data[remoteID]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", remote.ErrUnavailable, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrNotFound, remoteID)
	}
	return data, nil
}
