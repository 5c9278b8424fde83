package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzhttp"
	"github.com/lucasew/photosync/internal/cache"
	"github.com/lucasew/photosync/internal/errutil"
	"github.com/lucasew/photosync/internal/remote"
	"github.com/lucasew/photosync/internal/repository"
)

const (
	contentType = "image/jpeg"
	extension   = ".jpg"
)

// Index exposes the read-only views of the cache the handler publishes.
type Index interface {
	Stats() cache.Stats
	KnownKeys() []string
	ListKeys() []string
}

// PhotoHandler serves the album over HTTP.
//
// Routes:
//
//	GET /files              a random cached photo
//	GET /files/list         every known photo as "<key>.jpg"
//	GET /files/{key}[.jpg]  one photo, downloaded first if it was evicted
//	GET /cache/stats        cache counters
//	GET /cache/keys         cached keys, most recently used first
type PhotoHandler struct {
	Photos *repository.Photos
	Index  Index

	mux *http.ServeMux
}

func NewPhotoHandler(photos *repository.Photos, index Index) *PhotoHandler {
	h := &PhotoHandler{
		Photos: photos,
		Index:  index,
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /files", h.serveRandom)
	h.mux.HandleFunc("GET /files/{name}", h.servePhoto)

	// Photos are already compressed, listings are not.
	h.mux.Handle("GET /files/list", gzhttp.GzipHandler(http.HandlerFunc(h.serveList)))
	h.mux.Handle("GET /cache/stats", gzhttp.GzipHandler(http.HandlerFunc(h.serveStats)))
	h.mux.Handle("GET /cache/keys", gzhttp.GzipHandler(http.HandlerFunc(h.serveKeys)))
	return h
}

func (h *PhotoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *PhotoHandler) serveRandom(w http.ResponseWriter, r *http.Request) {
	photo, err := h.Photos.Random(r.Context())
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	writePhoto(w, r, photo)
}

// servePhoto handles /files/{key} and /files/{key}.jpg.
//
// HEAD only answers from the cache so probing never triggers a download.
func (h *PhotoHandler) servePhoto(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSuffix(r.PathValue("name"), extension)
	if key == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	var (
		photo repository.Photo
		err   error
	)
	if r.Method == http.MethodHead {
		photo, err = h.Photos.Lookup(key)
	} else {
		photo, err = h.Photos.Get(r.Context(), key)
	}
	if err != nil {
		h.writeError(w, err, key)
		return
	}
	writePhoto(w, r, photo)
}

func (h *PhotoHandler) serveList(w http.ResponseWriter, r *http.Request) {
	keys := h.Index.KnownKeys()
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key + extension
	}
	writeJSON(w, names)
}

func (h *PhotoHandler) serveStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Index.Stats())
}

func (h *PhotoHandler) serveKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Index.ListKeys())
}

func (h *PhotoHandler) writeError(w http.ResponseWriter, err error, key string) {
	switch {
	case errors.Is(err, cache.ErrCacheEmpty):
		http.Error(w, "No photos cached yet", http.StatusServiceUnavailable)
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, remote.ErrNotFound):
		slog.Debug("Photo not found", "key", key)
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, remote.ErrUnavailable):
		errutil.LogMsg(err, "Failed to download photo", "key", key)
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		errutil.ReportError(err, "Failed to serve photo", "key", key)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writePhoto(w http.ResponseWriter, r *http.Request, photo repository.Photo) {
	etag := strconv.Quote(photo.ETag)

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if photo.Hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	if matchETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", photo.Key+extension))
	w.Header().Set("Content-Length", strconv.Itoa(len(photo.Bytes)))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	_, err := w.Write(photo.Bytes)
	errutil.LogMsg(err, "Failed to write photo", "key", photo.Key)
}

func matchETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	errutil.LogMsg(json.NewEncoder(w).Encode(v), "Failed to write JSON response")
}
