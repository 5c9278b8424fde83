package handler

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/lucasew/photosync/internal/cache"
	"github.com/lucasew/photosync/internal/remote"
	"github.com/lucasew/photosync/internal/remote/remotetest"
	"github.com/lucasew/photosync/internal/repository"
)

func newHandler(t *testing.T, capacity int64) (*PhotoHandler, *cache.Cache, *remotetest.Fake) {
	t.Helper()
	c, err := cache.New(capacity)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	fake := remotetest.New()
	photos := repository.NewPhotos(c, fake, time.Second)
	return NewPhotoHandler(photos, c), c, fake
}

func do(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPhotoHandler_Photo(t *testing.T) {
	h, c, fake := newHandler(t, 100)

	fake.Add("cached", []byte("hello"))
	c.Track("cached", remotetest.RemoteID("cached"))
	if err := c.Put("cached", remotetest.RemoteID("cached"), []byte("hello")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	fake.Add("evicted", []byte("world"))
	c.Track("evicted", remotetest.RemoteID("evicted"))

	t.Run("Cache Hit", func(t *testing.T) {
		w := do(h, http.MethodGet, "/files/cached", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d. Body: %s", w.Code, w.Body.String())
		}
		if w.Body.String() != "hello" {
			t.Errorf("expected body hello, got %s", w.Body.String())
		}
		if got := w.Header().Get("Content-Type"); got != "image/jpeg" {
			t.Errorf("expected image/jpeg, got %s", got)
		}
		if got := w.Header().Get("Content-Disposition"); got != `inline; filename="cached.jpg"` {
			t.Errorf("unexpected Content-Disposition %s", got)
		}
		if got := w.Header().Get("Content-Length"); got != "5" {
			t.Errorf("expected Content-Length 5, got %s", got)
		}
		if got := w.Header().Get("X-Cache"); got != "HIT" {
			t.Errorf("expected X-Cache HIT, got %s", got)
		}
		if w.Header().Get("ETag") == "" {
			t.Error("expected an ETag header")
		}
	})

	t.Run("Jpg Suffix", func(t *testing.T) {
		w := do(h, http.MethodGet, "/files/cached.jpg", nil)
		if w.Code != http.StatusOK || w.Body.String() != "hello" {
			t.Errorf("expected 200 hello, got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("Not Modified", func(t *testing.T) {
		etag := do(h, http.MethodGet, "/files/cached", nil).Header().Get("ETag")
		w := do(h, http.MethodGet, "/files/cached", http.Header{"If-None-Match": {etag}})
		if w.Code != http.StatusNotModified {
			t.Fatalf("expected status 304, got %d", w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("expected empty body, got %q", w.Body.String())
		}
	})

	t.Run("Head Does Not Download", func(t *testing.T) {
		w := do(h, http.MethodHead, "/files/evicted", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
		if n := fake.Fetches("evicted"); n != 0 {
			t.Errorf("HEAD must not download, got %d", n)
		}

		w = do(h, http.MethodHead, "/files/cached", nil)
		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("HEAD must not carry a body, got %q", w.Body.String())
		}
	})

	t.Run("Cache Miss", func(t *testing.T) {
		w := do(h, http.MethodGet, "/files/evicted.jpg", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d. Body: %s", w.Code, w.Body.String())
		}
		if w.Body.String() != "world" {
			t.Errorf("expected body world, got %s", w.Body.String())
		}
		if got := w.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("expected X-Cache MISS, got %s", got)
		}

		w = do(h, http.MethodGet, "/files/evicted.jpg", nil)
		if got := w.Header().Get("X-Cache"); got != "HIT" {
			t.Errorf("expected X-Cache HIT on the second read, got %s", got)
		}
	})

	t.Run("Unknown Key", func(t *testing.T) {
		w := do(h, http.MethodGet, "/files/nope.jpg", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})

	t.Run("Remote Failure", func(t *testing.T) {
		fake.Add("broken", []byte("x"))
		c.Track("broken", remotetest.RemoteID("broken"))
		fake.FailFetch("broken", remote.ErrUnavailable)

		w := do(h, http.MethodGet, "/files/broken", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestPhotoHandler_Random(t *testing.T) {
	h, c, _ := newHandler(t, 100)

	w := do(h, http.MethodGet, "/files", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 on empty cache, got %d", w.Code)
	}

	if err := c.Put("only", "id", []byte("one")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	w = do(h, http.MethodGet, "/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "one" {
		t.Errorf("expected body one, got %s", w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != `inline; filename="only.jpg"` {
		t.Errorf("unexpected Content-Disposition %s", got)
	}
}

func TestPhotoHandler_List(t *testing.T) {
	h, c, _ := newHandler(t, 100)
	c.Track("b", "id-b")
	c.Track("a", "id-a")

	w := do(h, http.MethodGet, "/files/list", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var names []string
	if err := json.Unmarshal(w.Body.Bytes(), &names); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(names) != 2 || names[0] != "a.jpg" || names[1] != "b.jpg" {
		t.Errorf("unexpected listing %v", names)
	}
}

func TestPhotoHandler_Cache(t *testing.T) {
	h, c, _ := newHandler(t, 100)
	c.Track("a", "id-a")
	for _, key := range []string{"a", "b"} {
		if err := c.Put(key, "id-"+key, []byte("1234")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if _, err := c.Get("a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	t.Run("Stats", func(t *testing.T) {
		w := do(h, http.MethodGet, "/cache/stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var stats map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		want := map[string]float64{
			"entry_count": 2,
			"indexed":     1,
			"total_bytes": 8,
			"max_bytes":   100,
		}
		for k, v := range want {
			if stats[k] != v {
				t.Errorf("expected %s=%v, got %v", k, v, stats[k])
			}
		}
	})

	t.Run("Keys", func(t *testing.T) {
		w := do(h, http.MethodGet, "/cache/keys", nil)
		var keys []string
		if err := json.Unmarshal(w.Body.Bytes(), &keys); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
			t.Errorf("expected [a b], got %v", keys)
		}
	})
}

func TestPhotoHandler_ListCompressed(t *testing.T) {
	h, c, _ := newHandler(t, 100)
	for i := range 200 {
		c.Track(fmt.Sprintf("IMG_%04d", i), "id")
	}

	w := do(h, http.MethodGet, "/files/list", http.Header{"Accept-Encoding": {"gzip"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", got)
	}

	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("invalid gzip body: %v", err)
	}
	var names []string
	if err := json.NewDecoder(zr).Decode(&names); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(names) != 200 || names[0] != "IMG_0000.jpg" {
		t.Errorf("unexpected listing of %d names starting with %v", len(names), names[:1])
	}
}

func TestMatchETag(t *testing.T) {
	etag := strconv.Quote("abc")
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc"`, true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{`"x"`, false},
		{"*", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := matchETag(tt.header, etag); got != tt.want {
				t.Errorf("matchETag(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}
