package photosync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func etag(b []byte) string {
	sum := sha256.Sum256(b)
	return strconv.Quote(hex.EncodeToString(sum[:]))
}

func photoServer(t *testing.T, photos map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/files/"):]
		key = key[:len(key)-len(".jpg")]
		data, ok := photos[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", etag(data))
		if _, err := w.Write(data); err != nil {
			t.Errorf("failed to write content: %v", err)
		}
	}))
}

func TestClient_Fetch(t *testing.T) {
	content := []byte("jpeg bytes")

	t.Run("Success", func(t *testing.T) {
		ts := photoServer(t, map[string][]byte{"p1": content})
		defer ts.Close()

		c := NewClient(nil, []string{ts.URL})
		var out bytes.Buffer
		if err := c.Fetch(t.Context(), "p1", &out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.String() != string(content) {
			t.Errorf("got %q, want %q", out.String(), string(content))
		}
	})

	t.Run("Fallback To Next Server", func(t *testing.T) {
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer broken.Close()
		ts := photoServer(t, map[string][]byte{"p1": content})
		defer ts.Close()

		c := NewClient(nil, []string{broken.URL, ts.URL})
		var out bytes.Buffer
		if err := c.Fetch(t.Context(), "p1", &out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.String() != string(content) {
			t.Errorf("got %q, want %q", out.String(), string(content))
		}
	})

	t.Run("Digest Mismatch Is Partial", func(t *testing.T) {
		liar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", etag(content))
			if _, err := w.Write([]byte("corrupted")); err != nil {
				t.Errorf("failed to write content: %v", err)
			}
		}))
		defer liar.Close()
		ts := photoServer(t, map[string][]byte{"p1": content})
		defer ts.Close()

		c := NewClient(nil, []string{liar.URL, ts.URL})
		var out bytes.Buffer
		err := c.Fetch(t.Context(), "p1", &out)
		if !errors.Is(err, ErrPartialWrite) {
			t.Errorf("expected ErrPartialWrite, got %v", err)
		}
		if !errors.Is(err, ErrDigestMismatch) {
			t.Errorf("expected ErrDigestMismatch, got %v", err)
		}
		if out.String() != "corrupted" {
			t.Errorf("got %q, want %q", out.String(), "corrupted")
		}
	})

	t.Run("All Servers Failed", func(t *testing.T) {
		ts := photoServer(t, nil)
		defer ts.Close()

		c := NewClient(nil, []string{ts.URL})
		err := c.Fetch(t.Context(), "missing", &bytes.Buffer{})
		if !errors.Is(err, ErrAllServersFailed) {
			t.Errorf("expected ErrAllServersFailed, got %v", err)
		}
		var httpErr *HTTPStatusError
		if !errors.As(err, &httpErr) {
			t.Fatalf("expected HTTPStatusError, got %T: %v", err, err)
		}
		if httpErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", httpErr.StatusCode)
		}
	})

	t.Run("No Servers", func(t *testing.T) {
		c := NewClient(nil, nil)
		if err := c.Fetch(t.Context(), "p1", &bytes.Buffer{}); !errors.Is(err, ErrNoServers) {
			t.Errorf("expected ErrNoServers, got %v", err)
		}
	})
}

func TestClient_Random(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Disposition", `inline; filename="IMG_0001.jpg"`)
		if _, err := w.Write([]byte("random")); err != nil {
			t.Errorf("failed to write content: %v", err)
		}
	}))
	defer ts.Close()

	c := NewClient(nil, []string{ts.URL})
	var out bytes.Buffer
	key, err := c.Random(t.Context(), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "IMG_0001" {
		t.Errorf("expected key IMG_0001, got %q", key)
	}
	if out.String() != "random" {
		t.Errorf("got %q, want %q", out.String(), "random")
	}
}

func TestClient_ListAndStats(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/list":
			_, _ = w.Write([]byte(`["a.jpg","b.jpg"]`))
		case "/cache/stats":
			_, _ = w.Write([]byte(`{"entry_count":2,"indexed":3,"total_bytes":10,"max_bytes":100}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	c := NewClient(nil, []string{down.URL, ts.URL})

	keys, err := c.List(t.Context())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("expected [a b], got %v", keys)
	}

	stats, err := c.Stats(t.Context())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Entries != 2 || stats.Indexed != 3 || stats.TotalBytes != 10 || stats.MaxBytes != 100 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestParseServers(t *testing.T) {
	servers, err := ParseServers(`"http://a:5000", "http://b:5000", 42`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 2 || servers[0] != "http://a:5000" || servers[1] != "http://b:5000" {
		t.Errorf("unexpected servers %v", servers)
	}

	if servers, err := ParseServers(""); err != nil || servers != nil {
		t.Errorf("expected no servers, got %v, %v", servers, err)
	}

	if _, err := ParseServers(`"unterminated`); err == nil {
		t.Error("expected error for malformed list")
	}
}

func TestServersFromEnv(t *testing.T) {
	t.Setenv(ServerEnv, `"http://kitchen:5000"`)
	servers := ServersFromEnv()
	if len(servers) != 1 || servers[0] != "http://kitchen:5000" {
		t.Errorf("unexpected servers %v", servers)
	}

	t.Setenv(ServerEnv, `"broken`)
	if servers := ServersFromEnv(); servers != nil {
		t.Errorf("expected nil for malformed value, got %v", servers)
	}
}
