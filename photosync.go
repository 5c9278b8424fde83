// Package photosync is a client for photosync servers.
//
// Servers are tried in order; the next one is only used when the previous
// failed before writing anything.
package photosync

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/lucasew/photosync/internal/errutil"
	"github.com/lucasew/photosync/internal/hashutil"
	"github.com/shogo82148/go-sfv"
)

// ServerEnv lists the servers used by ServersFromEnv, as an RFC 8941 list
// of strings, e.g. `"http://kitchen:5000", "http://backup:5000"`.
const ServerEnv = "PHOTOS_SERVER"

const extension = ".jpg"

var (
	// ErrNoServers is returned when the client has no server to ask.
	ErrNoServers = errors.New("no servers configured")

	// ErrDigestMismatch is returned when the downloaded photo does not match
	// the ETag the server announced.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrPartialWrite is returned when data was already written to the output
	// before a failure occurred, making fallback to another server unsafe.
	ErrPartialWrite = errors.New("partial write")

	// ErrAllServersFailed is returned when no server could answer.
	ErrAllServersFailed = errors.New("all servers failed")
)

// HTTPStatusError is returned when a server responds with a non-200 status code.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Stats mirrors the /cache/stats document.
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

type Client struct {
	HTTP    *http.Client
	Servers []string
}

func NewClient(client *http.Client, servers []string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		HTTP:    client,
		Servers: servers,
	}
}

// ParseServers decodes a structured-field list of server URLs.
// Items that are not strings are ignored.
func ParseServers(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	list, err := sfv.DecodeList([]string{value})
	if err != nil {
		return nil, err
	}
	var servers []string
	for _, item := range list {
		if s, ok := item.Value.(string); ok {
			servers = append(servers, s)
		}
	}
	return servers, nil
}

// ServersFromEnv reads ServerEnv. A malformed value is logged and ignored.
func ServersFromEnv() []string {
	servers, err := ParseServers(os.Getenv(ServerEnv))
	if err != nil {
		errutil.LogMsg(err, "Failed to parse "+ServerEnv)
		return nil
	}
	return servers
}

// Fetch writes the photo stored under key to out.
func (c *Client) Fetch(ctx context.Context, key string, out io.Writer) error {
	_, err := c.download(ctx, "/files/"+url.PathEscape(key)+extension, out)
	return err
}

// Random writes a random cached photo to out and returns its key.
func (c *Client) Random(ctx context.Context, out io.Writer) (string, error) {
	return c.download(ctx, "/files", out)
}

// List returns the keys of every photo known to the first server that answers.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/files/list", &names); err != nil {
		return nil, err
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = strings.TrimSuffix(name, extension)
	}
	return keys, nil
}

// Stats returns the cache counters of the first server that answers.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.getJSON(ctx, "/cache/stats", &stats)
	return stats, err
}

func (c *Client) download(ctx context.Context, path string, out io.Writer) (string, error) {
	if len(c.Servers) == 0 {
		return "", ErrNoServers
	}

	cw := &countingWriter{Writer: out}
	var lastErr error

	for _, server := range c.Servers {
		var key string
		key, lastErr = c.downloadFrom(ctx, server, path, cw)
		if lastErr == nil {
			return key, nil
		}
		errutil.LogMsg(lastErr, "Failed to fetch from server", "server", server)
		if cw.N > 0 {
			return "", fmt.Errorf("%w: %w", ErrPartialWrite, lastErr)
		}
	}

	return "", fmt.Errorf("%w: %w", ErrAllServersFailed, lastErr)
}

func (c *Client) downloadFrom(ctx context.Context, server, path string, out io.Writer) (string, error) {
	resp, err := c.get(ctx, server, path)
	if err != nil {
		return "", err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	hasher, err := hashutil.GetHasher(hashutil.Default)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(io.MultiWriter(out, hasher), resp.Body); err != nil {
		return "", err
	}

	if expected := strongETag(resp.Header.Get("ETag")); expected != "" {
		if actual := hex.EncodeToString(hasher.Sum(nil)); actual != expected {
			return "", fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, expected, actual)
		}
	}

	return keyFromDisposition(resp.Header.Get("Content-Disposition")), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if len(c.Servers) == 0 {
		return ErrNoServers
	}

	var lastErr error
	for _, server := range c.Servers {
		lastErr = c.decodeFrom(ctx, server, path, out)
		if lastErr == nil {
			return nil
		}
		errutil.LogMsg(lastErr, "Failed to query server", "server", server)
	}
	return fmt.Errorf("%w: %w", ErrAllServersFailed, lastErr)
}

func (c *Client) decodeFrom(ctx context.Context, server, path string, out any) error {
	resp, err := c.get(ctx, server, path)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()
	return json.NewDecoder(resp.Body).Decode(out)
}

// get returns the response only for a 200 status. Callers close the body.
func (c *Client) get(ctx context.Context, server, path string) (*http.Response, error) {
	u := strings.TrimRight(server, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

type countingWriter struct {
	Writer io.Writer
	N      int64
}

func (c *countingWriter) Write(p []byte) (n int, err error) {
	n, err = c.Writer.Write(p)
	c.N += int64(n)
	return n, err
}

// strongETag unquotes a strong entity tag. Weak or malformed tags yield "".
func strongETag(v string) string {
	if v == "" || strings.HasPrefix(v, "W/") {
		return ""
	}
	s, err := strconv.Unquote(v)
	if err != nil {
		return ""
	}
	return s
}

func keyFromDisposition(v string) string {
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(params["filename"], extension)
}
