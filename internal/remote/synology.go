package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/lucasew/photosync/internal/errutil"
)

const (
	// DefaultPageSize is the number of items requested per list call.
	DefaultPageSize = 500

	sessionName = "SynologyPhotos"
)

// DefaultAdditional are the extra item fields requested when listing.
// Only "thumbnail" is read; the rest keep the listing identical to what the
// Photos web UI asks for, which keeps unit ids stable across DSM versions.
var DefaultAdditional = []string{"thumbnail", "resolution", "orientation", "video_convert", "video_meta", "address"}

// Session related DSM error codes. A fresh login fixes them.
var sessionErrorCodes = map[int]bool{
	106: true, // session timeout
	107: true, // session interrupted by duplicate login
	119: true, // sid not found
}

// APIError is a DSM response with success=false.
type APIError struct {
	API  string
	Code int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed with code %d", e.API, e.Code)
}

func (e *APIError) sessionExpired() bool {
	return sessionErrorCodes[e.Code]
}

// SynologyConfig configures a Synology client.
type SynologyConfig struct {
	// BaseURL is the DSM root, e.g. https://nas.local:5001.
	BaseURL  string
	Username string
	Password string
	Client   *http.Client

	// Additional overrides DefaultAdditional.
	Additional []string
	// PageSize overrides DefaultPageSize.
	PageSize int
}

// Synology is an Index backed by the Synology Photos web API.
//
// Remote ids have the form "<unit_id>:<cache_key>", both being needed by
// the download endpoint.
type Synology struct {
	baseURL    string
	username   string
	password   string
	client     *http.Client
	additional []string
	pageSize   int

	mu  sync.Mutex
	sid string
}

func NewSynology(cfg SynologyConfig) *Synology {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	additional := cfg.Additional
	if additional == nil {
		additional = DefaultAdditional
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Synology{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		client:     client,
		additional: additional,
		pageSize:   pageSize,
	}
}

type listItem struct {
	ID         json.Number `json:"id"`
	Filename   string      `json:"filename"`
	Additional struct {
		Thumbnail struct {
			CacheKey string      `json:"cache_key"`
			UnitID   json.Number `json:"unit_id"`
		} `json:"thumbnail"`
	} `json:"additional"`
}

// List returns every photo found for the album keyword, in listing order.
func (s *Synology) List(ctx context.Context, album string) ([]Photo, error) {
	keyword, err := json.Marshal(album)
	if err != nil {
		return nil, err
	}
	additional, err := json.Marshal(s.additional)
	if err != nil {
		return nil, err
	}

	var items []listItem
	for offset := 0; ; offset += s.pageSize {
		params := url.Values{
			"api":        {"SYNO.Foto.Search.Search"},
			"version":    {"6"},
			"method":     {"list_item"},
			"keyword":    {string(keyword)},
			"offset":     {strconv.Itoa(offset)},
			"limit":      {strconv.Itoa(s.pageSize)},
			"additional": {string(additional)},
		}

		var page struct {
			List []listItem `json:"list"`
		}
		err := s.do(ctx, http.MethodPost, "entry.cgi/SYNO.Foto.Search.Search", params, func(resp *http.Response) error {
			return decodeData(resp, "SYNO.Foto.Search.Search", &page)
		})
		if err != nil {
			return nil, asUnavailable(err)
		}

		items = append(items, page.List...)
		if len(page.List) < s.pageSize {
			break
		}
	}

	return parseItems(items), nil
}

// parseItems keeps the first position of each cache key and the last unit id
// seen for it.
func parseItems(items []listItem) []Photo {
	photos := make([]Photo, 0, len(items))
	pos := make(map[string]int, len(items))

	for _, item := range items {
		thumb := item.Additional.Thumbnail
		if thumb.CacheKey == "" || thumb.UnitID == "" {
			slog.Debug("Skipping item without thumbnail", "id", item.ID, "filename", item.Filename)
			continue
		}
		p := Photo{Key: thumb.CacheKey, RemoteID: thumb.UnitID.String() + ":" + thumb.CacheKey}
		if i, ok := pos[p.Key]; ok {
			photos[i] = p
			continue
		}
		pos[p.Key] = len(photos)
		photos = append(photos, p)
	}
	return photos
}

// Fetch downloads the optimized JPEG rendition of a photo.
func (s *Synology) Fetch(ctx context.Context, remoteID string) ([]byte, error) {
	unitID, cacheKey, ok := strings.Cut(remoteID, ":")
	if !ok || unitID == "" {
		return nil, fmt.Errorf("%w: malformed remote id %q", ErrNotFound, remoteID)
	}

	params := url.Values{
		"api":           {"SYNO.Foto.Download"},
		"version":       {"2"},
		"method":        {"download"},
		"download_type": {"optimized_jpeg"},
		"cache_key":     {cacheKey},
		"unit_id":       {"[" + unitID + "]"},
	}

	var data []byte
	err := s.do(ctx, http.MethodGet, "entry.cgi", params, func(resp *http.Response) error {
		// Errors come back as a JSON envelope with status 200.
		if isJSON(resp) {
			return decodeData(resp, "SYNO.Foto.Download", nil)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		data = body
		return nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, asUnavailable(err)
	}
	return data, nil
}

// Logout ends the current session, if any.
func (s *Synology) Logout(ctx context.Context) error {
	s.mu.Lock()
	sid := s.sid
	s.sid = ""
	s.mu.Unlock()

	if sid == "" {
		return nil
	}

	params := url.Values{
		"api":     {"SYNO.API.Auth"},
		"version": {"6"},
		"method":  {"logout"},
		"session": {sessionName},
		"_sid":    {sid},
	}
	resp, err := s.send(ctx, http.MethodGet, "auth.cgi", params)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()
	return decodeData(resp, "SYNO.API.Auth", nil)
}

// do runs one API call, logging in first if needed and once more if the
// session turned out to be stale.
func (s *Synology) do(ctx context.Context, method, path string, params url.Values, handle func(*http.Response) error) error {
	for attempt := 0; ; attempt++ {
		sid, err := s.session(ctx)
		if err != nil {
			return err
		}

		withSID := make(url.Values, len(params)+1)
		for k, v := range params {
			withSID[k] = v
		}
		withSID.Set("_sid", sid)

		resp, err := s.send(ctx, method, path, withSID)
		if err != nil {
			return err
		}
		err = handle(resp)
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")

		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.sessionExpired() {
			slog.Info("Synology session expired, logging in again", "code", apiErr.Code)
			s.invalidate(sid)
			continue
		}
		return err
	}
}

func (s *Synology) session(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sid != "" {
		return s.sid, nil
	}

	params := url.Values{
		"api":     {"SYNO.API.Auth"},
		"version": {"6"},
		"method":  {"login"},
		"account": {s.username},
		"passwd":  {s.password},
		"session": {sessionName},
		"format":  {"sid"},
	}
	resp, err := s.send(ctx, http.MethodPost, "auth.cgi", params)
	if err != nil {
		return "", err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	var data struct {
		SID string `json:"sid"`
	}
	if err := decodeData(resp, "SYNO.API.Auth", &data); err != nil {
		return "", fmt.Errorf("%w: login: %w", ErrUnavailable, err)
	}
	if data.SID == "" {
		return "", fmt.Errorf("%w: login returned no session id", ErrUnavailable)
	}

	slog.Info("Logged in to Synology", "url", s.baseURL, "user", s.username)
	s.sid = data.SID
	return s.sid, nil
}

func (s *Synology) invalidate(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sid == sid {
		s.sid = ""
	}
}

// send performs the HTTP exchange. Callers close the body.
func (s *Synology) send(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	endpoint := s.baseURL + "/webapi/" + path

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// decodeData unpacks the DSM envelope into out. A nil out only checks success.
func decodeData(resp *http.Response, api string, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrUnavailable, api, err)
	}
	if !envelope.Success {
		return &APIError{API: api, Code: envelope.Error.Code}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(envelope.Data)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s data: %w", ErrUnavailable, api, err)
	}
	return nil
}

func isJSON(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && (mediaType == "application/json" || mediaType == "text/json")
}

// asUnavailable makes sure listing errors carry ErrUnavailable.
func asUnavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
