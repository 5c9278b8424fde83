package app

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	DefaultAlbum           = "kitchen-dash"
	DefaultMaxCache        = 250 * humanize.MiByte
	DefaultInterval        = time.Minute
	DefaultServerPort      = 5000
	DefaultTimeout         = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMinAlbumSize    = 5
	DefaultDownloadWorkers = 4
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Album string

	// NAS connection.
	Username   string
	Password   string
	Host       string
	Port       int
	PlainHTTP  bool
	Insecure   bool
	CACertPath string

	MaxCacheBytes    int64
	EvictionStrategy string

	Interval        time.Duration
	Timeout         time.Duration
	MinAlbumSize    int
	DownloadWorkers int

	ServerPort      int
	ShutdownTimeout time.Duration
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	var errs []error
	if c.Album == "" {
		errs = append(errs, errors.New("album is required"))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("NAS url is required"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.MaxCacheBytes <= 0 {
		errs = append(errs, fmt.Errorf("max cache must be positive, got %d", c.MaxCacheBytes))
	}
	if c.ServerPort < 0 || c.ServerPort > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("server port out of range: %d", c.ServerPort))
	}
	if c.Port < 0 || c.Port > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("NAS port out of range: %d", c.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// BaseURL returns the DSM root built from Host and Port.
//
// A Host that already carries a scheme is used as is, with Port added when
// the URL has none.
func (c Config) BaseURL() string {
	host := strings.TrimRight(c.Host, "/")
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil || c.Port <= 0 || u.Port() != "" {
			return host
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(c.Port))
		return u.String()
	}

	scheme := "https"
	if c.PlainHTTP {
		scheme = "http"
	}
	if c.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	return scheme + "://" + host
}

// ParseCapacity reads a cache size. A plain number counts mebibytes;
// anything else goes through humanize, e.g. "512MiB" or "1 GB".
func ParseCapacity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultMaxCache, nil
	}

	if mb, err := strconv.ParseInt(s, 10, 64); err == nil {
		if mb <= 0 || mb > math.MaxInt64/humanize.MiByte {
			return 0, fmt.Errorf("%w: max cache out of range: %s", ErrInvalidConfig, s)
		}
		return mb * humanize.MiByte, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: max cache: %w", ErrInvalidConfig, err)
	}
	if n == 0 || n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: max cache out of range: %s", ErrInvalidConfig, s)
	}
	return int64(n), nil
}

// ParseInterval reads a sync interval. A plain number counts seconds;
// anything else must be a Go duration such as "90s" or "5m".
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultInterval, nil
	}

	var d time.Duration
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: interval: %w", ErrInvalidConfig, err)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidConfig, s)
	}
	return d, nil
}
