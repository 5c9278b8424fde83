package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/photosync/internal/cache"
	"github.com/lucasew/photosync/internal/errutil"
	"github.com/lucasew/photosync/internal/eviction"
	"github.com/lucasew/photosync/internal/handler"
	"github.com/lucasew/photosync/internal/httpclient"
	"github.com/lucasew/photosync/internal/remote"
	"github.com/lucasew/photosync/internal/repository"
	"github.com/lucasew/photosync/internal/syncer"
	"golang.org/x/sync/errgroup"
)

// logoutTimeout bounds the NAS logout, which runs after the shutdown budget
// may already be spent.
const logoutTimeout = 5 * time.Second

// App is one running photosync service: the cache, the sync loop feeding
// it and the HTTP server reading from it.
type App struct {
	cfg     Config
	cache   *cache.Cache
	syncer  *syncer.Syncer
	handler http.Handler
	logout  func(context.Context) error
}

// New builds the service against the Synology NAS described by cfg.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := httpclient.Options{
		Timeout:  cfg.Timeout,
		Insecure: cfg.Insecure,
	}
	if cfg.CACertPath != "" {
		pem, err := httpclient.LoadCACert(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.CACert = pem
	}

	nas := remote.NewSynology(remote.SynologyConfig{
		BaseURL:  cfg.BaseURL(),
		Username: cfg.Username,
		Password: cfg.Password,
		Client:   httpclient.NewClient(opts),
	})

	a, err := newApp(cfg, nas)
	if err != nil {
		return nil, err
	}
	a.logout = nas.Logout
	return a, nil
}

func newApp(cfg Config, index remote.Index) (*App, error) {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	strat, err := eviction.GetStrategy(cfg.EvictionStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize eviction strategy: %w", err)
	}

	c, err := cache.New(cfg.MaxCacheBytes, cache.WithStrategy(strat))
	if err != nil {
		return nil, err
	}

	s := syncer.New(c, index, syncer.Options{
		Album:    cfg.Album,
		Interval: cfg.Interval,
		Timeout:  cfg.Timeout,
		MinItems: cfg.MinAlbumSize,
		Workers:  cfg.DownloadWorkers,
	})
	photos := repository.NewPhotos(c, index, cfg.Timeout)

	return &App{
		cfg:     cfg,
		cache:   c,
		syncer:  s,
		handler: handler.NewPhotoHandler(photos, c),
	}, nil
}

// Handler returns the HTTP handler serving the cache.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Cache returns the photo cache shared by the sync loop and the server.
func (a *App) Cache() *cache.Cache {
	return a.cache
}

// Run listens on the configured port and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	addr := ":" + strconv.Itoa(a.cfg.ServerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the sync loop and the HTTP server on ln until ctx is done or
// the server fails.
//
// On the way out the server gets ShutdownTimeout to drain requests and the
// sync loop the same bound to notice the cancellation. A loop stuck past it
// is abandoned. The NAS logout then gets its own short budget.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting server",
		"addr", ln.Addr().String(),
		"album", a.cfg.Album,
		"max_cache", humanize.IBytes(uint64(a.cfg.MaxCacheBytes)),
	)

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		a.syncer.Start(syncCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "timeout", a.cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()

		stopSync()
		err := server.Shutdown(shutdownCtx)

		select {
		case <-syncDone:
		case <-shutdownCtx.Done():
			slog.Warn("Sync loop did not stop in time, abandoning it")
		}

		if a.logout != nil {
			logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
			defer cancel()
			errutil.LogMsg(a.logout(logoutCtx), "Failed to log out of the NAS")
		}
		return err
	})

	return g.Wait()
}
