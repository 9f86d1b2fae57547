package site

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/RWKV-APP/app-website/cache"
	"github.com/RWKV-APP/app-website/geo"
	"github.com/RWKV-APP/app-website/releasenotes"
	"github.com/RWKV-APP/app-website/web"
)

type Config struct {
	ListenAddr      string
	DatabasePath    string
	RefreshInterval time.Duration
	CatalogFile     string

	Providers Providers

	ReleaseNotesDir           string
	ReleaseNotesDefaultLocale string
	ReleaseNotesLines         []string
	WatchReleaseNotes         bool

	GeoEndpoint    string
	RedisURL       string
	TrustedProxies *geo.ProxyTrust

	S3            S3Config
	GPGPrivateKey string
	GPGPassphrase string
}

// Site wires the distribution store, the refresher and the HTTP surface.
type Site struct {
	cfg       Config
	store     *Store
	catalog   *Catalog
	refresher *Refresher
	notes     *releasenotes.Reader
	cache     cache.Cache
	locator   *geo.Locator
	metrics   *Metrics
	signer    *Signer
	objects   *ObjectStore
}

func New(ctx context.Context, cfg Config) (*Site, error) {
	catalog, err := LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.CreateSchema(); err != nil {
		store.Close()
		return nil, err
	}

	notes, err := releasenotes.NewReader(releasenotes.Options{
		Root:          cfg.ReleaseNotesDir,
		DefaultLocale: cfg.ReleaseNotesDefaultLocale,
		Lines:         cfg.ReleaseNotesLines,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Site{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		notes:   notes,
		metrics: NewMetrics(),
	}

	s.cache = cache.NewMemoryCache()
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, "rwkv-site:")
		if err != nil {
			slog.Warn("Redis unavailable, using in-memory cache", "error", err)
		} else {
			s.cache = rc
		}
	}
	s.locator = geo.NewLocator(cfg.GeoEndpoint, s.cache)

	if cfg.GPGPrivateKey != "" {
		if s.signer, err = NewSigner(cfg.GPGPrivateKey, cfg.GPGPassphrase); err != nil {
			s.Close()
			return nil, fmt.Errorf("GPG error: %w", err)
		}
		slog.Info("Signing snapshots", "fingerprint", s.signer.Fingerprint())
	}

	s.refresher = NewRefresher(store, NewSources(catalog, cfg.Providers), s.metrics)
	if cfg.S3.Enabled() {
		s.objects = NewObjectStore(cfg.S3)
		s.refresher.AfterCycle(NewPublisher(s.objects, s.signer).Publish)
	} else {
		slog.Info("S3 not configured, snapshot publishing disabled")
	}

	return s, nil
}

func (s *Site) Store() *Store {
	return s.store
}

func (s *Site) Catalog() *Catalog {
	return s.catalog
}

func (s *Site) Refresher() *Refresher {
	return s.refresher
}

func (s *Site) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.store.Close()
}

// Run serves HTTP and refreshes distributions until ctx is cancelled.
func (s *Site) Run(ctx context.Context) error {
	pages, err := web.NewRenderer()
	if err != nil {
		return fmt.Errorf("loading pages: %w", err)
	}

	srv := &server{
		store:         s.store,
		catalog:       s.catalog,
		refresher:     s.refresher,
		notes:         s.notes,
		locator:       s.locator,
		proxies:       s.cfg.TrustedProxies,
		pages:         pages,
		signer:        s.signer,
		objects:       s.objects,
		metrics:       s.metrics,
		refreshLimit:  newIPRateLimiter(rate.Every(10*time.Second), 2),
		locationLimit: newIPRateLimiter(rate.Every(time.Second), 10),
	}
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      srv.handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refresher.Run(ctx, s.cfg.RefreshInterval)
	}()

	if s.cfg.WatchReleaseNotes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.notes.Watch(ctx); err != nil {
				slog.Warn("Release notes watcher stopped", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening", "addr", s.cfg.ListenAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	wg.Wait()
	slog.Info("Shutdown complete")
	return nil
}
