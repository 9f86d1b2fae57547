package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"

	"github.com/RWKV-APP/app-website/geo"
	"github.com/RWKV-APP/app-website/releasenotes"
	"github.com/RWKV-APP/app-website/web"
)

type server struct {
	store     *Store
	catalog   *Catalog
	refresher *Refresher
	notes     *releasenotes.Reader
	locator   *geo.Locator
	proxies   *geo.ProxyTrust
	pages     *web.Renderer
	signer    *Signer
	objects   *ObjectStore
	metrics   *Metrics

	refreshLimit  *ipRateLimiter
	locationLimit *ipRateLimiter
}

func (s *server) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.proxies.Middleware)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"ETag"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/distributions", func(r chi.Router) {
		r.Get("/latest", s.handleLatest)
		r.With(s.refreshLimit.middleware).Post("/refresh", s.handleRefresh)
		r.Get("/release-notes", s.handleReleaseNote)
		r.Get("/release-notes/all", s.handleAllReleaseNotes)
	})
	r.With(s.locationLimit.middleware).Get("/location", s.handleLocation)

	r.Get("/key.gpg", s.handleKeyGPG)
	r.Get("/snapshot/{name}", s.handleSnapshot)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/", s.handleIndex)
	r.Get("/changelog", s.handleChangelog)
	return r
}

// requestTypes reads ?key= parameters, repeated or comma separated. Unknown
// keys are ignored; no keys at all means every type.
func requestTypes(r *http.Request) []Type {
	raw, ok := r.URL.Query()["key"]
	if !ok {
		return AllTypes
	}
	types := []Type{}
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if t, ok := ParseType(strings.TrimSpace(part)); ok {
				types = append(types, t)
			}
		}
	}
	return types
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	types := requestTypes(r)
	latest := make(map[Type]*Record)
	if len(types) > 0 {
		var err error
		if latest, err = s.store.Latest(r.Context(), types...); err != nil {
			slog.Error("Loading latest distributions failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load distributions")
			return
		}
	}

	body, err := json.Marshal(PublicSet(latest))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

type refreshResponse struct {
	Success bool                   `json:"success"`
	Report  Report                 `json:"report"`
	Latest  map[Type]*PublicRecord `json:"latest"`
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// A cycle runs to completion even if the caller goes away.
	ctx := context.WithoutCancel(r.Context())
	report := s.refresher.RefreshAll(ctx)

	latest, err := s.store.Latest(ctx)
	if err != nil {
		slog.Error("Loading latest distributions failed", "error", err)
		latest = map[Type]*Record{}
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Success: true,
		Report:  report,
		Latest:  PublicSet(latest),
	})
}

func (s *server) handleReleaseNote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	build, err := strconv.Atoi(strings.TrimSpace(q.Get("build")))
	if err != nil || build <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid build number")
		return
	}

	note, err := s.notes.Find(build, q.Get("version"), q.Get("locale"))
	if err != nil {
		if !errors.Is(err, releasenotes.ErrOutsideRoot) {
			slog.Error("Reading release notes failed", "build", build, "error", err)
		}
		note = nil
	}
	if note == nil {
		note = &releasenotes.Note{Build: build}
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *server) handleAllReleaseNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.notes.All(r.URL.Query().Get("locale"))
	if err != nil {
		slog.Error("Listing release notes failed", "error", err)
	}
	if notes == nil {
		notes = []releasenotes.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *server) handleLocation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.locator.Detect(r.Context(), geo.ClientIP(r)))
}

func (s *server) handleKeyGPG(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/pgp-keys")
	w.Header().Set("X-Key-Fingerprint", s.signer.Fingerprint())
	w.Write(s.signer.PublicKey())
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.objects == nil || (name != snapshotName && name != snapshotSignature) {
		http.NotFound(w, r)
		return
	}

	obj, err := s.objects.Open(r.Context(), name)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("Fetching snapshot failed", "name", name, "error", err)
		writeError(w, http.StatusBadGateway, "snapshot storage unavailable")
		return
	}
	defer obj.Body.Close()

	h := w.Header()
	if obj.ContentType != "" {
		h.Set("Content-Type", obj.ContentType)
	}
	if obj.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	if obj.ETag != "" {
		h.Set("ETag", obj.ETag)
	}
	if !obj.LastModified.IsZero() {
		h.Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	}
	io.Copy(w, obj.Body)
}

func (s *server) pageLocale(w http.ResponseWriter, r *http.Request) string {
	locale := s.pages.ResolveLocale(r, func() bool {
		return s.locator.Detect(r.Context(), geo.ClientIP(r)).IsMainlandChina
	})
	if _, ok := web.Supported(r.URL.Query().Get("lang")); ok {
		http.SetCookie(w, &http.Cookie{
			Name:     web.LocaleCookie,
			Value:    locale,
			Path:     "/",
			MaxAge:   365 * 24 * 60 * 60,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return locale
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	locale := s.pageLocale(w, r)

	latest, err := s.store.Latest(r.Context(), s.catalog.Types()...)
	if err != nil {
		slog.Error("Loading latest distributions failed", "error", err)
		latest = map[Type]*Record{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.RenderDownloads(w, locale, buttonGroups(s.catalog, latest)); err != nil {
		slog.Error("Rendering download page failed", "error", err)
	}
}

func (s *server) handleChangelog(w http.ResponseWriter, r *http.Request) {
	locale := s.pageLocale(w, r)

	notes, err := s.notes.All(locale)
	if err != nil {
		slog.Error("Listing release notes failed", "error", err)
	}
	pageNotes := make([]web.Note, 0, len(notes))
	for _, n := range notes {
		pn := web.Note{Build: n.Build, Content: n.Content}
		if n.Version != nil {
			pn.Version = *n.Version
		}
		pageNotes = append(pageNotes, pn)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.RenderChangelog(w, locale, pageNotes); err != nil {
		slog.Error("Rendering changelog failed", "error", err)
	}
}

// buttonGroups lays the catalog out by platform in first-seen order.
func buttonGroups(cat *Catalog, latest map[Type]*Record) []web.Group {
	var groups []web.Group
	index := make(map[string]int)
	for _, e := range cat.Entries {
		b := web.Button{Type: string(e.Type), Label: e.Label, Mirror: e.Mirror}
		if rec := latest[e.Type]; rec != nil {
			b.URL = rec.URL
			b.Version = rec.Version
			b.Build = rec.Build
			b.Available = true
		}
		i, ok := index[e.Platform]
		if !ok {
			i = len(groups)
			index[e.Platform] = i
			groups = append(groups, web.Group{Platform: e.Platform})
		}
		groups[i].Buttons = append(groups[i].Buttons, b)
	}
	return groups
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{StatusCode: status, Message: msg, Error: http.StatusText(status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Writing response failed", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ipRateLimiter keeps one token bucket per client address. Buckets idle
// for longer than idleTTL are dropped.
type ipRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) >= l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l != nil && !l.allow(geo.ClientIP(r)) {
			w.Header().Set("Retry-After", "10")
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
