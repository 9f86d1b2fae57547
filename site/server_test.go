package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/RWKV-APP/app-website/cache"
	"github.com/RWKV-APP/app-website/geo"
	"github.com/RWKV-APP/app-website/releasenotes"
	"github.com/RWKV-APP/app-website/web"
)

type testServer struct {
	*server
	handler http.Handler
	geoHits atomic.Int32
}

func newTestServer(t *testing.T, sources ...Source) *testServer {
	t.Helper()
	store := newTestStore(t)

	cat, err := DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "en", "700-3.7.2.md"), "## 3.7.2\n\n- Faster")
	writeFile(t, filepath.Join(root, "zh-CN", "700-3.7.2.md"), "更快")
	notes, err := releasenotes.NewReader(releasenotes.Options{Root: root, DefaultLocale: "zh-CN"})
	if err != nil {
		t.Fatal(err)
	}

	pages, err := web.NewRenderer()
	if err != nil {
		t.Fatal(err)
	}

	ts := &testServer{}
	geoAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.geoHits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "country": "China", "countryCode": "CN", "regionName": "Beijing", "region": "BJ"})
	}))
	t.Cleanup(geoAPI.Close)

	proxies, err := geo.ParseTrustedProxies("192.0.2.0/24")
	if err != nil {
		t.Fatal(err)
	}

	metrics := NewMetrics()
	ts.server = &server{
		store:     store,
		catalog:   cat,
		refresher: NewRefresher(store, sources, metrics),
		notes:     notes,
		locator:   geo.NewLocator(geoAPI.URL, cache.NewMemoryCache()),
		proxies:   proxies,
		pages:     pages,
		metrics:   metrics,
	}
	ts.handler = ts.server.handler()
	return ts
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (ts *testServer) do(t *testing.T, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandleLatest(t *testing.T) {
	ts := newTestServer(t)
	mustSave(t, ts.store, AndroidHF, "https://hf/a_3.7.2_512.apk", "3.7.2", intPtr(512))
	mustSave(t, ts.store, AndroidHF, "https://hf/a_3.6.0_400.apk", "3.6.0", intPtr(400))

	rec := ts.do(t, http.MethodGet, "/distributions/latest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	all := decode[map[string]map[string]any](t, rec)
	if len(all) != len(AllTypes) {
		t.Errorf("got %d types, want %d", len(all), len(AllTypes))
	}
	if all["androidHF"]["version"] != "3.7.2" {
		t.Errorf("androidHF = %v", all["androidHF"])
	}
	if _, ok := all["androidHF"]["id"]; ok {
		t.Error("response exposes internal id")
	}
	if v, ok := all["macosHF"]; !ok || v != nil {
		t.Errorf("macosHF = %v (present %v), want null", v, ok)
	}

	filtered := decode[map[string]any](t, ts.do(t, http.MethodGet, "/distributions/latest?key=androidHF,macosHF&key=bogus", nil))
	if len(filtered) != 2 {
		t.Errorf("filtered response has %d keys, want 2: %v", len(filtered), filtered)
	}

	none := ts.do(t, http.MethodGet, "/distributions/latest?key=bogus", nil)
	if strings.TrimSpace(none.Body.String()) != "{}" {
		t.Errorf("unknown keys only: body = %s, want {}", none.Body.String())
	}
}

func TestHandleLatestETag(t *testing.T) {
	ts := newTestServer(t)
	first := ts.do(t, http.MethodGet, "/distributions/latest?key=iOSAS", nil)
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag")
	}

	cached := ts.do(t, http.MethodGet, "/distributions/latest?key=iOSAS", map[string]string{"If-None-Match": etag})
	if cached.Code != http.StatusNotModified || cached.Body.Len() != 0 {
		t.Errorf("conditional request: status %d, %d bytes", cached.Code, cached.Body.Len())
	}

	mustSave(t, ts.store, IOSAS, "https://apps.apple.com/x", "3.5.0", nil)
	changed := ts.do(t, http.MethodGet, "/distributions/latest?key=iOSAS", map[string]string{"If-None-Match": etag})
	if changed.Code != http.StatusOK || changed.Header().Get("ETag") == etag {
		t.Errorf("after change: status %d, etag %s", changed.Code, changed.Header().Get("ETag"))
	}
}

func TestHandleRefresh(t *testing.T) {
	ts := newTestServer(t,
		staticResult(MacosGR, Artifact{Type: MacosGR, URL: "https://gh/m.dmg", Version: "3.7.2", Build: intPtr(512)}),
		&fakeSource{typ: LinuxGR, fetch: func() Result { panic("bad upstream") }},
	)

	rec := ts.do(t, http.MethodPost, "/distributions/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Success bool                     `json:"success"`
		Report  Report                   `json:"report"`
		Latest  map[string]*PublicRecord `json:"latest"`
	}](t, rec)
	if !body.Success {
		t.Error("success = false")
	}
	if len(body.Report.Types) != 2 || body.Report.Types[1].Outcome != Failed {
		t.Errorf("report = %+v", body.Report)
	}
	if r := body.Latest["macosGR"]; r == nil || r.Version != "3.7.2" {
		t.Errorf("latest macosGR = %+v", r)
	}

	if rec := ts.do(t, http.MethodGet, "/distributions/refresh", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET refresh: status %d, want 405", rec.Code)
	}
}

func TestRefreshSurvivesClientDisconnect(t *testing.T) {
	src := staticResult(AndroidHF, Artifact{Type: AndroidHF, URL: "https://hf/a_3.7.2_512.apk", Version: "3.7.2", Build: intPtr(512)})
	ts := newTestServer(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/distributions/refresh", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if src.calls != 1 {
		t.Errorf("source fetched %d times, want 1", src.calls)
	}
	if n := mustCount(t, ts.store, AndroidHF); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	body := decode[refreshResponse](t, rec)
	if len(body.Report.Types) != 1 || body.Latest[AndroidHF] == nil {
		t.Errorf("response = %+v", body)
	}
}

func TestRefreshRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.refreshLimit = newIPRateLimiter(rate.Every(time.Hour), 1)
	ts.handler = ts.server.handler()

	headers := map[string]string{"X-Forwarded-For": "203.0.113.10"}
	if rec := ts.do(t, http.MethodPost, "/distributions/refresh", headers); rec.Code != http.StatusOK {
		t.Fatalf("first refresh: status %d", rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/distributions/refresh", headers)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("second refresh: status %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	other := map[string]string{"X-Forwarded-For": "203.0.113.11"}
	if rec := ts.do(t, http.MethodPost, "/distributions/refresh", other); rec.Code != http.StatusOK {
		t.Errorf("other client: status %d", rec.Code)
	}
}

func TestRefreshRateLimitIgnoresClientHops(t *testing.T) {
	ts := newTestServer(t)
	ts.refreshLimit = newIPRateLimiter(rate.Every(10*time.Second), 2)
	ts.handler = ts.server.handler()

	accepted := 0
	for i := 0; i < 50; i++ {
		// The trusted proxy appends the real client after whatever it was sent.
		fwd := fmt.Sprintf("198.51.100.%d, 203.0.113.50", i)
		if rec := ts.do(t, http.MethodPost, "/distributions/refresh", map[string]string{"X-Forwarded-For": fwd}); rec.Code == http.StatusOK {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("accepted %d refreshes, want 2", accepted)
	}
	ts.refreshLimit.mu.Lock()
	n := len(ts.refreshLimit.clients)
	ts.refreshLimit.mu.Unlock()
	if n != 1 {
		t.Errorf("limiter tracks %d clients, want 1", n)
	}
}

func TestRefreshRateLimitUntrustedPeer(t *testing.T) {
	ts := newTestServer(t)
	ts.proxies = nil
	ts.refreshLimit = newIPRateLimiter(rate.Every(time.Hour), 1)
	ts.handler = ts.server.handler()

	ts.do(t, http.MethodPost, "/distributions/refresh", map[string]string{"X-Forwarded-For": "203.0.113.60"})
	rec := ts.do(t, http.MethodPost, "/distributions/refresh", map[string]string{"X-Forwarded-For": "203.0.113.61"})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("forwarded header from a direct client changed the bucket: status %d", rec.Code)
	}
}

func TestIPRateLimiterDropsIdleClients(t *testing.T) {
	l := newIPRateLimiter(rate.Every(time.Second), 1)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	for i := 0; i < 20; i++ {
		l.allow(fmt.Sprintf("203.0.113.%d", i))
	}
	clock = clock.Add(l.idleTTL)
	if !l.allow("198.51.100.1") {
		t.Error("new client rejected")
	}
	if n := len(l.clients); n != 1 {
		t.Errorf("limiter tracks %d clients after the idle sweep, want 1", n)
	}

	clock = clock.Add(time.Millisecond)
	if l.allow("198.51.100.1") {
		t.Error("second request within the interval was allowed")
	}
}

func TestHandleReleaseNote(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name    string
		query   string
		status  int
		content string
		version any
	}{
		{"exact", "build=700&locale=en", http.StatusOK, "## 3.7.2\n\n- Faster", "3.7.2"},
		{"default locale", "build=700", http.StatusOK, "更快", "3.7.2"},
		{"patch fallback", "build=999&version=3.7.5&locale=en", http.StatusOK, "## 3.7.2\n\n- Faster", "3.7.2"},
		{"missing", "build=123&locale=en", http.StatusOK, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/distributions/release-notes?"+tt.query, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d", rec.Code)
			}
			body := decode[map[string]any](t, rec)
			if body["content"] != tt.content || body["version"] != tt.version {
				t.Errorf("body = %v", body)
			}
		})
	}

	for _, q := range []string{"", "build=abc", "build=0", "build=-4"} {
		rec := ts.do(t, http.MethodGet, "/distributions/release-notes?"+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: status %d, want 400", q, rec.Code)
			continue
		}
		if body := decode[map[string]any](t, rec); body["message"] != "Invalid build number" {
			t.Errorf("%q: body = %v", q, body)
		}
	}
}

func TestHandleAllReleaseNotes(t *testing.T) {
	ts := newTestServer(t)
	notes := decode[[]releasenotes.Note](t, ts.do(t, http.MethodGet, "/distributions/release-notes/all?locale=en", nil))
	if len(notes) != 1 || notes[0].Build != 700 {
		t.Errorf("notes = %+v", notes)
	}
}

func TestHandleLocation(t *testing.T) {
	ts := newTestServer(t)

	local := decode[geo.Location](t, ts.do(t, http.MethodGet, "/location", map[string]string{"X-Forwarded-For": "10.1.2.3"}))
	if local.Country != "Local" {
		t.Errorf("private address = %+v, want Local", local)
	}

	remote := decode[geo.Location](t, ts.do(t, http.MethodGet, "/location", map[string]string{"X-Forwarded-For": "203.0.113.20"}))
	if !remote.IsMainlandChina || remote.Region != "Beijing" {
		t.Errorf("remote address = %+v", remote)
	}
}

func TestHandleKeyGPG(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(t, http.MethodGet, "/key.gpg", nil); rec.Code != http.StatusNotFound {
		t.Errorf("without signer: status %d, want 404", rec.Code)
	}

	ts.signer = newTestSigner(t)
	rec := ts.do(t, http.MethodGet, "/key.gpg", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "PGP PUBLIC KEY") {
		t.Errorf("with signer: status %d", rec.Code)
	}
	if got := rec.Header().Get("X-Key-Fingerprint"); got != ts.signer.Fingerprint() {
		t.Errorf("X-Key-Fingerprint = %q", got)
	}
}

func TestHandleSnapshot(t *testing.T) {
	_, srv := newFakeS3(t)
	ts := newTestServer(t)
	ts.objects = testObjectStore(srv.URL)

	NewPublisher(ts.objects, nil).Publish(context.Background(), map[Type]*Record{
		IOSTF: {Type: IOSTF, URL: "https://testflight.apple.com/join/x", Version: LatestVersion},
	})

	rec := ts.do(t, http.MethodGet, "/snapshot/latest.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "testflight.apple.com") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if got := rec.Header().Get("ETag"); got != `"abc123"` {
		t.Errorf("ETag = %q", got)
	}

	for _, name := range []string{"latest.json.asc", "other.json"} {
		if rec := ts.do(t, http.MethodGet, "/snapshot/"+name, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", name, rec.Code)
		}
	}
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t)
	mustSave(t, ts.store, AndroidAF, "https://aifasthub.com/a.apk", "3.7.2", intPtr(512))

	rec := ts.do(t, http.MethodGet, "/?lang=zh-CN", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := rec.Header().Get("Set-Cookie"); !strings.Contains(c, "lang=zh-CN") {
		t.Errorf("Set-Cookie = %q", c)
	}
	page := rec.Body.String()
	if !strings.Contains(page, `href="https://aifasthub.com/a.apk"`) || !strings.Contains(page, "3.7.2 (512)") {
		t.Error("download page is missing the stored build")
	}
	if n := ts.geoHits.Load(); n != 0 {
		t.Errorf("geolocation queried %d times with ?lang set", n)
	}

	// No preference at all: a mainland visitor gets Simplified Chinese.
	rec = ts.do(t, http.MethodGet, "/", map[string]string{"X-Forwarded-For": "203.0.113.30"})
	if !strings.Contains(rec.Body.String(), `<html lang="zh-CN">`) {
		t.Error("mainland visitor did not get the zh-CN page")
	}
	if rec.Header().Get("Set-Cookie") != "" {
		t.Error("cookie set without an explicit choice")
	}
}

func TestChangelogPage(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/changelog?lang=en", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<li>Faster</li>") {
		t.Errorf("changelog page did not render notes:\n%s", rec.Body.String())
	}
}

func TestButtonGroups(t *testing.T) {
	cat, err := DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	groups := buttonGroups(cat, map[Type]*Record{
		IOSAS: {Type: IOSAS, URL: "https://apps.apple.com/x", Version: "3.5.0"},
	})

	var platforms []string
	buttons := 0
	for _, g := range groups {
		platforms = append(platforms, g.Platform)
		buttons += len(g.Buttons)
		for _, b := range g.Buttons {
			if b.Available != (b.Type == string(IOSAS)) {
				t.Errorf("%s: Available = %v", b.Type, b.Available)
			}
		}
	}
	if buttons != len(cat.Entries) {
		t.Errorf("got %d buttons, want %d", buttons, len(cat.Entries))
	}
	if want := "macos,linux,windows,windows-zip,ios,android"; strings.Join(platforms, ",") != want {
		t.Errorf("platforms = %v, want %s", platforms, want)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, staticResult(IOSTF, Artifact{Type: IOSTF, URL: "https://tf/x", Version: LatestVersion}))
	ts.refresher.RefreshAll(context.Background())

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), `rwkv_site_fetches_total{outcome="found",type="iOSTF"} 1`) {
		t.Errorf("metrics output missing fetch counter:\n%s", rec.Body.String())
	}
}
