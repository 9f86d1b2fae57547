// Package geo resolves client IP addresses to a country and region using
// the ip-api.com JSON endpoint.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/RWKV-APP/app-website/cache"
)

const (
	DefaultEndpoint = "http://ip-api.com"

	lookupTimeout = 5 * time.Second
	cacheTTL      = 24 * time.Hour
	fields        = "status,message,country,countryCode,region,regionName"
)

// Location is a best-effort geolocation result.
type Location struct {
	Country         string `json:"country"`
	CountryCode     string `json:"countryCode"`
	Region          string `json:"region"`
	RegionCode      string `json:"regionCode"`
	IsMainlandChina bool   `json:"isMainlandChina"`
}

var (
	localLocation   = Location{Country: "Local"}
	unknownLocation = Location{Country: "Unknown"}
)

type Locator struct {
	endpoint string
	client   *http.Client
	cache    cache.Cache
}

// NewLocator returns a Locator querying endpoint. A nil cache disables caching.
func NewLocator(endpoint string, c cache.Cache) *Locator {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	return &Locator{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: lookupTimeout},
		cache:    c,
	}
}

// Detect never fails: local addresses resolve to "Local" and every lookup
// error to "Unknown".
func (l *Locator) Detect(ctx context.Context, ip string) Location {
	ip = strings.TrimSpace(ip)
	if IsLocal(ip) {
		slog.Debug("Skipping geolocation for local IP", "ip", ip)
		return localLocation
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		slog.Debug("Skipping geolocation for invalid IP", "ip", ip)
		return unknownLocation
	}
	ip = addr.Unmap().String()

	key := "geo:" + ip
	if data, ok, err := l.cache.Get(ctx, key); err == nil && ok {
		var loc Location
		if err := json.Unmarshal(data, &loc); err == nil {
			return loc
		}
	}

	loc, err := l.lookup(ctx, ip)
	if err != nil {
		slog.Debug("Failed to detect location", "ip", ip, "error", err)
		return unknownLocation
	}

	if data, err := json.Marshal(loc); err == nil {
		if err := l.cache.Set(ctx, key, data, cacheTTL); err != nil {
			slog.Warn("Caching location failed", "error", err)
		}
	}
	return loc
}

type apiResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
	RegionName  string `json:"regionName"`
}

func (l *Locator) lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/json/%s?fields=%s", l.endpoint, ip, fields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("ip-api returned status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decoding ip-api response: %w", err)
	}
	if body.Status != "success" {
		msg := body.Message
		if msg == "" {
			msg = "Unknown error"
		}
		if msg == "reserved range" || msg == "private range" {
			slog.Debug("Geolocation skipped for reserved IP", "ip", ip)
		} else {
			slog.Warn("Geolocation API returned error", "message", msg)
		}
		return Location{}, fmt.Errorf("ip-api: %s", msg)
	}

	return Location{
		Country:         body.Country,
		CountryCode:     body.CountryCode,
		Region:          body.RegionName,
		RegionCode:      body.Region,
		IsMainlandChina: body.CountryCode == "CN",
	}, nil
}

// IsLocal reports whether ip is loopback, private or link-local.
func IsLocal(ip string) bool {
	if ip == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

// ClientIP returns the host part of r.RemoteAddr. Behind a reverse proxy,
// install ProxyTrust.Middleware first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
