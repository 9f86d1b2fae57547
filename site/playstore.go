package site

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	afDataWindow     = 50000
)

var (
	nestedVersion = regexp.MustCompile(`\[\["(\d+\.\d+\.\d+)"\]\]`)
	quotedVersion = regexp.MustCompile(`"(\d+\.\d+\.\d+)"`)
	exactVersion  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	jsonLDScript  = regexp.MustCompile(`(?is)<script[^>]*type=["']application/ld\+json["'][^>]*>(.*?)</script>`)

	htmlVersionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Current Version[^>]*>(\d+\.\d+\.\d+)`),
		regexp.MustCompile(`(?i)Version[^>]*>(\d+\.\d+\.\d+)`),
		regexp.MustCompile(`(?i)"version":"(\d+\.\d+\.\d+)"`),
		regexp.MustCompile(`(?i)<div[^>]*>(\d+\.\d+\.\d+)</div>[^<]*Current Version`),
	}
)

// PlayStoreSource records the fixed Google Play listing. The version is
// scraped from the listing page when possible.
type PlayStoreSource struct {
	entry Entry
}

func NewPlayStoreSource(entry Entry) *PlayStoreSource {
	return &PlayStoreSource{entry: entry}
}

func (p *PlayStoreSource) Type() Type {
	return p.entry.Type
}

func (p *PlayStoreSource) Description() string {
	return "Google Play listing " + p.entry.URL
}

func (p *PlayStoreSource) Fetch(ctx context.Context) Result {
	version := LatestVersion

	body, err := httpGet(ctx, p.entry.URL, lookupTimeout, map[string]string{
		"User-Agent":      browserUserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	})
	if err != nil {
		slog.Warn("Failed to fetch Play Store version", "type", p.entry.Type, "error", err)
	} else if v, via := PlayStoreVersion(string(body)); v != "" {
		slog.Debug("Play Store version found", "type", p.entry.Type, "version", v, "via", via)
		version = v
	}

	return found([]Artifact{{Type: p.entry.Type, URL: p.entry.URL, Version: version}})
}

// PlayStoreVersion extracts the app version from a Play Store listing page.
// It returns the version and the name of the strategy that found it, or two
// empty strings.
func PlayStoreVersion(html string) (version, via string) {
	if m := nestedVersion.FindStringSubmatch(html); m != nil {
		return m[1], "direct"
	}

	if data, ok := afInitData(html); ok {
		if m := nestedVersion.FindStringSubmatch(data); m != nil {
			return m[1], "AF_initDataCallback"
		}
		if m := quotedVersion.FindStringSubmatch(data); m != nil {
			return m[1], "AF_initDataCallback (flexible)"
		}
		var parsed any
		if err := json.Unmarshal([]byte(data), &parsed); err == nil {
			if v := versionInTree(parsed); v != "" {
				return v, "AF_initDataCallback (parsed)"
			}
		}
	}

	if m := jsonLDScript.FindStringSubmatch(html); m != nil {
		var ld struct {
			SoftwareVersion string `json:"softwareVersion"`
		}
		if err := json.Unmarshal([]byte(m[1]), &ld); err == nil && ld.SoftwareVersion != "" {
			return ld.SoftwareVersion, "JSON-LD"
		}
	}

	for _, re := range htmlVersionPatterns {
		if m := re.FindStringSubmatch(html); m != nil && len(m[1]) > 1 {
			return m[1], "HTML"
		}
	}
	return "", ""
}

// afInitData returns the array literal passed as "data:" to the first
// AF_initDataCallback call, bounded to afDataWindow bytes.
func afInitData(html string) (string, bool) {
	i := strings.Index(html, "AF_initDataCallback")
	if i < 0 {
		return "", false
	}
	rest := strings.TrimLeft(html[i+len("AF_initDataCallback"):], " \t\r\n")
	if !strings.HasPrefix(rest, "(") {
		return "", false
	}
	rest = rest[1:]

	d := strings.Index(rest, "data:")
	if d < 0 || strings.Contains(rest[:d], ")") {
		return "", false
	}
	rest = strings.TrimLeft(rest[d+len("data:"):], " \t\r\n")
	if !strings.HasPrefix(rest, "[") {
		return "", false
	}

	window := rest
	if len(window) > afDataWindow+2 {
		window = window[:afDataWindow+2]
	}
	for end := strings.LastIndex(window, "]"); end > 0; end = strings.LastIndex(window[:end], "]") {
		after := strings.TrimLeft(rest[end+1:], " \t\r\n")
		if strings.HasPrefix(after, ",") || strings.HasPrefix(after, "}") {
			return rest[:end+1], true
		}
	}
	return "", false
}

func versionInTree(v any) string {
	arr, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, item := range arr {
		switch item := item.(type) {
		case string:
			if exactVersion.MatchString(item) {
				return item
			}
		case []any:
			if nested := versionInTree(item); nested != "" {
				return nested
			}
		}
	}
	return ""
}
