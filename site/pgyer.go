package site

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const DefaultPgyerBase = "https://www.pgyer.com"

var (
	semverPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)
	digitsPattern = regexp.MustCompile(`\d+`)
)

// PgyerSource reads the current build of an app hosted on Pgyer. The entry's
// link selects between the direct APK install URL and the app's landing page.
type PgyerSource struct {
	entry  Entry
	base   string
	apiKey string
	appKey string
}

func NewPgyerSource(entry Entry, base, apiKey, appKey string) *PgyerSource {
	if base == "" {
		base = DefaultPgyerBase
	}
	return &PgyerSource{
		entry:  entry,
		base:   strings.TrimRight(base, "/"),
		apiKey: strings.TrimSpace(apiKey),
		appKey: strings.TrimSpace(appKey),
	}
}

func (p *PgyerSource) Type() Type {
	return p.entry.Type
}

func (p *PgyerSource) Description() string {
	return fmt.Sprintf("Pgyer app %q (%s link)", p.appKey, p.entry.Link)
}

type pgyerResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		BuildKey         string `json:"buildKey"`
		BuildVersion     string `json:"buildVersion"`
		BuildVersionNo   string `json:"buildVersionNo"`
		BuildShortcutURL string `json:"buildShortcutUrl"`
	} `json:"data"`
}

func (p *PgyerSource) Fetch(ctx context.Context) Result {
	if p.apiKey == "" {
		return skipped("PGYER_API_KEY not configured")
	}
	if p.appKey == "" {
		return skipped("PGYER_APP_KEY not configured")
	}

	q := url.Values{}
	q.Set("_api_key", p.apiKey)
	q.Set("appKey", p.appKey)

	var resp pgyerResponse
	if err := httpGetJSON(ctx, p.base+"/apiv2/app/view?"+q.Encode(), listingTimeout, nil, &resp); err != nil {
		return failed(fmt.Errorf("Pgyer API request failed: %w", err))
	}
	if resp.Code != 0 {
		return failed(fmt.Errorf("Pgyer API returned code %d: %s", resp.Code, resp.Message))
	}

	data := resp.Data
	var link string
	switch p.entry.Link {
	case "install":
		if data.BuildKey == "" {
			return emptyResult("no buildKey in response")
		}
		link = p.base + "/app/install/" + data.BuildKey
	case "page":
		if data.BuildShortcutURL == "" {
			return emptyResult("no buildShortcutUrl in response")
		}
		link = p.base + "/" + data.BuildShortcutURL
	}

	version := semverPattern.FindString(data.BuildVersion)
	if version == "" {
		version = strings.TrimSpace(data.BuildVersion)
	}
	if version == "" {
		return emptyResult("no buildVersion in response")
	}

	return found([]Artifact{{
		Type:    p.entry.Type,
		URL:     link,
		Version: version,
		Build:   atoiPtr(digitsPattern.FindString(data.BuildVersionNo)),
	}})
}
