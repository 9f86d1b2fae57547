package site

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// AppStoreSource records the fixed App Store listing, with the version taken
// from the iTunes lookup API when it answers.
type AppStoreSource struct {
	entry      Entry
	lookupBase string
}

const DefaultITunesBase = "https://itunes.apple.com"

func NewAppStoreSource(entry Entry, lookupBase string) *AppStoreSource {
	if lookupBase == "" {
		lookupBase = DefaultITunesBase
	}
	return &AppStoreSource{entry: entry, lookupBase: strings.TrimRight(lookupBase, "/")}
}

func (a *AppStoreSource) Type() Type {
	return a.entry.Type
}

func (a *AppStoreSource) Description() string {
	return "App Store listing " + a.entry.URL
}

func (a *AppStoreSource) Fetch(ctx context.Context) Result {
	version := LatestVersion

	var lookup struct {
		Results []struct {
			Version string `json:"version"`
		} `json:"results"`
	}
	url := fmt.Sprintf("%s/lookup?id=%s", a.lookupBase, a.entry.AppID)
	if err := httpGetJSON(ctx, url, lookupTimeout, nil, &lookup); err != nil {
		slog.Warn("Failed to fetch App Store version", "type", a.entry.Type, "error", err)
	} else if len(lookup.Results) > 0 && lookup.Results[0].Version != "" {
		version = lookup.Results[0].Version
	}

	return found([]Artifact{{Type: a.entry.Type, URL: a.entry.URL, Version: version}})
}
