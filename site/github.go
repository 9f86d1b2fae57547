package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const DefaultGitHubAPI = "https://api.github.com"

// GitHubSource records the assets of a repository's latest release that
// match the entry's extension and filename patterns.
type GitHubSource struct {
	entry   Entry
	apiBase string
	repo    string // "owner/repo"
	token   string
}

func NewGitHubSource(entry Entry, apiBase, repo, token string) *GitHubSource {
	if apiBase == "" {
		apiBase = DefaultGitHubAPI
	}
	return &GitHubSource{entry: entry, apiBase: strings.TrimRight(apiBase, "/"), repo: repo, token: token}
}

func (g *GitHubSource) Type() Type {
	return g.entry.Type
}

func (g *GitHubSource) Description() string {
	return fmt.Sprintf("%s assets of the latest release of github.com/%s", g.entry.Extension, g.repo)
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string    `json:"name"`
	BrowserDownloadURL string    `json:"browser_download_url"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (a githubAsset) uploaded() time.Time {
	if !a.UpdatedAt.IsZero() {
		return a.UpdatedAt
	}
	return a.CreatedAt
}

func (g *GitHubSource) Fetch(ctx context.Context) Result {
	if g.repo == "" {
		return skipped("GITHUB_REPO not configured")
	}

	headers := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if g.token != "" {
		headers["Authorization"] = "Bearer " + g.token
	}

	var release githubRelease
	url := fmt.Sprintf("%s/repos/%s/releases/latest", g.apiBase, g.repo)
	if err := httpGetJSON(ctx, url, listingTimeout, headers, &release); err != nil {
		if errors.Is(err, ErrNotFound) {
			return emptyResult("no latest release")
		}
		return failed(fmt.Errorf("GitHub API request failed: %w", err))
	}

	var assets []githubAsset
	for _, a := range release.Assets {
		if g.matches(a) {
			assets = append(assets, a)
		}
	}
	if len(assets) == 0 {
		return emptyResult("no matching assets in " + release.TagName)
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].uploaded().After(assets[j].uploaded())
	})

	var artifacts []Artifact
	for _, a := range assets {
		version, build, ok := ParseFilename(a.Name)
		if !ok {
			version, build, ok = ParseTag(release.TagName)
		}
		if !ok {
			slog.Warn("Skipping unparseable asset", "type", g.entry.Type, "asset", a.Name, "tag", release.TagName)
			continue
		}
		artifacts = append(artifacts, Artifact{
			Type:    g.entry.Type,
			URL:     a.BrowserDownloadURL,
			Version: version,
			Build:   build,
		})
	}
	return found(artifacts)
}

func (g *GitHubSource) matches(a githubAsset) bool {
	if a.BrowserDownloadURL == "" || !strings.HasSuffix(a.Name, g.entry.Extension) {
		return false
	}
	if g.entry.include != nil && !g.entry.include.MatchString(a.Name) {
		return false
	}
	if g.entry.exclude != nil && g.entry.exclude.MatchString(a.Name) {
		return false
	}
	return true
}
