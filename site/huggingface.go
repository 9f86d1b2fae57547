package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

const DefaultHuggingFaceEndpoint = "https://huggingface.co"

// HuggingFaceSource lists a dataset folder on HuggingFace or one of its
// mirrors and records every build file found there.
type HuggingFaceSource struct {
	entry    Entry
	endpoint string
	repoID   string
	token    string
}

func NewHuggingFaceSource(entry Entry, endpoint, repoID, token string) *HuggingFaceSource {
	if entry.Endpoint != "" {
		endpoint = entry.Endpoint
	}
	if endpoint == "" {
		endpoint = DefaultHuggingFaceEndpoint
	}
	return &HuggingFaceSource{
		entry:    entry,
		endpoint: strings.TrimRight(endpoint, "/"),
		repoID:   repoID,
		token:    token,
	}
}

func (h *HuggingFaceSource) Type() Type {
	return h.entry.Type
}

func (h *HuggingFaceSource) Description() string {
	return fmt.Sprintf("%s files under %s/datasets/%s/%s", h.entry.Extension, h.endpoint, h.repoID, h.entry.Folder)
}

type treeEntry struct {
	Type         string `json:"type"`
	Path         string `json:"path"`
	LastModified string `json:"lastModified"`
	LastCommit   *struct {
		Date string `json:"date"`
	} `json:"lastCommit"`
}

func (e treeEntry) modified() time.Time {
	raw := e.LastModified
	if raw == "" && e.LastCommit != nil {
		raw = e.LastCommit.Date
	}
	t, _ := time.Parse(time.RFC3339, raw)
	return t
}

func (h *HuggingFaceSource) Fetch(ctx context.Context) Result {
	if h.repoID == "" {
		return skipped("HF_DATASETS_ID not configured")
	}

	listURL := fmt.Sprintf("%s/api/datasets/%s/tree/main/%s", h.endpoint, h.repoID, h.entry.Folder)
	headers := map[string]string{"Accept": "application/json"}
	if h.token != "" {
		headers["Authorization"] = "Bearer " + h.token
	}

	var entries []treeEntry
	if err := httpGetJSON(ctx, listURL, listingTimeout, headers, &entries); err != nil {
		if errors.Is(err, ErrNotFound) {
			return emptyResult("folder not found")
		}
		return failed(fmt.Errorf("listing %s: %w", h.entry.Folder, err))
	}

	files := entries[:0]
	for _, e := range entries {
		if e.Type == "directory" || !strings.HasSuffix(e.Path, h.entry.Extension) {
			continue
		}
		files = append(files, e)
	}
	if len(files) == 0 {
		return emptyResult("no " + h.entry.Extension + " files")
	}

	sort.SliceStable(files, func(i, j int) bool {
		mi, mj := files[i].modified(), files[j].modified()
		if !mi.IsZero() && !mj.IsZero() && !mi.Equal(mj) {
			return mi.After(mj)
		}
		return files[i].Path > files[j].Path
	})

	var artifacts []Artifact
	for _, f := range files {
		name := path.Base(f.Path)
		version, build, ok := ParseFilename(name)
		if !ok {
			slog.Warn("Skipping unparseable file", "type", h.entry.Type, "file", name)
			continue
		}
		artifacts = append(artifacts, Artifact{
			Type:    h.entry.Type,
			URL:     h.downloadURL(name),
			Version: version,
			Build:   build,
		})
	}
	return found(artifacts)
}

func (h *HuggingFaceSource) downloadURL(file string) string {
	u := fmt.Sprintf("%s/datasets/%s/resolve/main/%s/%s", h.endpoint, h.repoID, h.entry.Folder, url.PathEscape(file))
	if h.entry.DownloadQuery != "" {
		u += "?" + h.entry.DownloadQuery
	}
	return u
}
