// Package releasenotes serves markdown release notes stored as files named
// {build}-{version}.md (or the legacy {build}.md) in per-locale directories.
package releasenotes

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrInvalidBuild = errors.New("build must be a positive integer")
	ErrOutsideRoot  = errors.New("path escapes release notes root")
)

var readDir = os.ReadDir

var (
	noteFile      = regexp.MustCompile(`^(\d+)-(.+)\.md$`)
	legacyFile    = regexp.MustCompile(`^(\d+)\.md$`)
	semver        = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)
	localePattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)
	linePattern   = regexp.MustCompile(`^(\d+)\.(\d+)$`)
)

// DefaultLines are the MAJOR.MINOR release lines listed by All.
var DefaultLines = []string{
	"3.0", "3.1", "3.2", "3.3", "3.4", "3.5", "3.6", "3.7",
	"1.6", "1.7", "1.8", "1.9",
}

// Note is one release-notes document. Version is nil for legacy files.
type Note struct {
	Build   int     `json:"build"`
	Version *string `json:"version"`
	Content string  `json:"content"`
}

type Options struct {
	Root          string
	DefaultLocale string
	Lines         []string
}

// Reader looks up release notes below a root directory. It is safe for
// concurrent use.
type Reader struct {
	root          string
	defaultLocale string
	lines         map[string]bool

	mu         sync.RWMutex
	watching   bool
	generation uint64
	listings   map[string][]string
}

func NewReader(opts Options) (*Reader, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving release notes root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	lines := opts.Lines
	if lines == nil {
		lines = DefaultLines
	}
	allowed := make(map[string]bool, len(lines))
	for _, l := range lines {
		if !linePattern.MatchString(l) {
			return nil, fmt.Errorf("invalid release line %q", l)
		}
		allowed[l] = true
	}

	return &Reader{
		root:          root,
		defaultLocale: opts.DefaultLocale,
		lines:         allowed,
		listings:      make(map[string][]string),
	}, nil
}

// ParseLines parses a comma-separated list such as "3.6,3.7,1.9".
func ParseLines(s string) ([]string, error) {
	var lines []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !linePattern.MatchString(part) {
			return nil, fmt.Errorf("invalid release line %q", part)
		}
		lines = append(lines, part)
	}
	return lines, nil
}

func (r *Reader) Root() string {
	return r.root
}

// Find returns the note for build in locale. When no file carries the build
// and version is a MAJOR.MINOR.PATCH string, older patches of the same line
// are tried from PATCH down to 0. A nil note without error means nothing
// matched.
func (r *Reader) Find(build int, version, locale string) (*Note, error) {
	if build <= 0 {
		return nil, ErrInvalidBuild
	}
	dir := r.dir(locale)
	names, err := r.list(dir)
	if err != nil {
		return nil, err
	}

	prefix := strconv.Itoa(build) + "-"
	var matches []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) && noteFile.MatchString(name) {
			matches = append(matches, name)
		}
	}
	if len(matches) > 1 {
		slog.Warn("Multiple release notes for build, using the first", "build", build, "files", matches)
	}
	if len(matches) > 0 {
		return r.read(dir, matches[0])
	}

	legacy := strconv.Itoa(build) + ".md"
	for _, name := range names {
		if name == legacy {
			return r.read(dir, name)
		}
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return nil, nil
	}
	return r.findByVersions(dir, names, FallbackVersions(version))
}

// FallbackVersions lists version and its older patches, newest first.
// A version that is not MAJOR.MINOR.PATCH is returned on its own.
func FallbackVersions(version string) []string {
	m := semver.FindStringSubmatch(version)
	if m == nil {
		return []string{version}
	}
	patch, _ := strconv.Atoi(m[3])
	versions := make([]string, 0, patch+1)
	for p := patch; p >= 0; p-- {
		versions = append(versions, fmt.Sprintf("%s.%s.%d", m[1], m[2], p))
	}
	return versions
}

type candidate struct {
	name    string
	build   int
	version string
	major   int
	minor   int
	patch   int
}

func parseCandidate(name string) (candidate, bool) {
	m := noteFile.FindStringSubmatch(name)
	if m == nil {
		return candidate{}, false
	}
	build, err := strconv.Atoi(m[1])
	if err != nil {
		return candidate{}, false
	}
	c := candidate{name: name, build: build, version: m[2], patch: -1}
	if v := semver.FindStringSubmatch(m[2]); v != nil {
		c.major, _ = strconv.Atoi(v[1])
		c.minor, _ = strconv.Atoi(v[2])
		c.patch, _ = strconv.Atoi(v[3])
	}
	return c, true
}

func (r *Reader) findByVersions(dir string, names, versions []string) (*Note, error) {
	wanted := make(map[string]bool, len(versions))
	for _, v := range versions {
		wanted[v] = true
	}

	var matches []candidate
	for _, name := range names {
		if c, ok := parseCandidate(name); ok && wanted[c.version] {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].patch != matches[j].patch {
			return matches[i].patch > matches[j].patch
		}
		return matches[i].build > matches[j].build
	})
	return r.read(dir, matches[0].name)
}

// All returns the newest note of every allowed release line, newest line
// first.
func (r *Reader) All(locale string) ([]Note, error) {
	dir := r.dir(locale)
	names, err := r.list(dir)
	if err != nil {
		return nil, err
	}

	best := make(map[string]candidate)
	for _, name := range names {
		c, ok := parseCandidate(name)
		if !ok || c.patch < 0 {
			continue
		}
		line := fmt.Sprintf("%d.%d", c.major, c.minor)
		if !r.lines[line] {
			continue
		}
		if cur, ok := best[line]; !ok || c.patch > cur.patch || (c.patch == cur.patch && c.build > cur.build) {
			best[line] = c
		}
	}

	picked := make([]candidate, 0, len(best))
	for _, c := range best {
		picked = append(picked, c)
	}
	sort.Slice(picked, func(i, j int) bool {
		a, b := picked[i], picked[j]
		if a.major != b.major {
			return a.major > b.major
		}
		if a.minor != b.minor {
			return a.minor > b.minor
		}
		if a.patch != b.patch {
			return a.patch > b.patch
		}
		return a.build > b.build
	})

	notes := make([]Note, 0, len(picked))
	for _, c := range picked {
		n, err := r.read(dir, c.name)
		if err != nil {
			slog.Warn("Skipping unreadable release notes", "file", c.name, "error", err)
			continue
		}
		notes = append(notes, *n)
	}
	return notes, nil
}

// dir picks the requested locale's directory, then the default locale's,
// then the root itself.
func (r *Reader) dir(locale string) string {
	for _, l := range []string{locale, r.defaultLocale} {
		if l == "" || !localePattern.MatchString(l) {
			continue
		}
		d := filepath.Join(r.root, l)
		if fi, err := os.Stat(d); err == nil && fi.IsDir() && r.within(d) {
			return d
		}
	}
	return r.root
}

func (r *Reader) list(dir string) ([]string, error) {
	r.mu.RLock()
	names, ok := r.listings[dir]
	watching := r.watching
	gen := r.generation
	r.mu.RUnlock()
	if ok {
		return names, nil
	}

	entries, err := readDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading release notes directory: %w", err)
	}
	names = make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}

	if watching {
		r.mu.Lock()
		// A change seen while reading makes this listing stale.
		if r.generation == gen {
			r.listings[dir] = names
		}
		r.mu.Unlock()
	}
	return names, nil
}

func (r *Reader) read(dir, name string) (*Note, error) {
	p := filepath.Join(dir, name)
	if !r.within(p) {
		slog.Error("Path traversal attempt detected", "path", p)
		return nil, ErrOutsideRoot
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	note := &Note{Content: strings.TrimSpace(string(data))}
	if c, ok := parseCandidate(name); ok {
		note.Build = c.build
		note.Version = &c.version
	} else if m := legacyFile.FindStringSubmatch(name); m != nil {
		note.Build, _ = strconv.Atoi(m[1])
	}
	return note, nil
}

// within reports whether p, with symlinks resolved, stays below the root.
func (r *Reader) within(p string) bool {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		resolved = filepath.Clean(p)
	}
	rel, err := filepath.Rel(r.root, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
