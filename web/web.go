// Package web renders the localized download and changelog pages.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml templates/*.html
var assets embed.FS

const (
	DefaultLocale = "en"
	LocaleCookie  = "lang"

	latestVersion = "latest"
	repoURL       = "https://github.com/RWKV-APP/RWKV_APP"
)

// Locales lists the supported locales in switcher order.
var Locales = []string{"zh-CN", "zh-TW", "ja", "ko", "en", "ru"}

// Translation is one locale's UI strings.
type Translation struct {
	Name                 string            `yaml:"name"`
	AppName              string            `yaml:"app_name"`
	Tagline              string            `yaml:"tagline"`
	Description          string            `yaml:"description"`
	DownloadNow          string            `yaml:"download_now"`
	OtherPlatforms       string            `yaml:"other_platforms"`
	ViewChangelog        string            `yaml:"view_changelog"`
	Back                 string            `yaml:"back"`
	Changelog            string            `yaml:"changelog"`
	ChangelogDescription string            `yaml:"changelog_description"`
	OpenSource           string            `yaml:"open_source"`
	ViewOnGitHub         string            `yaml:"view_on_github"`
	Available            string            `yaml:"available"`
	Unavailable          string            `yaml:"unavailable"`
	NoNotes              string            `yaml:"no_notes"`
	Platforms            map[string]string `yaml:"platforms"`
	Requirements         map[string]string `yaml:"requirements"`
}

// Button is one download link.
type Button struct {
	Type      string
	Label     string
	URL       string
	Version   string
	Build     *int
	Available bool
	Mirror    bool
}

// Group is the set of buttons for one platform.
type Group struct {
	Platform string
	Buttons  []Button
}

// Note is one changelog entry.
type Note struct {
	Build   int
	Version string
	Content string
}

type Renderer struct {
	tmpl         *template.Template
	translations map[string]*Translation
	matcher      language.Matcher
	matchTags    []string
	markdown     goldmark.Markdown
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		translations: make(map[string]*Translation, len(Locales)),
		markdown:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}

	for _, loc := range Locales {
		data, err := fs.ReadFile(assets, path.Join("locales", loc+".yaml"))
		if err != nil {
			return nil, fmt.Errorf("reading %s translations: %w", loc, err)
		}
		var t Translation
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decoding %s translations: %w", loc, err)
		}
		r.translations[loc] = &t
	}

	// The default locale goes first so unmatched requests fall back to it.
	r.matchTags = append([]string{DefaultLocale}, without(Locales, DefaultLocale)...)
	tags := make([]language.Tag, len(r.matchTags))
	for i, l := range r.matchTags {
		tags[i] = language.MustParse(l)
	}
	r.matcher = language.NewMatcher(tags)

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"display": r.display,
	}).ParseFS(assets, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

func without(list []string, drop string) []string {
	var out []string
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

// Supported returns the canonical spelling of locale if it is supported.
func Supported(locale string) (string, bool) {
	for _, l := range Locales {
		if strings.EqualFold(l, locale) {
			return l, true
		}
	}
	return "", false
}

// ResolveLocale picks the page locale: an explicit ?lang= parameter, the
// lang cookie, Accept-Language, and finally mainland China detection.
// mainlandChina may be nil.
func (r *Renderer) ResolveLocale(req *http.Request, mainlandChina func() bool) string {
	if l, ok := Supported(req.URL.Query().Get("lang")); ok {
		return l
	}
	if c, err := req.Cookie(LocaleCookie); err == nil {
		if l, ok := Supported(c.Value); ok {
			return l
		}
	}
	if l, ok := r.matchAcceptLanguage(req.Header.Get("Accept-Language")); ok {
		return l
	}
	if mainlandChina != nil && mainlandChina() {
		return "zh-CN"
	}
	return DefaultLocale
}

func (r *Renderer) matchAcceptLanguage(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, idx, conf := r.matcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	return r.matchTags[idx], true
}

// OrderForLocale lists mirror hosts first within each platform for
// Simplified Chinese readers and keeps catalog order otherwise.
func OrderForLocale(locale string, groups []Group) []Group {
	if locale != "zh-CN" {
		return groups
	}
	out := make([]Group, len(groups))
	for i, g := range groups {
		buttons := append([]Button(nil), g.Buttons...)
		sort.SliceStable(buttons, func(a, b int) bool {
			return buttons[a].Mirror && !buttons[b].Mirror
		})
		out[i] = Group{Platform: g.Platform, Buttons: buttons}
	}
	return out
}

func (r *Renderer) translation(locale string) *Translation {
	if t, ok := r.translations[locale]; ok {
		return t
	}
	return r.translations[DefaultLocale]
}

type localeOption struct {
	Code     string
	Name     string
	Selected bool
}

func (r *Renderer) options(locale string) []localeOption {
	opts := make([]localeOption, len(Locales))
	for i, l := range Locales {
		opts[i] = localeOption{Code: l, Name: r.translations[l].Name, Selected: l == locale}
	}
	return opts
}

type pageData struct {
	Locale  string
	Locales []localeOption
	T       *Translation
	RepoURL string
	Groups  []Group
	Notes   []renderedNote
}

type renderedNote struct {
	Build   int
	Version string
	HTML    template.HTML
}

// RenderDownloads writes the download page.
func (r *Renderer) RenderDownloads(w io.Writer, locale string, groups []Group) error {
	return r.tmpl.ExecuteTemplate(w, "downloads", pageData{
		Locale:  locale,
		Locales: r.options(locale),
		T:       r.translation(locale),
		RepoURL: repoURL,
		Groups:  OrderForLocale(locale, groups),
	})
}

// RenderChangelog writes the changelog page with notes rendered from markdown.
func (r *Renderer) RenderChangelog(w io.Writer, locale string, notes []Note) error {
	rendered := make([]renderedNote, 0, len(notes))
	for _, n := range notes {
		var buf bytes.Buffer
		if err := r.markdown.Convert([]byte(n.Content), &buf); err != nil {
			return fmt.Errorf("rendering notes for build %d: %w", n.Build, err)
		}
		rendered = append(rendered, renderedNote{Build: n.Build, Version: n.Version, HTML: template.HTML(buf.String())})
	}
	return r.tmpl.ExecuteTemplate(w, "changelog", pageData{
		Locale:  locale,
		Locales: r.options(locale),
		T:       r.translation(locale),
		RepoURL: repoURL,
		Notes:   rendered,
	})
}

// display renders a button's version line: "Available" for fixed links,
// "3.7.2 (512)" otherwise.
func (r *Renderer) display(locale string, b Button) string {
	t := r.translation(locale)
	switch {
	case !b.Available:
		return t.Unavailable
	case b.Version == latestVersion || b.Version == "":
		return t.Available
	case b.Build != nil:
		return b.Version + " (" + strconv.Itoa(*b.Build) + ")"
	default:
		return b.Version
	}
}
