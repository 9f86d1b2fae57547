package site

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var defaultCatalog string

// Provider names the family of fetcher an entry is served by.
type Provider string

const (
	ProviderHuggingFace Provider = "huggingface"
	ProviderGitHub      Provider = "github"
	ProviderPgyer       Provider = "pgyer"
	ProviderAppStore    Provider = "appstore"
	ProviderPlayStore   Provider = "playstore"
	ProviderStatic      Provider = "static"
)

// Entry is the fetch configuration for one artifact type.
type Entry struct {
	Type          Type     `toml:"type"`
	Provider      Provider `toml:"provider"`
	Platform      string   `toml:"platform"`
	Label         string   `toml:"label"`
	Folder        string   `toml:"folder"`
	Extension     string   `toml:"extension"`
	Endpoint      string   `toml:"endpoint"`
	DownloadQuery string   `toml:"download_query"`
	Include       string   `toml:"include"`
	Exclude       string   `toml:"exclude"`
	Link          string   `toml:"link"`
	URL           string   `toml:"url"`
	AppID         string   `toml:"app_id"`
	Mirror        bool     `toml:"mirror"`

	include *regexp.Regexp
	exclude *regexp.Regexp
}

// Catalog is the ordered set of artifact entries.
type Catalog struct {
	Entries []Entry `toml:"source"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(string(data))
}

func ParseCatalog(data string) (*Catalog, error) {
	var c Catalog
	if _, err := toml.Decode(data, &c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	seen := make(map[Type]bool, len(c.Entries))
	for i := range c.Entries {
		e := &c.Entries[i]
		if _, ok := ParseType(string(e.Type)); !ok {
			return nil, fmt.Errorf("catalog entry %d: unknown type %q", i, e.Type)
		}
		if seen[e.Type] {
			return nil, fmt.Errorf("catalog entry %d: duplicate type %q", i, e.Type)
		}
		seen[e.Type] = true
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", e.Type, err)
		}
	}
	return &c, nil
}

func (e *Entry) validate() error {
	var err error
	if e.Include != "" {
		if e.include, err = regexp.Compile(e.Include); err != nil {
			return fmt.Errorf("include pattern: %w", err)
		}
	}
	if e.Exclude != "" {
		if e.exclude, err = regexp.Compile(e.Exclude); err != nil {
			return fmt.Errorf("exclude pattern: %w", err)
		}
	}

	switch e.Provider {
	case ProviderHuggingFace:
		if e.Folder == "" || e.Extension == "" {
			return fmt.Errorf("huggingface entries need folder and extension")
		}
	case ProviderGitHub:
		if e.Extension == "" {
			return fmt.Errorf("github entries need an extension")
		}
	case ProviderPgyer:
		if e.Link != "install" && e.Link != "page" {
			return fmt.Errorf("pgyer link must be \"install\" or \"page\", got %q", e.Link)
		}
	case ProviderAppStore:
		if e.URL == "" || e.AppID == "" {
			return fmt.Errorf("appstore entries need url and app_id")
		}
	case ProviderPlayStore, ProviderStatic:
		if e.URL == "" {
			return fmt.Errorf("%s entries need a url", e.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", e.Provider)
	}
	if (e.Provider == ProviderAppStore || e.Provider == ProviderPlayStore || e.Provider == ProviderStatic) != e.Type.FixedURL() {
		return fmt.Errorf("provider %s does not match the type's link kind", e.Provider)
	}
	return nil
}

// Lookup returns the entry for t.
func (c *Catalog) Lookup(t Type) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Type == t {
			return e, true
		}
	}
	return Entry{}, false
}

// Types returns the catalog's types in order.
func (c *Catalog) Types() []Type {
	types := make([]Type, len(c.Entries))
	for i, e := range c.Entries {
		types[i] = e.Type
	}
	return types
}
