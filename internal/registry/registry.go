// Package registry is the single source of truth for "how do I talk to
// source X": per-source base URLs, rate policies, discovery descriptors,
// and robots handling, loaded once from a YAML document and read-only
// afterwards.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent identifies the scraper to origin servers when a source
// does not override it.
const DefaultUserAgent = "BiotechTerminal/1.0 (contact@bioterminal.dev)"

// Known source categories.
const (
	CategoryNewsPress    = "news_press"
	CategoryRegulators   = "regulators"
	CategoryRegistries   = "registries"
	CategoryExchanges    = "exchanges"
	CategoryCompanySites = "company_sites"
)

// Source is the immutable per-source configuration. One instance exists
// per source for the process lifetime, owned by the Registry.
type Source struct {
	SourceKey string
	Name      string
	Category  string
	BaseURL   string
	Enabled   bool

	MaxRPS        float64
	MaxConcurrent int

	HasRSS     bool
	RSSURL     string
	HasSitemap bool
	SitemapURL string
	HasArchive bool
	ArchiveURL string

	RespectRobots bool
	UserAgent     string

	Extra map[string]any
}

// Document mirrors the on-disk YAML shape.
type document struct {
	Version  string                 `yaml:"version"`
	Scrapers map[string][]sourceDoc `yaml:"scrapers"`
}

type sourceDoc struct {
	SourceKey string         `yaml:"source_key"`
	Name      string         `yaml:"name"`
	BaseURL   string         `yaml:"base_url"`
	Enabled   *bool          `yaml:"enabled"`
	RateLimit *rateLimitDoc  `yaml:"rate_limit"`
	Discovery *discoveryDoc  `yaml:"discovery"`
	Robots    *robotsDoc     `yaml:"robots"`
	Extra     map[string]any `yaml:"extra"`
}

type rateLimitDoc struct {
	MaxRPS        float64 `yaml:"max_rps"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

type discoveryDoc struct {
	HasRSS     bool   `yaml:"has_rss"`
	RSSURL     string `yaml:"rss_url"`
	HasSitemap bool   `yaml:"has_sitemap"`
	SitemapURL string `yaml:"sitemap_url"`
	HasArchive bool   `yaml:"has_archive"`
	ArchiveURL string `yaml:"archive_url"`
}

type robotsDoc struct {
	Respect   *bool  `yaml:"respect"`
	UserAgent string `yaml:"user_agent"`
}

// Registry indexes Source configurations by source key. Loading happens
// once at construction (or on explicit Reload); lookups never mutate.
type Registry struct {
	path    string
	sources map[string]Source
}

// Load reads the registry document at path. A missing file is not an
// error: an empty skeleton is written and loaded so first-run
// bootstrapping never crashes.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the document, replacing the in-memory index wholesale.
func (r *Registry) Reload() error {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		if err := writeSkeleton(r.path); err != nil {
			return err
		}
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry %s: %w", r.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse registry %s: %w", r.path, err)
	}

	sources := make(map[string]Source)
	for category, entries := range doc.Scrapers {
		for _, entry := range entries {
			if entry.SourceKey == "" {
				return fmt.Errorf("registry %s: source without source_key in category %q", r.path, category)
			}
			src := fromDoc(category, entry)
			if _, dup := sources[src.SourceKey]; dup {
				return fmt.Errorf("registry %s: duplicate source_key %q", r.path, src.SourceKey)
			}
			sources[src.SourceKey] = src
		}
	}
	r.sources = sources
	return nil
}

func fromDoc(category string, d sourceDoc) Source {
	src := Source{
		SourceKey:     d.SourceKey,
		Name:          d.Name,
		Category:      category,
		BaseURL:       d.BaseURL,
		Enabled:       true,
		MaxRPS:        1.0,
		MaxConcurrent: 4,
		RespectRobots: true,
		UserAgent:     DefaultUserAgent,
		Extra:         d.Extra,
	}
	if d.Enabled != nil {
		src.Enabled = *d.Enabled
	}
	if d.RateLimit != nil {
		if d.RateLimit.MaxRPS > 0 {
			src.MaxRPS = d.RateLimit.MaxRPS
		}
		if d.RateLimit.MaxConcurrent > 0 {
			src.MaxConcurrent = d.RateLimit.MaxConcurrent
		}
	}
	if d.Discovery != nil {
		src.HasRSS = d.Discovery.HasRSS
		src.RSSURL = d.Discovery.RSSURL
		src.HasSitemap = d.Discovery.HasSitemap
		src.SitemapURL = d.Discovery.SitemapURL
		src.HasArchive = d.Discovery.HasArchive
		src.ArchiveURL = d.Discovery.ArchiveURL
	}
	if d.Robots != nil {
		if d.Robots.Respect != nil {
			src.RespectRobots = *d.Robots.Respect
		}
		if d.Robots.UserAgent != "" {
			src.UserAgent = d.Robots.UserAgent
		}
	}
	if src.Extra == nil {
		src.Extra = map[string]any{}
	}
	return src
}

func writeSkeleton(path string) error {
	skeleton := document{
		Version: "1.0",
		Scrapers: map[string][]sourceDoc{
			CategoryNewsPress:    {},
			CategoryRegulators:   {},
			CategoryRegistries:   {},
			CategoryExchanges:    {},
			CategoryCompanySites: {},
		},
	}
	raw, err := yaml.Marshal(skeleton)
	if err != nil {
		return fmt.Errorf("marshal registry skeleton: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create registry dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write registry skeleton %s: %w", path, err)
	}
	return nil
}

// Get returns the configuration for one source key.
func (r *Registry) Get(sourceKey string) (Source, bool) {
	src, ok := r.sources[sourceKey]
	return src, ok
}

// ByCategory returns every source in a category, sorted by source key.
func (r *Registry) ByCategory(category string) []Source {
	var out []Source
	for _, src := range r.sources {
		if src.Category == category {
			out = append(out, src)
		}
	}
	sortSources(out)
	return out
}

// Enabled returns every enabled source, sorted by source key.
func (r *Registry) Enabled() []Source {
	var out []Source
	for _, src := range r.sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	sortSources(out)
	return out
}

// ListSources returns all known source keys, sorted.
func (r *Registry) ListSources() []string {
	keys := make([]string, 0, len(r.sources))
	for key := range r.sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortSources(s []Source) {
	sort.Slice(s, func(i, j int) bool { return s[i].SourceKey < s[j].SourceKey })
}
