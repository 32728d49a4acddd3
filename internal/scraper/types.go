// Package scraper implements the discover→fetch→parse→normalize→link→upsert
// pipeline that turns remote web content into normalized, deduplicated
// records.
package scraper

import (
	"context"
	"net/http"
	"time"
)

// ContentType classifies a scraped record.
type ContentType string

// Content type values carried on ScraperResult.
const (
	ContentTypeArticle       ContentType = "article"
	ContentTypeCatalyst      ContentType = "catalyst"
	ContentTypeTherapeutic   ContentType = "therapeutic"
	ContentTypePressRelease  ContentType = "press_release"
	ContentTypeRegulatory    ContentType = "regulatory"
	ContentTypeClinicalTrial ContentType = "clinical_trial"
)

// DiscoveryMethod selects how a pipeline finds URLs to scrape.
type DiscoveryMethod string

// Discovery methods.
const (
	MethodRSS     DiscoveryMethod = "rss"
	MethodSitemap DiscoveryMethod = "sitemap"
	MethodArchive DiscoveryMethod = "archive"
	MethodURL     DiscoveryMethod = "url"
)

// ScraperResult is the unit of pipeline output. It is created at
// normalize time, mutated only by link (entity sets) and fixture saving
// (FixturePath), and never after upsert.
type ScraperResult struct {
	ContentType ContentType    `json:"content_type"`
	Data        map[string]any `json:"data"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RawHTML     string         `json:"raw_html,omitempty"`
	FixturePath string         `json:"fixture_path,omitempty"`

	// Deduplication fields.
	URL         string `json:"url"`
	Hash        string `json:"hash"`
	Fingerprint string `json:"fingerprint"`

	// Linking fields.
	Companies []string `json:"companies,omitempty"`
	Diseases  []string `json:"diseases,omitempty"`
	Catalysts []string `json:"catalysts,omitempty"`

	// Quality fields.
	Confidence float64 `json:"confidence"`
	LinkValid  bool    `json:"link_valid"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	ScrapedAt   time.Time  `json:"scraped_at"`
}

// RawResponse is one fetched document entering the parse step.
type RawResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	HTML        string
	NotModified bool
}

// ParsedFields is the structured output of the parse step.
type ParsedFields struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Author      string     `json:"author,omitempty"`
	Image       string     `json:"image,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ModifiedAt  *time.Time `json:"modified_at,omitempty"`
	Content     string     `json:"content"`
	// Strategy records which extraction source won: json-ld, opengraph,
	// microdata, or html.
	Strategy string `json:"strategy"`
}

// DiscoverOptions parameterizes the discover step.
type DiscoverOptions struct {
	Since time.Time
	Limit int
	// URLs is used verbatim by MethodURL for ad-hoc fetches.
	URLs []string
}

// RunOptions parameterizes one full pipeline run.
type RunOptions struct {
	Method      DiscoveryMethod
	Since       time.Time
	Limit       int
	URLs        []string
	BatchSize   int
	DryRun      bool
	SaveFixture bool
}

// Pipeline stages referenced by item reports.
const (
	StageDiscover  = "discover"
	StageFetch     = "fetch"
	StageParse     = "parse"
	StageNormalize = "normalize"
	StageLink      = "link"
	StageFixture   = "fixture"
	StageUpsert    = "upsert"
)

// ItemReport records the fate of one discovered URL. Soft per-item
// failures become reports instead of aborting the batch, making the
// continue-on-partial-failure behavior visible data flow.
type ItemReport struct {
	URL   string `json:"url"`
	Stage string `json:"stage"`
	Error string `json:"error,omitempty"`
	// Skipped marks non-failures dropped on purpose (304s, filtered items).
	Skipped bool `json:"skipped,omitempty"`
}

// RunReport summarizes one Run invocation.
type RunReport struct {
	RunID      string       `json:"run_id"`
	SourceKey  string       `json:"source_key"`
	Discovered int          `json:"discovered"`
	Fetched    int          `json:"fetched"`
	Succeeded  int          `json:"succeeded"`
	Items      []ItemReport `json:"items,omitempty"`
	// Aborted is set when the consecutive-failure circuit breaker fired.
	Aborted    bool      `json:"aborted,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Scraper is the contract every source pipeline implements. Stages are
// strictly ordered; Run drives them in sequence.
type Scraper interface {
	SourceKey() string
	Discover(ctx context.Context, method DiscoveryMethod, opts DiscoverOptions) ([]string, error)
	Fetch(ctx context.Context, urls []string, batchSize int) []RawResponse
	Parse(ctx context.Context, raw RawResponse) (*ParsedFields, error)
	Normalize(ctx context.Context, parsed *ParsedFields) (*ScraperResult, error)
	Link(ctx context.Context, result *ScraperResult) error
	Upsert(ctx context.Context, result *ScraperResult, dryRun bool) error
	Run(ctx context.Context, opts RunOptions) ([]*ScraperResult, *RunReport, error)
}

// Upserter persists results. Implementations must be idempotent keyed by
// result hash: re-upserting the same content hash must not create
// duplicates.
type Upserter interface {
	Upsert(ctx context.Context, result *ScraperResult, dryRun bool) error
}

// Publisher pushes upserted results to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RobotsPolicy answers whether a URL may be fetched for a given source.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}
