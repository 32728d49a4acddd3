package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/dedup"
	"github.com/bioterminal/content-scraper/internal/entities"
	"github.com/bioterminal/content-scraper/internal/httpclient"
	"github.com/bioterminal/content-scraper/internal/metrics"
	"github.com/bioterminal/content-scraper/internal/ratelimit"
	"github.com/bioterminal/content-scraper/internal/registry"
)

// maxConsecutiveFailures trips the per-run circuit breaker: a source
// that fails this many items in a row is almost certainly blocking us
// or has changed layout, and hammering on is counterproductive.
const maxConsecutiveFailures = 5

// ErrDuplicate marks content the dedup engine already knows. Runs count
// it as a skip, never a failure.
var ErrDuplicate = errors.New("duplicate content")

// Profile carries per-source behavior fixed by the site catalog:
// the content type of the records a source yields, its preferred
// discovery method, tags every record gets, and an optional
// post-normalize hook for site-specific field surgery.
type Profile struct {
	ContentType   ContentType
	DefaultMethod DiscoveryMethod
	ExtraTags     []string
	PostNormalize func(parsed *ParsedFields, result *ScraperResult)
}

// Options wires a Pipeline's collaborators. Client, Limiter, and
// Upserter are required; the rest default to working no-op or generic
// implementations. Dedup should be the process-wide engine shared by
// all pipelines so cross-source re-syndication is caught; a nil Dedup
// gets a private engine that only deduplicates within one pipeline.
type Options struct {
	Client    *httpclient.Client
	Limiter   *ratelimit.Limiter
	Upserter  Upserter
	Dedup     *dedup.Engine
	Robots    RobotsPolicy
	Resolver  entities.Resolver
	Publisher Publisher
	Topic     string
	Fixtures  *FixtureStore
	Profile   Profile
	Logger    *zap.Logger
}

// Pipeline is the generic Scraper implementation: one instance per
// source, driving discover→fetch→parse→normalize→link→upsert with
// rate limiting, robots enforcement, and three-detector deduplication.
type Pipeline struct {
	source    registry.Source
	client    *httpclient.Client
	limiter   *ratelimit.Limiter
	robots    RobotsPolicy
	discover  *Discoverer
	resolver  entities.Resolver
	upserter  Upserter
	dedup     *dedup.Engine
	publisher Publisher
	topic     string
	fixtures  *FixtureStore
	profile   Profile
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewPipeline builds a Pipeline for one configured source.
func NewPipeline(source registry.Source, opts Options) (*Pipeline, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("pipeline for %s: nil http client", source.SourceKey)
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("pipeline for %s: nil rate limiter", source.SourceKey)
	}
	if opts.Upserter == nil {
		return nil, fmt.Errorf("pipeline for %s: nil upserter", source.SourceKey)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", source.SourceKey))

	robots := opts.Robots
	if robots == nil {
		robots = NewRobotsPolicy(source.RespectRobots, source.UserAgent, logger)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = entities.NewDictionaryResolver(entities.DefaultDictionary())
	}
	profile := opts.Profile
	if profile.ContentType == "" {
		profile.ContentType = ContentTypeArticle
	}
	engine := opts.Dedup
	if engine == nil {
		engine = dedup.NewEngine()
	}

	opts.Limiter.SetRate(hostOfSource(source), source.MaxRPS, 0)

	return &Pipeline{
		source:    source,
		client:    opts.Client,
		limiter:   opts.Limiter,
		robots:    robots,
		discover:  NewDiscoverer(source, opts.Client, logger),
		resolver:  resolver,
		upserter:  opts.Upserter,
		dedup:     engine,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		fixtures:  opts.Fixtures,
		profile:   profile,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func hostOfSource(source registry.Source) string {
	if u, err := url.Parse(source.BaseURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return source.SourceKey
}

// SourceKey implements Scraper.
func (p *Pipeline) SourceKey() string { return p.source.SourceKey }

// Discover implements Scraper.
func (p *Pipeline) Discover(ctx context.Context, method DiscoveryMethod, opts DiscoverOptions) ([]string, error) {
	return p.discover.Discover(ctx, method, opts)
}

// Fetch implements Scraper: rate-limited, robots-gated fetching with at
// most batchSize (bounded by the source's max_concurrent) in flight.
// Failures and robots denials are logged and dropped; results keep
// submission order.
func (p *Pipeline) Fetch(ctx context.Context, urls []string, batchSize int) []RawResponse {
	if batchSize <= 0 || batchSize > p.source.MaxConcurrent {
		batchSize = p.source.MaxConcurrent
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	results := make([]*RawResponse, len(urls))
	sem := make(chan struct{}, batchSize)
	var wg sync.WaitGroup
	for i, rawURL := range urls {
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if !p.robots.Allowed(ctx, rawURL) {
				p.logger.Info("robots disallows url", zap.String("url", rawURL))
				metrics.IncPipelineItem(p.source.SourceKey, StageFetch, "robots_denied")
				return
			}
			if err := p.limiter.Acquire(ctx, rawURL); err != nil {
				p.logger.Warn("rate limit acquire failed", zap.String("url", rawURL), zap.Error(err))
				return
			}
			resp, err := p.client.Get(ctx, rawURL)
			if err != nil {
				p.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
				metrics.IncPipelineItem(p.source.SourceKey, StageFetch, "error")
				return
			}
			if !resp.NotModified && resp.StatusCode != 200 {
				p.logger.Warn("fetch returned non-200",
					zap.String("url", rawURL),
					zap.Int("status", resp.StatusCode),
				)
				metrics.IncPipelineItem(p.source.SourceKey, StageFetch, "http_error")
				return
			}
			metrics.IncPipelineItem(p.source.SourceKey, StageFetch, "ok")
			results[i] = &RawResponse{
				URL:         rawURL,
				StatusCode:  resp.StatusCode,
				Headers:     resp.Headers,
				HTML:        string(resp.Body),
				NotModified: resp.NotModified,
			}
		}(i, rawURL)
	}
	wg.Wait()

	out := make([]RawResponse, 0, len(urls))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Parse implements Scraper.
func (p *Pipeline) Parse(_ context.Context, raw RawResponse) (*ParsedFields, error) {
	if raw.NotModified {
		return nil, fmt.Errorf("parse %s: content not modified", raw.URL)
	}
	return ParseHTML(raw.HTML, raw.URL)
}

// Normalize implements Scraper: canonical URL, content hash, simhash
// fingerprint, and the flattened data map downstream consumers see.
func (p *Pipeline) Normalize(_ context.Context, parsed *ParsedFields) (*ScraperResult, error) {
	if parsed == nil || parsed.Title == "" {
		return nil, fmt.Errorf("normalize: missing parsed fields")
	}

	canonical, err := dedup.CanonicalURL(parsed.URL)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", parsed.URL, err)
	}

	text := parsed.Title + "\n" + parsed.Content
	tags := mergeTags(ExtractTags(parsed.Title, parsed.Content), p.profile.ExtraTags...)

	result := &ScraperResult{
		ContentType: p.profile.ContentType,
		URL:         canonical,
		Hash:        dedup.ContentHash(text),
		Fingerprint: dedup.Fingerprint(text),
		Confidence:  scoreConfidence(parsed),
		PublishedAt: parsed.PublishedAt,
		ScrapedAt:   p.now().UTC(),
		Data: map[string]any{
			"title":       parsed.Title,
			"description": parsed.Description,
			"author":      parsed.Author,
			"image":       parsed.Image,
			"content":     parsed.Content,
			"tags":        tags,
		},
		Metadata: map[string]any{
			"source_key": p.source.SourceKey,
			"strategy":   parsed.Strategy,
		},
	}
	if p.profile.PostNormalize != nil {
		p.profile.PostNormalize(parsed, result)
	}
	return result, nil
}

// scoreConfidence grades extraction completeness on [0,1]. A bare title
// scores 0.4; dates, description, author, and substantial content each
// add.
func scoreConfidence(parsed *ParsedFields) float64 {
	score := 0.4
	if parsed.PublishedAt != nil {
		score += 0.2
	}
	if parsed.Description != "" {
		score += 0.1
	}
	if parsed.Author != "" {
		score += 0.1
	}
	if len(parsed.Content) > 200 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Link implements Scraper: entity resolution plus link validation
// through the TTL cache.
func (p *Pipeline) Link(ctx context.Context, result *ScraperResult) error {
	if result == nil {
		return fmt.Errorf("link: nil result")
	}
	text := fmt.Sprintf("%v %v", result.Data["title"], result.Data["content"])
	found := p.resolver.Resolve(text)
	result.Companies = found.Companies
	result.Diseases = found.Diseases
	result.Catalysts = found.Catalysts
	result.LinkValid = p.client.ValidateLink(ctx, result.URL, true)
	return nil
}

// Upsert implements Scraper. The dedup engine gates persistence: exact
// hash repeats, simhash near-duplicates, and minhash cluster members
// all return ErrDuplicate without touching the store.
func (p *Pipeline) Upsert(ctx context.Context, result *ScraperResult, dryRun bool) error {
	if result == nil || result.Hash == "" {
		return fmt.Errorf("upsert: result without hash")
	}

	if detector := p.registerDedup(result); detector != "" {
		metrics.IncDuplicate(detector)
		p.logger.Info("duplicate content skipped",
			zap.String("url", result.URL),
			zap.String("detector", detector),
		)
		return fmt.Errorf("%s %w detected by %s", result.URL, ErrDuplicate, detector)
	}

	if err := p.upserter.Upsert(ctx, result, dryRun); err != nil {
		return fmt.Errorf("upsert %s: %w", result.URL, err)
	}
	if dryRun || p.publisher == nil {
		return nil
	}
	if _, err := p.publisher.Publish(ctx, p.topic, result); err != nil {
		// Publication is best-effort; the record is already persisted.
		p.logger.Warn("publish failed", zap.String("url", result.URL), zap.Error(err))
	}
	return nil
}

// registerDedup runs the shared engine's detectors against the result
// and registers it when novel. Returns the detector name that fired,
// or "".
func (p *Pipeline) registerDedup(result *ScraperResult) string {
	content, _ := result.Data["content"].(string)
	title, _ := result.Data["title"].(string)
	return p.dedup.Register(result.Hash, result.Fingerprint, title+"\n"+content)
}

// Run implements Scraper, driving the full pipeline for one source.
// Per-item failures become ItemReports; the run aborts only on context
// cancellation or the consecutive-failure circuit breaker.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) ([]*ScraperResult, *RunReport, error) {
	report := &RunReport{
		RunID:     p.newID(),
		SourceKey: p.source.SourceKey,
		StartedAt: p.now().UTC(),
	}
	logger := p.logger.With(zap.String("run_id", report.RunID))

	method := opts.Method
	if method == "" {
		method = p.defaultMethod()
	}

	urls, err := p.Discover(ctx, method, DiscoverOptions{
		Since: opts.Since,
		Limit: opts.Limit,
		URLs:  opts.URLs,
	})
	if err != nil {
		report.FinishedAt = p.now().UTC()
		metrics.IncPipelineItem(p.source.SourceKey, StageDiscover, "error")
		return nil, report, fmt.Errorf("discover via %s: %w", method, err)
	}
	report.Discovered = len(urls)
	logger.Info("discovery complete",
		zap.String("method", string(method)),
		zap.Int("urls", len(urls)),
	)

	raws := p.Fetch(ctx, urls, opts.BatchSize)
	report.Fetched = len(raws)

	var results []*ScraperResult
	consecutive := 0
	for _, raw := range raws {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}
		result, item := p.processItem(ctx, raw, opts)
		report.Items = append(report.Items, item)
		if result != nil {
			results = append(results, result)
			report.Succeeded++
			consecutive = 0
			continue
		}
		if item.Skipped {
			continue
		}
		consecutive++
		if consecutive >= maxConsecutiveFailures {
			logger.Error("aborting run after consecutive failures",
				zap.Int("failures", consecutive),
			)
			report.Aborted = true
			break
		}
	}

	report.FinishedAt = p.now().UTC()
	logger.Info("run finished",
		zap.Int("discovered", report.Discovered),
		zap.Int("fetched", report.Fetched),
		zap.Int("succeeded", report.Succeeded),
		zap.Bool("aborted", report.Aborted),
	)
	return results, report, nil
}

// processItem walks one fetched document through the remaining stages.
// A nil result with Skipped=false is a failure.
func (p *Pipeline) processItem(ctx context.Context, raw RawResponse, opts RunOptions) (*ScraperResult, ItemReport) {
	item := ItemReport{URL: raw.URL}

	if raw.NotModified {
		item.Stage = StageFetch
		item.Skipped = true
		metrics.IncPipelineItem(p.source.SourceKey, StageFetch, "not_modified")
		return nil, item
	}

	parsed, err := p.Parse(ctx, raw)
	if err != nil {
		return p.failItem(item, StageParse, err)
	}

	result, err := p.Normalize(ctx, parsed)
	if err != nil {
		return p.failItem(item, StageNormalize, err)
	}
	result.RawHTML = raw.HTML

	if err := p.Link(ctx, result); err != nil {
		return p.failItem(item, StageLink, err)
	}

	if opts.SaveFixture && p.fixtures != nil {
		path, err := p.fixtures.Save(p.source.SourceKey, parsed, result)
		if err != nil {
			return p.failItem(item, StageFixture, err)
		}
		result.FixturePath = path
	}

	if err := p.Upsert(ctx, result, opts.DryRun); err != nil {
		if errors.Is(err, ErrDuplicate) {
			item.Stage = StageUpsert
			item.Skipped = true
			item.Error = err.Error()
			metrics.IncPipelineItem(p.source.SourceKey, StageUpsert, "duplicate")
			return nil, item
		}
		return p.failItem(item, StageUpsert, err)
	}

	metrics.IncPipelineItem(p.source.SourceKey, StageUpsert, "ok")
	return result, item
}

func (p *Pipeline) failItem(item ItemReport, stage string, err error) (*ScraperResult, ItemReport) {
	item.Stage = stage
	item.Error = err.Error()
	metrics.IncPipelineItem(p.source.SourceKey, stage, "error")
	p.logger.Warn("pipeline item failed",
		zap.String("url", item.URL),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return nil, item
}

func (p *Pipeline) defaultMethod() DiscoveryMethod {
	if p.profile.DefaultMethod != "" {
		return p.profile.DefaultMethod
	}
	switch {
	case p.source.HasRSS:
		return MethodRSS
	case p.source.HasSitemap:
		return MethodSitemap
	default:
		return MethodArchive
	}
}

var _ Scraper = (*Pipeline)(nil)

// mergeTags appends profile tags to extracted ones, dropping blanks and
// repeats while keeping first-seen order.
func mergeTags(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, t := range append(append([]string{}, base...), extra...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
