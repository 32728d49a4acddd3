package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/dedup"
	"github.com/bioterminal/content-scraper/internal/httpclient"
	"github.com/bioterminal/content-scraper/internal/ratelimit"
	"github.com/bioterminal/content-scraper/internal/registry"
)

type fakeUpserter struct {
	mu        sync.Mutex
	persisted []*ScraperResult
	dryRuns   int
	failWith  error
}

func (f *fakeUpserter) Upsert(_ context.Context, result *ScraperResult, dryRun bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if dryRun {
		f.dryRuns++
		return nil
	}
	f.persisted = append(f.persisted, result)
	return nil
}

func (f *fakeUpserter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

func articlePage(title, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><head>
<script type="application/ld+json">
{"@type":"NewsArticle","headline":%q,"datePublished":"2026-03-15T09:30:00Z","articleBody":%q}
</script>
<title>fallback</title></head><body><p>%s</p></body></html>`, title, body, body)
}

func articleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/article/", func(w http.ResponseWriter, r *http.Request) {
		id := filepath.Base(r.URL.Path)
		// Bodies share almost no vocabulary so the near-duplicate
		// detectors see them as distinct documents.
		body := "Pfizer reported a Phase 3 readout with FDA approval implications."
		for i := 0; i < 40; i++ {
			body += fmt.Sprintf(" finding%s%02d", id, i)
		}
		_, _ = fmt.Fprint(w, articlePage("Pfizer Article "+id+" on FDA approval", body))
	})
	mux.HandleFunc("/dup/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, articlePage(
			"Identical Press Release",
			"Exactly the same press release body served from two different urls.",
		))
	})
	mux.HandleFunc("/bad/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "<html><body><p>nothing useful here</p></body></html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, srvURL string, opts Options) (*Pipeline, *fakeUpserter) {
	t.Helper()
	src := registry.Source{
		SourceKey:     "testsrc",
		Name:          "Test Source",
		BaseURL:       srvURL,
		Enabled:       true,
		MaxRPS:        1000,
		MaxConcurrent: 4,
		RespectRobots: false,
		UserAgent:     "test-agent/1.0",
	}
	if opts.Client == nil {
		opts.Client = httpclient.New(httpclient.Config{}, zap.NewNop())
		t.Cleanup(opts.Client.Close)
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000, JitterFraction: -1})
	}
	up := &fakeUpserter{}
	if opts.Upserter == nil {
		opts.Upserter = up
	}
	p, err := NewPipeline(src, opts)
	require.NoError(t, err)
	p.newID = func() string { return "run-test" }
	return p, up
}

func TestPipeline_RunDryRun(t *testing.T) {
	srv := articleServer(t)
	p, up := newTestPipeline(t, srv.URL, Options{})

	urls := []string{
		srv.URL + "/article/1",
		srv.URL + "/article/2",
		srv.URL + "/article/3",
	}
	results, report, err := p.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs:   urls,
		DryRun: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, 0, up.count())
	require.Equal(t, 3, up.dryRuns)

	require.Equal(t, "run-test", report.RunID)
	require.Equal(t, "testsrc", report.SourceKey)
	require.Equal(t, 3, report.Discovered)
	require.Equal(t, 3, report.Fetched)
	require.Equal(t, 3, report.Succeeded)
	require.False(t, report.Aborted)

	for _, r := range results {
		require.Equal(t, ContentTypeArticle, r.ContentType)
		require.NotEmpty(t, r.Hash)
		require.NotEmpty(t, r.Fingerprint)
		require.Equal(t, []string{"pfizer"}, r.Companies)
		require.Contains(t, r.Data["tags"], "regulatory")
		require.True(t, r.LinkValid)
		require.NotNil(t, r.PublishedAt)
		require.GreaterOrEqual(t, r.Confidence, 0.7)
	}
}

func TestPipeline_RunPersists(t *testing.T) {
	srv := articleServer(t)
	p, up := newTestPipeline(t, srv.URL, Options{})

	results, _, err := p.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs:   []string{srv.URL + "/article/9"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, up.count())
}

func TestPipeline_SaveFixture(t *testing.T) {
	srv := articleServer(t)
	dir := t.TempDir()
	p, _ := newTestPipeline(t, srv.URL, Options{Fixtures: NewFixtureStore(dir)})

	results, _, err := p.Run(context.Background(), RunOptions{
		Method:      MethodURL,
		URLs:        []string{srv.URL + "/article/1", srv.URL + "/article/2"},
		SaveFixture: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var files []string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	require.Len(t, files, 2)
	for _, r := range results {
		require.NotEmpty(t, r.FixturePath)
		require.FileExists(t, r.FixturePath)
	}
}

func TestPipeline_TrackingVariantsUpsertOnce(t *testing.T) {
	srv := articleServer(t)
	p, up := newTestPipeline(t, srv.URL, Options{})

	results, report, err := p.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs: []string{
			srv.URL + "/article/5?utm_source=newsletter&utm_medium=email",
			srv.URL + "/article/5",
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, up.count())
	require.Equal(t, 1, report.Discovered)
}

func TestPipeline_DuplicateContentSkipped(t *testing.T) {
	srv := articleServer(t)
	p, up := newTestPipeline(t, srv.URL, Options{})

	results, report, err := p.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs:   []string{srv.URL + "/dup/a", srv.URL + "/dup/b"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, up.count())
	require.Equal(t, 1, report.Succeeded)

	var skipped int
	for _, item := range report.Items {
		if item.Skipped {
			skipped++
			require.Contains(t, item.Error, "duplicate content")
		}
	}
	require.Equal(t, 1, skipped)
}

func TestPipeline_SharedEngineDeduplicatesAcrossSources(t *testing.T) {
	srv := articleServer(t)
	engine := dedup.NewEngine()
	up := &fakeUpserter{}

	// Same release syndicated by two sources; both pipelines share the
	// process-wide engine, so only the first copy reaches the store.
	newswire := func(key string) *Pipeline {
		src := registry.Source{
			SourceKey:     key,
			BaseURL:       srv.URL,
			Enabled:       true,
			MaxRPS:        1000,
			MaxConcurrent: 4,
			UserAgent:     "test-agent/1.0",
		}
		client := httpclient.New(httpclient.Config{}, zap.NewNop())
		t.Cleanup(client.Close)
		p, err := NewPipeline(src, Options{
			Client:   client,
			Limiter:  ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000, JitterFraction: -1}),
			Upserter: up,
			Dedup:    engine,
		})
		require.NoError(t, err)
		return p
	}

	first := newswire("businesswire")
	results, _, err := first.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs:   []string{srv.URL + "/dup/a"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, up.count())

	second := newswire("prnewswire")
	results, report, err := second.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs:   []string{srv.URL + "/dup/b"},
	})
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, 1, up.count())
	require.Len(t, report.Items, 1)
	require.True(t, report.Items[0].Skipped)
	require.Contains(t, report.Items[0].Error, "duplicate content")
	require.Equal(t, 1, engine.Len())
}

func TestPipeline_CircuitBreaker(t *testing.T) {
	srv := articleServer(t)
	p, _ := newTestPipeline(t, srv.URL, Options{})

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/bad/%d", srv.URL, i)
	}
	results, report, err := p.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs:   urls,
	})
	require.NoError(t, err)
	require.Empty(t, results)
	require.True(t, report.Aborted)
	require.Len(t, report.Items, maxConsecutiveFailures)
}

func TestPipeline_UpsertErrorSurfaces(t *testing.T) {
	srv := articleServer(t)
	up := &fakeUpserter{failWith: fmt.Errorf("connection refused")}
	p, _ := newTestPipeline(t, srv.URL, Options{Upserter: up})

	results, report, err := p.Run(context.Background(), RunOptions{
		Method: MethodURL,
		URLs:   []string{srv.URL + "/article/1"},
	})
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, 0, report.Succeeded)
	require.Len(t, report.Items, 1)
	require.Equal(t, StageUpsert, report.Items[0].Stage)
	require.Contains(t, report.Items[0].Error, "connection refused")
}

func TestPipeline_DiscoverErrorIsHard(t *testing.T) {
	srv := articleServer(t)
	p, _ := newTestPipeline(t, srv.URL, Options{})

	// rss without a configured feed url cannot discover anything.
	_, report, err := p.Run(context.Background(), RunOptions{Method: MethodRSS})
	require.Error(t, err)
	require.NotNil(t, report)
	require.Equal(t, 0, report.Discovered)
}

func TestPipeline_NormalizeConfidence(t *testing.T) {
	srv := articleServer(t)
	p, _ := newTestPipeline(t, srv.URL, Options{
		Profile: Profile{ContentType: ContentTypePressRelease, ExtraTags: []string{"press"}},
	})

	published := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	full := &ParsedFields{
		URL:         "https://example.com/a?utm_source=x",
		Title:       "Full Article",
		Description: "desc",
		Author:      "someone",
		Content:     longContent(),
		PublishedAt: &published,
	}
	result, err := p.Normalize(context.Background(), full)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", result.URL)
	require.Equal(t, ContentTypePressRelease, result.ContentType)
	require.InDelta(t, 1.0, result.Confidence, 0.001)
	require.Contains(t, result.Data["tags"], "press")

	bare := &ParsedFields{URL: "https://example.com/b", Title: "Bare"}
	result, err = p.Normalize(context.Background(), bare)
	require.NoError(t, err)
	require.InDelta(t, 0.4, result.Confidence, 0.001)
}

func longContent() string {
	s := "word "
	out := ""
	for len(out) < 250 {
		out += s
	}
	return out
}
