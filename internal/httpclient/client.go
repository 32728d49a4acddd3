// Package httpclient provides the pooled outbound transport used by every
// scraper: conditional-request caching (ETag / Last-Modified), link
// validation with a TTL cache, and batched fetching with bounded
// concurrency.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/metrics"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxConns     = 100
	defaultIdlePerHost  = 20
	defaultLinkCacheTTL = 7 * 24 * time.Hour

	acceptHeader         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguageHeader = "en-US,en;q=0.9"
	acceptEncodingHeader = "gzip, deflate, zstd"

	maxBodyBytes = 16 << 20
)

// Config controls transport pooling and cache behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxConns       int
	MaxIdlePerHost int
	LinkCacheTTL   time.Duration
}

// Response is the result of a Get. A 304 comes back with NotModified set
// and an empty body; callers must treat it as "unchanged since last
// fetch", not as an error.
type Response struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Encoding    string
	NotModified bool
}

// HeadResult is the result of a Head existence check.
type HeadResult struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Valid      bool
}

type linkEntry struct {
	valid     bool
	checkedAt time.Time
}

// Client is a long-lived pooled HTTP client. Construct one per process and
// inject it into pipelines; the conditional and link caches are instance
// state, not globals.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	cfg        Config
	logger     *zap.Logger

	mu           sync.RWMutex
	etags        map[string]string
	lastModified map[string]string

	linkMu sync.RWMutex
	links  map[string]linkEntry

	now func() time.Time
}

// New builds a Client with a tuned connection pool. Zero config fields
// get production defaults.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "BiotechTerminal/1.0 (contact@bioterminal.dev)"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.MaxIdlePerHost <= 0 {
		cfg.MaxIdlePerHost = defaultIdlePerHost
	}
	if cfg.LinkCacheTTL <= 0 {
		cfg.LinkCacheTTL = defaultLinkCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxIdlePerHost,
		MaxConnsPerHost:       cfg.MaxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		transport:    transport,
		cfg:          cfg,
		logger:       logger,
		etags:        make(map[string]string),
		lastModified: make(map[string]string),
		links:        make(map[string]linkEntry),
		now:          time.Now,
	}
}

func (c *Client) setStandardHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguageHeader)
	req.Header.Set("Accept-Encoding", acceptEncodingHeader)
}

// Get fetches a URL with conditional-request caching enabled.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.GetWithHeaders(ctx, rawURL, true, nil)
}

// GetWithHeaders fetches a URL. When useCache is true and a prior ETag or
// Last-Modified value is known for this exact URL, the request carries
// If-None-Match / If-Modified-Since; any validators in the response are
// cached for future calls.
func (c *Client) GetWithHeaders(ctx context.Context, rawURL string, useCache bool, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request for %s: %w", rawURL, err)
	}
	c.setStandardHeaders(req)

	if useCache {
		c.mu.RLock()
		if etag, ok := c.etags[rawURL]; ok {
			req.Header.Set("If-None-Match", etag)
		}
		if lm, ok := c.lastModified[rawURL]; ok {
			req.Header.Set("If-Modified-Since", lm)
		}
		c.mu.RUnlock()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer closeBody(resp.Body, c.logger)

	metrics.IncFetch(hostOf(rawURL), strconv.Itoa(resp.StatusCode))

	c.rememberValidators(rawURL, resp.Header)

	if resp.StatusCode == http.StatusNotModified {
		metrics.IncCacheHit("conditional")
		return &Response{
			URL:         rawURL,
			StatusCode:  resp.StatusCode,
			Headers:     resp.Header,
			NotModified: true,
		}, nil
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}
	metrics.AddFetchBytes(hostOf(rawURL), len(body))

	return &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Encoding:   charsetOf(resp.Header),
	}, nil
}

func (c *Client) rememberValidators(rawURL string, h http.Header) {
	etag := h.Get("ETag")
	lm := h.Get("Last-Modified")
	if etag == "" && lm == "" {
		return
	}
	c.mu.Lock()
	if etag != "" {
		c.etags[rawURL] = etag
	}
	if lm != "" {
		c.lastModified[rawURL] = lm
	}
	c.mu.Unlock()
}

// Head performs a cheap existence/validity check.
func (c *Client) Head(ctx context.Context, rawURL string) (*HeadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new head request for %s: %w", rawURL, err)
	}
	c.setStandardHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", rawURL, err)
	}
	defer closeBody(resp.Body, c.logger)

	return &HeadResult{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Valid:      resp.StatusCode >= 200 && resp.StatusCode < 400,
	}, nil
}

// ValidateLink reports whether a URL resolves, caching the boolean per URL
// for the configured TTL. Expired entries are re-validated transparently.
func (c *Client) ValidateLink(ctx context.Context, rawURL string, useCache bool) bool {
	if useCache {
		c.linkMu.RLock()
		entry, ok := c.links[rawURL]
		c.linkMu.RUnlock()
		if ok && c.now().Sub(entry.checkedAt) < c.cfg.LinkCacheTTL {
			metrics.IncCacheHit("link")
			return entry.valid
		}
	}

	valid := false
	if result, err := c.Head(ctx, rawURL); err == nil {
		valid = result.Valid
	}

	c.linkMu.Lock()
	c.links[rawURL] = linkEntry{valid: valid, checkedAt: c.now()}
	c.linkMu.Unlock()

	return valid
}

// BatchGet fetches URLs with at most batchSize in flight, waits for each
// batch to settle, and sleeps delay between batches. Individual failures
// are logged and dropped; results keep submission order. This is a
// coarse fairness mechanism layered above the rate limiter — host-aware
// callers should acquire from the limiter and call Get directly.
func (c *Client) BatchGet(ctx context.Context, urls []string, batchSize int, delay time.Duration) []*Response {
	if batchSize <= 0 {
		batchSize = 10
	}

	results := make([]*Response, len(urls))
	for start := 0; start < len(urls); start += batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := c.Get(ctx, urls[i])
				if err != nil {
					c.logger.Warn("batch fetch failed",
						zap.String("url", urls[i]),
						zap.Error(err),
					)
					return
				}
				results[i] = resp
			}(i)
		}
		wg.Wait()

		if end < len(urls) && delay > 0 {
			select {
			case <-ctx.Done():
				return compact(results)
			case <-time.After(delay):
			}
		}
	}
	return compact(results)
}

func compact(in []*Response) []*Response {
	out := make([]*Response, 0, len(in))
	for _, r := range in {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Close releases pooled connections deterministically.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

func decodeBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fr := flate.NewReader(resp.Body)
		defer fr.Close()
		reader = fr
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		reader = zr.IOReadCloser()
	}
	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

func charsetOf(h http.Header) string {
	_, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return params["charset"]
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "unknown"
}

func closeBody(body io.ReadCloser, logger *zap.Logger) {
	if err := body.Close(); err != nil {
		logger.Debug("failed to close response body", zap.Error(err))
	}
}
