package scraper

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/dedup"
	"github.com/bioterminal/content-scraper/internal/httpclient"
	"github.com/bioterminal/content-scraper/internal/registry"
)

// Discoverer finds candidate article URLs for one source. An empty
// result is a soft outcome, not an error: transport failures reaching
// the feed or sitemap are hard errors, an unparseable or empty document
// is not a reason to abort a run.
type Discoverer struct {
	source registry.Source
	client *httpclient.Client
	logger *zap.Logger
}

// NewDiscoverer builds a Discoverer for a configured source.
func NewDiscoverer(source registry.Source, client *httpclient.Client, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{source: source, client: client, logger: logger}
}

// Discover dispatches on the method and returns canonicalized,
// deduplicated URLs in discovery order, capped at opts.Limit.
func (d *Discoverer) Discover(ctx context.Context, method DiscoveryMethod, opts DiscoverOptions) ([]string, error) {
	var (
		urls []string
		err  error
	)
	switch method {
	case MethodRSS:
		urls, err = d.discoverRSS(ctx, opts)
	case MethodSitemap:
		urls, err = d.discoverSitemap(ctx, opts)
	case MethodArchive:
		urls, err = d.discoverArchive(ctx, opts)
	case MethodURL:
		urls = opts.URLs
	default:
		return nil, fmt.Errorf("unknown discovery method %q", method)
	}
	if err != nil {
		return nil, err
	}
	return canonicalizeAll(urls, opts.Limit, d.logger), nil
}

// canonicalizeAll collapses tracking-parameter variants of the same page
// into one entry, keeping first-seen order.
func canonicalizeAll(urls []string, limit int, logger *zap.Logger) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		canonical, err := dedup.CanonicalURL(raw)
		if err != nil {
			logger.Debug("dropping uncanonicalizable url", zap.String("url", raw), zap.Error(err))
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Links   []atomLink `xml:"link"`
	Updated string     `xml:"updated"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

func (d *Discoverer) discoverRSS(ctx context.Context, opts DiscoverOptions) ([]string, error) {
	feedURL := d.source.RSSURL
	if feedURL == "" {
		return nil, fmt.Errorf("source %s has no rss_url configured", d.source.SourceKey)
	}

	resp, err := d.client.Get(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch rss feed: %w", err)
	}
	if resp.NotModified {
		return nil, nil
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("rss feed %s returned status %d", feedURL, resp.StatusCode)
	}

	urls, parseErr := parseFeed(resp.Body, opts.Since)
	if parseErr != nil {
		d.logger.Warn("unparseable feed", zap.String("url", feedURL), zap.Error(parseErr))
		return nil, nil
	}
	return urls, nil
}

// parseFeed handles both RSS 2.0 and Atom documents.
func parseFeed(body []byte, since time.Time) ([]string, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		var urls []string
		for _, item := range rss.Channel.Items {
			link := strings.TrimSpace(item.Link)
			if link == "" || !itemAfter(item.PubDate, since) {
				continue
			}
			urls = append(urls, link)
		}
		return urls, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err != nil {
		return nil, fmt.Errorf("not rss or atom: %w", err)
	}
	var urls []string
	for _, entry := range atom.Entries {
		link := atomEntryLink(entry)
		if link == "" || !itemAfter(entry.Updated, since) {
			continue
		}
		urls = append(urls, link)
	}
	return urls, nil
}

func atomEntryLink(entry atomEntry) string {
	for _, l := range entry.Links {
		if l.Rel == "alternate" || l.Rel == "" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(entry.Links) > 0 {
		return strings.TrimSpace(entry.Links[0].Href)
	}
	return ""
}

// itemAfter keeps items with no parseable date: dropping them would
// silently lose content from feeds with sloppy timestamps.
func itemAfter(dateStr string, since time.Time) bool {
	if since.IsZero() {
		return true
	}
	t, err := ParseDate(dateStr)
	if err != nil {
		return true
	}
	return !t.Before(since)
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapRef `xml:"sitemap"`
}

type sitemapRef struct {
	Loc string `xml:"loc"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

func (d *Discoverer) discoverSitemap(ctx context.Context, opts DiscoverOptions) ([]string, error) {
	sitemapURLStr := d.source.SitemapURL
	if sitemapURLStr == "" {
		sitemapURLStr = strings.TrimRight(d.source.BaseURL, "/") + "/sitemap.xml"
	}

	body, err := d.fetchXML(ctx, sitemapURLStr)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	// A sitemap index gets one level of expansion; nested indexes are
	// not followed.
	var index sitemapIndex
	if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, ref := range index.Sitemaps {
			child, err := d.fetchXML(ctx, strings.TrimSpace(ref.Loc))
			if err != nil || child == nil {
				d.logger.Warn("skipping child sitemap", zap.String("url", ref.Loc), zap.Error(err))
				continue
			}
			urls = append(urls, parseURLSet(child, opts.Since)...)
			if opts.Limit > 0 && len(urls) >= opts.Limit {
				break
			}
		}
		return urls, nil
	}

	return parseURLSet(body, opts.Since), nil
}

func (d *Discoverer) fetchXML(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := d.client.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.NotModified {
		return nil, nil
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%s returned status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}

func parseURLSet(body []byte, since time.Time) []string {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil
	}
	var urls []string
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || !itemAfter(u.LastMod, since) {
			continue
		}
		urls = append(urls, loc)
	}
	return urls
}

// discoverArchive crawls the source's archive or listing page and
// collects same-host article links one level deep.
func (d *Discoverer) discoverArchive(ctx context.Context, opts DiscoverOptions) ([]string, error) {
	archiveURL := d.source.ArchiveURL
	if archiveURL == "" {
		archiveURL = d.source.BaseURL
	}
	parsed, err := url.Parse(archiveURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid archive url %q", archiveURL)
	}
	host := parsed.Hostname()
	bare := strings.TrimPrefix(host, "www.")

	c := colly.NewCollector(
		colly.AllowedDomains(bare, "www."+bare),
		colly.UserAgent(d.source.UserAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(30 * time.Second)
	// Robots enforcement happens in the pipeline's RobotsPolicy so the
	// document is fetched once, not per collector.
	c.IgnoreRobotsTxt = true

	var urls []string
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		linkURL, err := url.Parse(link)
		if err != nil || !sameSite(linkURL.Hostname(), host) {
			return
		}
		// Listing pages link to themselves and to section indexes;
		// only keep links that look like articles.
		if linkURL.Path == "" || linkURL.Path == "/" || link == archiveURL {
			return
		}
		urls = append(urls, link)
	})
	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	if err := c.Visit(archiveURL); err != nil {
		return nil, fmt.Errorf("crawl archive %s: %w", archiveURL, err)
	}
	c.Wait()
	return urls, nil
}

// sameSite reports whether two hostnames name the same site, treating
// the www prefix as equivalent to the bare domain.
func sameSite(a, b string) bool {
	return strings.TrimPrefix(a, "www.") == strings.TrimPrefix(b, "www.")
}
