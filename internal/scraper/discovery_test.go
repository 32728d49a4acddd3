package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/httpclient"
	"github.com/bioterminal/content-scraper/internal/registry"
)

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Test Feed</title>
<item><link>https://example.com/news/one?utm_source=rss</link><pubDate>Mon, 02 Mar 2026 10:00:00 +0000</pubDate></item>
<item><link>https://example.com/news/one</link><pubDate>Mon, 02 Mar 2026 10:00:00 +0000</pubDate></item>
<item><link>https://example.com/news/two</link><pubDate>Mon, 05 Jan 2026 10:00:00 +0000</pubDate></item>
<item><link>https://example.com/news/undated</link></item>
</channel></rss>`

const atomBody = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<entry><link rel="alternate" href="https://example.com/atom/first"/><updated>2026-03-01T00:00:00Z</updated></entry>
<entry><link href="https://example.com/atom/second"/><updated>2026-03-02T00:00:00Z</updated></entry>
</feed>`

func testDiscoverer(t *testing.T, srvURL, rssURL, sitemapURL, archiveURL string) *Discoverer {
	t.Helper()
	src := registry.Source{
		SourceKey:  "testsrc",
		BaseURL:    srvURL,
		RSSURL:     rssURL,
		SitemapURL: sitemapURL,
		ArchiveURL: archiveURL,
		UserAgent:  "test-agent/1.0",
	}
	client := httpclient.New(httpclient.Config{}, zap.NewNop())
	t.Cleanup(client.Close)
	return NewDiscoverer(src, client, zap.NewNop())
}

func TestDiscoverer_RSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssBody))
	}))
	defer srv.Close()

	d := testDiscoverer(t, srv.URL, srv.URL+"/rss", "", "")
	ctx := context.Background()

	t.Run("tracking variants collapse to one url", func(t *testing.T) {
		urls, err := d.Discover(ctx, MethodRSS, DiscoverOptions{})
		require.NoError(t, err)
		require.Equal(t, []string{
			"https://example.com/news/one",
			"https://example.com/news/two",
			"https://example.com/news/undated",
		}, urls)
	})

	t.Run("since filter keeps undated items", func(t *testing.T) {
		urls, err := d.Discover(ctx, MethodRSS, DiscoverOptions{
			Since: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.Equal(t, []string{
			"https://example.com/news/one",
			"https://example.com/news/undated",
		}, urls)
	})

	t.Run("limit caps results", func(t *testing.T) {
		urls, err := d.Discover(ctx, MethodRSS, DiscoverOptions{Limit: 1})
		require.NoError(t, err)
		require.Equal(t, []string{"https://example.com/news/one"}, urls)
	})
}

func TestDiscoverer_Atom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(atomBody))
	}))
	defer srv.Close()

	d := testDiscoverer(t, srv.URL, srv.URL+"/feed", "", "")
	urls, err := d.Discover(context.Background(), MethodRSS, DiscoverOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/atom/first",
		"https://example.com/atom/second",
	}, urls)
}

func TestDiscoverer_RSSFailures(t *testing.T) {
	t.Run("unparseable feed is soft empty", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("this is not xml at all"))
		}))
		defer srv.Close()

		d := testDiscoverer(t, srv.URL, srv.URL+"/rss", "", "")
		urls, err := d.Discover(context.Background(), MethodRSS, DiscoverOptions{})
		require.NoError(t, err)
		require.Empty(t, urls)
	})

	t.Run("transport failure is a hard error", func(t *testing.T) {
		srv := httptest.NewServer(nil)
		srv.Close()

		d := testDiscoverer(t, srv.URL, srv.URL+"/rss", "", "")
		_, err := d.Discover(context.Background(), MethodRSS, DiscoverOptions{})
		require.Error(t, err)
	})

	t.Run("missing rss url", func(t *testing.T) {
		d := testDiscoverer(t, "https://example.com", "", "", "")
		_, err := d.Discover(context.Background(), MethodRSS, DiscoverOptions{})
		require.ErrorContains(t, err, "no rss_url")
	})
}

func TestDiscoverer_Sitemap(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>` + srv.URL + `/sitemap-news.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/sitemap-news.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>https://example.com/article/alpha</loc><lastmod>2026-03-01</lastmod></url>
<url><loc>https://example.com/article/beta</loc><lastmod>2025-01-01</lastmod></url>
</urlset>`))
	})

	d := testDiscoverer(t, srv.URL, "", srv.URL+"/sitemap.xml", "")
	ctx := context.Background()

	t.Run("index expands one level", func(t *testing.T) {
		urls, err := d.Discover(ctx, MethodSitemap, DiscoverOptions{})
		require.NoError(t, err)
		require.Equal(t, []string{
			"https://example.com/article/alpha",
			"https://example.com/article/beta",
		}, urls)
	})

	t.Run("lastmod honors since", func(t *testing.T) {
		urls, err := d.Discover(ctx, MethodSitemap, DiscoverOptions{
			Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.Equal(t, []string{"https://example.com/article/alpha"}, urls)
	})
}

func TestDiscoverer_Archive(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/archive", func(w http.ResponseWriter, r *http.Request) {
		// story-three carries the www-prefixed form of the same host.
		_, _ = w.Write([]byte(`<html><body>
<a href="/news/story-one">One</a>
<a href="/news/story-two?utm_campaign=x">Two</a>
<a href="` + wwwVariant(srv.URL) + `/news/story-three">Three</a>
<a href="https://other-host.example.com/external">External</a>
<a href="/">Home</a>
</body></html>`))
	})

	d := testDiscoverer(t, srv.URL, "", "", srv.URL+"/archive")
	urls, err := d.Discover(context.Background(), MethodArchive, DiscoverOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{
		srv.URL + "/news/story-one",
		srv.URL + "/news/story-two",
		wwwVariant(srv.URL) + "/news/story-three",
	}, urls)
}

func wwwVariant(srvURL string) string {
	return strings.Replace(srvURL, "http://", "http://www.", 1)
}

func TestSameSite(t *testing.T) {
	require.True(t, sameSite("www.example.com", "example.com"))
	require.True(t, sameSite("example.com", "www.example.com"))
	require.True(t, sameSite("www.example.com", "www.example.com"))
	require.False(t, sameSite("news.example.com", "example.com"))
	require.False(t, sameSite("example.org", "example.com"))
}

func TestDiscoverer_VerbatimURLs(t *testing.T) {
	d := testDiscoverer(t, "https://example.com", "", "", "")
	urls, err := d.Discover(context.Background(), MethodURL, DiscoverOptions{
		URLs: []string{
			"https://example.com/x?utm_source=email&id=7",
			"https://example.com/x?id=7",
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/x?id=7"}, urls)
}

func TestDiscoverer_UnknownMethod(t *testing.T) {
	d := testDiscoverer(t, "https://example.com", "", "", "")
	_, err := d.Discover(context.Background(), DiscoveryMethod("carrier-pigeon"), DiscoverOptions{})
	require.ErrorContains(t, err, "unknown discovery method")
}
