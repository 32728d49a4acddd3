package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bioterminal/content-scraper/internal/scraper"
)

func TestRunOptions(t *testing.T) {
	t.Run("urls imply url method", func(t *testing.T) {
		opts, err := runOptions(&scrapeFlags{urls: []string{"https://example.com/a"}})
		require.NoError(t, err)
		require.Equal(t, scraper.MethodURL, opts.Method)
		require.Equal(t, []string{"https://example.com/a"}, opts.URLs)
	})

	t.Run("since parses dates", func(t *testing.T) {
		opts, err := runOptions(&scrapeFlags{method: "rss", since: "2026-03-01"})
		require.NoError(t, err)
		require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), opts.Since.UTC())
	})

	t.Run("bad since rejected", func(t *testing.T) {
		_, err := runOptions(&scrapeFlags{method: "rss", since: "yesterday"})
		require.ErrorContains(t, err, "invalid --since")
	})

	t.Run("bad method rejected", func(t *testing.T) {
		_, err := runOptions(&scrapeFlags{method: "telepathy"})
		require.ErrorContains(t, err, "invalid --method")
	})

	t.Run("flags pass through", func(t *testing.T) {
		opts, err := runOptions(&scrapeFlags{
			method:      "sitemap",
			limit:       25,
			batchSize:   5,
			dryRun:      true,
			saveFixture: true,
		})
		require.NoError(t, err)
		require.Equal(t, scraper.MethodSitemap, opts.Method)
		require.Equal(t, 25, opts.Limit)
		require.Equal(t, 5, opts.BatchSize)
		require.True(t, opts.DryRun)
		require.True(t, opts.SaveFixture)
	})
}
