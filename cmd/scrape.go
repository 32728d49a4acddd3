package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/publish/pubsub"
	"github.com/bioterminal/content-scraper/internal/scraper"
	"github.com/bioterminal/content-scraper/internal/scraper/sites"
	"github.com/bioterminal/content-scraper/internal/store/memory"
	"github.com/bioterminal/content-scraper/internal/store/postgres"
)

type scrapeFlags struct {
	source      string
	method      string
	urls        []string
	since       string
	limit       int
	batchSize   int
	dryRun      bool
	saveFixture bool
}

func newScrapeCmd() *cobra.Command {
	flags := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run the scrape pipeline for one source",
		Long: `Discovers, fetches, parses, normalizes, links, and upserts content
for a single configured source. With --dry-run everything runs except
persistence; --save-fixture archives each scraped page for replay.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.source, "source", "", "source key from the registry (required)")
	cmd.Flags().StringVar(&flags.method, "method", "", "discovery method: rss, sitemap, archive, url")
	cmd.Flags().StringSliceVar(&flags.urls, "url", nil, "explicit urls to scrape (implies --method url)")
	cmd.Flags().StringVar(&flags.since, "since", "", "only scrape items published on or after this date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "cap on discovered urls (0 = no cap)")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "concurrent fetches (0 = source default)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "run the full pipeline without persisting")
	cmd.Flags().BoolVar(&flags.saveFixture, "save-fixture", false, "write a replayable fixture per scraped page")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runScrape(ctx context.Context, flags *scrapeFlags) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	src, ok := a.registry.Get(flags.source)
	if !ok {
		return fmt.Errorf("unknown source %q; run 'scraper sources' to list", flags.source)
	}
	if !src.Enabled {
		return fmt.Errorf("source %q is disabled in the registry", flags.source)
	}

	opts, err := runOptions(flags)
	if err != nil {
		return err
	}

	upserter, cleanup, err := buildUpserter(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()

	publisher, pubCleanup, err := buildPublisher(ctx, a)
	if err != nil {
		return err
	}
	defer pubCleanup()

	pipeline, err := sites.Build(src, scraper.Options{
		Client:    a.client,
		Limiter:   a.limiter,
		Upserter:  upserter,
		Dedup:     a.dedup,
		Publisher: publisher,
		Topic:     a.cfg.PubSub.TopicName,
		Fixtures:  scraper.NewFixtureStore(a.cfg.Fixtures.Dir),
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, report, err := pipeline.Run(ctx, opts)
	if err != nil {
		return err
	}

	a.logger.Info("scrape complete",
		zap.String("source", flags.source),
		zap.Int("results", len(results)),
		zap.Int("discovered", report.Discovered),
		zap.Bool("aborted", report.Aborted),
	)
	return json.NewEncoder(os.Stdout).Encode(report)
}

func runOptions(flags *scrapeFlags) (scraper.RunOptions, error) {
	opts := scraper.RunOptions{
		Method:      scraper.DiscoveryMethod(flags.method),
		URLs:        flags.urls,
		Limit:       flags.limit,
		BatchSize:   flags.batchSize,
		DryRun:      flags.dryRun,
		SaveFixture: flags.saveFixture,
	}
	if len(flags.urls) > 0 && opts.Method == "" {
		opts.Method = scraper.MethodURL
	}
	if flags.since != "" {
		since, err := scraper.ParseDate(flags.since)
		if err != nil {
			return opts, fmt.Errorf("invalid --since: %w", err)
		}
		opts.Since = since
	}
	switch opts.Method {
	case "", scraper.MethodRSS, scraper.MethodSitemap, scraper.MethodArchive, scraper.MethodURL:
	default:
		return opts, fmt.Errorf("invalid --method %q", flags.method)
	}
	return opts, nil
}

func buildUpserter(ctx context.Context, a *app) (scraper.Upserter, func(), error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database configured, using in-memory store")
		return memory.New(), func() {}, nil
	}
	up, pool, err := postgres.Connect(ctx, a.cfg.DB.DSN, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return up, pool.Close, nil
}

func buildPublisher(ctx context.Context, a *app) (scraper.Publisher, func(), error) {
	if a.cfg.PubSub.ProjectID == "" {
		return nil, func() {}, nil
	}
	pub, err := pubsub.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		if cerr := pub.Close(); cerr != nil {
			a.logger.Warn("failed to close publisher", zap.Error(cerr))
		}
	}, nil
}
