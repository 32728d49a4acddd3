// Package cmd defines the CLI commands for the scraper executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/config"
	"github.com/bioterminal/content-scraper/internal/dedup"
	"github.com/bioterminal/content-scraper/internal/httpclient"
	"github.com/bioterminal/content-scraper/internal/logging"
	"github.com/bioterminal/content-scraper/internal/ratelimit"
	"github.com/bioterminal/content-scraper/internal/registry"
)

var cfgFile string

// app bundles the long-lived services every subcommand needs.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	client   *httpclient.Client
	dedup    *dedup.Engine
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// buildApp is a variable so tests can substitute a fake factory.
var buildApp = func() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		FilePath:    cfg.Logging.FilePath,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	// Config zero means the operator set jitter_fraction to 0 to turn
	// jitter off; the limiter treats zero as "use the default".
	jitter := cfg.RateLimit.JitterFraction
	if jitter == 0 {
		jitter = -1
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:     cfg.RateLimit.DefaultRPS,
		DefaultBurst:   cfg.RateLimit.DefaultBurst,
		JitterFraction: jitter,
		MaxJitter:      cfg.MaxJitter(),
	})

	client := httpclient.New(httpclient.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		Timeout:        cfg.HTTPTimeout(),
		MaxConns:       cfg.HTTP.MaxConns,
		MaxIdlePerHost: cfg.HTTP.MaxIdlePerHost,
		LinkCacheTTL:   cfg.LinkCacheTTL(),
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		limiter:  limiter,
		client:   client,
		dedup:    dedup.NewEngine(),
	}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Biotech content scraper",
		Long: `scraper ingests biotech news, press releases, regulatory notices,
and trial registry updates from configured sources, normalizes and
deduplicates them, and upserts the results into the content store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults apply when unset)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
