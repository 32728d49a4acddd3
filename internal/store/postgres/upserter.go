// Package postgres persists scrape results in PostgreSQL, keyed by
// content hash so repeated scrapes of the same content update in place.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/scraper"
)

// Querier is the subset of pgxpool.Pool the upserter needs; pgxmock
// satisfies it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const upsertSQL = `
INSERT INTO scraped_content
    (hash, url, fingerprint, content_type, data, metadata,
     companies, diseases, catalysts, confidence, link_valid,
     published_at, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (hash) DO UPDATE SET
    url          = EXCLUDED.url,
    fingerprint  = EXCLUDED.fingerprint,
    data         = EXCLUDED.data,
    metadata     = EXCLUDED.metadata,
    companies    = EXCLUDED.companies,
    diseases     = EXCLUDED.diseases,
    catalysts    = EXCLUDED.catalysts,
    confidence   = EXCLUDED.confidence,
    link_valid   = EXCLUDED.link_valid,
    published_at = EXCLUDED.published_at,
    scraped_at   = EXCLUDED.scraped_at`

// Upserter writes results through a pgx connection pool.
type Upserter struct {
	db     Querier
	logger *zap.Logger
}

// New wraps an existing pool.
func New(db Querier, logger *zap.Logger) *Upserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upserter{db: db, logger: logger}
}

// Connect dials PostgreSQL and returns an Upserter backed by a pool.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Upserter, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, logger), pool, nil
}

// Upsert implements scraper.Upserter.
func (u *Upserter) Upsert(ctx context.Context, result *scraper.ScraperResult, dryRun bool) error {
	if result == nil || result.Hash == "" {
		return fmt.Errorf("postgres upsert: result without hash")
	}
	if dryRun {
		u.logger.Debug("dry run, skipping upsert", zap.String("url", result.URL))
		return nil
	}

	data, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Errorf("marshal data for %s: %w", result.URL, err)
	}
	meta, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", result.URL, err)
	}

	_, err = u.db.Exec(ctx, upsertSQL,
		result.Hash,
		result.URL,
		result.Fingerprint,
		string(result.ContentType),
		data,
		meta,
		result.Companies,
		result.Diseases,
		result.Catalysts,
		result.Confidence,
		result.LinkValid,
		result.PublishedAt,
		result.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", result.URL, err)
	}
	return nil
}

// Count returns the number of stored records, used by health checks.
func (u *Upserter) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := u.db.QueryRow(ctx, "SELECT COUNT(*) FROM scraped_content").Scan(&n); err != nil {
		return 0, fmt.Errorf("count scraped_content: %w", err)
	}
	return n, nil
}

var _ scraper.Upserter = (*Upserter)(nil)
