package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/scraper"
)

func sampleResult() *scraper.ScraperResult {
	published := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	return &scraper.ScraperResult{
		ContentType: scraper.ContentTypeArticle,
		URL:         "https://example.com/a",
		Hash:        "abc123",
		Fingerprint: "00000000deadbeef",
		Data:        map[string]any{"title": "Hello"},
		Metadata:    map[string]any{"source_key": "fierce"},
		Companies:   []string{"pfizer"},
		Confidence:  0.8,
		LinkValid:   true,
		PublishedAt: &published,
		ScrapedAt:   time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestUpserter_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	u := New(mock, zap.NewNop())

	mock.ExpectExec("INSERT INTO scraped_content").
		WithArgs(
			"abc123",
			"https://example.com/a",
			"00000000deadbeef",
			"article",
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			0.8,
			true,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, u.Upsert(context.Background(), sampleResult(), false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpserter_DryRunSkipsExec(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	u := New(mock, zap.NewNop())
	require.NoError(t, u.Upsert(context.Background(), sampleResult(), true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpserter_ExecErrorWrapped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	u := New(mock, zap.NewNop())
	mock.ExpectExec("INSERT INTO scraped_content").
		WithArgs(
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnError(fmt.Errorf("connection reset"))

	err = u.Upsert(context.Background(), sampleResult(), false)
	require.ErrorContains(t, err, "connection reset")
}

func TestUpserter_RequiresHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	u := New(mock, zap.NewNop())
	err = u.Upsert(context.Background(), &scraper.ScraperResult{URL: "https://example.com"}, false)
	require.ErrorContains(t, err, "without hash")
}

func TestUpserter_Count(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	u := New(mock, zap.NewNop())
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := u.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}
