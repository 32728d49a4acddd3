package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		logger, err := New(Options{Development: true})
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Debug("visible in dev")
	})

	t.Run("production", func(t *testing.T) {
		logger, err := New(Options{})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("file sink receives entries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scraper.log")
		logger, err := New(Options{FilePath: path})
		require.NoError(t, err)

		logger.Info("hello file")
		// Sync can fail on stderr; only the file sink matters here.
		_ = logger.Sync()

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(raw), "hello file")
	})
}
