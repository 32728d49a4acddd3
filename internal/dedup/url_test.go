package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	t.Run("strips tracking parameters", func(t *testing.T) {
		got, err := CanonicalURL("https://x.com/a?utm_source=y&utm_medium=email&fbclid=abc")
		require.NoError(t, err)
		require.Equal(t, "https://x.com/a", got)
	})

	t.Run("tracking variants collapse to one key", func(t *testing.T) {
		a, err := CanonicalURL("https://x.com/a?utm_source=y")
		require.NoError(t, err)
		b, err := CanonicalURL("https://x.com/a")
		require.NoError(t, err)
		require.Equal(t, a, b)
	})

	t.Run("query parameter order is irrelevant", func(t *testing.T) {
		a, err := CanonicalURL("https://example.com/p?b=2&a=1")
		require.NoError(t, err)
		b, err := CanonicalURL("https://example.com/p?a=1&b=2")
		require.NoError(t, err)
		require.Equal(t, a, b)
		require.Equal(t, "https://example.com/p?a=1&b=2", a)
	})

	t.Run("lowercases scheme and host only", func(t *testing.T) {
		got, err := CanonicalURL("HTTPS://Example.COM/Path/Item")
		require.NoError(t, err)
		require.Equal(t, "https://example.com/Path/Item", got)
	})

	t.Run("trims trailing slash and fragment", func(t *testing.T) {
		got, err := CanonicalURL("https://example.com/news/#section-2")
		require.NoError(t, err)
		require.Equal(t, "https://example.com/news", got)
	})

	t.Run("keeps meaningful parameters", func(t *testing.T) {
		got, err := CanonicalURL("https://example.com/search?q=oncology&page=2&utm_campaign=x")
		require.NoError(t, err)
		require.Equal(t, "https://example.com/search?page=2&q=oncology", got)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		_, err := CanonicalURL("http://exa mple.com/%zz")
		require.Error(t, err)
	})
}
