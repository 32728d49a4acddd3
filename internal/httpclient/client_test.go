package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient() *Client {
	return New(Config{Timeout: 5 * time.Second}, zap.NewNop())
}

func TestClient_ConditionalRequests(t *testing.T) {
	const etag = `"v1"`
	var sawIfNoneMatch atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			sawIfNoneMatch.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		_, _ = w.Write([]byte("<html>body</html>"))
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()
	ctx := context.Background()

	first, err := c.Get(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Equal(t, []byte("<html>body</html>"), first.Body)
	require.False(t, first.NotModified)

	second, err := c.Get(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotModified, second.StatusCode)
	require.True(t, second.NotModified)
	require.Empty(t, second.Body)
	require.Equal(t, true, sawIfNoneMatch.Load())
}

func TestClient_GetSkipsCacheWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, srv.URL)
	require.NoError(t, err)
	resp, err := c.GetWithHeaders(ctx, srv.URL, false, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), resp.Body)
}

func TestClient_DecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write([]byte("compressed payload"))
		_ = gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []byte("compressed payload"), resp.Body)
	require.Equal(t, "utf-8", resp.Encoding)
}

func TestClient_Head(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()
	ctx := context.Background()

	ok, err := c.Head(ctx, srv.URL+"/present")
	require.NoError(t, err)
	require.True(t, ok.Valid)

	missing, err := c.Head(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	require.False(t, missing.Valid)
}

func TestClient_ValidateLink(t *testing.T) {
	var heads atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heads.Add(1)
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()
	ctx := context.Background()

	require.True(t, c.ValidateLink(ctx, srv.URL, true))
	require.True(t, c.ValidateLink(ctx, srv.URL, true))
	require.Equal(t, int64(1), heads.Load(), "second validation must come from cache")

	// Expire the entry; validation must hit the network again.
	c.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	require.True(t, c.ValidateLink(ctx, srv.URL, true))
	require.Equal(t, int64(2), heads.Load())
}

func TestClient_ValidateLinkUnreachable(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	require.False(t, c.ValidateLink(context.Background(), "http://127.0.0.1:1/none", false))
}

func TestClient_BatchGet(t *testing.T) {
	var inFlight, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	c := newTestClient()
	defer c.Close()

	urls := []string{
		srv.URL + "/a",
		srv.URL + "/b",
		srv.URL + "/c",
		"http://127.0.0.1:1/unreachable",
		srv.URL + "/d",
	}
	results := c.BatchGet(context.Background(), urls, 2, 10*time.Millisecond)

	require.Len(t, results, 4, "unreachable URL is dropped, not raised")
	require.LessOrEqual(t, peak.Load(), int64(2), "concurrency bounded by batch size")
	require.Equal(t, srv.URL+"/a", results[0].URL)
}
