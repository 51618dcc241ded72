package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteminer/siteminer/internal/crawl"
)

func TestFetcher_FetchExtractsTextAndLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>
			<script>ignore()</script>
			<h1>Welcome</h1>
			<a href="/pricing">Pricing</a>
			<a href="/pricing#tiers">Tiers</a>
		</body></html>`))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	require.Contains(t, page.Text, "Welcome")
	require.NotContains(t, page.Text, "ignore")
	require.Equal(t, []string{srv.URL + "/pricing"}, page.Links)
}

func TestFetcher_FollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>landed</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil)
	page, err := f.Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	require.Contains(t, page.Text, "landed")
	require.Equal(t, srv.URL+"/new", page.URL)
}

func TestFetcher_NonOKStatusIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	var fe *crawl.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawl.FetchConnection, fe.Kind)
}

func TestFetcher_ConnectionRefused(t *testing.T) {
	t.Parallel()

	// Port 1 on loopback, nothing listens there.
	f := New(Config{Timeout: 500 * time.Millisecond}, nil)
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/")
	var fe *crawl.FetchError
	require.ErrorAs(t, err, &fe)
}

func TestFetcher_NonTextContentStillParses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(`<html><body><p>still html underneath</p></body></html>`))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, page.Text, "still html underneath")
}
