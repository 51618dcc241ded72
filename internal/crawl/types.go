// Package crawl defines the fetch contract and the bounded same-domain
// traversal engine that drives it.
package crawl

import "context"

// BackendKind selects a fetch strategy for a crawl.
type BackendKind string

// Supported fetch strategies.
const (
	BackendHTTP    BackendKind = "http"
	BackendBrowser BackendKind = "browser"
)

// Valid reports whether the backend kind is one the engine knows.
func (k BackendKind) Valid() bool {
	return k == BackendHTTP || k == BackendBrowser
}

// Page is one fetched document: its raw markup, the plain text with
// script/style content stripped, and every same-document link resolved to
// absolute fragment-stripped form.
type Page struct {
	URL   string
	HTML  string
	Text  string
	Links []string
}

// Fetcher fetches a single URL and extracts its text and links.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Page, error)
}

// RenderFetcher is a Fetcher that holds a browser resource and must be
// released when the crawl that acquired it finishes.
type RenderFetcher interface {
	Fetcher
	Close()
}

// BrowserFactory opens a browser-backed fetcher scoped to one crawl.
type BrowserFactory func() (RenderFetcher, error)
