package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// HardPageCeiling caps max_pages regardless of what the caller asked for.
const HardPageCeiling = 50

// Engine runs a bounded breadth-first traversal over one fetch backend.
// Traversal order across frontier iterations is unspecified; only
// same-host reachability matters.
type Engine struct {
	httpFetcher Fetcher
	browser     BrowserFactory
	logger      *zap.Logger
}

// NewEngine builds an Engine. browser may be nil when the rendering
// backend is not configured; crawls requesting it then fail at setup.
func NewEngine(httpFetcher Fetcher, browser BrowserFactory, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		httpFetcher: httpFetcher,
		browser:     browser,
		logger:      logger,
	}
}

// Crawl visits pages reachable from originURL on the same host until the
// frontier empties or maxPages pages have been discovered. Individual
// fetch failures are logged and dropped; only discovered pages are
// returned. The browser resource, when used, is scoped to this call and
// released on every exit path.
func (e *Engine) Crawl(ctx context.Context, originURL string, maxPages int, backend BackendKind) ([]Page, error) {
	origin, err := NormalizeURL(originURL)
	if err != nil {
		return nil, fmt.Errorf("origin url: %w", err)
	}
	if _, err := Host(origin); err != nil {
		return nil, fmt.Errorf("origin url: %w", err)
	}
	if maxPages <= 0 || maxPages > HardPageCeiling {
		maxPages = HardPageCeiling
	}

	fetcher, release, err := e.openBackend(backend)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := e.logger.With(zap.String("origin", origin), zap.String("backend", string(backend)))

	frontier := map[string]struct{}{origin: {}}
	visited := make(map[string]struct{})
	discovered := make(map[string]struct{})
	var pages []Page

	for len(frontier) > 0 && len(pages) < maxPages {
		var current string
		for u := range frontier {
			current = u
			break
		}
		delete(frontier, current)

		if _, done := visited[current]; done {
			continue
		}
		if !SameHost(origin, current) {
			continue
		}
		visited[current] = struct{}{}

		page, err := fetcher.Fetch(ctx, current)
		if err != nil {
			logger.Warn("page fetch failed, skipping", zap.String("url", current), zap.Error(err))
			continue
		}

		// Redirects can land several requested URLs on one canonical
		// URL; record each canonical page once and never refetch it.
		visited[page.URL] = struct{}{}
		if _, dup := discovered[page.URL]; dup {
			continue
		}
		discovered[page.URL] = struct{}{}
		pages = append(pages, page)

		for _, link := range page.Links {
			if _, done := visited[link]; done {
				continue
			}
			if !SameHost(origin, link) {
				continue
			}
			frontier[link] = struct{}{}
		}
	}

	logger.Info("crawl finished",
		zap.Int("discovered", len(pages)),
		zap.Int("visited", len(visited)),
	)
	return pages, nil
}

func (e *Engine) openBackend(backend BackendKind) (Fetcher, func(), error) {
	switch backend {
	case BackendHTTP, "":
		if e.httpFetcher == nil {
			return nil, nil, NewFetchError(FetchBackendUnavailable, "", fmt.Errorf("http backend not configured"))
		}
		return e.httpFetcher, func() {}, nil
	case BackendBrowser:
		if e.browser == nil {
			return nil, nil, NewFetchError(FetchBackendUnavailable, "", fmt.Errorf("browser backend not configured"))
		}
		f, err := e.browser()
		if err != nil {
			return nil, nil, NewFetchError(FetchBackendUnavailable, "", fmt.Errorf("open browser backend: %w", err))
		}
		return f, f.Close, nil
	default:
		return nil, nil, NewFetchError(FetchBackendUnavailable, "", fmt.Errorf("unknown backend %q", backend))
	}
}
