// Package collyfetcher implements the lightweight fetch strategy using
// the Colly collector.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/siteminer/siteminer/internal/crawl"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawl.Fetcher with a single plain HTTP request per
// page. Redirects are followed; non-text responses are warned about but
// still parsed.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch retrieves one page and extracts its plain text and same-document
// links in absolute, fragment-stripped form.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (crawl.Page, error) {
	var (
		body        []byte
		contentType string
		finalURL    = pageURL
		fetchErr    error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return crawl.Page{}, err
	}

	if contentType != "" && !isTextual(contentType) {
		f.logger.Warn("non-text content type, attempting parse anyway",
			zap.String("url", pageURL),
			zap.String("content_type", contentType),
		)
	}

	doc, err := crawl.ParseDocument(string(body))
	if err != nil {
		return crawl.Page{}, crawl.NewFetchError(crawl.FetchNonHTML, pageURL, err)
	}

	normalized, err := crawl.NormalizeURL(finalURL)
	if err != nil {
		normalized = pageURL
	}
	links := crawl.ExtractLinks(doc, normalized)
	return crawl.Page{
		URL:   normalized,
		HTML:  string(body),
		Text:  crawl.ExtractText(doc),
		Links: links,
	}, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, pageURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return crawl.NewFetchError(crawl.FetchTimeout, pageURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return classify(pageURL, err)
		}
		if *fetchErr != nil {
			return classify(pageURL, *fetchErr)
		}
		return nil
	}
}

func classify(pageURL string, err error) *crawl.FetchError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawl.NewFetchError(crawl.FetchTimeout, pageURL, err)
	}
	return crawl.NewFetchError(crawl.FetchConnection, pageURL, err)
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/") ||
		strings.Contains(ct, "html") ||
		strings.Contains(ct, "xml")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawl.Fetcher = (*Fetcher)(nil)
