// Package headless implements the rendering fetch strategy with a
// headless Chrome instance driven over the DevTools protocol.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/siteminer/siteminer/internal/crawl"
)

// Config controls the behavior of the renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
}

// Renderer implements crawl.RenderFetcher. One Renderer owns one browser
// allocator and is scoped to a single crawl; Close must be called on
// every exit path, including when a later setup step fails.
type Renderer struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New launches a browser allocator for one crawl.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close releases the browser allocator.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Fetch navigates to pageURL, waits for basic document readiness up to the
// configured timeout, and returns the rendered markup with all anchor
// hrefs the browser resolved. A render timeout fails only this page; the
// enclosing crawl continues.
func (r *Renderer) Fetch(ctx context.Context, pageURL string) (crawl.Page, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	var (
		html     string
		finalURL string
		hrefs    []string
	)
	actions := []chromedp.Action{
		r.setupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(`Array.from(document.querySelectorAll("a[href]")).map(a => a.href)`, &hrefs),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return crawl.Page{}, &crawl.RenderError{Kind: crawl.RenderTimeout, URL: pageURL, Err: err}
		}
		// Propagate caller cancelation distinctly from driver trouble.
		if ctx.Err() != nil {
			return crawl.Page{}, &crawl.RenderError{Kind: crawl.RenderTimeout, URL: pageURL, Err: ctx.Err()}
		}
		return crawl.Page{}, &crawl.RenderError{Kind: crawl.RenderDriverFailure, URL: pageURL, Err: err}
	}

	normalized, err := crawl.NormalizeURL(finalURL)
	if err != nil {
		normalized = pageURL
	}

	doc, err := crawl.ParseDocument(html)
	if err != nil {
		return crawl.Page{}, &crawl.RenderError{Kind: crawl.RenderDriverFailure, URL: pageURL, Err: fmt.Errorf("parse rendered markup: %w", err)}
	}

	return crawl.Page{
		URL:   normalized,
		HTML:  html,
		Text:  crawl.ExtractText(doc),
		Links: normalizeHrefs(normalized, hrefs),
	}, nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// normalizeHrefs cleans up the already-absolute hrefs the browser reports.
func normalizeHrefs(pageURL string, hrefs []string) []string {
	seen := make(map[string]struct{})
	var links []string
	for _, href := range hrefs {
		resolved, err := crawl.ResolveLink(pageURL, href)
		if err != nil {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	}
	return links
}

var _ crawl.RenderFetcher = (*Renderer)(nil)
