// Package analysis turns crawled pages into per-page descriptions and a
// single aggregate summary of the site.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/siteminer/siteminer/internal/crawl"
	"github.com/siteminer/siteminer/internal/jobs"
	"github.com/siteminer/siteminer/internal/llm"
)

// NoPagesAnalyzed is the aggregate summary emitted when every page
// analysis failed or produced nothing.
const NoPagesAnalyzed = "No pages were successfully analyzed."

// DefaultMaxContentChars bounds the page text sent to the model.
const DefaultMaxContentChars = 8000

const pageSystemPrompt = "You are a precise website analyst. Describe what the " +
	"given page is about, what the business offers, and who it serves. " +
	"Reply with a short plain-text paragraph."

const summarySystemPrompt = "You are a precise website analyst. Given " +
	"per-page descriptions of one website, write a coherent overall " +
	"description of the company: what it does, its offerings, and its " +
	"likely customers. Reply with plain text."

// Config tunes the analysis pipeline.
type Config struct {
	// MaxContentChars truncates each page's text before prompting.
	MaxContentChars int
	MaxTokens       int
	Temperature     float64
}

// Pipeline implements jobs.Analyzer on top of an llm.Client.
type Pipeline struct {
	client llm.Client
	cfg    Config
	logger *zap.Logger
}

var _ jobs.Analyzer = (*Pipeline)(nil)

// New constructs a Pipeline.
func New(client llm.Client, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{client: client, cfg: cfg, logger: logger}
}

// AnalyzePages describes each page in turn, reporting every settled
// result through record. A page that fails is recorded as failed and the
// pass moves on; nothing here aborts the batch.
func (p *Pipeline) AnalyzePages(ctx context.Context, pages []crawl.Page, record func(jobs.PageResult)) {
	for _, page := range pages {
		record(jobs.PageResult{URL: page.URL, Status: jobs.PagePending})
		record(p.analyzePage(ctx, page))
	}
}

func (p *Pipeline) analyzePage(ctx context.Context, page crawl.Page) jobs.PageResult {
	text := strings.TrimSpace(page.Text)
	if text == "" {
		return jobs.PageResult{URL: page.URL, Status: jobs.PageFailed, Error: "empty content"}
	}
	text = truncate(text, p.cfg.MaxContentChars)

	completion, err := p.client.Complete(ctx, llm.Request{
		System:      pageSystemPrompt,
		Prompt:      fmt.Sprintf("URL: %s\n\nPage content:\n%s", page.URL, text),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		p.logger.Warn("page analysis failed", zap.String("url", page.URL), zap.Error(err))
		return jobs.PageResult{URL: page.URL, Status: jobs.PageFailed, Error: err.Error()}
	}

	analysis := strings.TrimSpace(completion.Text)
	if analysis == "" {
		return jobs.PageResult{URL: page.URL, Status: jobs.PageFailed, Error: "model returned empty analysis"}
	}
	return jobs.PageResult{URL: page.URL, Status: jobs.PageAnalyzed, Analysis: analysis}
}

// Summarize synthesizes the aggregate description from the successful
// per-page analyses. With zero successes it returns the fixed
// placeholder; a failing summary call falls back to the concatenated
// per-page analyses rather than losing the work already done.
func (p *Pipeline) Summarize(ctx context.Context, results []jobs.PageResult) string {
	var b strings.Builder
	analyzed := 0
	for _, r := range results {
		if r.Status != jobs.PageAnalyzed {
			continue
		}
		analyzed++
		fmt.Fprintf(&b, "Page %d (%s):\n%s\n\n", analyzed, r.URL, r.Analysis)
	}
	if analyzed == 0 {
		return NoPagesAnalyzed
	}

	completion, err := p.client.Complete(ctx, llm.Request{
		System:      summarySystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		p.logger.Warn("summary synthesis failed, falling back to page analyses", zap.Error(err))
		return strings.TrimSpace(b.String())
	}
	summary := strings.TrimSpace(completion.Text)
	if summary == "" {
		return strings.TrimSpace(b.String())
	}
	return summary
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary so the prompt stays valid UTF-8.
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
