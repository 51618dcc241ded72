package jobs

import (
	"context"
	"time"

	"github.com/siteminer/siteminer/internal/crawl"
	"github.com/siteminer/siteminer/internal/llm"
)

// Crawler drives a bounded same-domain traversal.
type Crawler interface {
	Crawl(ctx context.Context, originURL string, maxPages int, backend crawl.BackendKind) ([]crawl.Page, error)
}

// Analyzer runs the per-page analysis pass and the aggregate synthesis.
type Analyzer interface {
	// AnalyzePages processes pages in discovery order, reporting each
	// result through record as it settles. Per-page failures are captured
	// in the result, never returned.
	AnalyzePages(ctx context.Context, pages []crawl.Page, record func(PageResult))
	// Summarize produces the aggregate description, or the fixed
	// placeholder when no page was analyzed successfully.
	Summarize(ctx context.Context, results []PageResult) string
}

// QualifyRecorder receives qualification progress. Implementations write
// to the job record under the store lock; calls must not block.
type QualifyRecorder interface {
	RecordProspect(r ProspectResult)
	AddCost(usage llm.Usage, usd float64)
	SetReportURI(uri string)
}

// Qualifier scores each prospect URL against the caller's profile.
type Qualifier interface {
	Run(ctx context.Context, jobID string, payload QualifyPayload, rec QualifyRecorder)
}

// Publisher pushes job-completion events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
