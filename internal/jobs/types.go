// Package jobs holds the job records, the thread-safe in-memory store,
// and the orchestrator that runs one background worker per submitted job.
package jobs

import (
	"time"

	"github.com/siteminer/siteminer/internal/crawl"
	"github.com/siteminer/siteminer/internal/llm"
)

// Kind discriminates the job variants.
type Kind string

// Job kinds.
const (
	KindCrawlAnalysis         Kind = "crawl_analysis"
	KindProspectQualification Kind = "prospect_qualification"
)

// Status is the lifecycle state of a job. Transitions are monotonic and
// driven only by the job's own worker.
type Status string

// Job statuses. Crawl-analysis jobs move pending → crawling →
// analyzing_pages → summarizing → completed; qualification jobs collapse
// to pending → running → completed. failed is reachable from any
// non-terminal state.
const (
	StatusPending        Status = "pending"
	StatusCrawling       Status = "crawling"
	StatusAnalyzingPages Status = "analyzing_pages"
	StatusSummarizing    Status = "summarizing"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CrawlPayload is the kind-specific input of a crawl-analysis job.
type CrawlPayload struct {
	URL      string            `json:"url"`
	MaxPages int               `json:"max_pages"`
	Backend  crawl.BackendKind `json:"backend"`
}

// QualifyPayload is the kind-specific input of a qualification job.
type QualifyPayload struct {
	Profile  string   `json:"profile"`
	Personas []string `json:"personas"`
	URLs     []string `json:"urls"`
}

// PageResultStatus tracks one analyzed page.
type PageResultStatus string

// Per-page result states. A result is created pending and promoted to
// analyzed or failed exactly once.
const (
	PagePending  PageResultStatus = "pending"
	PageAnalyzed PageResultStatus = "analyzed"
	PageFailed   PageResultStatus = "failed"
)

// PageResult is one page's analysis outcome.
type PageResult struct {
	URL      string           `json:"url"`
	Status   PageResultStatus `json:"status"`
	Analysis string           `json:"analysis,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ProspectStatus tracks one qualified prospect URL.
type ProspectStatus string

// Per-prospect result states.
const (
	ProspectPending   ProspectStatus = "pending"
	ProspectCompleted ProspectStatus = "completed"
	ProspectFailed    ProspectStatus = "failed"
)

// Verdict is the structured qualification output for one prospect.
type Verdict struct {
	Fit        bool   `json:"is_fit"`
	Confidence int    `json:"confidence"`
	Positives  string `json:"positives"`
	Negatives  string `json:"negatives"`
}

// ProspectResult is one prospect URL's qualification outcome.
type ProspectResult struct {
	URL       string         `json:"url"`
	Status    ProspectStatus `json:"status"`
	Verdict   *Verdict       `json:"verdict,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Usage     llm.Usage      `json:"usage"`
}

// CostEstimate is the running token/cost accounting for a job.
type CostEstimate struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedUSD     float64 `json:"estimated_usd"`
}

// Job is the single shared mutable record per submitted job. The store's
// lock guards every read and write; workers mutate it only through
// Store.Update.
type Job struct {
	ID       string     `json:"id"`
	Kind     Kind       `json:"kind"`
	Status   Status     `json:"status"`
	Created  time.Time  `json:"created_at"`
	Started  *time.Time `json:"started_at,omitempty"`
	Finished *time.Time `json:"finished_at,omitempty"`
	Error    string     `json:"error,omitempty"`

	Crawl   *CrawlPayload   `json:"crawl,omitempty"`
	Qualify *QualifyPayload `json:"qualify,omitempty"`

	Pages   []PageResult `json:"analyzed_pages,omitempty"`
	Summary string       `json:"final_summary,omitempty"`

	Prospects []ProspectResult `json:"prospects,omitempty"`
	Cost      CostEstimate     `json:"cost"`
	ReportURI string           `json:"report_uri,omitempty"`
}

// Duration returns elapsed wall time between start and finish, zero when
// either end is missing.
func (j *Job) Duration() time.Duration {
	if j.Started == nil || j.Finished == nil {
		return 0
	}
	return j.Finished.Sub(*j.Started)
}

// JobSummary is the compact listing shape returned by List.
type JobSummary struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Status  Status    `json:"status"`
	Created time.Time `json:"created_at"`
	Error   string    `json:"error,omitempty"`
}

// ValidationError rejects a malformed submission before any worker is
// spawned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}
