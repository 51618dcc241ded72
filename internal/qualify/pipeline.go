// Package qualify scores prospect websites against a caller-supplied
// business profile using structured model output, with running token-cost
// accounting and a CSV report artifact.
package qualify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/siteminer/siteminer/internal/crawl"
	"github.com/siteminer/siteminer/internal/jobs"
	"github.com/siteminer/siteminer/internal/llm"
	"github.com/siteminer/siteminer/internal/report"
)

// DefaultMaxContentChars bounds the prospect page text sent to the model.
const DefaultMaxContentChars = 8000

const verdictSystemPrompt = "You are a sales-prospecting analyst. Given a " +
	"seller's business profile, its target personas, and the text of a " +
	"prospect's website, decide whether the prospect is a fit. Respond with " +
	"a single JSON object with exactly these keys: \"is_fit\" (boolean), " +
	"\"confidence\" (integer 0-100), \"positives\" (string), \"negatives\" " +
	"(string). No other keys, no surrounding prose."

// Config tunes the qualification pipeline.
type Config struct {
	MaxContentChars int
	MaxTokens       int
	Temperature     float64
	Rates           Rates
}

// Pipeline implements jobs.Qualifier. Each prospect URL is fetched with
// the lightweight backend, scored with one structured completion, and
// recorded as it settles; a CSV report is exported once the batch ends.
type Pipeline struct {
	fetcher crawl.Fetcher
	client  llm.Client
	reports report.Writer
	cfg     Config
	logger  *zap.Logger
}

var _ jobs.Qualifier = (*Pipeline)(nil)

// New constructs a Pipeline. reports may be nil, in which case no
// artifact is exported.
func New(fetcher crawl.Fetcher, client llm.Client, reports report.Writer, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{fetcher: fetcher, client: client, reports: reports, cfg: cfg, logger: logger}
}

// Run qualifies every prospect in order. Per-prospect failures are
// captured on the result and never abort the batch; token cost is
// accrued only for prospects that produced a verdict.
func (p *Pipeline) Run(ctx context.Context, jobID string, payload jobs.QualifyPayload, rec jobs.QualifyRecorder) {
	results := make([]jobs.ProspectResult, 0, len(payload.URLs))
	var total llm.Usage
	for _, u := range payload.URLs {
		rec.RecordProspect(jobs.ProspectResult{URL: u, Status: jobs.ProspectPending})

		res := p.qualifyURL(ctx, payload, u)
		rec.RecordProspect(res)
		total.Add(res.Usage)
		if res.Status == jobs.ProspectCompleted {
			rec.AddCost(res.Usage, p.cfg.Rates.Cost(res.Usage))
		}
		results = append(results, res)
	}

	p.logger.Info("qualification batch finished",
		zap.String("job_id", jobID),
		zap.Int("prospects", len(results)),
		zap.Int64("prompt_tokens", total.PromptTokens),
		zap.Int64("completion_tokens", total.CompletionTokens),
	)

	p.exportReport(ctx, jobID, results, rec)
}

func (p *Pipeline) qualifyURL(ctx context.Context, payload jobs.QualifyPayload, prospectURL string) jobs.ProspectResult {
	res := jobs.ProspectResult{URL: prospectURL}

	page, err := p.fetcher.Fetch(ctx, prospectURL)
	if err != nil {
		p.logger.Warn("prospect fetch failed", zap.String("url", prospectURL), zap.Error(err))
		res.Status = jobs.ProspectFailed
		res.Error = err.Error()
		res.ErrorKind = fetchErrorKind(err)
		return res
	}

	text := strings.TrimSpace(page.Text)
	if text == "" {
		res.Status = jobs.ProspectFailed
		res.Error = "empty content"
		res.ErrorKind = "empty_content"
		return res
	}
	text = truncate(text, p.cfg.MaxContentChars)

	completion, err := p.client.Complete(ctx, llm.Request{
		System:      verdictSystemPrompt,
		Prompt:      buildVerdictPrompt(payload, prospectURL, text),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		JSONOnly:    true,
	})
	if err != nil {
		p.logger.Warn("prospect scoring failed", zap.String("url", prospectURL), zap.Error(err))
		res.Status = jobs.ProspectFailed
		res.Error = err.Error()
		res.ErrorKind = llmErrorKind(err)
		return res
	}
	res.Usage = completion.Usage

	verdict, err := parseVerdict(completion.Text)
	if err != nil {
		res.Status = jobs.ProspectFailed
		res.Error = err.Error()
		res.ErrorKind = string(llm.ErrInvalidOutput)
		return res
	}
	res.Status = jobs.ProspectCompleted
	res.Verdict = verdict
	return res
}

func buildVerdictPrompt(payload jobs.QualifyPayload, prospectURL, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seller profile:\n%s\n\n", payload.Profile)
	if len(payload.Personas) > 0 {
		fmt.Fprintf(&b, "Target personas:\n- %s\n\n", strings.Join(payload.Personas, "\n- "))
	}
	fmt.Fprintf(&b, "Prospect URL: %s\n\nProspect website content:\n%s\n", prospectURL, text)
	return b.String()
}

// parseVerdict decodes the model's JSON object and clamps confidence into
// the 0-100 range.
func parseVerdict(text string) (*jobs.Verdict, error) {
	var v jobs.Verdict
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 100 {
		v.Confidence = 100
	}
	return &v, nil
}

// exportReport writes the per-prospect CSV. Export failure is logged but
// never fails the job; the verdicts stand on their own.
func (p *Pipeline) exportReport(ctx context.Context, jobID string, results []jobs.ProspectResult, rec jobs.QualifyRecorder) {
	if p.reports == nil {
		return
	}

	header := []string{"url", "status", "is_fit", "confidence", "positives", "negatives", "error"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		row := []string{r.URL, string(r.Status), "", "", "", "", r.Error}
		if r.Verdict != nil {
			row[2] = strconv.FormatBool(r.Verdict.Fit)
			row[3] = strconv.Itoa(r.Verdict.Confidence)
			row[4] = r.Verdict.Positives
			row[5] = r.Verdict.Negatives
		}
		rows = append(rows, row)
	}

	uri, err := p.reports.WriteTabular(ctx, fmt.Sprintf("reports/%s.csv", jobID), header, rows)
	if err != nil {
		p.logger.Warn("report export failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	rec.SetReportURI(uri)
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

func fetchErrorKind(err error) string {
	var fe *crawl.FetchError
	if errors.As(err, &fe) {
		return "fetch_" + string(fe.Kind)
	}
	return "fetch_failed"
}

func llmErrorKind(err error) string {
	var le *llm.Error
	if errors.As(err, &le) {
		return string(le.Kind)
	}
	return string(llm.ErrTransport)
}
