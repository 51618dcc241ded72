package qualify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/siteminer/siteminer/internal/crawl"
	"github.com/siteminer/siteminer/internal/jobs"
	"github.com/siteminer/siteminer/internal/llm"
)

type stubFetcher struct {
	pages   map[string]crawl.Page
	failing map[string]error
}

func (f *stubFetcher) Fetch(_ context.Context, pageURL string) (crawl.Page, error) {
	if err, ok := f.failing[pageURL]; ok {
		return crawl.Page{}, err
	}
	if page, ok := f.pages[pageURL]; ok {
		return page, nil
	}
	return crawl.Page{}, crawl.NewFetchError(crawl.FetchConnection, pageURL, errors.New("no route"))
}

type scriptedClient struct {
	answer func(req llm.Request) (llm.Completion, error)
	calls  int
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	c.calls++
	return c.answer(req)
}

// memRecorder mirrors the orchestrator's recorder: upsert by URL, cost
// accumulates.
type memRecorder struct {
	prospects []jobs.ProspectResult
	cost      jobs.CostEstimate
	reportURI string
}

func (r *memRecorder) RecordProspect(res jobs.ProspectResult) {
	for i := range r.prospects {
		if r.prospects[i].URL == res.URL {
			r.prospects[i] = res
			return
		}
	}
	r.prospects = append(r.prospects, res)
}

func (r *memRecorder) AddCost(usage llm.Usage, usd float64) {
	r.cost.PromptTokens += usage.PromptTokens
	r.cost.CompletionTokens += usage.CompletionTokens
	r.cost.EstimatedUSD += usd
}

func (r *memRecorder) SetReportURI(uri string) { r.reportURI = uri }

type memReportWriter struct {
	header []string
	rows   [][]string
	err    error
}

func (w *memReportWriter) WriteTabular(_ context.Context, path string, header []string, rows [][]string) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.header = header
	w.rows = rows
	return "mem://" + path, nil
}

const goodVerdict = `{"is_fit": true, "confidence": 85, "positives": "strong overlap", "negatives": "small team"}`

func TestRunQualifiesEachURL(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]crawl.Page{
		"https://a.test/": {URL: "https://a.test/", Text: "We build rockets"},
		"https://b.test/": {URL: "https://b.test/", Text: "We bake bread"},
	}}
	client := &scriptedClient{answer: func(req llm.Request) (llm.Completion, error) {
		require.True(t, req.JSONOnly)
		require.Contains(t, req.Prompt, "We sell telemetry software.")
		return llm.Completion{Text: goodVerdict, Usage: llm.Usage{PromptTokens: 200, CompletionTokens: 40}}, nil
	}}
	writer := &memReportWriter{}
	rec := &memRecorder{}

	p := New(fetcher, client, writer, Config{Rates: Rates{InputPerMTok: 3, OutputPerMTok: 15}}, nil)
	p.Run(context.Background(), "job-1", jobs.QualifyPayload{
		Profile:  "We sell telemetry software.",
		Personas: []string{"VP Engineering"},
		URLs:     []string{"https://a.test/", "https://b.test/"},
	}, rec)

	require.Len(t, rec.prospects, 2)
	for _, pr := range rec.prospects {
		require.Equal(t, jobs.ProspectCompleted, pr.Status)
		require.NotNil(t, pr.Verdict)
		require.True(t, pr.Verdict.Fit)
		require.Equal(t, 85, pr.Verdict.Confidence)
	}
	require.Equal(t, int64(400), rec.cost.PromptTokens)
	require.Equal(t, int64(80), rec.cost.CompletionTokens)
	// 400 prompt @ $3/MTok + 80 completion @ $15/MTok.
	require.InDelta(t, 400.0/1e6*3+80.0/1e6*15, rec.cost.EstimatedUSD, 1e-9)
	require.Equal(t, "mem://reports/job-1.csv", rec.reportURI)
	require.Len(t, writer.rows, 2)
}

func TestRunContinuesPastFetchTimeout(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		pages: map[string]crawl.Page{
			"https://a.test/": {URL: "https://a.test/", Text: "fine"},
			"https://c.test/": {URL: "https://c.test/", Text: "fine"},
		},
		failing: map[string]error{
			"https://b.test/": crawl.NewFetchError(crawl.FetchTimeout, "https://b.test/", context.DeadlineExceeded),
		},
	}
	client := &scriptedClient{answer: func(llm.Request) (llm.Completion, error) {
		return llm.Completion{Text: goodVerdict, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
	}}
	rec := &memRecorder{}

	p := New(fetcher, client, nil, Config{}, nil)
	p.Run(context.Background(), "job-2", jobs.QualifyPayload{
		Profile: "profile",
		URLs:    []string{"https://a.test/", "https://b.test/", "https://c.test/"},
	}, rec)

	require.Len(t, rec.prospects, 3)
	require.Equal(t, jobs.ProspectCompleted, rec.prospects[0].Status)
	require.Equal(t, jobs.ProspectFailed, rec.prospects[1].Status)
	require.Equal(t, "fetch_timeout", rec.prospects[1].ErrorKind)
	require.Equal(t, jobs.ProspectCompleted, rec.prospects[2].Status)
	// Only the two scored prospects accrue cost.
	require.Equal(t, int64(20), rec.cost.PromptTokens)
}

func TestRunMarksUnparseableVerdict(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]crawl.Page{
		"https://a.test/": {URL: "https://a.test/", Text: "content"},
	}}
	client := &scriptedClient{answer: func(llm.Request) (llm.Completion, error) {
		return llm.Completion{Text: "Sure! Here is my analysis...", Usage: llm.Usage{PromptTokens: 50}}, nil
	}}
	rec := &memRecorder{}

	p := New(fetcher, client, nil, Config{}, nil)
	p.Run(context.Background(), "job-3", jobs.QualifyPayload{
		Profile: "profile",
		URLs:    []string{"https://a.test/"},
	}, rec)

	require.Len(t, rec.prospects, 1)
	pr := rec.prospects[0]
	require.Equal(t, jobs.ProspectFailed, pr.Status)
	require.Equal(t, "invalid_model_output", pr.ErrorKind)
	require.Nil(t, pr.Verdict)
	require.Zero(t, rec.cost.PromptTokens, "failed prospects never accrue cost")
}

func TestRunClampsConfidence(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]crawl.Page{
		"https://a.test/": {URL: "https://a.test/", Text: "content"},
	}}
	client := &scriptedClient{answer: func(llm.Request) (llm.Completion, error) {
		return llm.Completion{Text: `{"is_fit": false, "confidence": 250, "positives": "", "negatives": "none"}`}, nil
	}}
	rec := &memRecorder{}

	p := New(fetcher, client, nil, Config{}, nil)
	p.Run(context.Background(), "job-4", jobs.QualifyPayload{
		Profile: "profile",
		URLs:    []string{"https://a.test/"},
	}, rec)

	require.Equal(t, 100, rec.prospects[0].Verdict.Confidence)
}

func TestRunEmptyContentSkipsModel(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]crawl.Page{
		"https://a.test/": {URL: "https://a.test/", Text: "   "},
	}}
	client := &scriptedClient{answer: func(llm.Request) (llm.Completion, error) {
		return llm.Completion{}, nil
	}}
	rec := &memRecorder{}

	p := New(fetcher, client, nil, Config{}, nil)
	p.Run(context.Background(), "job-5", jobs.QualifyPayload{
		Profile: "profile",
		URLs:    []string{"https://a.test/"},
	}, rec)

	require.Zero(t, client.calls)
	require.Equal(t, "empty_content", rec.prospects[0].ErrorKind)
}

func TestRunReportFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]crawl.Page{
		"https://a.test/": {URL: "https://a.test/", Text: "content"},
	}}
	client := &scriptedClient{answer: func(llm.Request) (llm.Completion, error) {
		return llm.Completion{Text: goodVerdict}, nil
	}}
	writer := &memReportWriter{err: errors.New("bucket unavailable")}
	rec := &memRecorder{}

	p := New(fetcher, client, writer, Config{}, nil)
	p.Run(context.Background(), "job-6", jobs.QualifyPayload{
		Profile: "profile",
		URLs:    []string{"https://a.test/"},
	}, rec)

	require.Empty(t, rec.reportURI)
	require.Equal(t, jobs.ProspectCompleted, rec.prospects[0].Status)
}

func TestTruncatedContentStaysWithinLimit(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]crawl.Page{
		"https://a.test/": {URL: "https://a.test/", Text: strings.Repeat("y", 50_000)},
	}}
	var promptLen int
	client := &scriptedClient{answer: func(req llm.Request) (llm.Completion, error) {
		promptLen = len(req.Prompt)
		return llm.Completion{Text: goodVerdict}, nil
	}}
	rec := &memRecorder{}

	p := New(fetcher, client, nil, Config{MaxContentChars: 1000}, nil)
	p.Run(context.Background(), "job-7", jobs.QualifyPayload{
		Profile: "profile",
		URLs:    []string{"https://a.test/"},
	}, rec)

	require.Less(t, promptLen, 1500)
}

func TestTruncationKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	// Multibyte runes straddle the cutoff; the prompt must never carry a
	// torn rune.
	fetcher := &stubFetcher{pages: map[string]crawl.Page{
		"https://a.test/": {URL: "https://a.test/", Text: strings.Repeat("é", 1000)},
	}}
	var prompt string
	client := &scriptedClient{answer: func(req llm.Request) (llm.Completion, error) {
		prompt = req.Prompt
		return llm.Completion{Text: goodVerdict}, nil
	}}
	rec := &memRecorder{}

	p := New(fetcher, client, nil, Config{MaxContentChars: 101}, nil)
	p.Run(context.Background(), "job-8", jobs.QualifyPayload{
		Profile: "profile",
		URLs:    []string{"https://a.test/"},
	}, rec)

	require.True(t, utf8.ValidString(prompt))
}
