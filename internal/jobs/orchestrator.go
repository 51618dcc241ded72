package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/siteminer/siteminer/internal/crawl"
	"github.com/siteminer/siteminer/internal/llm"
	"github.com/siteminer/siteminer/internal/metrics"
)

// MaxProspectURLs caps how many URLs one qualification job may carry.
const MaxProspectURLs = 100

const publishTimeout = 10 * time.Second

// Config tunes orchestrator defaults.
type Config struct {
	DefaultMaxPages int
	// Topic, when set, receives a completion event per finished job.
	Topic string
}

// Orchestrator owns the job store and spawns one background worker per
// submitted job. Submission returns immediately; all later failures are
// visible only through status polling.
type Orchestrator struct {
	store     *Store
	crawler   Crawler
	analyzer  Analyzer
	qualifier Qualifier
	publisher Publisher
	clock     Clock
	idGen     IDGenerator
	cfg       Config
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New constructs an Orchestrator.
func New(
	store *Store,
	crawler Crawler,
	analyzer Analyzer,
	qualifier Qualifier,
	publisher Publisher,
	clock Clock,
	idGen IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		crawler:   crawler,
		analyzer:  analyzer,
		qualifier: qualifier,
		publisher: publisher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// Store exposes read access for the API layer.
func (o *Orchestrator) Store() *Store { return o.store }

// Wait blocks until every spawned worker has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// SubmitCrawl validates and registers a crawl-analysis job, then starts
// its worker and returns the job ID immediately.
func (o *Orchestrator) SubmitCrawl(ctx context.Context, payload CrawlPayload) (string, error) {
	if _, err := crawl.NormalizeURL(payload.URL); err != nil {
		return "", NewValidationError(fmt.Sprintf("invalid url: %v", err))
	}
	if payload.Backend == "" {
		payload.Backend = crawl.BackendHTTP
	}
	if !payload.Backend.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown backend %q", payload.Backend))
	}
	if payload.MaxPages <= 0 {
		payload.MaxPages = o.cfg.DefaultMaxPages
	}
	if payload.MaxPages > crawl.HardPageCeiling {
		payload.MaxPages = crawl.HardPageCeiling
	}

	job := &Job{
		Kind:   KindCrawlAnalysis,
		Status: StatusPending,
		Crawl:  &payload,
	}
	id, err := o.register(job)
	if err != nil {
		return "", err
	}

	o.spawn(id, func(workerCtx context.Context) {
		o.runCrawlJob(workerCtx, id, payload)
	})
	return id, nil
}

// SubmitQualification validates and registers a prospect-qualification
// job, then starts its worker and returns the job ID immediately.
func (o *Orchestrator) SubmitQualification(ctx context.Context, payload QualifyPayload) (string, error) {
	if payload.Profile == "" {
		return "", NewValidationError("profile is required")
	}
	if len(payload.URLs) == 0 {
		return "", NewValidationError("at least one prospect url is required")
	}
	// Duplicate URLs collapse to one prospect; results are keyed by URL.
	seen := make(map[string]struct{}, len(payload.URLs))
	unique := make([]string, 0, len(payload.URLs))
	for _, u := range payload.URLs {
		if _, err := crawl.NormalizeURL(u); err != nil {
			return "", NewValidationError(fmt.Sprintf("invalid prospect url %q: %v", u, err))
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}
	payload.URLs = unique
	if len(payload.URLs) > MaxProspectURLs {
		return "", NewValidationError(fmt.Sprintf("at most %d prospect urls allowed", MaxProspectURLs))
	}

	job := &Job{
		Kind:    KindProspectQualification,
		Status:  StatusPending,
		Qualify: &payload,
	}
	id, err := o.register(job)
	if err != nil {
		return "", err
	}

	o.spawn(id, func(workerCtx context.Context) {
		o.runQualifyJob(workerCtx, id, payload)
	})
	return id, nil
}

func (o *Orchestrator) register(job *Job) (string, error) {
	id, err := o.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job.ID = id
	job.Created = o.clock.Now()
	if err := o.store.Create(job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	return id, nil
}

// spawn runs fn on a dedicated goroutine with a panic boundary: no error
// ever escapes a worker, and a panicking worker fails only its own job.
func (o *Orchestrator) spawn(id string, fn func(ctx context.Context)) {
	o.wg.Add(1)
	metrics.IncActiveJobs()
	go func() {
		defer o.wg.Done()
		defer metrics.DecActiveJobs()
		defer func() {
			if rec := recover(); rec != nil {
				o.logger.Error("worker panic", zap.String("job_id", id), zap.Any("panic", rec))
				o.failJob(id, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		fn(context.Background())
	}()
}

func (o *Orchestrator) runCrawlJob(ctx context.Context, id string, payload CrawlPayload) {
	logger := o.logger.With(zap.String("job_id", id), zap.String("url", payload.URL))

	o.transition(id, StatusCrawling)
	pages, err := o.crawler.Crawl(ctx, payload.URL, payload.MaxPages, payload.Backend)
	if err != nil {
		logger.Warn("crawl failed", zap.Error(err))
		o.failJob(id, fmt.Sprintf("crawl failed: %v", err))
		return
	}
	logger.Info("crawl complete", zap.Int("pages", len(pages)))
	metrics.ObservePagesCrawled(string(payload.Backend), len(pages))

	o.transition(id, StatusAnalyzingPages)
	o.analyzer.AnalyzePages(ctx, pages, func(r PageResult) {
		o.recordPage(id, r)
	})

	o.transition(id, StatusSummarizing)
	job, ok := o.store.Get(id)
	if !ok {
		logger.Warn("job record missing before summarize")
		return
	}
	summary := o.analyzer.Summarize(ctx, job.Pages)

	o.finalize(id, func(j *Job) {
		j.Summary = summary
	})
	logger.Info("job completed", zap.Int("pages", len(pages)))
}

func (o *Orchestrator) runQualifyJob(ctx context.Context, id string, payload QualifyPayload) {
	logger := o.logger.With(zap.String("job_id", id))

	o.transition(id, StatusRunning)
	o.qualifier.Run(ctx, id, payload, &storeRecorder{orch: o, jobID: id})
	o.finalize(id, func(*Job) {})
	logger.Info("qualification job completed", zap.Int("prospects", len(payload.URLs)))
}

// transition advances a non-terminal job to the given status, stamping
// the start time on first movement out of pending.
func (o *Orchestrator) transition(id string, status Status) {
	found := o.store.Update(id, func(j *Job) {
		if j.Status.Terminal() {
			return
		}
		if j.Started == nil {
			now := o.clock.Now()
			j.Started = &now
		}
		j.Status = status
	})
	if !found {
		o.logger.Warn("job record missing on transition", zap.String("job_id", id), zap.String("status", string(status)))
	}
}

func (o *Orchestrator) recordPage(id string, r PageResult) {
	o.store.Update(id, func(j *Job) {
		for i := range j.Pages {
			if j.Pages[i].URL == r.URL {
				j.Pages[i] = r
				return
			}
		}
		j.Pages = append(j.Pages, r)
	})
}

func (o *Orchestrator) finalize(id string, apply func(*Job)) {
	now := o.clock.Now()
	var kind Kind
	found := o.store.Update(id, func(j *Job) {
		if j.Status.Terminal() {
			return
		}
		apply(j)
		j.Status = StatusCompleted
		j.Finished = &now
		kind = j.Kind
	})
	if !found {
		// Tolerates concurrent pruning of the store, if ever added.
		o.logger.Warn("job record missing at finalize", zap.String("job_id", id))
		return
	}
	metrics.ObserveJob(string(kind), string(StatusCompleted))
	o.publishCompletion(id)
}

func (o *Orchestrator) failJob(id string, msg string) {
	now := o.clock.Now()
	var kind Kind
	found := o.store.Update(id, func(j *Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = StatusFailed
		j.Error = msg
		j.Finished = &now
		kind = j.Kind
	})
	if !found {
		o.logger.Warn("job record missing at failure", zap.String("job_id", id))
		return
	}
	metrics.ObserveJob(string(kind), string(StatusFailed))
	o.publishCompletion(id)
}

func (o *Orchestrator) publishCompletion(id string) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	job, ok := o.store.Get(id)
	if !ok {
		return
	}
	payload := map[string]any{
		"job_id":      job.ID,
		"kind":        string(job.Kind),
		"status":      string(job.Status),
		"error":       job.Error,
		"duration_ms": job.Duration().Milliseconds(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
		o.logger.Warn("completion publish failed", zap.String("job_id", id), zap.Error(err))
	}
}

// storeRecorder writes qualification progress into the job record; every
// method is one short store update.
type storeRecorder struct {
	orch  *Orchestrator
	jobID string
}

func (r *storeRecorder) RecordProspect(res ProspectResult) {
	r.orch.store.Update(r.jobID, func(j *Job) {
		for i := range j.Prospects {
			if j.Prospects[i].URL == res.URL {
				j.Prospects[i] = res
				return
			}
		}
		j.Prospects = append(j.Prospects, res)
	})
}

func (r *storeRecorder) AddCost(usage llm.Usage, usd float64) {
	metrics.ObserveLLMTokens(usage.PromptTokens, usage.CompletionTokens)
	r.orch.store.Update(r.jobID, func(j *Job) {
		j.Cost.PromptTokens += usage.PromptTokens
		j.Cost.CompletionTokens += usage.CompletionTokens
		j.Cost.EstimatedUSD += usd
	})
}

func (r *storeRecorder) SetReportURI(uri string) {
	r.orch.store.Update(r.jobID, func(j *Job) {
		j.ReportURI = uri
	})
}
