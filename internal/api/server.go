// Package api exposes the HTTP interface for the siteminer service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siteminer/siteminer/internal/crawl"
	"github.com/siteminer/siteminer/internal/extract"
	"github.com/siteminer/siteminer/internal/jobs"
	"github.com/siteminer/siteminer/internal/metrics"
)

// Config carries the HTTP-surface settings.
type Config struct {
	// AuthEnabled requires X-API-Key on every request when set.
	AuthEnabled bool
	APIKey      string
	// RequestTimeout bounds each request; the extract endpoint fetches
	// synchronously and needs headroom for a browser render.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and fetch backends.
type Server struct {
	router       chi.Router
	orchestrator *jobs.Orchestrator
	httpFetcher  crawl.Fetcher
	browser      crawl.BrowserFactory
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orchestrator *jobs.Orchestrator,
	httpFetcher crawl.Fetcher,
	browser crawl.BrowserFactory,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: orchestrator,
		httpFetcher:  httpFetcher,
		browser:      browser,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/crawl", s.submitCrawlJob)
			r.Post("/qualify", s.submitQualifyJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
		})
		r.Post("/extract", s.extractContacts)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// All dependencies are in-process; readiness equals liveness.
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitCrawlJob(w http.ResponseWriter, r *http.Request) {
	var payload jobs.CrawlPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.orchestrator.SubmitCrawl(r.Context(), payload)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) submitQualifyJob(w http.ResponseWriter, r *http.Request) {
	var payload jobs.QualifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.orchestrator.SubmitQualification(r.Context(), payload)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"jobs": s.orchestrator.Store().List(),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.orchestrator.Store().Get(chi.URLParam(r, "job_id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, job)
}

type extractRequest struct {
	URL     string            `json:"url"`
	Backend crawl.BackendKind `json:"backend"`
}

type extractResponse struct {
	URL string `json:"url"`
	extract.Contacts
	Warning string `json:"warning,omitempty"`
}

// extractContacts fetches one page synchronously and returns its contact
// surface. The browser backend is the default because contact widgets
// are commonly injected by scripts.
func (s *Server) extractContacts(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := crawl.NormalizeURL(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid url: "+err.Error())
		return
	}
	if req.Backend == "" {
		req.Backend = crawl.BackendBrowser
	}
	if !req.Backend.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown backend "+string(req.Backend))
		return
	}

	page, err := s.fetchOne(r.Context(), req.URL, req.Backend)
	if err != nil {
		s.logger.Warn("extract fetch failed", zap.String("url", req.URL), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "fetch failed: "+err.Error())
		return
	}
	resp := extractResponse{
		URL:      page.URL,
		Contacts: extract.FromPage(page),
	}
	if page.HTML == "" && page.Text == "" {
		resp.Warning = "page source was empty"
	}
	writeJSON(s.logger, w, http.StatusOK, resp)
}

func (s *Server) fetchOne(ctx context.Context, pageURL string, backend crawl.BackendKind) (crawl.Page, error) {
	if backend == crawl.BackendHTTP {
		return s.httpFetcher.Fetch(ctx, pageURL)
	}
	if s.browser == nil {
		return crawl.Page{}, errors.New("browser backend is not configured")
	}
	fetcher, err := s.browser()
	if err != nil {
		return crawl.Page{}, err
	}
	defer fetcher.Close()
	return fetcher.Fetch(ctx, pageURL)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var verr *jobs.ValidationError
	if errors.As(err, &verr) {
		s.writeError(w, http.StatusBadRequest, verr.Msg)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
			)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, elapsed)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeJSON(logger, w, http.StatusInternalServerError,
						map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
