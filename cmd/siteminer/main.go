// Package main wires together the siteminer service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/siteminer/siteminer/internal/analysis"
	"github.com/siteminer/siteminer/internal/api"
	"github.com/siteminer/siteminer/internal/clock/system"
	"github.com/siteminer/siteminer/internal/config"
	"github.com/siteminer/siteminer/internal/crawl"
	collyfetcher "github.com/siteminer/siteminer/internal/fetch/colly"
	"github.com/siteminer/siteminer/internal/fetch/headless"
	"github.com/siteminer/siteminer/internal/id/uuid"
	"github.com/siteminer/siteminer/internal/jobs"
	"github.com/siteminer/siteminer/internal/llm"
	"github.com/siteminer/siteminer/internal/logging"
	memorypublisher "github.com/siteminer/siteminer/internal/publisher/memory"
	pubsubpublisher "github.com/siteminer/siteminer/internal/publisher/pubsub"
	"github.com/siteminer/siteminer/internal/qualify"
	"github.com/siteminer/siteminer/internal/report"
	"github.com/siteminer/siteminer/internal/storage"
	gcsstore "github.com/siteminer/siteminer/internal/storage/gcs"
	localstore "github.com/siteminer/siteminer/internal/storage/local"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.CrawlTimeout(),
	}, logger.Named("fetch"))

	var browser crawl.BrowserFactory
	if cfg.Headless.Enabled {
		browserLogger := logger.Named("headless")
		browser = func() (crawl.RenderFetcher, error) {
			return headless.New(headless.Config{
				UserAgent:         cfg.Crawler.UserAgent,
				NavigationTimeout: cfg.NavTimeout(),
			}, browserLogger)
		}
	}
	engine := crawl.NewEngine(httpFetcher, browser, logger.Named("crawl"))

	llmClient, err := llm.NewOpenAI(llm.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLMTimeout(),
	})
	if err != nil {
		logger.Fatal("llm client init failed", zap.Error(err))
	}

	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	analyzer := analysis.New(llmClient, analysis.Config{
		MaxContentChars: cfg.Analysis.MaxContentChars,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
	}, logger.Named("analysis"))

	qualifier := qualify.New(httpFetcher, llmClient, report.NewCSVWriter(blobStore), qualify.Config{
		MaxContentChars: cfg.Qualify.MaxContentChars,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		Rates: qualify.Rates{
			InputPerMTok:  cfg.LLM.InputPerMTok,
			OutputPerMTok: cfg.LLM.OutputPerMTok,
		},
	}, logger.Named("qualify"))

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	orchestrator := jobs.New(
		jobs.NewStore(),
		engine,
		analyzer,
		qualifier,
		publisher,
		system.New(),
		uuid.New(),
		jobs.Config{
			DefaultMaxPages: cfg.Crawler.MaxPagesDefault,
			Topic:           cfg.PubSub.TopicName,
		},
		logger.Named("jobs"),
	)

	apiServer := api.NewServer(orchestrator, httpFetcher, browser, api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// Let in-flight jobs settle so their records reach a terminal state.
	orchestrator.Wait()
	logger.Info("shutdown complete")
}

// newBlobStore prefers GCS when a bucket is configured, else writes
// reports under the local base directory.
func newBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	if cfg.Report.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstore.New(client, gcsstore.Config{Bucket: cfg.Report.GCSBucket})
	}
	return localstore.New(localstore.Config{BaseDir: cfg.Report.BaseDir})
}

// newPublisher uses Pub/Sub when a project is configured, else records
// events in memory.
func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (jobs.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub not configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client)
}
