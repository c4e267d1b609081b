package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fieldops/docsorter/internal/classify"
	"github.com/fieldops/docsorter/internal/classify/openai"
	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/directory"
	"github.com/fieldops/docsorter/internal/imaging"
	"github.com/fieldops/docsorter/internal/ingest"
	"github.com/fieldops/docsorter/internal/metrics"
	"github.com/fieldops/docsorter/internal/notify"
	"github.com/fieldops/docsorter/internal/ocr"
	"github.com/fieldops/docsorter/internal/pipeline"
	"github.com/fieldops/docsorter/internal/repository"
	"github.com/fieldops/docsorter/internal/resilience"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer repository.Close(db, pool, logger)

	if err := repository.Bootstrap(ctx, db); err != nil {
		logger.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	entityRepo := repository.NewEntityRepository(db, logger)
	docRepo := repository.NewDocumentRepository(db, logger)
	feedbackRepo := repository.NewFeedbackRepository(db, logger)
	dir := directory.New(entityRepo, logger)

	normalizer := imaging.NewNormalizer(imaging.Config{
		MaxWidth:  cfg.Imaging.MaxWidth,
		MaxHeight: cfg.Imaging.MaxHeight,
		Quality:   cfg.Imaging.Quality,
		ThumbSize: cfg.Imaging.ThumbSize,
		OCRHeight: cfg.Imaging.OCRHeight,
	}, logger)

	ocrEngine := ocr.NewEngine(ocr.Config{
		Languages:   cfg.OCR.Languages,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)
	defer func() { _ = ocrEngine.Close() }()

	executor := resilience.NewExecutor(resilience.Config{BreakerEnabled: true})
	provider := openai.NewClient(openai.Config{
		BaseURL:        cfg.AI.BaseURL,
		APIKey:         cfg.AI.APIKey,
		TextModel:      cfg.AI.TextModel,
		VisionModel:    cfg.AI.VisionModel,
		Temperature:    cfg.AI.Temperature,
		Timeout:        cfg.AI.Timeout,
		PromptPer1KUSD: cfg.AI.PromptPer1KUSD,
		OutputPer1KUSD: cfg.AI.OutputPer1KUSD,
	}, executor, logger)

	classifier := classify.NewEngine(classify.Config{
		KeywordThreshold: cfg.Classify.KeywordThreshold,
		TextThreshold:    cfg.Classify.TextThreshold,
	}, dir, provider, logger)

	store, err := pipeline.NewLocalStore(cfg.Imaging.ArtifactDir, logger)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	var events notify.Publisher
	var natsPub *notify.NATSPublisher
	if cfg.Notify.NATSURL != "" {
		natsPub, err = notify.NewNATSPublisher(cfg.Notify.NATSURL, cfg.Notify.Subject, notify.Options{}, logger)
		if err != nil {
			logger.Error("event publisher init failed", "error", err)
			os.Exit(1)
		}
		defer natsPub.Close()
		events = natsPub
	}

	m := metrics.New()
	orch := pipeline.NewOrchestrator(pipeline.Config{
		MaxFilesPerDocument: cfg.Pipeline.MaxFilesPerDocument,
		MaxFileBytes:        cfg.Pipeline.MaxFileBytes,
		NormalizeTimeout:    cfg.Pipeline.NormalizeTimeout,
		OCRTimeout:          cfg.OCR.Timeout,
		ClassifyTimeout:     cfg.AI.Timeout,
	}, normalizer, ocrEngine, classifier, dir, docRepo, feedbackRepo, store, events, m, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := repository.HealthCheck(r.Context(), pool, 2*time.Second, logger); err != nil {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		logger.Info("metrics listener started", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	if cfg.Pipeline.InboxDir != "" {
		if err := watchInbox(ctx, cfg, orch, logger); err != nil {
			logger.Error("inbox watcher failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no inbox configured, idling until shutdown")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// watchInbox feeds newly dropped files through the pipeline until ctx is
// cancelled.
func watchInbox(ctx context.Context, cfg *common.Config, orch *pipeline.Orchestrator, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Pipeline.InboxDir, 0o755); err != nil {
		return err
	}
	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{cfg.Pipeline.InboxDir},
		InitialScan: true,
		Debounce:    cfg.Pipeline.InboxDebounce,
	}, logger)
	if err != nil {
		return err
	}

	ingestor := ingest.NewFSIngestor(orch, "inbox-watcher", logger)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if ok {
					logger.Warn("watcher error", "error", err)
				}
			case p, ok := <-paths:
				if !ok {
					return
				}
				res, err := ingestor.IngestPath(ctx, p)
				if err != nil {
					logger.Warn("inbox file failed", "path", p, "error", err)
					continue
				}
				logger.Info("inbox file processed",
					"path", p,
					"document_id", res.DocumentID,
					"method", res.Method,
				)
			}
		}
	}()
	logger.Info("watching inbox", "dir", cfg.Pipeline.InboxDir)
	return nil
}
