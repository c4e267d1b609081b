package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/fieldops/docsorter/internal/classify"
	"github.com/fieldops/docsorter/internal/classify/openai"
	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/directory"
	"github.com/fieldops/docsorter/internal/entity"
	"github.com/fieldops/docsorter/internal/export"
	"github.com/fieldops/docsorter/internal/imaging"
	"github.com/fieldops/docsorter/internal/ingest"
	"github.com/fieldops/docsorter/internal/metrics"
	"github.com/fieldops/docsorter/internal/ocr"
	"github.com/fieldops/docsorter/internal/pipeline"
	"github.com/fieldops/docsorter/internal/repository"
	"github.com/fieldops/docsorter/internal/resilience"
)

// printError prints to stderr, falling back to stdout if stderr fails.
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem       = flag.Bool("inmem", false, "use in-memory SQLite database")
		dir         = flag.String("dir", "", "directory to process documents from (required)")
		entitiesArg = flag.String("entities", "", "JSON file with entity definitions to seed")
		out         = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		fromStr     = flag.String("from", "", "from date YYYY-MM-DD")
		toStr       = flag.String("to", "", "to date YYYY-MM-DD")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "documents.xlsx")
	}

	var from, to *time.Time
	if *fromStr != "" {
		parsed, err := time.Parse("2006-01-02", *fromStr)
		if err != nil {
			printError("Error: invalid --from date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		}
		from = &parsed
	}
	if *toStr != "" {
		parsed, err := time.Parse("2006-01-02", *toStr)
		if err != nil {
			printError("Error: invalid --to date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		}
		to = &parsed
	}

	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()

	db, cleanup, err := openDatabase(ctx, cfg, *inmem, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	entityRepo := repository.NewEntityRepository(db, logger)
	docRepo := repository.NewDocumentRepository(db, logger)
	feedbackRepo := repository.NewFeedbackRepository(db, logger)
	dir2 := directory.New(entityRepo, logger)

	if *entitiesArg != "" {
		n, err := seedEntities(ctx, entityRepo, *entitiesArg)
		if err != nil {
			logger.Error("failed to seed entities", "file", *entitiesArg, "error", err)
			os.Exit(1)
		}
		logger.Info("entities seeded", "count", n)
	}
	known, err := dir2.ListActive(ctx)
	if err != nil {
		logger.Error("failed to list entities", "error", err)
		os.Exit(1)
	}
	if len(known) == 0 {
		printError("Error: no active entities; seed some with --entities\n")
		os.Exit(1)
	}

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

	var provider classify.Provider
	if cfg.AI.APIKey != "" {
		provider = openai.NewClient(openai.Config{
			BaseURL:        cfg.AI.BaseURL,
			APIKey:         cfg.AI.APIKey,
			TextModel:      cfg.AI.TextModel,
			VisionModel:    cfg.AI.VisionModel,
			Temperature:    cfg.AI.Temperature,
			Timeout:        cfg.AI.Timeout,
			PromptPer1KUSD: cfg.AI.PromptPer1KUSD,
			OutputPer1KUSD: cfg.AI.OutputPer1KUSD,
		}, resilience.NewExecutor(resilience.Config{BreakerEnabled: true}), logger)
		logger.Info("AI provider initialized", "text_model", cfg.AI.TextModel, "vision_model", cfg.AI.VisionModel)
	} else {
		provider = unavailableProvider{}
		logger.Warn("OPENAI_API_KEY not configured, AI stages will fail over to keyword-only results")
	}

	classifier := classify.NewEngine(classify.Config{
		KeywordThreshold: cfg.Classify.KeywordThreshold,
		TextThreshold:    cfg.Classify.TextThreshold,
	}, dir2, provider, logger)

	store, err := pipeline.NewLocalStore(cfg.Imaging.ArtifactDir, logger)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	orch := pipeline.NewOrchestrator(pipeline.Config{
		MaxFilesPerDocument: cfg.Pipeline.MaxFilesPerDocument,
		MaxFileBytes:        cfg.Pipeline.MaxFileBytes,
		NormalizeTimeout:    cfg.Pipeline.NormalizeTimeout,
		OCRTimeout:          cfg.OCR.Timeout,
		ClassifyTimeout:     cfg.AI.Timeout,
	}, normalizer, ocrEngine, classifier, dir2, docRepo, feedbackRepo, store, nil, metrics.New(), logger)

	ingestor := ingest.NewFSIngestor(orch, "batch", logger)
	logger.Info("starting ingestion", "dir", *dir)
	results, stats, err := ingestor.IngestDirectory(ctx, *dir, true)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}
	logger.Info("ingestion complete",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	for _, r := range results {
		if r.Err != "" {
			printError("FAILED %s: %s\n", r.SourcePath, r.Err)
		}
	}

	exporter := export.NewService(docRepo, dir2, logger)
	data, err := exporter.ExportDocumentsXLSX(ctx, nil, from, to)
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("failed to write report", "path", *out, "error", err)
		os.Exit(1)
	}
	logger.Info("report written", "path", *out, "bytes", len(data))
	fmt.Printf("Processed %d/%d files, report: %s\n", stats.Succeeded, stats.Matched, *out)
}

// openDatabase picks SQLite for offline runs and the configured Postgres
// otherwise, bootstrapping the schema either way.
func openDatabase(ctx context.Context, cfg *common.Config, inmem bool, logger *slog.Logger) (*sql.DB, func(), error) {
	if inmem {
		db, err := repository.OpenSQLite(ctx, "", logger)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}

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
		return nil, nil, err
	}
	if err := repository.Bootstrap(ctx, db); err != nil {
		repository.Close(db, pool, logger)
		return nil, nil, err
	}
	return db, func() { repository.Close(db, pool, logger) }, nil
}

func seedEntities(ctx context.Context, repo repository.EntityRepository, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var defs []entity.Entity
	if err := json.Unmarshal(data, &defs); err != nil {
		return 0, err
	}
	seeded := 0
	for i := range defs {
		e := defs[i]
		e.Active = true
		if err := repo.Create(ctx, &e); err != nil {
			return seeded, fmt.Errorf("seed %q: %w", e.Code, err)
		}
		seeded++
	}
	return seeded, nil
}

// unavailableProvider fails every AI call so the classifier degrades to its
// keyword stage when no API key is configured.
type unavailableProvider struct{}

func (unavailableProvider) ClassifyByText(context.Context, string, []*entity.Entity) (classify.Inference, error) {
	return classify.Inference{}, common.ClassificationError("AI provider not configured", nil)
}

func (unavailableProvider) ClassifyByImage(context.Context, string, []*entity.Entity) (classify.Inference, error) {
	return classify.Inference{}, common.ClassificationError("AI provider not configured", nil)
}
