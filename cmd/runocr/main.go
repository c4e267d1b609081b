// runocr normalizes one image file and runs text extraction over its OCR
// variant. Debug tool for tuning preprocessing and language packs; nothing
// is persisted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/imaging"
	"github.com/fieldops/docsorter/internal/ocr"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <image-path>")
		os.Exit(2)
	}
	path := os.Args[1]

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	normalizer := imaging.NewNormalizer(imaging.Config{
		MaxWidth:  cfg.Imaging.MaxWidth,
		MaxHeight: cfg.Imaging.MaxHeight,
		Quality:   cfg.Imaging.Quality,
		ThumbSize: cfg.Imaging.ThumbSize,
		OCRHeight: cfg.Imaging.OCRHeight,
	}, logger)

	start := time.Now()
	art, err := normalizer.Normalize(raw, filepath.Base(path))
	if err != nil {
		logger.Error("normalization failed", "path", path, "error", err)
		os.Exit(1)
	}
	logger.Info("normalized",
		"storage_key", art.StorageKey,
		"width", art.Meta.Width,
		"height", art.Meta.Height,
		"ocr_bytes", len(art.OCRVariant),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	tmp, err := os.CreateTemp("", "runocr-*.png")
	if err != nil {
		logger.Error("create temp file", "error", err)
		os.Exit(1)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(art.OCRVariant); err != nil {
		logger.Error("write temp file", "error", err)
		os.Exit(1)
	}
	_ = tmp.Close()

	engine := ocr.NewEngine(ocr.Config{
		Languages:   cfg.OCR.Languages,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)
	defer func() { _ = engine.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OCR.Timeout)
	defer cancel()

	res, err := engine.Extract(ctx, tmp.Name())
	if err != nil {
		logger.Error("text extraction failed", "error", err)
		os.Exit(1)
	}

	logger.Info("text extraction OK",
		"confidence", res.Confidence,
		"words", res.WordCount,
		"lines", res.LineCount,
		"duration_ms", res.Duration.Milliseconds(),
	)
	fmt.Println(res.Text)
}
