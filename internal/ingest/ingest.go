// Package ingest discovers document images on the local filesystem and
// feeds them through the processing pipeline, either as a one-shot
// directory sweep or as a long-running watch.
package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/constants"
	"github.com/fieldops/docsorter/internal/classify"
	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/entity"
	"github.com/fieldops/docsorter/internal/pipeline"
)

// IngestionResult is the per-file outcome of a sweep.
type IngestionResult struct {
	SourcePath string
	DocumentID string
	Method     string
	EntityID   string
	Err        string
}

// DirStats aggregates one directory sweep.
type DirStats struct {
	Scanned   int
	Matched   int
	Succeeded int
	Failed    int
}

// documentIngester is the pipeline slice the ingestor drives.
type documentIngester interface {
	Ingest(ctx context.Context, files []pipeline.UploadFile, meta pipeline.UploadMeta) (*entity.Document, error)
}

// FSIngestor reads from the local filesystem. Each file becomes its own
// single-image document.
type FSIngestor struct {
	orch       documentIngester
	uploadedBy string
	logger     *slog.Logger
}

func NewFSIngestor(orch documentIngester, uploadedBy string, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	if uploadedBy == "" {
		uploadedBy = "fs-ingest"
	}
	return &FSIngestor{orch: orch, uploadedBy: uploadedBy, logger: logger}
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	// One request id per file so pipeline log lines correlate back to the
	// sweep entry that produced them.
	ctx = common.WithRequestID(ctx, uuid.NewString())
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, err
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	if !constants.AllowedExt(ext) {
		return out, errors.New("unsupported or missing extension")
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return out, err
	}

	doc, err := i.orch.Ingest(ctx, []pipeline.UploadFile{{Filename: filepath.Base(abs), Data: data}}, pipeline.UploadMeta{
		UploadedBy: i.uploadedBy,
		Strategy:   classify.StrategyAuto,
	})
	if err != nil {
		return out, err
	}

	out.DocumentID = doc.ID.String()
	out.Method = string(doc.Method)
	if doc.EntityID != nil {
		out.EntityID = doc.EntityID.String()
	}
	return out, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and calls
// IngestPath for each matching file. Returns per-file results plus
// aggregate stats; per-file failures do not stop the sweep.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !constants.AllowedExt(constants.NormalizeExt(filepath.Ext(path))) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			i.logger.Warn("ingest.file_failed", "path", path, "error", err)
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, err
	}

	i.logger.Info("ingest.sweep_done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && strings.HasPrefix(base, ".")
}
