package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fieldops/docsorter/constants"
	"github.com/fieldops/docsorter/internal/directory"
	"github.com/fieldops/docsorter/internal/repository"
)

// Service is a tiny façade over repositories that produces XLSX bytes for
// classification reports.
type Service struct {
	docs   repository.DocumentRepository
	dir    *directory.Directory
	logger *slog.Logger
}

func NewService(docs repository.DocumentRepository, dir *directory.Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, dir: dir, logger: logger}
}

// ExportDocumentsXLSX returns an XLSX workbook (as bytes) for the given
// status and date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all documents.
func (s *Service) ExportDocumentsXLSX(ctx context.Context, status *constants.DocumentStatus, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize dates (date-only, UTC)
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 23, 59, 59, 0, time.UTC)
		toDate = &t
	}

	docs, err := s.docs.List(ctx, status, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	// Resolve entity names once; the directory read is per-export, not per-row.
	names := map[string]string{}
	if entities, err := s.dir.ListActive(ctx); err == nil {
		for _, e := range entities {
			names[e.ID.String()] = e.Name
		}
	}

	f := excelize.NewFile()
	const sheet = "Documents"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Uploaded",
		"Document UUID",
		"Entity",
		"Method",
		"Confidence",
		"Status",
		"Site",
		"Cost (USD)",
		"Uploaded By",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, d := range docs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		entityName := ""
		if d.EntityID != nil {
			entityName = names[d.EntityID.String()]
			if entityName == "" {
				entityName = d.EntityID.String()
			}
		}
		confidence := ""
		if d.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *d.Confidence)
		}
		site := ""
		if d.SiteName != nil {
			site = *d.SiteName
		}

		write(1, d.CreatedAt.UTC().Format("2006-01-02 15:04"))
		write(2, d.DocUUID.String())
		write(3, entityName)
		write(4, string(d.Method))
		write(5, confidence)
		write(6, string(d.Status))
		write(7, site)
		write(8, fmt.Sprintf("%.4f", d.CostUSD))
		write(9, d.UploadedBy)

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 18) // date
	_ = f.SetColWidth(sheet, "B", "B", 38) // uuid
	_ = f.SetColWidth(sheet, "C", "C", 28) // entity
	_ = f.SetColWidth(sheet, "D", "F", 14) // method/confidence/status
	_ = f.SetColWidth(sheet, "G", "G", 24) // site
	_ = f.SetColWidth(sheet, "H", "I", 16) // cost / uploader

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(docs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
