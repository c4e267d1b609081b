// Package directory is the read-mostly query surface over known business
// entities. It holds no cache: keyword edits must take effect on the very
// next classification, so every call reads a fresh snapshot.
package directory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/internal/entity"
	"github.com/fieldops/docsorter/internal/repository"
)

type Directory struct {
	repo   repository.EntityRepository
	logger *slog.Logger
}

func New(repo repository.EntityRepository, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{repo: repo, logger: logger}
}

// ListActive returns the active entities with keywords and aliases fully
// parsed, ordered by priority asc then name asc. That ordering doubles as
// the classifier's tie-break order.
func (d *Directory) ListActive(ctx context.Context) ([]*entity.Entity, error) {
	return d.repo.ListActive(ctx)
}

// Search matches term as a case-insensitive substring of name or code.
func (d *Directory) Search(ctx context.Context, term string) ([]*entity.Entity, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	return d.repo.Search(ctx, term)
}

func (d *Directory) ByCode(ctx context.Context, code string) (*entity.Entity, error) {
	return d.repo.GetByCode(ctx, code)
}

func (d *Directory) ByID(ctx context.Context, id uuid.UUID) (*entity.Entity, error) {
	return d.repo.GetByID(ctx, id)
}
