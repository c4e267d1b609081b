package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/entity"
)

// FeedbackRepository records predicted-vs-corrected entity comparisons for
// future accuracy reporting.
type FeedbackRepository interface {
	Record(ctx context.Context, f *entity.Feedback) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*entity.Feedback, error)
}

type feedbackRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewFeedbackRepository(db *sql.DB, logger *slog.Logger) FeedbackRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &feedbackRepository{db: db, logger: logger}
}

func (r *feedbackRepository) Record(ctx context.Context, f *entity.Feedback) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now().UTC()
	f.IsCorrect = f.PredictedID != nil && *f.PredictedID == f.ActualID

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO classification_feedback
		 (id, document_id, predicted_entity_id, actual_entity_id, is_correct, reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		f.ID.String(), f.DocumentID.String(), uuidPtrToNull(f.PredictedID),
		f.ActualID.String(), f.IsCorrect, f.Reason, f.CreatedAt,
	)
	if err != nil {
		r.logger.Error("feedback.record_failed", "document_id", f.DocumentID, "error", err)
		return common.WrapError(common.ErrPersistence, "record feedback: "+err.Error())
	}
	r.logger.Info("feedback.recorded",
		"document_id", f.DocumentID,
		"predicted", uuidPtrToNull(f.PredictedID),
		"actual", f.ActualID,
		"is_correct", f.IsCorrect,
	)
	return nil
}

func (r *feedbackRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*entity.Feedback, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document_id, predicted_entity_id, actual_entity_id, is_correct, reason, created_at
		 FROM classification_feedback WHERE actual_entity_id=$1 ORDER BY created_at ASC`,
		entityID.String(),
	)
	if err != nil {
		return nil, common.WrapError(common.ErrPersistence, "list feedback: "+err.Error())
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Feedback
	for rows.Next() {
		var (
			f         entity.Feedback
			idStr     string
			docStr    string
			predicted sql.NullString
			actualStr string
		)
		if err := rows.Scan(&idStr, &docStr, &predicted, &actualStr, &f.IsCorrect, &f.Reason, &f.CreatedAt); err != nil {
			return nil, common.WrapError(common.ErrPersistence, "scan feedback: "+err.Error())
		}
		if f.ID, err = uuid.Parse(idStr); err != nil {
			return nil, common.WrapError(common.ErrPersistence, "parse feedback id: "+err.Error())
		}
		if f.DocumentID, err = uuid.Parse(docStr); err != nil {
			return nil, common.WrapError(common.ErrPersistence, "parse document id: "+err.Error())
		}
		if predicted.Valid {
			id, err := uuid.Parse(predicted.String)
			if err != nil {
				return nil, common.WrapError(common.ErrPersistence, "parse predicted id: "+err.Error())
			}
			f.PredictedID = &id
		}
		if f.ActualID, err = uuid.Parse(actualStr); err != nil {
			return nil, common.WrapError(common.ErrPersistence, "parse actual id: "+err.Error())
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "iterate feedback: "+err.Error())
	}
	return out, nil
}
