package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/constants"
	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/entity"
)

// ClassificationUpdate carries the fields a finished (or failed)
// classification writes back onto a document. Cost is additive: the stored
// cost_usd accumulates across re-classification attempts.
type ClassificationUpdate struct {
	EntityID     *uuid.UUID
	Method       constants.ClassificationMethod
	Confidence   *float64
	Reasoning    string
	Status       constants.DocumentStatus
	OCRText      *string
	AddCostUSD   float64
	ProcessingMS int64
}

// DocumentRepository is the persistence surface the orchestrator needs.
type DocumentRepository interface {
	Create(ctx context.Context, d *entity.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	GetByDocUUID(ctx context.Context, docUUID uuid.UUID) (*entity.Document, error)
	UpdateClassification(ctx context.Context, id uuid.UUID, upd ClassificationUpdate) error
	SetStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus) error
	AppendImages(ctx context.Context, id uuid.UUID, images []entity.ImageDescriptor) error
	SetSiteName(ctx context.Context, id uuid.UUID, siteName string) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status *constants.DocumentStatus, from, to *time.Time) ([]*entity.Document, error)
}

type documentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDocumentRepository(db *sql.DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepository{db: db, logger: logger}
}

const documentColumns = `id, doc_uuid, images, entity_id, site_name, ocr_text,
	classification_method, confidence_score, reasoning, status, cost_usd,
	processing_ms, uploaded_by, created_at, updated_at`

func (r *documentRepository) Create(ctx context.Context, d *entity.Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DocUUID == uuid.Nil {
		d.DocUUID = uuid.New()
	}
	if d.Method == "" {
		d.Method = constants.MethodPending
	}
	if d.Status == "" {
		d.Status = constants.StatusPending
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	images, err := json.Marshal(d.Images)
	if err != nil {
		return common.WrapError(err, "marshal images")
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		d.ID.String(), d.DocUUID.String(), string(images),
		uuidPtrToNull(d.EntityID), strPtrToNull(d.SiteName), strPtrToNull(d.OCRText),
		string(d.Method), floatPtrToNull(d.Confidence), d.Reasoning, string(d.Status),
		d.CostUSD, d.ProcessingMS, d.UploadedBy, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("document.create_failed", "doc_uuid", d.DocUUID, "error", err)
		return common.WrapError(common.ErrPersistence, "create document: "+err.Error())
	}
	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id.String())
	return scanDocument(row)
}

func (r *documentRepository) GetByDocUUID(ctx context.Context, docUUID uuid.UUID) (*entity.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE doc_uuid=$1`, docUUID.String())
	return scanDocument(row)
}

func (r *documentRepository) UpdateClassification(ctx context.Context, id uuid.UUID, upd ClassificationUpdate) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET entity_id=$2, classification_method=$3, confidence_score=$4,
		 reasoning=$5, status=$6, ocr_text=COALESCE($7, ocr_text),
		 cost_usd=cost_usd+$8, processing_ms=$9, updated_at=$10 WHERE id=$1`,
		id.String(), uuidPtrToNull(upd.EntityID), string(upd.Method), floatPtrToNull(upd.Confidence),
		upd.Reasoning, string(upd.Status), strPtrToNull(upd.OCRText),
		upd.AddCostUSD, upd.ProcessingMS, time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("document.update_classification_failed", "id", id, "error", err)
		return common.WrapError(common.ErrPersistence, "update classification: "+err.Error())
	}
	return requireRow(res, "document", id.String())
}

func (r *documentRepository) SetStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status=$2, updated_at=$3 WHERE id=$1`,
		id.String(), string(status), time.Now().UTC(),
	)
	if err != nil {
		return common.WrapError(common.ErrPersistence, "set status: "+err.Error())
	}
	return requireRow(res, "document", id.String())
}

func (r *documentRepository) AppendImages(ctx context.Context, id uuid.UUID, images []entity.ImageDescriptor) error {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	merged, err := json.Marshal(append(doc.Images, images...))
	if err != nil {
		return common.WrapError(err, "marshal images")
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET images=$2, updated_at=$3 WHERE id=$1`,
		id.String(), string(merged), time.Now().UTC(),
	)
	if err != nil {
		return common.WrapError(common.ErrPersistence, "append images: "+err.Error())
	}
	return requireRow(res, "document", id.String())
}

func (r *documentRepository) SetSiteName(ctx context.Context, id uuid.UUID, siteName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET site_name=$2, updated_at=$3 WHERE id=$1`,
		id.String(), siteName, time.Now().UTC(),
	)
	if err != nil {
		return common.WrapError(common.ErrPersistence, "set site name: "+err.Error())
	}
	return requireRow(res, "document", id.String())
}

// SoftDelete transitions the document to DELETED; rows are never removed
// except through an explicit purge.
func (r *documentRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status=$2, updated_at=$3 WHERE id=$1`,
		id.String(), string(constants.StatusDeleted), time.Now().UTC(),
	)
	if err != nil {
		return common.WrapError(common.ErrPersistence, "soft delete document: "+err.Error())
	}
	return requireRow(res, "document", id.String())
}

func (r *documentRepository) List(ctx context.Context, status *constants.DocumentStatus, from, to *time.Time) ([]*entity.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	args := []any{}
	n := 0
	next := func() string { n++; return "$" + strconv.Itoa(n) }
	if status != nil {
		q += ` AND status=` + next()
		args = append(args, string(*status))
	}
	if from != nil {
		q += ` AND created_at >= ` + next()
		args = append(args, *from)
	}
	if to != nil {
		q += ` AND created_at <= ` + next()
		args = append(args, *to)
	}
	q += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.WrapError(common.ErrPersistence, "list documents: "+err.Error())
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "iterate documents: "+err.Error())
	}
	return out, nil
}

func scanDocument(row rowScanner) (*entity.Document, error) {
	var (
		d           entity.Document
		idStr       string
		docUUIDStr  string
		imagesJSON  string
		entityID    sql.NullString
		siteName    sql.NullString
		ocrText     sql.NullString
		method      string
		confidence  sql.NullFloat64
		status      string
	)
	err := row.Scan(&idStr, &docUUIDStr, &imagesJSON, &entityID, &siteName, &ocrText,
		&method, &confidence, &d.Reasoning, &status, &d.CostUSD,
		&d.ProcessingMS, &d.UploadedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(common.ErrPersistence, "scan document: "+err.Error())
	}
	if d.ID, err = uuid.Parse(idStr); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "parse document id: "+err.Error())
	}
	if d.DocUUID, err = uuid.Parse(docUUIDStr); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "parse doc uuid: "+err.Error())
	}
	if err := json.Unmarshal([]byte(imagesJSON), &d.Images); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "parse images: "+err.Error())
	}
	if entityID.Valid {
		id, err := uuid.Parse(entityID.String)
		if err != nil {
			return nil, common.WrapError(common.ErrPersistence, "parse entity id: "+err.Error())
		}
		d.EntityID = &id
	}
	if siteName.Valid {
		d.SiteName = &siteName.String
	}
	if ocrText.Valid {
		d.OCRText = &ocrText.String
	}
	if confidence.Valid {
		d.Confidence = &confidence.Float64
	}
	d.Method = constants.ClassificationMethod(method)
	d.Status = constants.DocumentStatus(status)
	return &d, nil
}

func uuidPtrToNull(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func strPtrToNull(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func floatPtrToNull(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

