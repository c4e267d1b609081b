package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/entity"
)

// SearchLimit caps Search result counts.
const SearchLimit = 25

// EntityRepository is the query/write surface over business entities.
type EntityRepository interface {
	Create(ctx context.Context, e *entity.Entity) error
	Update(ctx context.Context, e *entity.Entity) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Entity, error)
	GetByCode(ctx context.Context, code string) (*entity.Entity, error)
	// ListActive returns active entities ordered by priority asc, name asc.
	// Keywords and aliases come back fully parsed.
	ListActive(ctx context.Context) ([]*entity.Entity, error)
	// Search is a case-insensitive substring match on name and code.
	Search(ctx context.Context, term string) ([]*entity.Entity, error)
}

type entityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEntityRepository(db *sql.DB, logger *slog.Logger) EntityRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &entityRepository{db: db, logger: logger}
}

const entityColumns = `id, code, name, keywords, aliases, contact, priority, active, created_at, updated_at`

func (r *entityRepository) Create(ctx context.Context, e *entity.Entity) error {
	if err := validateEntity(e); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	kw, al, contact, err := marshalEntityBlobs(e)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID.String(), e.Code, e.Name, kw, al, contact, e.Priority, e.Active, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("entity.create_failed", "code", e.Code, "error", err)
		return common.WrapError(common.ErrPersistence, "create entity: "+err.Error())
	}
	return nil
}

func (r *entityRepository) Update(ctx context.Context, e *entity.Entity) error {
	if err := validateEntity(e); err != nil {
		return err
	}
	e.UpdatedAt = time.Now().UTC()
	kw, al, contact, err := marshalEntityBlobs(e)
	if err != nil {
		return err
	}
	// Code is immutable after creation: deliberately absent from the SET list.
	res, err := r.db.ExecContext(ctx,
		`UPDATE entities SET name=$2, keywords=$3, aliases=$4, contact=$5, priority=$6, active=$7, updated_at=$8 WHERE id=$1`,
		e.ID.String(), e.Name, kw, al, contact, e.Priority, e.Active, e.UpdatedAt,
	)
	if err != nil {
		return common.WrapError(common.ErrPersistence, "update entity: "+err.Error())
	}
	return requireRow(res, "entity", e.ID.String())
}

func (r *entityRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entities SET active=$2, updated_at=$3 WHERE id=$1`,
		id.String(), false, time.Now().UTC(),
	)
	if err != nil {
		return common.WrapError(common.ErrPersistence, "deactivate entity: "+err.Error())
	}
	return requireRow(res, "entity", id.String())
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id=$1`, id.String())
	return scanEntity(row)
}

func (r *entityRepository) GetByCode(ctx context.Context, code string) (*entity.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE code=$1`, code)
	return scanEntity(row)
}

func (r *entityRepository) ListActive(ctx context.Context) ([]*entity.Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE active=$1 ORDER BY priority ASC, name ASC`, true)
	if err != nil {
		r.logger.Error("entity.list_active_failed", "error", err)
		return nil, common.WrapError(common.ErrPersistence, "list active entities: "+err.Error())
	}
	defer func() { _ = rows.Close() }()
	return collectEntities(rows)
}

func (r *entityRepository) Search(ctx context.Context, term string) ([]*entity.Entity, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE LOWER(name) LIKE $1 OR LOWER(code) LIKE $1
		 ORDER BY priority ASC, name ASC LIMIT `+fmt.Sprint(SearchLimit), pattern)
	if err != nil {
		return nil, common.WrapError(common.ErrPersistence, "search entities: "+err.Error())
	}
	defer func() { _ = rows.Close() }()
	return collectEntities(rows)
}

// validateEntity enforces the persistence-boundary invariants: typed
// keyword lists, never empty for an active entity.
func validateEntity(e *entity.Entity) error {
	if strings.TrimSpace(e.Code) == "" {
		return common.NewAppError("ENTITY_INVALID", "code is required", common.ErrInvalidInput)
	}
	if strings.TrimSpace(e.Name) == "" {
		return common.NewAppError("ENTITY_INVALID", "name is required", common.ErrInvalidInput)
	}
	if len(e.Keywords) == 0 {
		return common.NewAppError("ENTITY_INVALID", "keywords must be non-empty", common.ErrInvalidInput)
	}
	for _, k := range e.Keywords {
		if strings.TrimSpace(k) == "" {
			return common.NewAppError("ENTITY_INVALID", "keywords must not contain blanks", common.ErrInvalidInput)
		}
	}
	return nil
}

func marshalEntityBlobs(e *entity.Entity) (kw, al string, contact sql.NullString, err error) {
	kb, err := json.Marshal(e.Keywords)
	if err != nil {
		return "", "", contact, err
	}
	if e.Aliases == nil {
		e.Aliases = []string{}
	}
	ab, err := json.Marshal(e.Aliases)
	if err != nil {
		return "", "", contact, err
	}
	if e.Contact != nil {
		cb, err := json.Marshal(e.Contact)
		if err != nil {
			return "", "", contact, err
		}
		contact = sql.NullString{String: string(cb), Valid: true}
	}
	return string(kb), string(ab), contact, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*entity.Entity, error) {
	var (
		e           entity.Entity
		idStr       string
		kw, al      string
		contact     sql.NullString
	)
	err := row.Scan(&idStr, &e.Code, &e.Name, &kw, &al, &contact, &e.Priority, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(common.ErrPersistence, "scan entity: "+err.Error())
	}
	if e.ID, err = uuid.Parse(idStr); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "parse entity id: "+err.Error())
	}
	if err := json.Unmarshal([]byte(kw), &e.Keywords); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "parse keywords: "+err.Error())
	}
	if err := json.Unmarshal([]byte(al), &e.Aliases); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "parse aliases: "+err.Error())
	}
	if contact.Valid {
		var c entity.ContactInfo
		if err := json.Unmarshal([]byte(contact.String), &c); err != nil {
			return nil, common.WrapError(common.ErrPersistence, "parse contact: "+err.Error())
		}
		e.Contact = &c
	}
	return &e, nil
}

func collectEntities(rows *sql.Rows) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(common.ErrPersistence, "iterate entities: "+err.Error())
	}
	return out, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return common.WrapError(common.ErrPersistence, "rows affected: "+err.Error())
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	return nil
}
