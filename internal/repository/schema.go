package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema DDL in the portable subset shared by SQLite and Postgres. The
// production Postgres schema is managed by migrations; this bootstrap
// exists for the batch CLI's in-memory mode and for tests.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id            TEXT PRIMARY KEY,
		code          TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		keywords      TEXT NOT NULL,
		aliases       TEXT NOT NULL DEFAULT '[]',
		contact       TEXT,
		priority      INTEGER NOT NULL DEFAULT 100,
		active        INTEGER NOT NULL DEFAULT 1,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id                    TEXT PRIMARY KEY,
		doc_uuid              TEXT NOT NULL UNIQUE,
		images                TEXT NOT NULL,
		entity_id             TEXT,
		site_name             TEXT,
		ocr_text              TEXT,
		classification_method TEXT NOT NULL DEFAULT 'pending',
		confidence_score      REAL,
		reasoning             TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL DEFAULT 'PENDING',
		cost_usd              REAL NOT NULL DEFAULT 0,
		processing_ms         INTEGER NOT NULL DEFAULT 0,
		uploaded_by           TEXT NOT NULL DEFAULT '',
		created_at            TIMESTAMP NOT NULL,
		updated_at            TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS classification_feedback (
		id                  TEXT PRIMARY KEY,
		document_id         TEXT NOT NULL,
		predicted_entity_id TEXT,
		actual_entity_id    TEXT NOT NULL,
		is_correct          INTEGER NOT NULL,
		reason              TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_entity ON documents(entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_active ON entities(active, priority)`,
}

// Bootstrap creates the schema if it does not exist.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
