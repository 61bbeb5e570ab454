// Package store persists the docmind data model over SQLite: documents,
// their derived chunks and analyses, the tenancy rows the access check
// reads, and the per-organization AI capability configuration.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/docmind/idgen"
)

// Store wraps an SQLite database for the docmind data model.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// New creates a Store over an open database and runs migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, newID: idgen.Default}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// DB returns the underlying *sql.DB for sharing with audit and queue layers.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS organizations (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS org_members (
    org_id      TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    user_id     TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'active',
    PRIMARY KEY (org_id, user_id)
);

CREATE TABLE IF NOT EXISTS customers (
    id          TEXT PRIMARY KEY,
    org_id      TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS customer_assignments (
    customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    user_id     TEXT NOT NULL,
    PRIMARY KEY (customer_id, user_id)
);

CREATE TABLE IF NOT EXISTS documents (
    id                TEXT PRIMARY KEY,
    org_id            TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    customer_id       TEXT REFERENCES customers(id) ON DELETE SET NULL,
    name              TEXT NOT NULL,
    mime_type         TEXT NOT NULL,
    blob_key          TEXT NOT NULL DEFAULT '',
    extraction_status TEXT NOT NULL DEFAULT 'pending',
    content           TEXT,
    doc_type          TEXT NOT NULL DEFAULT '',
    word_count        INTEGER NOT NULL DEFAULT 0,
    extracted_at      INTEGER,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_org ON documents(org_id);

CREATE TABLE IF NOT EXISTS document_chunks (
    id              TEXT PRIMARY KEY,
    document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    org_id          TEXT NOT NULL,
    chunk_index     INTEGER NOT NULL,
    content         TEXT NOT NULL,
    start_offset    INTEGER NOT NULL,
    end_offset      INTEGER NOT NULL,
    embedding       BLOB,
    embedding_model TEXT NOT NULL DEFAULT '',
    embedding_dim   INTEGER NOT NULL DEFAULT 0,
    embedded_at     INTEGER,
    UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_org ON document_chunks(org_id);

CREATE TABLE IF NOT EXISTS document_analyses (
    id            TEXT PRIMARY KEY,
    document_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    org_id        TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    analysis_type TEXT NOT NULL,
    summary       TEXT NOT NULL DEFAULT '',
    entities      TEXT NOT NULL DEFAULT '{}',
    sentiment     TEXT NOT NULL DEFAULT 'neutral',
    key_points    TEXT NOT NULL DEFAULT '[]',
    action_items  TEXT NOT NULL DEFAULT '[]',
    confidence    REAL NOT NULL DEFAULT 0,
    model         TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_document ON document_analyses(document_id);

CREATE TABLE IF NOT EXISTS org_ai_configs (
    org_id         TEXT PRIMARY KEY REFERENCES organizations(id) ON DELETE CASCADE,
    provider       TEXT NOT NULL DEFAULT '',
    endpoint       TEXT NOT NULL DEFAULT '',
    api_key        TEXT NOT NULL DEFAULT '',
    model          TEXT NOT NULL DEFAULT '',
    embed_endpoint TEXT NOT NULL DEFAULT '',
    embed_model    TEXT NOT NULL DEFAULT '',
    embed_dim      INTEGER NOT NULL DEFAULT 0
);
`
	_, err := s.db.Exec(ddl)
	return err
}

// safeTxRollback rolls back tx and logs unless the tx already committed.
func safeTxRollback(tx *sql.Tx, op string) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("store: rollback failed", "op", op, "error", err)
	}
}
