// Package audit persists an operation-level trail of pipeline activity:
// stage completions, terminal failures, analysis requests. Entries are
// written synchronously; terminal failure hooks depend on the record being
// durable before the job is discarded.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/docmind/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id       TEXT PRIMARY KEY,
    timestamp      INTEGER NOT NULL,          -- Unix seconds
    component      TEXT NOT NULL,
    operation      TEXT NOT NULL,
    user_id        TEXT,
    org_id         TEXT,
    document_id    TEXT,
    parameters     TEXT,                      -- JSON
    error_message  TEXT,
    status         TEXT NOT NULL              -- "success" or "error"
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_component ON audit_log(component, operation);
CREATE INDEX IF NOT EXISTS idx_audit_document ON audit_log(document_id);
`

// Entry is a single operation record in the audit trail.
type Entry struct {
	EntryID    string
	Timestamp  time.Time
	Component  string // e.g. "extractor", "embedder", "analyzer"
	Operation  string // e.g. "extract.completed", "analyze.failed"
	UserID     string
	OrgID      string
	DocumentID string
	Parameters string // JSON
	ErrorMsg   string
	Status     string // "success" or "error"
}

// Filter controls Query results.
type Filter struct {
	Component  string
	Operation  string
	DocumentID string
	Status     string
	Since      *time.Time
	Limit      int // default 100
}

// Logger persists audit entries to SQLite.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
}

// New creates a Logger and ensures its table exists.
func New(db *sql.DB) (*Logger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Logger{db: db, newID: idgen.Prefixed("audit_", idgen.Default)}, nil
}

// Log inserts an entry. Missing id, timestamp and status are filled in.
func (l *Logger) Log(ctx context.Context, e *Entry) error {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		if e.ErrorMsg != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log
			(entry_id, timestamp, component, operation, user_id, org_id, document_id, parameters, error_message, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.Unix(), e.Component, e.Operation,
		e.UserID, e.OrgID, e.DocumentID, e.Parameters, e.ErrorMsg, e.Status,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Record is a convenience wrapper building an Entry from operation
// parameters and an optional error. Params are marshalled to JSON.
func (l *Logger) Record(ctx context.Context, component, operation string, params any, opErr error) error {
	e := &Entry{Component: component, Operation: operation}
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			e.Parameters = string(b)
		}
	}
	if opErr != nil {
		e.ErrorMsg = opErr.Error()
	}
	return l.Log(ctx, e)
}

// Query retrieves entries matching the filter, newest first.
func (l *Logger) Query(ctx context.Context, f *Filter) ([]*Entry, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		conds = append(conds, cond)
		args = append(args, val)
	}
	if f.Component != "" {
		add("component = ?", f.Component)
	}
	if f.Operation != "" {
		add("operation = ?", f.Operation)
	}
	if f.DocumentID != "" {
		add("document_id = ?", f.DocumentID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Since != nil {
		add("timestamp >= ?", f.Since.Unix())
	}

	q := `SELECT entry_id, timestamp, component, operation, user_id, org_id,
		document_id, parameters, error_message, status FROM audit_log`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var userID, orgID, docID, params, errMsg sql.NullString
		if err := rows.Scan(&e.EntryID, &ts, &e.Component, &e.Operation,
			&userID, &orgID, &docID, &params, &errMsg, &e.Status); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.UserID = userID.String
		e.OrgID = orgID.String
		e.DocumentID = docID.String
		e.Parameters = params.String
		e.ErrorMsg = errMsg.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retentionDays.
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}
