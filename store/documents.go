package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ExtractionStatus is the lifecycle state of a document's text extraction.
type ExtractionStatus string

const (
	ExtractionPending     ExtractionStatus = "pending"
	ExtractionProcessing  ExtractionStatus = "processing"
	ExtractionCompleted   ExtractionStatus = "completed"
	ExtractionUnsupported ExtractionStatus = "unsupported"
	ExtractionFailed      ExtractionStatus = "failed"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Document is an uploaded file owned by an organization. Content is the
// extracted text, nil until extraction completes.
type Document struct {
	ID               string
	OrgID            string
	CustomerID       string // empty when not attached to a customer
	Name             string
	MimeType         string
	BlobKey          string
	ExtractionStatus ExtractionStatus
	Content          *string
	DocType          string
	WordCount        int
	ExtractedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateDocument inserts a new document in pending extraction status.
// The ID is generated when empty.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = s.newID()
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.ExtractionStatus == "" {
		doc.ExtractionStatus = ExtractionPending
	}

	var customerID any
	if doc.CustomerID != "" {
		customerID = doc.CustomerID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, org_id, customer_id, name, mime_type, blob_key, extraction_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OrgID, customerID, doc.Name, doc.MimeType, doc.BlobKey,
		doc.ExtractionStatus, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, COALESCE(customer_id, ''), name, mime_type, blob_key,
		       extraction_status, content, doc_type, word_count, extracted_at,
		       created_at, updated_at
		FROM documents WHERE id = ?`, id)

	var doc Document
	var content sql.NullString
	var extractedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&doc.ID, &doc.OrgID, &doc.CustomerID, &doc.Name, &doc.MimeType,
		&doc.BlobKey, &doc.ExtractionStatus, &content, &doc.DocType, &doc.WordCount,
		&extractedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	if content.Valid {
		doc.Content = &content.String
	}
	if extractedAt.Valid {
		t := time.Unix(extractedAt.Int64, 0)
		doc.ExtractedAt = &t
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

// SetExtractionStatus updates only the extraction status.
func (s *Store) SetExtractionStatus(ctx context.Context, id string, status ExtractionStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET extraction_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set extraction status: %w", err)
	}
	return requireRow(res)
}

// SetExtractedContent records a successful extraction: content, word count,
// the completed status, and the extraction timestamp.
func (s *Store) SetExtractedContent(ctx context.Context, id, content string, wordCount int) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET content = ?, word_count = ?, extraction_status = ?, extracted_at = ?, updated_at = ?
		WHERE id = ?`,
		content, wordCount, ExtractionCompleted, now, now, id)
	if err != nil {
		return fmt.Errorf("set extracted content: %w", err)
	}
	return requireRow(res)
}

// SetDocType updates the inferred document type.
func (s *Store) SetDocType(ctx context.Context, id, docType string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET doc_type = ?, updated_at = ? WHERE id = ?`,
		docType, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set doc type: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
