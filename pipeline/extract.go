package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/docmind/audit"
	"github.com/hazyhaar/docmind/chunk"
	"github.com/hazyhaar/docmind/dispatch"
	"github.com/hazyhaar/docmind/docpipe"
	"github.com/hazyhaar/docmind/store"
)

// extractResult is the checkpointed outcome of the extraction step.
type extractResult struct {
	Unsupported bool   `json:"unsupported"`
	Text        string `json:"text"`
	WordCount   int    `json:"word_count"`
}

// handleExtract runs extraction, best-effort classification and chunking for
// one document, then triggers embedding when chunks exist.
func (p *Pipeline) handleExtract(ctx context.Context, job *dispatch.Job) error {
	var payload TextExtractPayload
	if err := job.Decode(&payload); err != nil {
		return dispatch.Permanent(err)
	}
	log := p.logger.With("document_id", payload.DocumentID, "org_id", payload.OrganizationID)

	doc, err := p.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return dispatch.Permanent(err)
		}
		return err
	}

	// The upload path gates unsupported MIME types, but events can come
	// from anywhere.
	if !docpipe.Supported(payload.MimeType) {
		log.Info("extraction skipped: unsupported mime", "mime", payload.MimeType)
		return p.store.SetExtractionStatus(ctx, doc.ID, store.ExtractionUnsupported)
	}

	if err := p.store.SetExtractionStatus(ctx, doc.ID, store.ExtractionProcessing); err != nil {
		return err
	}

	var res extractResult
	err = job.DecodeStep(ctx, "extract", &res, func(ctx context.Context) (any, error) {
		data, err := p.blobs.Fetch(payload.FilePath)
		if err != nil {
			return nil, fmt.Errorf("fetch blob: %w", err)
		}
		out, err := p.extractor.Extract(ctx, data, payload.MimeType)
		if errors.Is(err, docpipe.ErrNoText) {
			// Scanned or empty document: a terminal outcome, not a failure.
			return extractResult{Unsupported: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return extractResult{Text: out.Text, WordCount: out.WordCount}, nil
	})
	if err != nil {
		return err
	}

	if res.Unsupported {
		log.Info("extraction yielded no text, marking unsupported")
		if err := p.store.SetExtractionStatus(ctx, doc.ID, store.ExtractionUnsupported); err != nil {
			return err
		}
		return p.auditLog.Log(ctx, &audit.Entry{
			Component:  "extractor",
			Operation:  "extract.unsupported",
			OrgID:      doc.OrgID,
			DocumentID: doc.ID,
		})
	}

	if err := p.store.SetExtractedContent(ctx, doc.ID, res.Text, res.WordCount); err != nil {
		return err
	}

	p.classifyDocument(ctx, doc, res.Text)

	chunkCount, err := p.rechunk(ctx, doc, res.Text)
	if err != nil {
		return err
	}
	log.Info("extraction completed", "word_count", res.WordCount, "chunk_count", chunkCount)

	if err := p.auditLog.Record(ctx, "extractor", "extract.completed", map[string]any{
		"documentId": doc.ID,
		"wordCount":  res.WordCount,
		"chunkCount": chunkCount,
	}, nil); err != nil {
		return err
	}

	if err := p.dispatcher.Emit(ctx, EventTextExtractCompleted, TextExtractCompletedPayload{
		DocumentID:     doc.ID,
		OrganizationID: doc.OrgID,
		WordCount:      res.WordCount,
		ChunkCount:     chunkCount,
	}); err != nil {
		return err
	}

	if chunkCount > 0 {
		return p.dispatcher.Emit(ctx, EventEmbedRequested, EmbedRequestedPayload{
			DocumentID:     doc.ID,
			OrganizationID: doc.OrgID,
		})
	}
	return nil
}

// rechunk replaces the document's chunks with a fresh partition of text.
// Returns the new chunk count.
func (p *Pipeline) rechunk(ctx context.Context, doc *store.Document, text string) (int, error) {
	parts := chunk.Split(text, p.chunkOpts)
	rows := make([]store.Chunk, len(parts))
	for i, c := range parts {
		rows[i] = store.Chunk{
			ChunkIndex:  c.Index,
			Content:     c.Text,
			StartOffset: c.Start,
			EndOffset:   c.End,
		}
	}
	if err := p.store.ReplaceChunks(ctx, doc.ID, doc.OrgID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// classifyDocument updates the document type when the classifier returns a
// valid label different from the current one. Best-effort: never fails the
// stage.
func (p *Pipeline) classifyDocument(ctx context.Context, doc *store.Document, text string) {
	label, ok := p.classifierFor(ctx, doc.OrgID).Classify(ctx, text)
	if !ok || label == doc.DocType {
		return
	}
	if err := p.store.SetDocType(ctx, doc.ID, label); err != nil {
		p.logger.Warn("classify: persist failed", "document_id", doc.ID, "error", err)
		return
	}
	p.logger.Info("document classified", "document_id", doc.ID, "doc_type", label)
}

// extractFailed marks the document failed after the retry budget is spent.
func (p *Pipeline) extractFailed(ctx context.Context, job *dispatch.Job, cause error) {
	var payload TextExtractPayload
	if err := job.Decode(&payload); err != nil {
		p.logger.Error("extract failure hook: bad payload", "error", err)
		return
	}
	log := p.logger.With("document_id", payload.DocumentID)
	log.Error("extraction failed permanently", "error", cause)

	if err := p.store.SetExtractionStatus(ctx, payload.DocumentID, store.ExtractionFailed); err != nil {
		log.Error("extract failure hook: status update failed", "error", err)
	}
	if err := p.auditLog.Log(ctx, &audit.Entry{
		Component:  "extractor",
		Operation:  "extract.failed",
		OrgID:      payload.OrganizationID,
		DocumentID: payload.DocumentID,
		ErrorMsg:   cause.Error(),
	}); err != nil {
		log.Error("extract failure hook: audit write failed", "error", err)
	}
}
