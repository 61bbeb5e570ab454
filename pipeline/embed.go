package pipeline

import (
	"context"
	"fmt"

	"github.com/hazyhaar/docmind/audit"
	"github.com/hazyhaar/docmind/dispatch"
)

// handleEmbed embeds all chunks of a document in fixed-size batches. Each
// batch is a checkpointed step: a retry after a mid-run failure resumes at
// the first unfinished batch instead of re-calling the provider for work
// already persisted.
func (p *Pipeline) handleEmbed(ctx context.Context, job *dispatch.Job) error {
	var payload EmbedRequestedPayload
	if err := job.Decode(&payload); err != nil {
		return dispatch.Permanent(err)
	}
	log := p.logger.With("document_id", payload.DocumentID, "org_id", payload.OrganizationID)

	emb, err := p.embedderFor(ctx, payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("resolve embedder: %w", err)
	}
	if emb == nil {
		// Not configured: a clean terminal result, no retry.
		log.Info("embedding skipped: no embedding capability configured")
		return nil
	}

	chunks, err := p.store.GetChunks(ctx, payload.DocumentID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		log.Info("embedding skipped: document has no chunks")
		return nil
	}

	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		stepName := fmt.Sprintf("batch-%d", start/p.batchSize)
		_, err := job.Step(ctx, stepName, func(ctx context.Context) (any, error) {
			texts := make([]string, len(batch))
			ids := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
				ids[i] = c.ID
			}
			vecs, err := emb.EmbedBatch(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			if err := p.store.SetChunkEmbeddings(ctx, ids, vecs, emb.Model()); err != nil {
				return nil, fmt.Errorf("persist batch [%d:%d]: %w", start, end, err)
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
	}

	// All batches are durable: drop the organization's cached chunk set
	// once, then announce completion.
	p.retrieval.Invalidate(payload.OrganizationID)
	log.Info("embedding completed", "chunk_count", len(chunks), "model", emb.Model())

	if err := p.auditLog.Record(ctx, "embedder", "embed.completed", map[string]any{
		"documentId": payload.DocumentID,
		"chunkCount": len(chunks),
		"model":      emb.Model(),
	}, nil); err != nil {
		return err
	}

	return p.dispatcher.Emit(ctx, EventEmbedCompleted, EmbedCompletedPayload{
		DocumentID:     payload.DocumentID,
		OrganizationID: payload.OrganizationID,
		ChunkCount:     len(chunks),
		EmbeddingModel: emb.Model(),
	})
}

// embedFailed records the terminal embedding failure. The document keeps
// its completed extraction; only the derived vectors are missing.
func (p *Pipeline) embedFailed(ctx context.Context, job *dispatch.Job, cause error) {
	var payload EmbedRequestedPayload
	if err := job.Decode(&payload); err != nil {
		p.logger.Error("embed failure hook: bad payload", "error", err)
		return
	}
	p.logger.Error("embedding failed permanently",
		"document_id", payload.DocumentID, "error", cause)

	if err := p.auditLog.Log(ctx, &audit.Entry{
		Component:  "embedder",
		Operation:  "embed.failed",
		OrgID:      payload.OrganizationID,
		DocumentID: payload.DocumentID,
		ErrorMsg:   cause.Error(),
	}); err != nil {
		p.logger.Error("embed failure hook: audit write failed", "error", err)
	}
}
