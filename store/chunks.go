package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Chunk is a contiguous, offset-bounded slice of a document's extracted
// text. Embedding is nil until the embedding stage fills it.
type Chunk struct {
	ID             string
	DocumentID     string
	OrgID          string
	ChunkIndex     int
	Content        string
	StartOffset    int
	EndOffset      int
	Embedding      []float32
	EmbeddingModel string
	EmbeddingDim   int
	EmbeddedAt     *time.Time
}

// ReplaceChunks deletes all existing chunks for the document and inserts the
// new set in a single transaction. Chunking is not additive: re-running it
// for the same document never accumulates rows.
func (s *Store) ReplaceChunks(ctx context.Context, documentID, orgID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer safeTxRollback(tx, "replace chunks")

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = s.newID()
		}
		c.DocumentID = documentID
		c.OrgID = orgID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (id, document_id, org_id, chunk_index, content, start_offset, end_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, documentID, orgID, c.ChunkIndex, c.Content, c.StartOffset, c.EndOffset,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

// GetChunks retrieves all chunks for a document ordered by index.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, org_id, chunk_index, content, start_offset, end_offset,
		       embedding, embedding_model, embedding_dim, embedded_at
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// GetEmbeddedChunks retrieves all chunks of an organization that carry an
// embedding, for retrieval scoring.
func (s *Store) GetEmbeddedChunks(ctx context.Context, orgID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, org_id, chunk_index, content, start_offset, end_offset,
		       embedding, embedding_model, embedding_dim, embedded_at
		FROM document_chunks
		WHERE org_id = ? AND embedding IS NOT NULL
		ORDER BY document_id, chunk_index`, orgID)
	if err != nil {
		return nil, fmt.Errorf("get embedded chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// SetChunkEmbeddings persists the vectors for one batch of chunks in a
// transaction. ids and vectors are parallel slices.
func (s *Store) SetChunkEmbeddings(ctx context.Context, ids []string, vectors [][]float32, model string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("set chunk embeddings: %d ids, %d vectors", len(ids), len(vectors))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer safeTxRollback(tx, "set chunk embeddings")

	now := time.Now().Unix()
	for i, id := range ids {
		blob := SerializeVector(vectors[i])
		_, err := tx.ExecContext(ctx, `
			UPDATE document_chunks
			SET embedding = ?, embedding_model = ?, embedding_dim = ?, embedded_at = ?
			WHERE id = ?`,
			blob, model, len(vectors[i]), now, id)
		if err != nil {
			return fmt.Errorf("update chunk %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// CountChunks returns the number of chunks for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID,
	).Scan(&n)
	return n, err
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		var embeddedAt sql.NullInt64
		err := rows.Scan(&c.ID, &c.DocumentID, &c.OrgID, &c.ChunkIndex, &c.Content,
			&c.StartOffset, &c.EndOffset, &blob, &c.EmbeddingModel, &c.EmbeddingDim, &embeddedAt)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			c.Embedding = DeserializeVector(blob)
		}
		if embeddedAt.Valid {
			t := time.Unix(embeddedAt.Int64, 0)
			c.EmbeddedAt = &t
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
