// Package rag ranks an organization's embedded chunks against a query text.
//
// Retrieval is optional enrichment everywhere it is used: callers log and
// swallow errors rather than failing their own operation. Scoring is
// brute-force cosine over the organization's embedded chunks, fronted by a
// short-TTL per-organization cache that embedding completion invalidates
// explicitly. The cache is process-local; with multiple workers each holds
// its own copy bounded by the TTL.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/docmind/aiclient"
	"github.com/hazyhaar/docmind/store"
)

// EmbedderFor resolves the embedding client for an organization. It returns
// nil when the organization has no embedding capability configured.
type EmbedderFor func(ctx context.Context, orgID string) (aiclient.Embedder, error)

// Result is one ranked chunk.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Options configures the engine.
type Options struct {
	// CacheTTL is how long a loaded chunk set stays valid. Default: 60s.
	CacheTTL time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type cacheEntry struct {
	chunks  []store.Chunk
	expires time.Time
}

// Engine answers similarity queries over embedded chunks.
type Engine struct {
	store       *store.Store
	embedderFor EmbedderFor
	opts        Options
	logger      *slog.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry // orgID → chunks
}

// New creates an Engine.
func New(st *store.Store, embedderFor EmbedderFor, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		store:       st,
		embedderFor: embedderFor,
		opts:        opts,
		logger:      opts.Logger,
		cache:       make(map[string]*cacheEntry),
	}
}

// Query returns the topK chunks of the organization most similar to text,
// best score first. An organization with no embedding capability or no
// embedded chunks yields an empty result, not an error.
func (e *Engine) Query(ctx context.Context, orgID, text string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	emb, err := e.embedderFor(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("rag: resolve embedder: %w", err)
	}
	if emb == nil {
		return nil, nil
	}

	chunks, err := e.loadChunks(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vecs, err := emb.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	query := vecs[0]

	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(query) {
			continue
		}
		results = append(results, Result{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Score:      store.CosineSimilarity(query, c.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Invalidate drops the cached chunk set for an organization. Called when
// that organization's embeddings change.
func (e *Engine) Invalidate(orgID string) {
	e.mu.Lock()
	delete(e.cache, orgID)
	e.mu.Unlock()
	e.logger.Debug("rag: cache invalidated", "org_id", orgID)
}

func (e *Engine) loadChunks(ctx context.Context, orgID string) ([]store.Chunk, error) {
	now := time.Now()

	e.mu.Lock()
	if entry, ok := e.cache[orgID]; ok && now.Before(entry.expires) {
		chunks := entry.chunks
		e.mu.Unlock()
		return chunks, nil
	}
	e.mu.Unlock()

	chunks, err := e.store.GetEmbeddedChunks(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("rag: load chunks: %w", err)
	}

	e.mu.Lock()
	e.cache[orgID] = &cacheEntry{chunks: chunks, expires: now.Add(e.opts.CacheTTL)}
	e.mu.Unlock()
	return chunks, nil
}
