package rag

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/docmind/aiclient"
	"github.com/hazyhaar/docmind/dbopen"
	"github.com/hazyhaar/docmind/store"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Model() string  { return "fake-embed" }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestEngine(t *testing.T, emb aiclient.Embedder, ttl time.Duration) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	embedderFor := func(ctx context.Context, orgID string) (aiclient.Embedder, error) {
		return emb, nil
	}
	return New(st, embedderFor, Options{CacheTTL: ttl, Logger: discard()}), st
}

func seedEmbeddedChunks(t *testing.T, st *store.Store, orgID string, contents []string, vectors [][]float32) {
	t.Helper()
	ctx := context.Background()
	doc := &store.Document{OrgID: orgID, Name: "doc.txt", MimeType: "text/plain", BlobKey: "k"}
	if err := st.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	chunks := make([]store.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = store.Chunk{ChunkIndex: i, Content: c, StartOffset: i * 10, EndOffset: (i + 1) * 10}
	}
	if err := st.ReplaceChunks(ctx, doc.ID, orgID, chunks); err != nil {
		t.Fatal(err)
	}
	stored, err := st.GetChunks(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(stored))
	for i, c := range stored {
		ids[i] = c.ID
	}
	if err := st.SetChunkEmbeddings(ctx, ids, vectors, "fake-embed"); err != nil {
		t.Fatal(err)
	}
}

func TestQueryRanksBySimilarity(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"billing question": {1, 0, 0},
	}}
	e, st := newTestEngine(t, emb, time.Minute)

	if err := st.CreateOrganization(context.Background(), "org_1", "Acme"); err != nil {
		t.Fatal(err)
	}
	seedEmbeddedChunks(t, st, "org_1",
		[]string{"invoice terms", "lunch menu", "payment schedule"},
		[][]float32{{0.9, 0.1, 0}, {0, 1, 0}, {1, 0, 0}},
	)

	results, err := e.Query(context.Background(), "org_1", "billing question", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Content != "payment schedule" {
		t.Errorf("top result = %q", results[0].Content)
	}
	if results[1].Content != "invoice terms" {
		t.Errorf("second result = %q", results[1].Content)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %f < %f", results[0].Score, results[1].Score)
	}
}

func TestQueryNoEmbeddedChunks(t *testing.T) {
	e, st := newTestEngine(t, &fakeEmbedder{}, time.Minute)
	if err := st.CreateOrganization(context.Background(), "org_1", "Acme"); err != nil {
		t.Fatal(err)
	}
	results, err := e.Query(context.Background(), "org_1", "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestQueryNotConfigured(t *testing.T) {
	st, err := store.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	e := New(st, func(ctx context.Context, orgID string) (aiclient.Embedder, error) {
		return nil, nil
	}, Options{Logger: discard()})

	results, err := e.Query(context.Background(), "org_1", "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}

func TestCacheInvalidation(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	e, st := newTestEngine(t, emb, time.Hour)

	if err := st.CreateOrganization(context.Background(), "org_1", "Acme"); err != nil {
		t.Fatal(err)
	}
	seedEmbeddedChunks(t, st, "org_1", []string{"first"}, [][]float32{{1, 0, 0}})

	results, err := e.Query(context.Background(), "org_1", "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	// New embedded content lands while the cache is warm: invisible until
	// invalidation.
	seedEmbeddedChunks(t, st, "org_1", []string{"second"}, [][]float32{{1, 0, 0}})
	results, _ = e.Query(context.Background(), "org_1", "q", 5)
	if len(results) != 1 {
		t.Fatalf("stale cache expected 1 result, got %d", len(results))
	}

	e.Invalidate("org_1")
	results, _ = e.Query(context.Background(), "org_1", "q", 5)
	if len(results) != 2 {
		t.Fatalf("after invalidation expected 2 results, got %d", len(results))
	}
}
