// Package pipeline wires the document intelligence stages together:
// extraction, chunking, embedding, auto-classification and analysis, chained
// by durable events with per-stage retry budgets.
//
// Stage code returns an error only for conditions the dispatcher should
// retry. Terminal outcomes that are not errors (unsupported format, missing
// AI configuration) complete the job normally after recording their state.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docmind/aiclient"
	"github.com/hazyhaar/docmind/audit"
	"github.com/hazyhaar/docmind/blob"
	"github.com/hazyhaar/docmind/chunk"
	"github.com/hazyhaar/docmind/classify"
	"github.com/hazyhaar/docmind/config"
	"github.com/hazyhaar/docmind/dispatch"
	"github.com/hazyhaar/docmind/docpipe"
	"github.com/hazyhaar/docmind/rag"
	"github.com/hazyhaar/docmind/store"
)

// EmbedderFor resolves the embedding client for an organization; nil when
// not configured.
type EmbedderFor func(ctx context.Context, orgID string) (aiclient.Embedder, error)

// GeneratorFor resolves the generation client for an organization; nil when
// not configured.
type GeneratorFor func(ctx context.Context, orgID string) (aiclient.Generator, error)

// Retrieval is the slice of the retrieval engine the pipeline touches:
// context lookup for analysis prompts and cache invalidation after
// embedding runs.
type Retrieval interface {
	Query(ctx context.Context, orgID, text string, topK int) ([]rag.Result, error)
	Invalidate(orgID string)
}

// Pipeline owns the stage handlers and their shared collaborators.
type Pipeline struct {
	store      *store.Store
	blobs      *blob.Store
	dispatcher *dispatch.Dispatcher
	extractor  *docpipe.Pipeline
	retrieval  Retrieval
	auditLog   *audit.Logger
	logger     *slog.Logger

	embedderFor  EmbedderFor
	generatorFor GeneratorFor

	chunkOpts chunk.Options
	batchSize int
	retries   config.RetryConfig
}

// Options bundles the pipeline's collaborators.
type Options struct {
	Store      *store.Store
	Blobs      *blob.Store
	Dispatcher *dispatch.Dispatcher
	Extractor  *docpipe.Pipeline
	Retrieval  Retrieval
	AuditLog   *audit.Logger
	Logger     *slog.Logger

	// EmbedderFor and GeneratorFor override the default store-backed
	// provider resolution (tests, shared clients).
	EmbedderFor  EmbedderFor
	GeneratorFor GeneratorFor

	Chunking  config.ChunkingConfig
	BatchSize int
	Retries   config.RetryConfig
}

// New creates a Pipeline. Call Register to attach its stage handlers to the
// dispatcher before running it.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Retries == (config.RetryConfig{}) {
		opts.Retries = config.RetryConfig{Extract: 2, Embed: 2, Analyze: 3}
	}

	p := &Pipeline{
		store:        opts.Store,
		blobs:        opts.Blobs,
		dispatcher:   opts.Dispatcher,
		extractor:    opts.Extractor,
		retrieval:    opts.Retrieval,
		auditLog:     opts.AuditLog,
		logger:       opts.Logger,
		embedderFor:  opts.EmbedderFor,
		generatorFor: opts.GeneratorFor,
		chunkOpts: chunk.Options{
			TargetRunes: opts.Chunking.TargetRunes,
			MinRunes:    opts.Chunking.MinRunes,
		},
		batchSize: opts.BatchSize,
		retries:   opts.Retries,
	}
	if p.embedderFor == nil {
		p.embedderFor = p.storeEmbedderFor
	}
	if p.generatorFor == nil {
		p.generatorFor = p.storeGeneratorFor
	}
	return p
}

// Register attaches the stage handlers to the dispatcher.
func (p *Pipeline) Register() error {
	subs := []dispatch.Subscription{
		{
			Name:       "pipeline.extract",
			Event:      EventTextExtract,
			MaxRetries: p.retries.Extract,
			Key:        payloadDocumentKey,
			Handler:    p.handleExtract,
			OnFailure:  p.extractFailed,
		},
		{
			Name:       "pipeline.embed",
			Event:      EventEmbedRequested,
			MaxRetries: p.retries.Embed,
			Key:        payloadDocumentKey,
			Handler:    p.handleEmbed,
			OnFailure:  p.embedFailed,
		},
		{
			Name:       "pipeline.analyze",
			Event:      EventAnalyzeRequested,
			MaxRetries: p.retries.Analyze,
			Handler:    p.handleAnalyze,
			OnFailure:  p.analyzeFailed,
		},
	}
	for _, sub := range subs {
		if err := p.dispatcher.Subscribe(sub); err != nil {
			return err
		}
	}
	return nil
}

// payloadDocumentKey scopes job idempotency to the document id.
func payloadDocumentKey(payload []byte) string {
	var p struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.DocumentID
}

// Ingest stores the uploaded bytes, creates the document record and starts
// the pipeline. A MIME type outside the supported set never reaches the
// extractor: the document is created directly in unsupported status and no
// event is emitted.
func (p *Pipeline) Ingest(ctx context.Context, orgID, customerID, name string, r io.Reader, mimeType string) (*store.Document, error) {
	mt := resolveMIME(mimeType, name)

	key, size, err := p.blobs.Put(r)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		OrgID:      orgID,
		CustomerID: customerID,
		Name:       name,
		MimeType:   mt,
		BlobKey:    key,
	}
	if !docpipe.Supported(mt) {
		doc.ExtractionStatus = store.ExtractionUnsupported
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	p.logger.Info("document ingested",
		"document_id", doc.ID, "org_id", orgID, "mime", mt, "size", size,
		"status", doc.ExtractionStatus)

	if doc.ExtractionStatus == store.ExtractionUnsupported {
		return doc, nil
	}

	err = p.dispatcher.Emit(ctx, EventTextExtract, TextExtractPayload{
		DocumentID:     doc.ID,
		OrganizationID: orgID,
		FilePath:       key,
		MimeType:       mt,
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// RequestAnalysis enqueues an analysis job for the document.
func (p *Pipeline) RequestAnalysis(ctx context.Context, documentID, userID, orgID, analysisType string) error {
	return p.dispatcher.Emit(ctx, EventAnalyzeRequested, AnalyzeRequestedPayload{
		DocumentID:     documentID,
		UserID:         userID,
		OrganizationID: orgID,
		AnalysisType:   analysisType,
	})
}

// resolveMIME prefers the declared type, falling back to the filename
// extension.
func resolveMIME(declared, name string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if ext := filepath.Ext(name); ext != "" {
		if mt, _, err := mime.ParseMediaType(mime.TypeByExtension(ext)); err == nil {
			return mt
		}
	}
	return strings.ToLower(strings.TrimSpace(declared))
}

// StoreEmbedderFor returns a resolver that builds embedding clients from
// each organization's stored AI configuration. The same resolver backs both
// the embedding stage and the retrieval engine so both sides agree on the
// model.
func StoreEmbedderFor(st *store.Store, logger *slog.Logger) EmbedderFor {
	return func(ctx context.Context, orgID string) (aiclient.Embedder, error) {
		cfg, err := st.GetAIConfig(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if !cfg.HasEmbedding() {
			return nil, nil
		}
		return aiclient.NewEmbedder(aiclient.EmbedConfig{
			Endpoint:  cfg.EmbedEndpoint,
			APIKey:    cfg.APIKey,
			Model:     cfg.EmbedModel,
			Dimension: cfg.EmbedDim,
			Logger:    logger,
		}), nil
	}
}

func (p *Pipeline) storeEmbedderFor(ctx context.Context, orgID string) (aiclient.Embedder, error) {
	return StoreEmbedderFor(p.store, p.logger)(ctx, orgID)
}

// storeGeneratorFor builds a generation client from the organization's
// stored AI configuration.
func (p *Pipeline) storeGeneratorFor(ctx context.Context, orgID string) (aiclient.Generator, error) {
	cfg, err := p.store.GetAIConfig(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !cfg.HasGeneration() {
		return nil, nil
	}
	return aiclient.NewGenerator(aiclient.GenConfig{
		Provider: cfg.Provider,
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Logger:   p.logger,
	})
}

// classifierFor builds a best-effort classifier; nil generator yields a
// classifier that always declines.
func (p *Pipeline) classifierFor(ctx context.Context, orgID string) *classify.Classifier {
	gen, err := p.generatorFor(ctx, orgID)
	if err != nil {
		p.logger.Warn("classify: resolve generator failed", "org_id", orgID, "error", err)
		gen = nil
	}
	return classify.New(gen, p.logger)
}
