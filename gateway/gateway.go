// Package gateway exposes the document pipeline over HTTP: uploads,
// document status, analysis requests and retrieval queries.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/docmind/pipeline"
	"github.com/hazyhaar/docmind/rag"
	"github.com/hazyhaar/docmind/ratelimit"
	"github.com/hazyhaar/docmind/store"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 50 << 20

// Service wires the HTTP surface to the pipeline.
type Service struct {
	pipe      *pipeline.Pipeline
	store     *store.Store
	retrieval *rag.Engine
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

// Options bundles the gateway's collaborators.
type Options struct {
	Pipeline  *pipeline.Pipeline
	Store     *store.Store
	Retrieval *rag.Engine
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger
}

// New creates the gateway service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		pipe:      opts.Pipeline,
		store:     opts.Store,
		retrieval: opts.Retrieval,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.requestLogger)
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", s.handleUpload)
		r.Get("/documents/{documentID}", s.handleGetDocument)
		r.Get("/documents/{documentID}/analyses", s.handleGetAnalyses)
		r.Post("/documents/{documentID}/analyze", s.handleAnalyze)
		r.Post("/query", s.handleQuery)
	})
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("gateway: encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
