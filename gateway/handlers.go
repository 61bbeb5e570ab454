package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docmind/rag"
	"github.com/hazyhaar/docmind/store"
)

// documentResponse is the external shape of a document.
type documentResponse struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organizationId"`
	CustomerID       string     `json:"customerId,omitempty"`
	Name             string     `json:"name"`
	MimeType         string     `json:"mimeType"`
	ExtractionStatus string     `json:"extractionStatus"`
	DocType          string     `json:"docType,omitempty"`
	WordCount        int        `json:"wordCount"`
	ChunkCount       int        `json:"chunkCount"`
	ExtractedAt      *time.Time `json:"extractedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func documentJSON(doc *store.Document, chunkCount int) documentResponse {
	return documentResponse{
		ID:               doc.ID,
		OrganizationID:   doc.OrgID,
		CustomerID:       doc.CustomerID,
		Name:             doc.Name,
		MimeType:         doc.MimeType,
		ExtractionStatus: string(doc.ExtractionStatus),
		DocType:          doc.DocType,
		WordCount:        doc.WordCount,
		ChunkCount:       chunkCount,
		ExtractedAt:      doc.ExtractedAt,
		CreatedAt:        doc.CreatedAt,
	}
}

// handleUpload accepts a multipart upload and starts the pipeline. The
// response carries the document in pending (or unsupported) status; callers
// poll the document endpoint for progress.
func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	orgID := r.FormValue("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	customerID := r.FormValue("customer_id")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	doc, err := s.pipe.Ingest(r.Context(), orgID, customerID, header.Filename,
		file, header.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Error("upload failed", "org_id", orgID, "name", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, documentJSON(doc, 0))
}

func (s *Service) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.lookupDocument(w, r)
	if !ok {
		return
	}
	chunkCount, err := s.store.CountChunks(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, documentJSON(doc, chunkCount))
}

// analysisResponse is the external shape of one analysis run.
type analysisResponse struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"documentId"`
	UserID       string         `json:"userId"`
	AnalysisType string         `json:"analysisType,omitempty"`
	Summary      string         `json:"summary"`
	Entities     store.Entities `json:"entities"`
	Sentiment    string         `json:"sentiment"`
	KeyPoints    []string       `json:"keyPoints"`
	ActionItems  []string       `json:"actionItems"`
	Confidence   float64        `json:"confidence"`
	Model        string         `json:"model"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (s *Service) handleGetAnalyses(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.lookupDocument(w, r)
	if !ok {
		return
	}
	analyses, err := s.store.GetAnalyses(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	out := make([]analysisResponse, len(analyses))
	for i, a := range analyses {
		out[i] = analysisResponse{
			ID:           a.ID,
			DocumentID:   a.DocumentID,
			UserID:       a.UserID,
			AnalysisType: a.AnalysisType,
			Summary:      a.Summary,
			Entities:     a.Entities,
			Sentiment:    string(a.Sentiment),
			KeyPoints:    a.KeyPoints,
			ActionItems:  a.ActionItems,
			Confidence:   a.Confidence,
			Model:        a.Model,
			CreatedAt:    a.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAnalyze enqueues an analysis run. Access is checked by the analysis
// stage itself, so enqueueing always succeeds for an existing document.
func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.lookupDocument(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID       string `json:"userId"`
		AnalysisType string `json:"analysisType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := s.pipe.RequestAnalysis(r.Context(), doc.ID, req.UserID, doc.OrgID, req.AnalysisType); err != nil {
		s.logger.Error("enqueue analysis failed", "document_id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"documentId": doc.ID,
		"status":     "queued",
	})
}

// handleQuery runs a semantic search over the organization's embedded
// chunks.
func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organizationId"`
		Text           string `json:"text"`
		TopK           int    `json:"topK"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OrganizationID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "organizationId and text are required")
		return
	}

	results, err := s.retrieval.Query(r.Context(), req.OrganizationID, req.Text, req.TopK)
	if err != nil {
		s.logger.Error("query failed", "org_id", req.OrganizationID, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if results == nil {
		results = []rag.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// lookupDocument resolves the {documentID} URL parameter, writing the error
// response itself when the document does not exist.
func (s *Service) lookupDocument(w http.ResponseWriter, r *http.Request) (*store.Document, bool) {
	id := chi.URLParam(r, "documentID")
	doc, err := s.store.GetDocument(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return nil, false
	}
	return doc, true
}
