package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/docmind/aiclient"
	"github.com/hazyhaar/docmind/audit"
	"github.com/hazyhaar/docmind/dispatch"
	"github.com/hazyhaar/docmind/store"
)

// Placeholder model tags for degraded analyses.
const (
	modelNone  = "none"  // no AI capability configured
	modelError = "error" // provider or parse failure
)

const maxAnalysisInput = 24000

// analysisPrompts maps analysis types to system prompt guidance.
var analysisPrompts = map[string]string{
	"contract":      "You analyze legal contracts. Focus on parties, obligations, deadlines, termination clauses and risks.",
	"email":         "You analyze business email threads. Focus on requests, commitments, open questions and tone.",
	"meeting_notes": "You analyze meeting notes. Focus on decisions, owners, deadlines and follow-ups.",
	"quotation":     "You analyze commercial quotations. Focus on scope, pricing, validity period and conditions.",
	"invoice":       "You analyze invoices. Focus on amounts, due dates, line items and payment terms.",
	"report":        "You analyze business reports. Focus on findings, figures and recommendations.",
}

const analysisFormat = `Respond with a single JSON object, no prose around it:
{
  "summary": "2-4 sentence summary",
  "entities": {"people": [], "companies": [], "dates": []},
  "sentiment": "positive" | "negative" | "neutral",
  "keyPoints": ["..."],
  "actionItems": ["..."],
  "confidence": 0.0-1.0
}`

// analysisResponse is the structured reply expected from the model.
type analysisResponse struct {
	Summary     string          `json:"summary"`
	Entities    store.Entities  `json:"entities"`
	Sentiment   store.Sentiment `json:"sentiment"`
	KeyPoints   []string        `json:"keyPoints"`
	ActionItems []string        `json:"actionItems"`
	Confidence  float64         `json:"confidence"`
}

// handleAnalyze verifies access, produces an analysis (real or degraded) and
// persists it. The stage always succeeds once past the access check: missing
// configuration and provider failures degrade to tagged placeholder rows
// instead of erroring.
func (p *Pipeline) handleAnalyze(ctx context.Context, job *dispatch.Job) error {
	var payload AnalyzeRequestedPayload
	if err := job.Decode(&payload); err != nil {
		return dispatch.Permanent(err)
	}
	log := p.logger.With(
		"document_id", payload.DocumentID,
		"user_id", payload.UserID,
		"org_id", payload.OrganizationID)

	doc, err := p.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return dispatch.Permanent(err)
		}
		return err
	}

	ok, err := p.store.HasDocumentAccess(ctx, doc, payload.UserID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("analysis denied: requester has no access to document")
		return dispatch.Permanent(fmt.Errorf("user %s has no access to document %s", payload.UserID, doc.ID))
	}

	analysis := p.buildAnalysis(ctx, doc, payload, log)
	analysis.DocumentID = doc.ID
	analysis.OrgID = doc.OrgID
	analysis.UserID = payload.UserID
	analysis.AnalysisType = payload.AnalysisType

	// Persisting is a checkpointed step: a retry after the insert (e.g. a
	// failed completion emit) must not append a second row.
	var analysisID string
	err = job.DecodeStep(ctx, "persist", &analysisID, func(ctx context.Context) (any, error) {
		if err := p.store.InsertAnalysis(ctx, analysis); err != nil {
			return nil, err
		}
		return analysis.ID, nil
	})
	if err != nil {
		return err
	}
	log.Info("analysis persisted", "analysis_id", analysisID, "model", analysis.Model, "confidence", analysis.Confidence)

	if err := p.auditLog.Log(ctx, &audit.Entry{
		Component:  "analyzer",
		Operation:  "analyze.completed",
		UserID:     payload.UserID,
		OrgID:      doc.OrgID,
		DocumentID: doc.ID,
		Parameters: fmt.Sprintf(`{"analysisId":%q,"model":%q}`, analysisID, analysis.Model),
	}); err != nil {
		return err
	}

	return p.dispatcher.Emit(ctx, EventAnalyzeCompleted, AnalyzeCompletedPayload{
		DocumentID:     doc.ID,
		AnalysisID:     analysisID,
		UserID:         payload.UserID,
		OrganizationID: doc.OrgID,
	})
}

// buildAnalysis produces the analysis content: a real model call when the
// organization has generation configured, a placeholder otherwise. Never
// returns an error; failures degrade.
func (p *Pipeline) buildAnalysis(ctx context.Context, doc *store.Document, payload AnalyzeRequestedPayload, log *slog.Logger) *store.Analysis {
	content := ""
	if doc.Content != nil {
		content = *doc.Content
	}

	gen, err := p.generatorFor(ctx, doc.OrgID)
	if err != nil {
		log.Warn("analysis degraded: resolve generator failed", "error", err)
		return placeholderAnalysis(content, modelError)
	}
	if gen == nil {
		log.Info("analysis degraded: no AI capability configured")
		return placeholderAnalysis(content, modelNone)
	}

	prompt := p.buildPrompt(ctx, doc, payload, content, log)
	raw, err := gen.Generate(ctx, aiclient.GenerateRequest{
		System: systemPromptFor(payload.AnalysisType),
		Prompt: prompt,
	})
	if err != nil {
		log.Warn("analysis degraded: provider call failed", "error", err)
		return placeholderAnalysis(content, modelError)
	}

	parsed, err := parseAnalysisResponse(raw)
	if err != nil {
		log.Warn("analysis degraded: unparseable model response", "error", err)
		return placeholderAnalysis(content, modelError)
	}

	return &store.Analysis{
		Summary:     parsed.Summary,
		Entities:    parsed.Entities,
		Sentiment:   normalizeSentiment(parsed.Sentiment),
		KeyPoints:   parsed.KeyPoints,
		ActionItems: parsed.ActionItems,
		Confidence:  clampConfidence(parsed.Confidence),
		Model:       gen.Model(),
	}
}

// buildPrompt assembles the user prompt, optionally enriched with retrieval
// context. Retrieval errors are swallowed.
func (p *Pipeline) buildPrompt(ctx context.Context, doc *store.Document, payload AnalyzeRequestedPayload, content string, log *slog.Logger) string {
	if len(content) > maxAnalysisInput {
		content = content[:maxAnalysisInput]
	}

	var sb strings.Builder
	sb.WriteString(analysisFormat)
	sb.WriteString("\n\nDocument \"")
	sb.WriteString(doc.Name)
	sb.WriteString("\":\n\n")
	sb.WriteString(content)

	if p.retrieval != nil && content != "" {
		results, err := p.retrieval.Query(ctx, doc.OrgID, firstRunes(content, 500), 3)
		if err != nil {
			log.Debug("analysis context retrieval failed, continuing without", "error", err)
		} else if len(results) > 0 {
			sb.WriteString("\n\nRelated excerpts from the organization's documents:\n")
			for _, r := range results {
				if r.DocumentID == doc.ID {
					continue
				}
				sb.WriteString("- ")
				sb.WriteString(firstRunes(r.Content, 300))
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func systemPromptFor(analysisType string) string {
	guidance, ok := analysisPrompts[analysisType]
	if !ok {
		guidance = "You analyze business documents."
	}
	return guidance + " Reply only with the requested JSON object."
}

// parseAnalysisResponse extracts the JSON object from a model reply that may
// wrap it in code fences or prose.
func parseAnalysisResponse(raw string) (*analysisResponse, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var parsed analysisResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, err
	}
	if parsed.Summary == "" {
		return nil, fmt.Errorf("response missing summary")
	}
	return &parsed, nil
}

// placeholderAnalysis synthesizes a degraded result so the operation still
// produces a row the UI can show.
func placeholderAnalysis(content, model string) *store.Analysis {
	return &store.Analysis{
		Summary:    fmt.Sprintf("Automatic analysis unavailable. Document contains %d characters.", len(content)),
		Sentiment:  store.SentimentNeutral,
		Confidence: 0,
		Model:      model,
	}
}

func normalizeSentiment(s store.Sentiment) store.Sentiment {
	switch s {
	case store.SentimentPositive, store.SentimentNegative, store.SentimentNeutral:
		return s
	default:
		return store.SentimentNeutral
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}

// analyzeFailed records the terminal analysis failure, including denied
// access, so the request trail stays auditable.
func (p *Pipeline) analyzeFailed(ctx context.Context, job *dispatch.Job, cause error) {
	var payload AnalyzeRequestedPayload
	if err := job.Decode(&payload); err != nil {
		p.logger.Error("analyze failure hook: bad payload", "error", err)
		return
	}
	p.logger.Error("analysis failed permanently",
		"document_id", payload.DocumentID, "user_id", payload.UserID, "error", cause)

	if err := p.auditLog.Log(ctx, &audit.Entry{
		Component:  "analyzer",
		Operation:  "analyze.failed",
		UserID:     payload.UserID,
		OrgID:      payload.OrganizationID,
		DocumentID: payload.DocumentID,
		ErrorMsg:   cause.Error(),
	}); err != nil {
		p.logger.Error("analyze failure hook: audit write failed", "error", err)
	}
}
