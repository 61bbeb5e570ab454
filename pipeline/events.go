package pipeline

// Event names, namespaced under document/.
const (
	EventTextExtract          = "document/text.extract"
	EventTextExtractCompleted = "document/text.extract.completed"
	EventEmbedRequested       = "document/embed.requested"
	EventEmbedCompleted       = "document/embed.completed"
	EventAnalyzeRequested     = "document/analyze.requested"
	EventAnalyzeCompleted     = "document/analyze.completed"
)

// TextExtractPayload triggers the extraction stage. FilePath is the blob
// store key of the uploaded bytes.
type TextExtractPayload struct {
	DocumentID     string `json:"documentId"`
	OrganizationID string `json:"organizationId"`
	FilePath       string `json:"filePath"`
	MimeType       string `json:"mimeType"`
}

// TextExtractCompletedPayload reports a finished extraction+chunking run.
type TextExtractCompletedPayload struct {
	DocumentID     string `json:"documentId"`
	OrganizationID string `json:"organizationId"`
	WordCount      int    `json:"wordCount"`
	ChunkCount     int    `json:"chunkCount"`
}

// EmbedRequestedPayload triggers the embedding stage.
type EmbedRequestedPayload struct {
	DocumentID     string `json:"documentId"`
	OrganizationID string `json:"organizationId"`
}

// EmbedCompletedPayload reports finished embeddings.
type EmbedCompletedPayload struct {
	DocumentID     string `json:"documentId"`
	OrganizationID string `json:"organizationId"`
	ChunkCount     int    `json:"chunkCount"`
	EmbeddingModel string `json:"embeddingModel"`
}

// AnalyzeRequestedPayload triggers the analysis stage.
type AnalyzeRequestedPayload struct {
	DocumentID     string `json:"documentId"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	AnalysisType   string `json:"analysisType"`
}

// AnalyzeCompletedPayload reports a persisted analysis.
type AnalyzeCompletedPayload struct {
	DocumentID     string `json:"documentId"`
	AnalysisID     string `json:"analysisId"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
}
