// Package classify infers a document type label from extracted text using
// the organization's AI capability.
//
// Classification is best-effort enrichment: it never returns an error. A
// provider failure or an unrecognized label yields ok=false and the caller
// leaves the document's type untouched.
package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hazyhaar/docmind/aiclient"
)

// Labels is the fixed set of recognized document types.
var Labels = []string{
	"contract",
	"invoice",
	"email",
	"meeting_notes",
	"quotation",
	"report",
	"other",
}

var labelSet = func() map[string]bool {
	m := make(map[string]bool, len(Labels))
	for _, l := range Labels {
		m[l] = true
	}
	return m
}()

// ValidLabel reports whether s is a recognized document type.
func ValidLabel(s string) bool { return labelSet[s] }

// maxSampleLen bounds how much document text goes into the prompt.
const maxSampleLen = 4000

const systemPrompt = `You classify business documents. Reply with exactly one of these labels and nothing else: contract, invoice, email, meeting_notes, quotation, report, other.`

// Classifier labels documents through a Generator.
type Classifier struct {
	gen    aiclient.Generator
	logger *slog.Logger
}

// New creates a Classifier. A nil logger defaults to slog.Default().
func New(gen aiclient.Generator, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, logger: logger}
}

// Classify returns a document type label for the given content. ok is false
// when the provider fails or returns something outside the label set; the
// error is logged and swallowed.
func (c *Classifier) Classify(ctx context.Context, content string) (label string, ok bool) {
	if c.gen == nil || strings.TrimSpace(content) == "" {
		return "", false
	}
	sample := content
	if len(sample) > maxSampleLen {
		sample = sample[:maxSampleLen]
	}

	out, err := c.gen.Generate(ctx, aiclient.GenerateRequest{
		System:    systemPrompt,
		Prompt:    "Document:\n\n" + sample,
		MaxTokens: 16,
	})
	if err != nil {
		c.logger.Warn("classify: provider call failed", "error", err)
		return "", false
	}

	label = normalizeLabel(out)
	if !labelSet[label] {
		c.logger.Warn("classify: unrecognized label", "raw", firstWords(out, 8))
		return "", false
	}
	return label, true
}

// normalizeLabel reduces a model reply to a candidate label: first line,
// lowercased, stripped of quotes, punctuation and surrounding prose like
// "Label: contract.".
func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ToLower(s)
	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.Trim(s, " \t\"'`.,!")
	return strings.ReplaceAll(s, " ", "_")
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
