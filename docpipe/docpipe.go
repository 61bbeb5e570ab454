// Package docpipe extracts plain text from uploaded document bytes.
//
// Supported MIME types:
//   - application/pdf — PDF (pure Go, content-stream decoding)
//   - application/vnd.openxmlformats-officedocument.wordprocessingml.document — DOCX
//   - text/plain, text/csv, text/markdown, text/xml, application/xml,
//     application/json — decoded directly as UTF-8
//   - text/html — sanitized and converted to Markdown
//
// A file whose format is supported but which yields no usable text (a
// scanned PDF, an empty DOCX) reports ErrNoText: a permanent classification,
// not a transient failure.
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/microcosm-cc/bluemonday"
)

// ErrNoText signals that the document format was understood but contained no
// extractable text. Callers must treat this as a terminal "unsupported"
// outcome rather than retrying.
var ErrNoText = errors.New("docpipe: no extractable text")

// Result is the outcome of extracting a document.
type Result struct {
	Text      string `json:"text"`
	Title     string `json:"title,omitempty"`
	WordCount int    `json:"word_count"`
	PageCount int    `json:"page_count,omitempty"`
}

// Config configures the extraction pipeline.
type Config struct {
	// MaxFileSize is the maximum input size to process (default: 100 MB).
	MaxFileSize int `json:"max_file_size" yaml:"max_file_size"`

	// MinPDFTextLen is the minimum trimmed text length below which a PDF is
	// treated as scanned/image-only (default: 32).
	MinPDFTextLen int `json:"min_pdf_text_len" yaml:"min_pdf_text_len"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.MinPDFTextLen <= 0 {
		c.MinPDFTextLen = 32
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

const mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// plainTextMIMEs are decoded directly as UTF-8.
var plainTextMIMEs = map[string]bool{
	"text/plain":       true,
	"text/csv":         true,
	"text/markdown":    true,
	"text/xml":         true,
	"application/xml":  true,
	"application/json": true,
}

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg         Config
	logger      *slog.Logger
	htmlPolicy  *bluemonday.Policy
	mdConverter *converter.Converter
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:         cfg,
		logger:      cfg.Logger,
		htmlPolicy:  newHTMLPolicy(),
		mdConverter: newMarkdownConverter(),
	}
}

// Supported reports whether the MIME type is in the supported set.
func Supported(mimeType string) bool {
	mt := normalizeMIME(mimeType)
	return mt == "application/pdf" || mt == mimeDocx || mt == "text/html" || plainTextMIMEs[mt]
}

// SupportedMIMEs returns all supported MIME types.
func SupportedMIMEs() []string {
	out := []string{"application/pdf", mimeDocx, "text/html"}
	for mt := range plainTextMIMEs {
		out = append(out, mt)
	}
	return out
}

// Extract parses document bytes according to their MIME type and returns
// the extracted text. The unsupported-MIME check belongs to the caller via
// Supported; passing an unsupported type here is a programming error.
func (p *Pipeline) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("docpipe: file too large: %d bytes (max %d)", len(data), p.cfg.MaxFileSize)
	}

	mt := normalizeMIME(mimeType)
	p.logger.Debug("extracting document", "mime", mt, "size", len(data))

	var res *Result
	var err error
	switch {
	case mt == "application/pdf":
		res, err = p.extractPDF(data)
	case mt == mimeDocx:
		res, err = extractDocx(data)
	case mt == "text/html":
		res, err = p.extractHTML(data)
	case plainTextMIMEs[mt]:
		res, err = extractPlainText(data)
	default:
		return nil, fmt.Errorf("docpipe: unsupported MIME type %q", mimeType)
	}
	if err != nil {
		return nil, err
	}

	res.WordCount = len(strings.Fields(res.Text))
	return res, nil
}

// normalizeMIME lowercases the type and strips parameters such as charset.
func normalizeMIME(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
