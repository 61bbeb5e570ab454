// Package aiclient provides transport-level clients for the AI providers an
// organization can configure: an Embedder for converting chunk text to
// float32 vectors, and a Generator for prompt-to-text completion.
//
// Both are built per organization from its stored AI configuration. An
// organization with no configuration gets neither; callers decide what
// "not configured" means for their stage.
package aiclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Embedder converts text to vectors.
type Embedder interface {
	// EmbedBatch returns embeddings for multiple texts in one HTTP call,
	// in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension (768, 1536, etc).
	// Returns 0 if not yet detected (first call not made).
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Model returns the model name.
	Model() string
}

// GenerateRequest is one completion call.
type GenerateRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// EmbedConfig configures an embedding client.
type EmbedConfig struct {
	// Endpoint is the base URL of an OpenAI-compatible embedding server.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect on
	// first call.
	Dimension int `json:"dimension" yaml:"dimension"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *EmbedConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NewEmbedder creates an Embedder from config. An empty Endpoint returns a
// noop embedder producing zero vectors, useful for testing without a server.
func NewEmbedder(cfg EmbedConfig) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 768
		}
		return &noopEmbedder{dim: dim, model: cfg.Model}
	}
	return newOpenAIEmbedder(cfg)
}

// GenConfig configures a generation client.
type GenConfig struct {
	// Provider selects the wire protocol: "anthropic" or "openai".
	Provider string `json:"provider" yaml:"provider"`

	// Endpoint overrides the provider's default base URL (OpenAI-compatible
	// servers; ignored for anthropic).
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`

	// Timeout per request. Default: 120s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *GenConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NewGenerator creates a Generator for the configured provider.
func NewGenerator(cfg GenConfig) (Generator, error) {
	cfg.defaults()
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return newAnthropicGenerator(cfg)
	case "openai", "":
		return newOpenAIGenerator(cfg)
	default:
		return nil, fmt.Errorf("aiclient: unknown provider %q", cfg.Provider)
	}
}

// noopEmbedder returns zero vectors.
type noopEmbedder struct {
	dim   int
	model string
}

func (n *noopEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, n.dim)
	}
	return out, nil
}

func (n *noopEmbedder) Dimension() int { return n.dim }
func (n *noopEmbedder) Model() string  { return n.model }
