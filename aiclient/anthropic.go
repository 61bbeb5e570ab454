package aiclient

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// anthropicGenerator implements Generator through the official Anthropic SDK.
type anthropicGenerator struct {
	client *anthropic.Client
	model  string
}

func newAnthropicGenerator(cfg GenConfig) (*anthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("aiclient: anthropic generator requires an API key")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("aiclient: anthropic generator requires a model name")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)
	return &anthropicGenerator{client: &client, model: cfg.Model}, nil
}

func (g *anthropicGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return "", fmt.Errorf("anthropic messages: empty completion")
	}
	return out, nil
}

func (g *anthropicGenerator) Model() string { return g.model }
