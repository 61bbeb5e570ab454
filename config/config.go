// Package config loads the docmind YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full docmind configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	DBPath  string `yaml:"db_path"`
	BlobDir string `yaml:"blob_dir"`

	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retries   RetryConfig     `yaml:"retries"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhooks  []WebhookTarget `yaml:"webhooks"`
}

// ChunkingConfig controls how extracted text is split.
type ChunkingConfig struct {
	TargetRunes int `yaml:"target_runes"`
	MinRunes    int `yaml:"min_runes"`
}

// EmbeddingConfig controls the embedding stage.
type EmbeddingConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// RetryConfig sets the per-stage retry budgets.
type RetryConfig struct {
	Extract int `yaml:"extract"`
	Embed   int `yaml:"embed"`
	Analyze int `yaml:"analyze"`
}

// RateLimitConfig bounds outbound AI calls per caller key.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// WebhookTarget configures a downstream notification endpoint.
type WebhookTarget struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"` // HMAC signing key
	Events []string `yaml:"events"` // empty = all completion events
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Listen:  ":8086",
		DBPath:  "db/docmind.db",
		BlobDir: "blobs",
		Chunking: ChunkingConfig{
			TargetRunes: 1200,
			MinRunes:    200,
		},
		Embedding: EmbeddingConfig{
			BatchSize: 50,
		},
		Retries: RetryConfig{
			Extract: 2,
			Embed:   2,
			Analyze: 3,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			Burst:             10,
		},
	}
}

// Load reads and parses a YAML config file, merged over Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive")
	}
	if c.Chunking.TargetRunes <= 0 {
		return fmt.Errorf("chunking.target_runes must be positive")
	}
	for _, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %q has no url", w.Name)
		}
	}
	return nil
}
