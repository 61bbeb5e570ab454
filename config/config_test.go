package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docmind.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
chunking:
  target_runes: 800
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.Chunking.TargetRunes != 800 {
		t.Errorf("target_runes: got %d, want 800", cfg.Chunking.TargetRunes)
	}
	// Untouched fields keep defaults.
	if cfg.Embedding.BatchSize != 50 {
		t.Errorf("batch_size default: got %d, want 50", cfg.Embedding.BatchSize)
	}
	if cfg.Retries.Analyze != 3 {
		t.Errorf("analyze retries default: got %d, want 3", cfg.Retries.Analyze)
	}
}

func TestLoad_RejectsWebhookWithoutURL(t *testing.T) {
	path := writeConfig(t, `
webhooks:
  - name: crm
`)
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for webhook without url")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/docmind.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
