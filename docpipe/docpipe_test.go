package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSupported(t *testing.T) {
	cases := []struct {
		mime string
		want bool
	}{
		{"application/pdf", true},
		{"APPLICATION/PDF", true},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
		{"text/plain", true},
		{"text/plain; charset=utf-8", true},
		{"text/csv", true},
		{"text/markdown", true},
		{"text/html", true},
		{"application/json", true},
		{"application/xml", true},
		{"image/png", false},
		{"application/zip", false},
		{"application/msword", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Supported(tc.mime); got != tc.want {
			t.Errorf("Supported(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	p := New(Config{})
	res, err := p.Extract(context.Background(), []byte("Quarterly Report\n\nRevenue grew by twelve percent."), "text/plain; charset=utf-8")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Title != "Quarterly Report" {
		t.Errorf("Title = %q", res.Title)
	}
	if res.WordCount != 7 {
		t.Errorf("WordCount = %d, want 7", res.WordCount)
	}
	if !strings.Contains(res.Text, "twelve percent") {
		t.Errorf("Text missing body: %q", res.Text)
	}
}

func TestExtractPlainTextEmpty(t *testing.T) {
	p := New(Config{})
	_, err := p.Extract(context.Background(), []byte("   \n\t  "), "text/plain")
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("err = %v, want ErrNoText", err)
	}
}

func TestExtractPlainTextInvalidUTF8(t *testing.T) {
	p := New(Config{})
	res, err := p.Extract(context.Background(), []byte("ok \xff\xfe bytes"), "text/plain")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "ok") || !strings.Contains(res.Text, "bytes") {
		t.Errorf("Text = %q", res.Text)
	}
}

// buildDocx constructs a minimal DOCX archive in memory.
func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Service Agreement</w:t></w:r></w:p>
    <w:p><w:r><w:t>This agreement is made between </w:t></w:r><w:r><w:t>the parties.</w:t></w:r></w:p>
    <w:p><w:r><w:t></w:t></w:r></w:p>
  </w:body>
</w:document>`
	p := New(Config{})
	res, err := p.Extract(context.Background(), buildDocx(t, doc), mimeDocx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Title != "Service Agreement" {
		t.Errorf("Title = %q", res.Title)
	}
	if !strings.Contains(res.Text, "This agreement is made between the parties.") {
		t.Errorf("Text = %q", res.Text)
	}
	// The empty paragraph must not add a break.
	if strings.Count(res.Text, "\n\n") != 1 {
		t.Errorf("unexpected paragraph breaks: %q", res.Text)
	}
}

func TestExtractDocxEmpty(t *testing.T) {
	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body><w:p></w:p></w:body>
</w:document>`
	p := New(Config{})
	_, err := p.Extract(context.Background(), buildDocx(t, doc), mimeDocx)
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("err = %v, want ErrNoText", err)
	}
}

func TestExtractDocxMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, _ := w.Create("word/styles.xml")
	f.Write([]byte("<styles/>"))
	w.Close()

	p := New(Config{})
	_, err := p.Extract(context.Background(), buf.Bytes(), mimeDocx)
	if err == nil || errors.Is(err, ErrNoText) {
		t.Fatalf("err = %v, want structural error", err)
	}
}

func TestExtractHTML(t *testing.T) {
	html := `<html><head><title>Client Proposal</title><style>body{color:red}</style></head>
<body><h1>Proposal</h1><p>We propose a <b>fixed-price</b> engagement.</p>
<script>alert(1)</script></body></html>`
	p := New(Config{})
	res, err := p.Extract(context.Background(), []byte(html), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Title != "Client Proposal" {
		t.Errorf("Title = %q", res.Title)
	}
	if !strings.Contains(res.Text, "fixed-price") {
		t.Errorf("Text missing body: %q", res.Text)
	}
	if strings.Contains(res.Text, "alert(1)") {
		t.Errorf("script content leaked: %q", res.Text)
	}
}

func TestExtractUnsupportedMIME(t *testing.T) {
	p := New(Config{})
	_, err := p.Extract(context.Background(), []byte("data"), "image/png")
	if err == nil {
		t.Fatal("expected error for unsupported MIME")
	}
}

func TestExtractTooLarge(t *testing.T) {
	p := New(Config{MaxFileSize: 10})
	_, err := p.Extract(context.Background(), make([]byte, 11), "text/plain")
	if err == nil {
		t.Fatal("expected error for oversized input")
	}
}

func TestDocxHeadingLevel(t *testing.T) {
	cases := []struct {
		style string
		want  int
	}{
		{"Heading1", 1},
		{"heading3", 3},
		{"Title", 1},
		{"Subtitle", 2},
		{"Titre2", 2},
		{"Normal", 0},
		{"", 0},
		{"Heading9", 0},
	}
	for _, tc := range cases {
		if got := docxHeadingLevel(tc.style); got != tc.want {
			t.Errorf("docxHeadingLevel(%q) = %d, want %d", tc.style, got, tc.want)
		}
	}
}
