package docpipe

import (
	"strings"
	"unicode/utf8"
)

// extractPlainText handles the plain-text MIME family. Invalid UTF-8 byte
// sequences are replaced; whitespace-only content reports ErrNoText.
func extractPlainText(data []byte) (*Result, error) {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoText
	}
	return &Result{Text: text, Title: firstLine(text)}, nil
}
