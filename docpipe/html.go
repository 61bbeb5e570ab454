package docpipe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowTables()
	return p
}

// extractHTML sanitizes the markup and converts it to markdown text. The
// document title comes from the <title> element when present.
func (p *Pipeline) extractHTML(data []byte) (*Result, error) {
	title := ""
	if doc, err := html.Parse(bytes.NewReader(data)); err == nil {
		title = findHTMLTitle(doc)
	}

	clean := p.htmlPolicy.SanitizeBytes(data)
	md, err := p.mdConverter.ConvertString(string(clean))
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return nil, ErrNoText
	}
	if title == "" {
		title = firstLine(md)
	}
	return &Result{Text: md, Title: title}, nil
}

// findHTMLTitle extracts the <title> text.
func findHTMLTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findHTMLTitle(c); t != "" {
			return t
		}
	}
	return ""
}
