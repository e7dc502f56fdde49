// Package extract converts fetched documents into normalized plain text.
//
// The normalization is what makes change detection stable: markup churn
// (class names, ad slots, script noise) must not register as a policy
// change, so both extractors reduce to the same canonical text form.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// blockSelector lists elements whose end marks a paragraph boundary.
const blockSelector = "p, div, li, tr, h1, h2, h3, h4, h5, h6, section, article, blockquote"

// HTML strips markup from an HTML document and returns normalized text.
func HTML(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, iframe, svg, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelector).AppendHtml("\n")
	return Normalize(doc.Text()), nil
}

// PDF extracts text from a PDF in page order and returns normalized text.
func PDF(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return Normalize(sb.String()), nil
}

// Normalize collapses whitespace while preserving paragraph breaks. Runs of
// spaces and tabs become one space, lines are trimmed, and runs of blank
// lines collapse to a single blank line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, " ", " ")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	// Drop a trailing blank line left by the loop.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
