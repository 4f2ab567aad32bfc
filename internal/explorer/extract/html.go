// Package extract implements the Content Extractor (C3): HTML
// boilerplate-removal + metadata extraction, and PDF text extraction.
package extract

import (
	"errors"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
)

// ScrapeResult is the extract package's view of an extracted page. It is
// defined here rather than in the root explorer package (the same way
// internal/explorer/store.Record is) so the orchestrator can import
// extract without an import cycle; the orchestrator uses this type
// directly.
type ScrapeResult struct {
	URL         string
	Title       string
	Description string
	Text        string
}

// ErrExtractFailed marks a Content Extractor failure (C3); the
// orchestrator treats it as a skip, never a fatal error.
var ErrExtractFailed = errors.New("extract: content extraction failed")

// ErrUnsupportedContent is returned for a content_kind of "other".
var ErrUnsupportedContent = errors.New("extract: unsupported content kind")

// ExtractHTML turns an HTML byte slice into a ScrapeResult using
// go-shiori/go-readability for boilerplate removal, then converts the
// surviving article HTML to Markdown with html-to-markdown so chunking and
// embedding operate on text that still carries heading/list structure
// rather than a flattened word stream. A readability failure, or an
// article with no usable content, is not an error: the caller treats empty
// Text as a no-op.
func ExtractHTML(rawHTML []byte, pageURL string) (ScrapeResult, error) {
	base, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(rawHTML)), base)
	if err != nil {
		return ScrapeResult{URL: pageURL}, nil
	}

	title := strings.TrimSpace(article.Title)
	description := strings.TrimSpace(article.Excerpt)

	text := strings.TrimSpace(article.TextContent)
	if articleHTML := strings.TrimSpace(article.Content); articleHTML != "" {
		opts := []converter.ConvertOptionFunc{}
		if base != nil && base.Scheme != "" && base.Host != "" {
			opts = append(opts, converter.WithDomain(base.Scheme+"://"+base.Host))
		}
		if md, convErr := htmltomarkdown.ConvertString(articleHTML, opts...); convErr == nil {
			if trimmed := strings.TrimSpace(md); trimmed != "" {
				text = trimmed
			}
		}
	}

	return ScrapeResult{
		URL:         pageURL,
		Title:       title,
		Description: description,
		Text:        text,
	}, nil
}
