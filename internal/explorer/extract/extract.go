package extract

import (
	"manifold/internal/explorer/fetch"
)

// Extract dispatches to ExtractHTML or ExtractPDF by kind, and returns
// ErrUnsupportedContent for fetch.KindOther.
func Extract(body []byte, kind fetch.Kind, pageURL string) (ScrapeResult, error) {
	switch kind {
	case fetch.KindHTML:
		return ExtractHTML(body, pageURL)
	case fetch.KindPDF:
		return ExtractPDF(body, pageURL)
	default:
		return ScrapeResult{}, ErrUnsupportedContent
	}
}
