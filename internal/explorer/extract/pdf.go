package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDF concatenates the text of every page. Title falls back to the
// first non-empty line of page 1 when no PDF metadata title is present;
// Description is the first three non-empty lines, truncated to 200
// characters.
func ExtractPDF(raw []byte, pageURL string) (ScrapeResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("extract pdf: %w", ErrExtractFailed)
	}

	var pages []string
	var firstPage string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i == 1 {
			firstPage = text
		}
		pages = append(pages, text)
	}

	fullText := strings.TrimSpace(strings.Join(pages, "\n"))
	if fullText == "" {
		return ScrapeResult{URL: pageURL}, nil
	}

	lines := nonEmptyLines(fullText)
	title := metadataTitle(reader)
	if title == "" {
		if firstLines := nonEmptyLines(firstPage); len(firstLines) > 0 {
			title = firstLines[0]
		}
	}

	var descLines []string
	for i := 0; i < len(lines) && i < 3; i++ {
		descLines = append(descLines, lines[i])
	}
	description := strings.Join(descLines, " ")
	if runes := []rune(description); len(runes) > 200 {
		description = string(runes[:200])
	}

	return ScrapeResult{
		URL:         pageURL,
		Title:       title,
		Description: description,
		Text:        fullText,
	}, nil
}

// metadataTitle reads the document info dictionary's Title entry,
// returning "" when the dictionary or the entry is absent. Some PDFs
// carry malformed trailers that make the reader panic on access; that is
// treated the same as no metadata.
func metadataTitle(reader *pdf.Reader) (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()
	v := reader.Trailer().Key("Info").Key("Title")
	if v.Kind() != pdf.String {
		return ""
	}
	return strings.TrimSpace(v.Text())
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimSpace(l))
		}
	}
	return out
}
