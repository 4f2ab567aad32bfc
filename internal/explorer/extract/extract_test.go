package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractHTML_ReturnsTextAndTitle(t *testing.T) {
	html := `<html><head><title>Sample Article</title></head>
<body><article><h1>Sample Article</h1><p>` +
		`This is the first paragraph of a reasonably long article body so that readability treats it as the main content. ` +
		`It needs enough words to be recognized as the primary article region by the scoring heuristics used internally.</p>
<p>A second paragraph adds more substantive text so extraction has something real to return for the page body overall.</p>
</article></body></html>`

	res, err := ExtractHTML([]byte(html), "http://example.com/a")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/a", res.URL)
	require.NotEmpty(t, res.Text)
	require.NotEmpty(t, res.Title)
}

func TestExtractHTML_MalformedInputIsNotFatal(t *testing.T) {
	res, err := ExtractHTML([]byte("<<<not html"), "http://example.com/b")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/b", res.URL)
}

func TestExtractPDF_InvalidBytesReturnsExtractFailed(t *testing.T) {
	_, err := ExtractPDF([]byte("not a pdf"), "http://example.com/c.pdf")
	require.ErrorIs(t, err, ErrExtractFailed)
}

func TestNonEmptyLines(t *testing.T) {
	lines := nonEmptyLines("first\n\n  \nsecond\nthird")
	require.Equal(t, []string{"first", "second", "third"}, lines)
}
