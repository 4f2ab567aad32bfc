// Package chunker splits extracted page text into overlapping, token-aware
// chunks: accumulate whole paragraphs (or, for an oversized paragraph,
// whole sentences) until the running token count would exceed the target
// size, flush with trailing-sentence overlap prepended, and start the
// next chunk.
package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/tiktoken-go/tokenizer"
)

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// sentenceBoundary matches one or more sentence-ending punctuation marks
// followed by whitespace. RE2 has no lookaround, so the "followed by an
// uppercase letter" condition is checked manually in splitSentences after
// each candidate match.
var sentenceBoundary = regexp.MustCompile(`([.!?]+)\s+`)

// Chunk is one piece of a larger text, sized in tokens.
type Chunk struct {
	ChunkID    int
	Text       string
	TokenCount int
}

// Chunker turns text into token-bounded, overlapping Chunks.
type Chunker struct {
	codec       tokenizer.Codec
	chunkSize   int
	overlapSize int
}

// New builds a Chunker using the cl100k_base BPE encoding. chunkSize and
// overlapSize are both token counts.
func New(chunkSize, overlapSize int) (*Chunker, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &Chunker{codec: codec, chunkSize: chunkSize, overlapSize: overlapSize}, nil
}

// NewWithCodec builds a Chunker around a caller-supplied Codec, primarily
// for tests that want a deterministic or failure-injecting tokenizer.
func NewWithCodec(codec tokenizer.Codec, chunkSize, overlapSize int) *Chunker {
	return &Chunker{codec: codec, chunkSize: chunkSize, overlapSize: overlapSize}
}

func (c *Chunker) countTokens(text string) int {
	n, err := c.codec.Count(text)
	if err != nil {
		// The codec only fails on malformed input it cannot tokenize; treat
		// that as "no tokens" rather than propagating, since a sizing
		// heuristic failing outright must not abort ingestion.
		return 0
	}
	return n
}

// Chunk splits text into a sequence of Chunks. An empty or whitespace-only
// input produces an empty sequence.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if c.countTokens(text) <= c.chunkSize {
		return []Chunk{{ChunkID: 0, Text: text, TokenCount: c.countTokens(text)}}
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		flushed := current.String()
		if len(chunks) > 0 {
			flushed = c.addOverlap(chunks[len(chunks)-1], flushed)
		}
		chunks = append(chunks, flushed)
		current.Reset()
		currentTokens = 0
	}

	for _, paragraph := range splitParagraphs(text) {
		paragraphTokens := c.countTokens(paragraph)

		switch {
		case paragraphTokens > c.chunkSize:
			for _, sentence := range splitSentences(paragraph) {
				sentenceTokens := c.countTokens(sentence)
				if currentTokens+sentenceTokens > c.chunkSize && current.Len() > 0 {
					flush()
				}
				if current.Len() > 0 {
					current.WriteString(" ")
				}
				current.WriteString(sentence)
				currentTokens += sentenceTokens
			}
			// The remainder ends at the paragraph boundary; it must not
			// carry over into the next paragraph's chunk.
			flush()
		case currentTokens+paragraphTokens <= c.chunkSize:
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(paragraph)
			currentTokens += paragraphTokens
		default:
			flush()
			current.WriteString(paragraph)
			currentTokens = paragraphTokens
		}
	}
	flush()

	out := make([]Chunk, 0, len(chunks))
	for i, t := range chunks {
		out = append(out, Chunk{ChunkID: i, Text: t, TokenCount: c.countTokens(t)})
	}
	return out
}

// addOverlap prepends trailing sentences of previous to current, newest
// sentence first, while their combined token count stays within the
// configured overlap budget.
func (c *Chunker) addOverlap(previous, current string) string {
	if c.overlapSize <= 0 {
		return current
	}
	sentences := splitSentences(previous)
	var picked []string
	overlapTokens := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		t := c.countTokens(sentences[i])
		if overlapTokens+t > c.overlapSize {
			break
		}
		picked = append([]string{sentences[i]}, picked...)
		overlapTokens += t
	}
	if len(picked) == 0 {
		return current
	}
	return strings.Join(picked, " ") + " " + current
}

func splitParagraphs(text string) []string {
	parts := paragraphSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

// splitSentences splits on runs of [.!?] followed by whitespace, but only
// where the first non-whitespace rune after the punctuation is uppercase
// (or the punctuation is at end of string).
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	// Each match is [fullStart, fullEnd, groupStart, groupEnd] where the
	// group covers the punctuation run and fullEnd is just past the
	// trailing whitespace.
	matches := sentenceBoundary.FindAllStringSubmatchIndex(text, -1)
	for _, m := range matches {
		punctuationEnd := m[3]
		afterWhitespace := m[1]
		rest := text[afterWhitespace:]
		if rest == "" {
			continue
		}
		r := []rune(rest)[0]
		if !unicode.IsUpper(r) {
			continue
		}
		sentences = append(sentences, strings.TrimSpace(text[start:punctuationEnd]))
		start = afterWhitespace
	}
	if start < len(text) {
		tail := strings.TrimSpace(text[start:])
		if tail != "" {
			sentences = append(sentences, tail)
		}
	}
	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}
