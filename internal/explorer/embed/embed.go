// Package embed provides the Explorer's local embedding service: query
// and document embeddings plus cosine similarity, independent of whatever
// embedding model the vector store uses for its own top-k search. The
// ingest-time relevance gate and the retrieval score are computed by
// different embedders on purpose, so their thresholds are configured
// separately.
package embed

import (
	"context"
	"fmt"
	"math"

	"manifold/internal/rag/embedder"
)

// Service wraps an embedder.Embedder with the Query/Documents/Similarity
// shape the Explorer Orchestrator calls.
type Service struct {
	emb embedder.Embedder
}

// New builds a Service around an existing Embedder (the HTTP-backed
// client, or embedder.NewDeterministic for tests).
func New(emb embedder.Embedder) *Service {
	return &Service{emb: emb}
}

// EmbedQuery embeds a single query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := s.emb.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("embed query: no vector returned")
	}
	return out[0], nil
}

// EmbedDocuments embeds a batch of chunk texts, honoring batchSize by
// delegating to the underlying Embedder (which may itself split further,
// e.g. the HTTP client's single-item batching for llama.cpp backends).
// batchSize <= 0 means "let the embedder choose".
func (s *Service) EmbedDocuments(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		out, err := s.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed documents: %w", err)
		}
		return out, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		out, err := s.emb.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return all, fmt.Errorf("embed documents: %w", err)
		}
		all = append(all, out...)
	}
	return all, nil
}

// Similarity returns the cosine similarity between queryVec and each row
// of docMatrix, in [-1, 1]. A zero-norm document vector yields 0.
func Similarity(queryVec []float32, docMatrix [][]float32) []float64 {
	out := make([]float64, len(docMatrix))
	qNorm := norm(queryVec)
	for i, doc := range docMatrix {
		out[i] = cosine(queryVec, doc, qNorm)
	}
	return out
}

func cosine(a, b []float32, aNorm float64) float64 {
	if aNorm == 0 {
		return 0
	}
	bNorm := norm(b)
	if bNorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
