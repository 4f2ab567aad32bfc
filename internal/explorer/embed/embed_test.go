package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/rag/embedder"
)

func TestEmbedQueryAndDocuments(t *testing.T) {
	svc := New(embedder.NewDeterministic(32, true, 1))

	qvec, err := svc.EmbedQuery(context.Background(), "capital of France")
	require.NoError(t, err)
	require.Len(t, qvec, 32)

	docs, err := svc.EmbedDocuments(context.Background(), []string{
		"Paris is the capital of France.",
		"Bananas are yellow.",
	}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestEmbedDocuments_RespectsBatchSize(t *testing.T) {
	svc := New(embedder.NewDeterministic(16, false, 0))
	texts := []string{"a", "b", "c", "d", "e"}
	out, err := svc.EmbedDocuments(context.Background(), texts, 2)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
}

func TestSimilarity_IdenticalVectorsAreOne(t *testing.T) {
	v := []float32{1, 2, 3}
	sims := Similarity(v, [][]float32{v})
	require.InDelta(t, 1.0, sims[0], 1e-6)
}

func TestSimilarity_OrthogonalVectorsAreZero(t *testing.T) {
	sims := Similarity([]float32{1, 0}, [][]float32{{0, 1}})
	require.InDelta(t, 0.0, sims[0], 1e-9)
}

func TestSimilarity_ZeroVectorIsZero(t *testing.T) {
	sims := Similarity([]float32{0, 0}, [][]float32{{1, 1}})
	require.Equal(t, 0.0, sims[0])
}

func TestSimilarity_RankingIsMeaningful(t *testing.T) {
	svc := New(embedder.NewDeterministic(64, true, 7))
	qvec, err := svc.EmbedQuery(context.Background(), "capital of France is Paris")
	require.NoError(t, err)
	docs, err := svc.EmbedDocuments(context.Background(), []string{
		"The capital of France is Paris.",
		"Dogs are loyal pets.",
	}, 0)
	require.NoError(t, err)
	sims := Similarity(qvec, docs)
	require.Greater(t, sims[0], sims[1])
}
