// Package embedder converts text into embedding vectors. The production
// implementation calls an OpenAI-compatible HTTP endpoint through
// internal/embedding; NewDeterministic provides a hash-based stand-in for
// tests that must not touch the network.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"manifold/internal/config"
	"manifold/internal/embedding"
)

// Embedder defines the interface for converting text to embedding vectors.
type Embedder interface {
	// EmbedBatch returns an embedding vector per input text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns a model identifier string.
	Name() string
	// Dimension returns the embedding dimensionality (0 for variable/unknown).
	Dimension() int
	// Ping checks if the embedding service is reachable.
	Ping(ctx context.Context) error
}

// ClientOption tunes the HTTP-backed embedder.
type ClientOption func(*httpEmbedder)

// WithBatchSize caps how many texts go into one endpoint call. The default
// is 1: some local inference servers (llama.cpp among them) crash or
// return garbage on multi-input batches, so single-item requests are the
// safe baseline and larger batches are opt-in.
func WithBatchSize(n int) ClientOption {
	return func(e *httpEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMinDelay floors the interval between endpoint calls.
func WithMinDelay(d time.Duration) ClientOption {
	return func(e *httpEmbedder) {
		if d > 0 {
			e.minDelay = d
		}
	}
}

// httpEmbedder calls the configured embedding endpoint, pacing and
// splitting requests per its options.
type httpEmbedder struct {
	cfg       config.EmbeddingConfig
	dim       int
	batchSize int

	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient constructs an embedder that calls the endpoint described by
// cfg. dim is the dimensionality the model is known to produce; it is
// reported by Dimension and used by callers that must size an index up
// front.
func NewClient(cfg config.EmbeddingConfig, dim int, opts ...ClientOption) Embedder {
	e := &httpEmbedder{cfg: cfg, dim: dim, batchSize: 1}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *httpEmbedder) Name() string   { return e.cfg.Model }
func (e *httpEmbedder) Dimension() int { return e.dim }

func (e *httpEmbedder) Ping(ctx context.Context) error {
	return embedding.CheckReachability(ctx, e.cfg)
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float32
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.pacedCall(ctx, texts[start:end])
		if err != nil {
			return out, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// pacedCall sleeps off any remaining minDelay since the previous call's
// start, then issues the request. Concurrent callers serialize on mu only
// while pacing, so request starts are spaced by minDelay but requests
// from one embedder instance may still overlap in flight.
func (e *httpEmbedder) pacedCall(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	if e.minDelay > 0 && !e.lastCall.IsZero() {
		if remaining := e.minDelay - time.Since(e.lastCall); remaining > 0 {
			time.Sleep(remaining)
		}
	}
	e.lastCall = time.Now()
	e.mu.Unlock()

	return embedding.EmbedText(ctx, e.cfg, texts)
}

// deterministicEmbedder hashes byte 3-grams into a fixed-size vector.
// Similar strings share 3-grams and so land near each other, which is
// enough signal for tests that assert relative similarity ordering.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministic constructs a deterministic embedder with the given
// dimension. If normalize is true, vectors are L2-normalized. Seed
// perturbs hashing so two instances can be made to disagree.
func NewDeterministic(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (d *deterministicEmbedder) Name() string                 { return "deterministic" }
func (d *deterministicEmbedder) Dimension() int               { return d.dim }
func (d *deterministicEmbedder) Ping(_ context.Context) error { return nil }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	switch {
	case len(b) == 0:
	case len(b) < 3:
		d.accumulate(b, v)
	default:
		for i := 0; i+3 <= len(b); i++ {
			d.accumulate(b[i:i+3], v)
		}
	}
	if d.normalize {
		l2Normalize(v)
	}
	return v
}

// accumulate hashes one gram into a bucket of v with a signed weight in
// [-1, 1] derived from the hash's high bits.
func (d *deterministicEmbedder) accumulate(gram []byte, v []float32) {
	h := fnv.New64a()
	if d.seed != 0 {
		var seedBytes [8]byte
		for i := 0; i < 8; i++ {
			seedBytes[i] = byte(d.seed >> (8 * i))
		}
		_, _ = h.Write(seedBytes[:])
	}
	_, _ = h.Write(gram)
	sum := h.Sum64()
	v[int(sum%uint64(len(v)))] += float32(int32(sum>>32)) / float32(1<<31)
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
