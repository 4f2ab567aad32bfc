package explorer

import (
	"context"
	"fmt"
	"time"

	"manifold/internal/explorer/chunker"
	"manifold/internal/explorer/embed"
	"manifold/internal/explorer/extract"
	"manifold/internal/explorer/fetch"
	"manifold/internal/explorer/search"
	"manifold/internal/explorer/store"
	"manifold/internal/llm"
	"manifold/internal/rag/embedder"
)

const (
	// searchMaxRetries is the Search Client's own retry budget, distinct
	// from Config.MaxRetries (the Orchestrator's retrieve/ingest retry
	// depth).
	searchMaxRetries = 3
	// browserFetchTimeout bounds the optional headless-Chrome fallback.
	browserFetchTimeout = 30 * time.Second
)

// BuildOptions carries the dependencies NewFromConfig cannot derive from
// Config alone: the embedding backend (shared with the rest of the RAG
// stack), the Qdrant connection string (an environment/deployment detail,
// not one of Config's eleven tuning keys), and an optional LLM provider
// backing the LLM relevance filter.
type BuildOptions struct {
	// Embedder backs both the local Embedding Service (C6) and, through the
	// same EmbedQuery method, the Vector Store Adapter's query-time
	// embedding (store.TextEmbedder).
	Embedder embedder.Embedder
	// QdrantDSN is the Qdrant connection string, e.g.
	// "http://localhost:6334" or "https://host:6334?api_key=...".
	QdrantDSN string
	// FilterProvider, if non-nil, enables the best-effort LLM relevance
	// filter on the Search Client.
	FilterProvider llm.Provider
	// FilterModel names the model FilterProvider.Chat is called with.
	FilterModel string
	// EnableBrowserFallback wires a headless-Chrome BrowserFetcher as the
	// JS-rendering fallback. Off by default since it spawns a browser
	// process.
	EnableBrowserFallback bool
}

// NewFromConfig builds the full Explorer stack (chunker, fetcher,
// extractor, Qdrant-backed store, throttled search client) from Config
// and the already-configured backends in BuildOptions, returning a
// ready-to-use Orchestrator.
//
// The returned *store.QdrantStore is handed back alongside the Orchestrator
// so the caller can Close it on shutdown; Orchestrator itself has no Close.
func NewFromConfig(ctx context.Context, cfg Config, build BuildOptions, opts ...OrchestratorOption) (*Orchestrator, *store.QdrantStore, error) {
	if build.Embedder == nil {
		return nil, nil, fmt.Errorf("explorer: NewFromConfig requires a non-nil Embedder")
	}

	textChunker, err := chunker.New(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, nil, fmt.Errorf("explorer: build chunker: %w", err)
	}

	embedSvc := embed.New(build.Embedder)

	vectorStore, err := store.NewQdrantStore(ctx, cfg.VectorIndexName, store.QdrantOptions{
		DSN:        build.QdrantDSN,
		Dimensions: build.Embedder.Dimension(),
		BatchSize:  cfg.UpsertBatchSize,
	}, embedSvc)
	if err != nil {
		return nil, nil, fmt.Errorf("explorer: build vector store: %w", err)
	}

	staticFetcher := fetch.New()

	searchClient := &search.FilteringClient{
		Client:   search.New(cfg.SearXNGHost, cfg.MinDelayBetweenRequests, searchMaxRetries),
		Provider: build.FilterProvider,
		Model:    build.FilterModel,
	}

	orchestratorOpts := opts
	if build.EnableBrowserFallback {
		orchestratorOpts = append([]OrchestratorOption{WithBrowserFetcher(fetch.NewBrowserFetcher(browserFetchTimeout))}, orchestratorOpts...)
	}

	o := NewOrchestrator(cfg, vectorStore, staticFetcher, ExtractorFunc(extract.Extract), textChunker, embedSvc, searchClient, orchestratorOpts...)
	return o, vectorStore, nil
}
