package explorer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"manifold/internal/explorer/chunker"
	"manifold/internal/explorer/embed"
	"manifold/internal/explorer/extract"
	"manifold/internal/explorer/fetch"
	"manifold/internal/explorer/search"
	"manifold/internal/explorer/store"
	"manifold/internal/rag/service"
)

// Fetcher is the Content Fetcher (C2) contract the Orchestrator depends
// on; *fetch.Fetcher and *fetch.BrowserFetcher both satisfy it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Result, error)
}

// Extractor is the Content Extractor (C3) contract; ExtractorFunc adapts
// the package-level extract.Extract function to it.
type Extractor interface {
	Extract(body []byte, kind fetch.Kind, pageURL string) (extract.ScrapeResult, error)
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(body []byte, kind fetch.Kind, pageURL string) (extract.ScrapeResult, error)

func (f ExtractorFunc) Extract(body []byte, kind fetch.Kind, pageURL string) (extract.ScrapeResult, error) {
	return f(body, kind, pageURL)
}

// TextChunker is the Text Chunker (C1) contract; *chunker.Chunker
// satisfies it.
type TextChunker interface {
	Chunk(text string) []chunker.Chunk
}

// Embedder is the local Embedding Service (C6) contract; *embed.Service
// satisfies it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// SearchClient is the Search Client (C4) contract; *search.Client and
// *search.FilteringClient both satisfy it.
type SearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
}

// Orchestrator is the Explorer Engine's core (C7): per-query
// lookup-then-ingest-then-retry loop, query batching, and bounded
// per-URL fan-out.
type Orchestrator struct {
	cfg Config

	store     store.VectorStore
	fetcher   Fetcher
	browser   Fetcher // optional JS-capable fallback; nil disables it
	extractor Extractor
	chunker   TextChunker
	embedder  Embedder
	search    SearchClient

	logger  service.Logger
	metrics service.Metrics
}

// OrchestratorOption configures optional Orchestrator dependencies.
type OrchestratorOption func(*Orchestrator)

// WithBrowserFetcher installs the optional JS-capable fallback fetch used
// when a static fetch returns a client-rendered shell.
func WithBrowserFetcher(b Fetcher) OrchestratorOption {
	return func(o *Orchestrator) { o.browser = b }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l service.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics overrides the default no-op metrics sink.
func WithMetrics(m service.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

// NewOrchestrator wires the seven Explorer components behind the public
// Run/PurgeWorkspace operations.
func NewOrchestrator(
	cfg Config,
	vectorStore store.VectorStore,
	fetcher Fetcher,
	extractor Extractor,
	textChunker TextChunker,
	embedder Embedder,
	searchClient SearchClient,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     vectorStore,
		fetcher:   fetcher,
		extractor: extractor,
		chunker:   textChunker,
		embedder:  embedder,
		search:    searchClient,
		logger:    noopLogger{},
		metrics:   service.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// recordID computes the composite ChunkRecord id: md5(url) + "_chunk_" +
// chunkID. The id is content-addressed so re-ingesting the same URL
// overwrites rather than duplicates.
func recordID(url string, chunkID int) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:]) + "_chunk_" + strconv.Itoa(chunkID)
}

// urlClaims tracks URLs already handed to an ingest fan-out within one Run
// invocation. The store-level existence check alone cannot prevent two
// queries in the same batch from racing past it for an overlapping URL;
// claiming here closes that window so a URL is fetched at most once per
// Run even when it appears in several queries' search results.
type urlClaims struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newURLClaims() *urlClaims {
	return &urlClaims{claimed: make(map[string]bool)}
}

// claim reports whether the caller is the first to take url this run.
func (c *urlClaims) claim(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed[url] {
		return false
	}
	c.claimed[url] = true
	return true
}

// Run is the Explorer's public operation. In AnswerIngestOnly mode it
// ingests every query and returns nothing observable; in AnswerRetrieve
// mode it returns the aggregated, score-filtered ChunkRecords across all
// queries, driving ingestion rounds for queries that yield no usable
// result, up to Config.MaxRetries.
func (o *Orchestrator) Run(ctx context.Context, queries []string, ws WorkspaceId, mode AnswerMode, maxResults int) ([]ExplorerResult, error) {
	if ws == "" {
		return nil, ErrEmptyWorkspace
	}
	deduped := dedupeNonEmpty(queries)
	if len(deduped) == 0 {
		return nil, nil
	}

	claims := newURLClaims()
	if mode == AnswerIngestOnly {
		o.ingest(ctx, ws, deduped, maxResults, claims)
		return nil, nil
	}

	return o.runRetrieve(ctx, ws, deduped, maxResults, claims), nil
}

// PurgeWorkspace deletes every ChunkRecord stored for ws.
func (o *Orchestrator) PurgeWorkspace(ctx context.Context, ws WorkspaceId) error {
	if ws == "" {
		return ErrEmptyWorkspace
	}
	return o.store.Delete(ctx, o.cfg.VectorIndexName, string(ws))
}

// runRetrieve alternates retrieval and ingestion rounds until every query
// has usable hits or the retry budget runs out. An explicit loop with a
// retry counter keeps the depth bounded. Termination: the loop stops once
// no query still needs data, or once retry exceeds MaxRetries. At most
// MaxRetries+1 ingestion rounds run, and MaxRetries=0 still gets one full
// search-ingest-retrieve pass.
func (o *Orchestrator) runRetrieve(ctx context.Context, ws WorkspaceId, queries []string, maxResults int, claims *urlClaims) []ExplorerResult {
	toProcess := queries
	var answers []ExplorerResult

	for retry := 0; ; retry++ {
		hitsByQuery := o.retrieveBatch(ctx, ws, toProcess)

		var needsData []string
		for _, q := range toProcess {
			hits := hitsByQuery[q]
			if len(hits) == 0 {
				needsData = append(needsData, q)
				continue
			}
			answers = append(answers, hits...)
		}

		o.metrics.ObserveHistogram("explorer_retrieve_retry_depth", float64(retry), map[string]string{"workspace": string(ws)})

		if len(needsData) == 0 {
			break
		}
		if retry > o.cfg.MaxRetries {
			break
		}

		o.ingest(ctx, ws, needsData, maxResults, claims)
		toProcess = needsData
	}

	return answers
}

// retrieveBatch runs one Vector Store search per query, all concurrently
// and with no concurrency cap at this layer, returning only hits that
// clear RetrieveScoreThreshold and carry non-empty text.
// A Store.Search failure for a given query is logged and treated as "no
// hits" rather than propagated.
func (o *Orchestrator) retrieveBatch(ctx context.Context, ws WorkspaceId, queries []string) map[string][]ExplorerResult {
	results := make(map[string][]ExplorerResult, len(queries))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, q := range queries {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.metrics.IncCounter("explorer_retrieval_requests_total", map[string]string{"workspace": string(ws)})
			hits, err := o.store.Search(ctx, o.cfg.VectorIndexName, q, 3, string(ws))
			if err != nil {
				o.logger.Error("explorer: vector store search failed", map[string]any{
					"workspace": string(ws), "query": q, "error": err.Error(),
				})
				return
			}

			var filtered []ExplorerResult
			for _, h := range hits {
				if uid := h.Fields["unique_id"]; uid != "" && uid != string(ws) {
					o.logger.Error("explorer: store returned cross-tenant hit", map[string]any{
						"workspace": string(ws), "hit_unique_id": uid, "error": ErrTenantMismatch.Error(),
					})
					continue
				}
				if h.Score < o.cfg.RetrieveScoreThreshold {
					continue
				}
				text := h.Fields["chunk_text"]
				if text == "" {
					continue
				}
				filtered = append(filtered, ExplorerResult{
					URL:         h.Fields["url"],
					Title:       h.Fields["title"],
					Description: h.Fields["description"],
					ChunkText:   text,
					Score:       h.Score,
				})
			}

			o.metrics.ObserveHistogram("explorer_retrieval_hits", float64(len(filtered)), map[string]string{"workspace": string(ws)})
			mu.Lock()
			results[q] = filtered
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// ingest runs the search→fetch→extract→chunk→embed→filter→upsert path
// for every query, QueryBatchSize queries in parallel at a time.
func (o *Orchestrator) ingest(ctx context.Context, ws WorkspaceId, queries []string, maxResults int, claims *urlClaims) {
	batchSize := o.cfg.QueryBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for start := 0; start < len(queries); start += batchSize {
		end := start + batchSize
		if end > len(queries) {
			end = len(queries)
		}
		batch := queries[start:end]

		var wg sync.WaitGroup
		for _, q := range batch {
			q := q
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.ingestQuery(ctx, ws, q, maxResults, claims)
			}()
		}
		wg.Wait()
	}
}

// ingestQuery issues one search and bounds the resulting per-URL fan-out
// by MaxConcurrentURLs, skipping URLs already ingested for ws (the
// at-most-once-per-(workspace,URL) invariant).
func (o *Orchestrator) ingestQuery(ctx context.Context, ws WorkspaceId, query string, maxResults int, claims *urlClaims) {
	o.metrics.IncCounter("explorer_search_requests_total", map[string]string{"workspace": string(ws)})
	results, err := o.search.Search(ctx, query, maxResults)
	if err != nil {
		o.logger.Error("explorer: search failed", map[string]any{"query": query, "error": err.Error()})
		return
	}

	var newURLs []string
	seen := make(map[string]bool)
	for _, r := range results {
		u := NormalizeURL(r.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if !claims.claim(u) {
			continue
		}
		if o.exists(ctx, ws, u) {
			continue
		}
		newURLs = append(newURLs, u)
	}
	if len(newURLs) == 0 {
		return
	}

	limit := o.cfg.MaxConcurrentURLs
	if limit <= 0 {
		limit = 30
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, u := range newURLs {
		u := u
		g.Go(func() error {
			o.ingestURL(gctx, ws, query, u)
			return nil
		})
	}
	_ = g.Wait()
}

// exists reports whether url has already been ingested for ws, probing
// only chunk 0. URLs that were crawled but produced no above-threshold
// chunks have no chunk 0 stored and will be re-crawled on a later run;
// that is an accepted weakness, not a bug.
func (o *Orchestrator) exists(ctx context.Context, ws WorkspaceId, url string) bool {
	id := recordID(url, 0)
	found, err := o.store.FetchByID(ctx, o.cfg.VectorIndexName, []string{id})
	if err != nil {
		o.logger.Error("explorer: existence check failed", map[string]any{"url": url, "error": err.Error()})
		return false
	}
	rec, ok := found[id]
	return ok && rec.UniqueID == string(ws)
}

// ingestURL performs the fetch→extract→chunk→embed→filter→upsert path
// for a single URL. Every failure is logged and absorbed here; nothing
// propagates to ingestQuery's errgroup.
func (o *Orchestrator) ingestURL(ctx context.Context, ws WorkspaceId, query, url string) {
	start := time.Now()
	defer func() {
		o.metrics.ObserveHistogram("explorer_ingest_url_duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{"workspace": string(ws)})
	}()

	res, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		o.logger.Error("explorer: fetch failed", map[string]any{"url": url, "error": err.Error()})
		return
	}
	if res.Kind == fetch.KindOther {
		return
	}

	if o.browser != nil && fetch.NeedsJSFallback(res) {
		if alt, altErr := o.browser.Fetch(ctx, url); altErr == nil && alt.Kind == fetch.KindHTML && len(alt.Body) > 0 {
			res = alt
		}
	}

	scrape, err := o.extractor.Extract(res.Body, res.Kind, url)
	if err != nil {
		o.logger.Error("explorer: extraction failed", map[string]any{"url": url, "error": err.Error()})
		return
	}
	if strings.TrimSpace(scrape.Text) == "" {
		return
	}

	chunks := o.chunker.Chunk(scrape.Text)
	if len(chunks) == 0 {
		return
	}

	qvec, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		o.logger.Error("explorer: embed query failed", map[string]any{"url": url, "query": query, "error": err.Error()})
		return
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	docVecs, err := o.embedder.EmbedDocuments(ctx, texts, 0)
	if err != nil {
		o.logger.Error("explorer: embed documents failed", map[string]any{"url": url, "error": err.Error()})
		return
	}

	sims := embed.Similarity(qvec, docVecs)

	records := make([]store.Record, 0, len(chunks))
	for i, c := range chunks {
		if i >= len(sims) || sims[i] < o.cfg.IngestSimilarityThreshold {
			continue
		}
		records = append(records, store.Record{
			ID:          recordID(url, c.ChunkID),
			UniqueID:    string(ws),
			URL:         url,
			Title:       scrape.Title,
			Description: scrape.Description,
			ChunkID:     c.ChunkID,
			ChunkText:   c.Text,
		})
	}
	if len(records) == 0 {
		return
	}

	if err := o.store.Upsert(ctx, o.cfg.VectorIndexName, records); err != nil {
		o.logger.Error("explorer: upsert failed", map[string]any{"url": url, "error": err.Error()})
		return
	}
	o.metrics.IncCounter("explorer_chunks_stored_total", map[string]string{"workspace": string(ws)})
}

func dedupeNonEmpty(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		trimmed := strings.TrimSpace(q)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}
