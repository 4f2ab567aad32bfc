package explorer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/explorer/chunker"
	"manifold/internal/explorer/extract"
	"manifold/internal/explorer/fetch"
	"manifold/internal/explorer/search"
	"manifold/internal/explorer/store"
)

// fakeSearchClient returns a fixed URL list per query and counts calls.
type fakeSearchClient struct {
	mu      sync.Mutex
	calls   int
	results map[string][]search.Result
}

func (f *fakeSearchClient) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.results[query], nil
}

func (f *fakeSearchClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFetcher returns fixed HTML bodies keyed by URL and counts fetches
// per URL to verify at-most-once-per-workspace ingestion.
type fakeFetcher struct {
	mu     sync.Mutex
	counts map[string]int
	bodies map[string]string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{counts: map[string]int{}, bodies: map[string]string{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (fetch.Result, error) {
	f.mu.Lock()
	f.counts[rawURL]++
	f.mu.Unlock()
	body, ok := f.bodies[rawURL]
	if !ok {
		return fetch.Result{Kind: fetch.KindOther, Status: 404}, nil
	}
	return fetch.Result{Body: []byte(body), Kind: fetch.KindHTML, Status: 200, FinalURL: rawURL}, nil
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

// fakeChunker splits on double-newline and assigns sequential chunk ids.
type fakeChunker struct{}

func (fakeChunker) Chunk(text string) []chunker.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, "\n\n")
	out := make([]chunker.Chunk, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, chunker.Chunk{ChunkID: i, Text: p, TokenCount: len(strings.Fields(p))})
	}
	return out
}

// fakeEmbedder treats any text containing "marker" as maximally similar
// to any query, and everything else as orthogonal (similarity 0).
type fakeEmbedder struct{ embedCalls int64 }

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&f.embedCalls, 1)
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "marker") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 0}
		}
	}
	return out, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VectorIndexName = "Search"
	cfg.MaxRetries = 3
	cfg.QueryBatchSize = 10
	cfg.MaxConcurrentURLs = 30
	cfg.IngestSimilarityThreshold = 0.5
	cfg.RetrieveScoreThreshold = 0.1
	return cfg
}

func TestRun_EmptyQueriesTouchesNothing(t *testing.T) {
	searchClient := &fakeSearchClient{results: map[string][]search.Result{}}
	fetcher := newFakeFetcher()
	o := NewOrchestrator(testConfig(), store.NewMemoryStore(), fetcher, ExtractorFunc(extract.Extract), fakeChunker{}, &fakeEmbedder{}, searchClient)

	out, err := o.Run(context.Background(), nil, "W1", AnswerRetrieve, 5)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, 0, searchClient.callCount())
}

func TestRun_RequiresWorkspace(t *testing.T) {
	o := NewOrchestrator(testConfig(), store.NewMemoryStore(), newFakeFetcher(), ExtractorFunc(extract.Extract), fakeChunker{}, &fakeEmbedder{}, &fakeSearchClient{})
	_, err := o.Run(context.Background(), []string{"q"}, "", AnswerRetrieve, 5)
	require.ErrorIs(t, err, ErrEmptyWorkspace)
}

func TestRun_CacheHitMakesNoFetchesOrSearches(t *testing.T) {
	vs := store.NewMemoryStore()
	require.NoError(t, vs.Upsert(context.Background(), "Search", []store.Record{
		{ID: "x_chunk_0", UniqueID: "W1", URL: "http://example.com/a", ChunkText: "The capital of France is Paris."},
	}))

	searchClient := &fakeSearchClient{results: map[string][]search.Result{}}
	fetcher := newFakeFetcher()
	o := NewOrchestrator(testConfig(), vs, fetcher, ExtractorFunc(extract.Extract), fakeChunker{}, &fakeEmbedder{}, searchClient)

	out, err := o.Run(context.Background(), []string{"capital of France"}, "W1", AnswerRetrieve, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "The capital of France is Paris.", out[0].ChunkText)
	require.Equal(t, 0, searchClient.callCount())
	require.Equal(t, 0, fetcher.fetchCount("http://example.com/a"))
}

func TestRun_ColdIngestThenRetrieveFindsChunks(t *testing.T) {
	vs := store.NewMemoryStore()
	fetcher := newFakeFetcher()
	fetcher.bodies["http://u1.example"] = "This paragraph has the marker word.\n\nThis paragraph does not."
	fetcher.bodies["http://u2.example"] = "Another marker paragraph here.\n\nUnrelated filler text."

	searchClient := &fakeSearchClient{results: map[string][]search.Result{
		"find marker": {{URL: "u1.example"}, {URL: "u2.example"}},
	}}

	o := NewOrchestrator(
		testConfig(), vs, fetcher,
		ExtractorFunc(func(body []byte, kind fetch.Kind, pageURL string) (extract.ScrapeResult, error) {
			return extract.ScrapeResult{URL: pageURL, Text: string(body)}, nil
		}),
		fakeChunker{}, &fakeEmbedder{}, searchClient,
	)

	out, err := o.Run(context.Background(), []string{"find marker"}, "W1", AnswerRetrieve, 5)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for _, r := range out {
		require.Contains(t, strings.ToLower(r.ChunkText), "marker")
	}

	// Each URL is fetched exactly once across the run: at-most-once ingestion.
	require.Equal(t, 1, fetcher.fetchCount("http://u1.example"))
	require.Equal(t, 1, fetcher.fetchCount("http://u2.example"))
}

func TestRun_PartialRetryOnlyIngestsUncachedQuery(t *testing.T) {
	vs := store.NewMemoryStore()
	require.NoError(t, vs.Upsert(context.Background(), "Search", []store.Record{
		{ID: "cached_chunk_0", UniqueID: "W1", URL: "http://cached.example", ChunkText: "Q1 already cached marker answer"},
	}))

	fetcher := newFakeFetcher()
	fetcher.bodies["http://fresh.example"] = "Q2 brand new marker paragraph.\n\nFiller."

	searchClient := &fakeSearchClient{results: map[string][]search.Result{
		"Q2": {{URL: "fresh.example"}},
	}}

	o := NewOrchestrator(
		testConfig(), vs, fetcher,
		ExtractorFunc(func(body []byte, kind fetch.Kind, pageURL string) (extract.ScrapeResult, error) {
			return extract.ScrapeResult{URL: pageURL, Text: string(body)}, nil
		}),
		fakeChunker{}, &fakeEmbedder{}, searchClient,
	)

	out, err := o.Run(context.Background(), []string{"Q1", "Q2"}, "W1", AnswerRetrieve, 5)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	require.Equal(t, 1, searchClient.callCount(), "only the uncached query should drive a search call")
	require.Equal(t, 1, fetcher.fetchCount("http://fresh.example"))
}

func TestRun_OverlappingURLsAcrossQueriesFetchOnce(t *testing.T) {
	vs := store.NewMemoryStore()
	fetcher := newFakeFetcher()
	fetcher.bodies["http://shared.example"] = "Shared page with the marker word.\n\nFiller."

	searchClient := &fakeSearchClient{results: map[string][]search.Result{
		"first marker query":  {{URL: "shared.example"}},
		"second marker query": {{URL: "shared.example"}},
	}}

	o := NewOrchestrator(
		testConfig(), vs, fetcher,
		ExtractorFunc(func(body []byte, kind fetch.Kind, pageURL string) (extract.ScrapeResult, error) {
			return extract.ScrapeResult{URL: pageURL, Text: string(body)}, nil
		}),
		fakeChunker{}, &fakeEmbedder{}, searchClient,
	)

	_, err := o.Run(context.Background(), []string{"first marker query", "second marker query"}, "W1", AnswerRetrieve, 5)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.fetchCount("http://shared.example"), "overlapping URL must be fetched once per run")
}

func TestRun_MaxRetriesZeroRunsExactlyOnePass(t *testing.T) {
	vs := store.NewMemoryStore()
	fetcher := newFakeFetcher()
	fetcher.bodies["http://only.example"] = "Text with the marker word.\n\nFiller paragraph."

	searchClient := &fakeSearchClient{results: map[string][]search.Result{
		"q": {{URL: "only.example"}},
	}}

	cfg := testConfig()
	cfg.MaxRetries = 0

	o := NewOrchestrator(
		cfg, vs, fetcher,
		ExtractorFunc(func(body []byte, kind fetch.Kind, pageURL string) (extract.ScrapeResult, error) {
			return extract.ScrapeResult{URL: pageURL, Text: string(body)}, nil
		}),
		fakeChunker{}, &fakeEmbedder{}, searchClient,
	)

	_, err := o.Run(context.Background(), []string{"q"}, "W1", AnswerRetrieve, 5)
	require.NoError(t, err)
	require.Equal(t, 1, searchClient.callCount())
	require.Equal(t, 1, fetcher.fetchCount("http://only.example"))
}

func TestPurgeWorkspace_IsolatesTenants(t *testing.T) {
	vs := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, vs.Upsert(ctx, "Search", []store.Record{
		{ID: "a_chunk_0", UniqueID: "W1", ChunkText: "marker one"},
		{ID: "b_chunk_0", UniqueID: "W2", ChunkText: "marker two"},
	}))

	o := NewOrchestrator(testConfig(), vs, newFakeFetcher(), ExtractorFunc(extract.Extract), fakeChunker{}, &fakeEmbedder{}, &fakeSearchClient{})
	require.NoError(t, o.PurgeWorkspace(ctx, "W1"))

	found, err := vs.FetchByID(ctx, "Search", []string{"a_chunk_0", "b_chunk_0"})
	require.NoError(t, err)
	require.NotContains(t, found, "a_chunk_0")
	require.Contains(t, found, "b_chunk_0")
}

// misbehavingStore always returns a single hit tagged with a unique_id
// that doesn't match the requested workspace, simulating a buggy backend
// that ignores its tenant filter.
type misbehavingStore struct {
	store.VectorStore
}

func (misbehavingStore) Search(ctx context.Context, namespace, queryText string, topK int, uniqueID string) ([]store.Hit, error) {
	return []store.Hit{{
		ID:    "leaked_chunk_0",
		Score: 1,
		Fields: map[string]string{
			"unique_id":  "other-tenant",
			"chunk_text": "leaked answer",
		},
	}}, nil
}

func TestRetrieveBatch_DropsCrossTenantHits(t *testing.T) {
	ctx := context.Background()
	o := NewOrchestrator(testConfig(), misbehavingStore{store.NewMemoryStore()}, newFakeFetcher(), ExtractorFunc(extract.Extract), fakeChunker{}, &fakeEmbedder{}, &fakeSearchClient{})

	hitsByQuery := o.retrieveBatch(ctx, "W1", []string{"marker"})
	require.Empty(t, hitsByQuery["marker"])
}

func TestRecordID_StartsWithMD5OfURL(t *testing.T) {
	id := recordID("http://example.com/page", 2)
	// md5("http://example.com/page") = c7208ac94afcd66b5d5cd1dc5fc49c8b
	require.True(t, strings.HasPrefix(id, "c7208ac94afcd66b5d5cd1dc5fc49c8b"))
	require.True(t, strings.HasSuffix(id, "_chunk_2"))
	require.NotEqual(t, recordID("http://example.com/page", 0), recordID("http://other.example.com", 0))
}

func TestDedupeNonEmpty(t *testing.T) {
	out := dedupeNonEmpty([]string{" a ", "b", "a", "", "  "})
	require.Equal(t, []string{"a", "b"}, out)
}
