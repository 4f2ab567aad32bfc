package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"manifold/internal/llm"
)

func TestClient_SearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "capital of france", r.URL.Query().Get("q"))
		require.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"url": "http://a.example", "title": "A", "content": "snippet a"},
				{"url": "http://b.example", "title": "B", "content": "snippet b"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 0, 3)
	results, err := c.Search(context.Background(), "capital of france", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "http://a.example", results[0].URL)
}

func TestClient_SearchTruncatesToMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"url": "http://a.example"},
				{"url": "http://b.example"},
				{"url": "http://c.example"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 0, 3)
	results, err := c.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestClient_SearchExhaustsRetriesWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// maxRetries 0 keeps the test fast; the backoff formula itself is fixed
	// at 5·2^attempt seconds and would dominate the test's wall clock.
	c := New(srv.URL, 0, 0, WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	results, err := c.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestClient_ThrottleSerializesRequestStarts(t *testing.T) {
	var starts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		starts = append(starts, time.Now())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]string{}})
	}))
	defer srv.Close()

	c := New(srv.URL, 80*time.Millisecond, 0)
	_, err := c.Search(context.Background(), "first", 5)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "second", 5)
	require.NoError(t, err)

	require.Len(t, starts, 2)
	require.GreaterOrEqual(t, starts[1].Sub(starts[0]), 70*time.Millisecond)
}

type stubProvider struct {
	reply llm.Message
	err   error
}

func (s stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return s.reply, s.err
}

func (s stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return s.err
}

func TestFilter_ParsesWellFormedResponse(t *testing.T) {
	provider := stubProvider{reply: llm.Message{Content: `{"results_list":[{"url":"http://a.example","title":"A","description":"d"}]}`}}
	results := []Result{{URL: "http://a.example"}, {URL: "http://b.example"}}
	out := Filter(context.Background(), provider, "test-model", "q", results, 10)
	require.Len(t, out, 1)
	require.Equal(t, "http://a.example", out[0].URL)
}

func TestFilter_UnwrapsFinalAnswerEnvelope(t *testing.T) {
	provider := stubProvider{reply: llm.Message{Content: `{"type":"final","answer":{"results_list":[{"url":"http://a.example","title":"A","description":"d"}]}}`}}
	results := []Result{{URL: "http://a.example"}, {URL: "http://b.example"}}
	out := Filter(context.Background(), provider, "test-model", "q", results, 10)
	require.Len(t, out, 1)
	require.Equal(t, "http://a.example", out[0].URL)
}

func TestFilter_FallsBackOnParseFailure(t *testing.T) {
	provider := stubProvider{reply: llm.Message{Content: "not json at all"}}
	results := []Result{{URL: "http://a.example"}, {URL: "http://b.example"}}
	out := Filter(context.Background(), provider, "test-model", "q", results, 1)
	require.Len(t, out, 1)
}

func TestFilter_FallsBackOnProviderError(t *testing.T) {
	provider := stubProvider{err: context.DeadlineExceeded}
	results := []Result{{URL: "http://a.example"}}
	out := Filter(context.Background(), provider, "test-model", "q", results, 10)
	require.Len(t, out, 1)
}

func TestFilter_NilProviderReturnsUnfiltered(t *testing.T) {
	results := []Result{{URL: "http://a.example"}, {URL: "http://b.example"}}
	out := Filter(context.Background(), nil, "", "q", results, 10)
	require.Len(t, out, 2)
}
