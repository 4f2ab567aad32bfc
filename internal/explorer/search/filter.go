package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"manifold/internal/llm"
)

// filterResponse is the contract an external filter LLM must return:
// {"results_list": [{"url", "title", "description"}, ...]}.
type filterResponse struct {
	ResultsList []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"results_list"`
}

const filterSystemPrompt = `You filter web search results for relevance to a query.
Given a query and a JSON list of search results, return ONLY a JSON object
of the shape {"results_list": [{"url": "...", "title": "...", "description": "..."}]}
containing the subset of results that are actually relevant to the query.
Do not include any other text in your response.`

// FilteringClient wraps a throttled Client and applies the best-effort
// LLM relevance filter when Provider is set. With a nil Provider it
// behaves exactly like the embedded Client.
type FilteringClient struct {
	*Client
	Provider llm.Provider
	Model    string
}

// Search runs the throttled SearXNG query, then best-effort filters the
// results through Provider when configured.
func (f *FilteringClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	results, err := f.Client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if f.Provider == nil {
		return results, nil
	}
	return Filter(ctx, f.Provider, f.Model, query, results, maxResults), nil
}

// Filter asks provider to narrow results to those relevant to query.
// Filter is a total function: on any failure to call the provider or
// parse its response it falls back to the unfiltered results truncated to
// maxResults, and it never returns an error to the caller.
func Filter(ctx context.Context, provider llm.Provider, model string, query string, results []Result, maxResults int) []Result {
	if provider == nil || len(results) == 0 {
		return truncate(results, maxResults)
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return truncate(results, maxResults)
	}

	msgs := []llm.Message{
		{Role: "system", Content: filterSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Query: %s\n\nResults:\n%s", query, payload)},
	}

	reply, err := provider.Chat(ctx, msgs, nil, model)
	if err != nil {
		return truncate(results, maxResults)
	}

	parsed, ok := parseFilterResponse(reply.Content)
	if !ok || len(parsed) == 0 {
		return truncate(results, maxResults)
	}
	return truncate(parsed, maxResults)
}

// parseFilterResponse extracts the JSON object from raw, tolerating a
// markdown code fence around it and a {"type": "final", "answer": {...}}
// envelope some agent frameworks wrap their final reply in.
func parseFilterResponse(raw string) ([]Result, bool) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return nil, false
	}

	var envelope struct {
		Type   string          `json:"type"`
		Answer json.RawMessage `json:"answer"`
	}
	if err := json.Unmarshal([]byte(candidate), &envelope); err == nil && len(envelope.Answer) > 0 {
		candidate = string(envelope.Answer)
	}

	var parsed filterResponse
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return nil, false
	}

	out := make([]Result, 0, len(parsed.ResultsList))
	for _, r := range parsed.ResultsList {
		if r.URL == "" {
			continue
		}
		out = append(out, Result{URL: r.URL, Title: r.Title, Description: r.Description})
	}
	return out, true
}

func extractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return trimmed[start : end+1]
}
