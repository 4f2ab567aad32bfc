// Package search implements a throttled SearXNG query client with
// exponential-backoff retries and an optional best-effort LLM filtering
// pass. The throttle is a strict minimum-interval gate, not a token
// bucket: each request start waits out whatever remains of the delay
// since the previous request's start.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"manifold/internal/rag/service"
)

// Result is one candidate returned by a search.
type Result struct {
	URL         string
	Title       string
	Description string
}

// Client is a throttled SearXNG HTTP client. The mutex and last-request
// timestamp are per-instance state, never shared globally across Client
// instances.
type Client struct {
	host       string
	httpClient *http.Client
	minDelay   time.Duration
	maxRetries int
	logger     service.Logger

	mu              sync.Mutex
	lastRequestTime time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client, primarily for
// tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger installs a logger that records throttle waits and retry
// backoffs at Debug level. The default is a no-op.
func WithLogger(l service.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}

// New builds a Client against host with the given throttle floor and
// retry budget.
func New(host string, minDelay time.Duration, maxRetries int, opts ...Option) *Client {
	c := &Client{
		host:       strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		minDelay:   minDelay,
		maxRetries: maxRetries,
		logger:     noopLogger{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// throttle blocks the calling goroutine until at least minDelay has
// elapsed since the previous request's start, then records the new
// request's start time. Concurrent callers are serialized by mu, not
// coalesced: each one sleeps its own remaining wait in turn.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wait := c.minDelay - time.Since(c.lastRequestTime)
	if wait > 0 {
		c.logger.Debug("search: throttling request", map[string]any{"wait_ms": wait.Milliseconds()})
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequestTime = time.Now()
	return nil
}

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search queries SearXNG for query and returns up to maxResults candidates.
// On exhausted retries it returns an empty slice and a nil error: search
// failure after backoff is absorbed here, not propagated, so the caller
// can simply treat the query as yielding no URLs.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(5*(1<<uint(attempt-1))) * time.Second
			c.logger.Debug("search: retrying after backoff", map[string]any{"attempt": attempt, "backoff_ms": backoff.Milliseconds()})
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		if results, err := c.doSearch(ctx, query); err == nil {
			return truncate(results, maxResults), nil
		}
	}
	return nil, nil
}

func (c *Client) doSearch(ctx context.Context, query string) ([]Result, error) {
	u, err := url.Parse(c.host + "/search")
	if err != nil {
		return nil, fmt.Errorf("search: invalid host: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("safesearch", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: read body: %w", err)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("search: parse json: %w", err)
	}

	out := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		out = append(out, Result{URL: r.URL, Title: r.Title, Description: r.Content})
	}
	return out, nil
}

func truncate(results []Result, maxResults int) []Result {
	if maxResults <= 0 || maxResults >= len(results) {
		return results
	}
	return results[:maxResults]
}
