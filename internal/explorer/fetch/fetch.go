// Package fetch implements the Content Fetcher (C2): a hardened, browser-
// impersonating HTTP GET that classifies the response by content kind and
// never raises on failure.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// Kind classifies a fetched response.
type Kind string

const (
	KindHTML  Kind = "html"
	KindPDF   Kind = "pdf"
	KindOther Kind = "other"
)

// Result is what Fetch returns: the decoded-to-UTF-8 body, its kind, and
// the HTTP status observed (0 if the request never completed).
type Result struct {
	Body     []byte
	Kind     Kind
	Status   int
	FinalURL string
}

// Options tunes the Fetcher. The zero value is not directly usable; use
// New for sane defaults.
type Options struct {
	Timeout      time.Duration
	MaxBytes     int64
	UserAgent    string
	MaxRedirects int
}

// Option is the functional-option type for tuning a Fetcher.
type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithMaxBytes(n int64) Option        { return func(o *Options) { o.MaxBytes = n } }
func WithUserAgent(ua string) Option     { return func(o *Options) { o.UserAgent = ua } }
func WithMaxRedirects(n int) Option      { return func(o *Options) { o.MaxRedirects = n } }

// Fetcher performs static HTTP fetches with browser-like request headers
// and a rotating User-Agent.
type Fetcher struct {
	client *http.Client
	opts   Options
	uaList []string
}

// New builds a Fetcher with hardened defaults: 20s total timeout, 8MB body
// cap, 10 redirects.
func New(opts ...Option) *Fetcher {
	o := Options{
		Timeout:      20 * time.Second,
		MaxBytes:     8 * 1000 * 1000,
		MaxRedirects: 10,
	}
	for _, fn := range opts {
		fn(&o)
	}

	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		limit := o.MaxRedirects
		if limit <= 0 {
			limit = 10
		}
		if len(via) > limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
	client := &http.Client{Transport: transport, CheckRedirect: checkRedirect, Timeout: o.Timeout}

	uaList := []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:102.0) Gecko/20100101 Firefox/102.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.1 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36 Edg/115.0.0.0",
	}
	return &Fetcher{client: client, opts: o, uaList: uaList}
}

// Fetch performs a GET against rawURL. It never returns an error for
// network/HTTP failures; instead it reports KindOther with the observed
// status (0 on a transport-level failure). A non-nil error return is
// reserved for caller misuse (e.g. an unparsable URL).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{Kind: KindOther}, fmt.Errorf("fetch: invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{Kind: KindOther}, fmt.Errorf("fetch: build request: %w", err)
	}
	ua := f.opts.UserAgent
	if ua == "" && len(f.uaList) > 0 {
		ua = f.uaList[int(time.Now().UnixNano())%len(f.uaList)]
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Kind: KindOther, Status: 0}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Kind: KindOther, Status: resp.StatusCode, FinalURL: resp.Request.URL.String()}, nil
	}

	ct, cs := parseContentType(resp.Header.Get("Content-Type"))
	limited := io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return Result{Kind: KindOther, Status: resp.StatusCode}, nil
	}
	if int64(len(body)) > f.opts.MaxBytes {
		body = body[:f.opts.MaxBytes]
	}

	kind := classify(ct, body)
	if kind == KindHTML {
		if utf8Body, err := toUTF8(body, cs); err == nil {
			body = utf8Body
		}
	}

	return Result{
		Body:     body,
		Kind:     kind,
		Status:   resp.StatusCode,
		FinalURL: resp.Request.URL.String(),
	}, nil
}

// jsFrameworkMarkers are the lowercase body substrings that indicate a
// client-side-rendered page, warranting a headless fallback fetch.
var jsFrameworkMarkers = []string{
	"__next_data__", "data-reactroot", "ng-app", "v-cloak", "react", "vue", "angular",
}

// NeedsJSFallback reports whether a static fetch's result looks like an
// empty shell that a JS-capable fetch should retry.
func NeedsJSFallback(r Result) bool {
	if r.Kind != KindHTML {
		return false
	}
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return true
	}
	lower := strings.ToLower(string(r.Body))
	for _, marker := range jsFrameworkMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func classify(contentType string, body []byte) Kind {
	if strings.Contains(contentType, "application/pdf") {
		return KindPDF
	}
	if len(body) >= 5 && string(body[:5]) == "%PDF-" {
		return KindPDF
	}
	return KindHTML
}

func parseContentType(h string) (ctype, cs string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return h, ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func toUTF8(b []byte, label string) ([]byte, error) {
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
