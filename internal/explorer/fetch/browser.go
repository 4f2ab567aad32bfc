package fetch

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// BrowserFetcher is the optional JS-capable fallback fetch: a headless
// Chrome run with anti-automation mitigations, used only when a static
// Fetch looks like an empty client-rendered shell.
type BrowserFetcher struct {
	timeout time.Duration
}

// NewBrowserFetcher builds a BrowserFetcher with the given per-page
// timeout (0 uses a 20s default).
func NewBrowserFetcher(timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &BrowserFetcher{timeout: timeout}
}

// Fetch renders rawURL in headless Chrome and returns its resulting HTML,
// classified the same way a static fetch would be. Like Fetch, it never
// returns an error for page-level failures. On success FinalURL is rawURL
// as requested; redirects followed by the browser are not reported.
func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, b.timeout)
	defer cancel()

	var htmlContent string
	err := chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			headers := map[string]interface{}{
				"Accept-Language": "en-US,en;q=0.9",
				"Connection":      "keep-alive",
			}
			return network.SetExtraHTTPHeaders(network.Headers(headers)).Do(ctx)
		}),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.ScrollIntoView("body"),
		chromedp.OuterHTML("html", &htmlContent),
	)
	if err != nil {
		return Result{Kind: KindOther, Status: 0}, nil
	}
	if htmlContent == "" {
		return Result{Kind: KindOther, Status: 200}, nil
	}
	return Result{Body: []byte(htmlContent), Kind: KindHTML, Status: 200, FinalURL: rawURL}, nil
}
