package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

// BrowserFetcher renders pages in headless Chrome for sources whose content
// only materializes after client-side scripts run.
type BrowserFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	userAgent   string
}

// NewBrowserFetcher starts a shared headless browser allocator. Call Close
// when the run finishes.
func NewBrowserFetcher(timeout time.Duration, userAgent string) *BrowserFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserFetcher{
		allocCtx:    allocCtx,
		allocCancel: cancel,
		timeout:     timeout,
		userAgent:   userAgent,
	}
}

// Name implements Fetcher.
func (f *BrowserFetcher) Name() string { return "browser" }

// Fetch implements Fetcher. Each fetch runs in its own tab with its own
// timeout; navigation failures are treated as transient since rendered
// sources are typically flaky rather than gone.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(f.allocCtx)
	defer cancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(tabCtx, f.timeout)
	defer timeoutCancel()

	done := make(chan struct{})
	var pageHTML string
	var runErr error
	go func() {
		defer close(done)
		runErr = chromedp.Run(timeoutCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body"),
			chromedp.OuterHTML("html", &pageHTML),
		)
	}()

	select {
	case <-ctx.Done():
		timeoutCancel()
		<-done
		return nil, ctx.Err()
	case <-done:
	}

	if runErr != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(runErr, "fetch: render %s", url), 0)
	}

	return &Page{
		URL:         url,
		Body:        []byte(pageHTML),
		HTTPStatus:  http.StatusOK,
		ContentType: "text/html",
	}, nil
}

// Close shuts down the shared browser allocator.
func (f *BrowserFetcher) Close() {
	f.allocCancel()
}
