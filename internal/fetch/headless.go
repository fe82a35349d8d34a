package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/ternarybob/harvester/internal/models"
)

// HeadlessFetcher is the "playwright" engine named in the run config: a
// chromedp-driven headless Chrome, used either as the primary fetcher for
// JavaScript-rendered galleries or as the one-shot fallback consulted when
// the primary fetcher's HTML parsed to zero images.
type HeadlessFetcher struct {
	allocCtx context.Context
	cancel   context.CancelFunc
}

// NewHeadlessFetcher launches a headless Chrome allocator shared across
// calls to Fetch. Close releases the underlying browser process.
func NewHeadlessFetcher(ctx context.Context) *HeadlessFetcher {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	return &HeadlessFetcher{allocCtx: allocCtx, cancel: cancel}
}

// Close releases the headless browser allocator.
func (f *HeadlessFetcher) Close() {
	f.cancel()
}

// Fetch implements interfaces.PageFetcher by navigating a fresh tab to url,
// waiting for the page to settle, and capturing the rendered HTML.
func (f *HeadlessFetcher) Fetch(ctx context.Context, url string, timeoutSec float64) models.FetchResult {
	start := time.Now()
	result := models.FetchResult{URL: url}

	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx)
	defer cancelTab()

	timeoutCtx, cancel := context.WithTimeout(tabCtx, time.Duration(timeoutSec*float64(time.Second)))
	defer cancel()

	var html string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)

	result.ElapsedMS = time.Since(start).Milliseconds()
	result.FetchedAt = time.Now().UTC()

	if err != nil {
		result.Error = fmt.Sprintf("headless fetch: %v", err)
		return result
	}
	if html == "" {
		result.Error = "headless fetch: empty HTML content"
		return result
	}

	statusCode := 200
	result.StatusCode = &statusCode
	result.OK = true
	result.HTML = html
	return result
}
