// Package fetch implements the two interfaces.PageFetcher backends named in
// the design: a direct HTTP client and a headless-browser fallback.
package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/harvester/internal/models"
)

// browserUserAgent mirrors a current desktop Chrome string so sites that
// gate on User-Agent behave the same as they would for an interactive
// visitor.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// HTTPFetcher is the "requests" engine: a plain net/http client. One
// instance is safe for concurrent use, though the orchestrator itself only
// ever calls it sequentially (§5).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with connection reuse tuned for many
// sequential same-host requests.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 64,
			},
		},
	}
}

// Fetch implements interfaces.PageFetcher. It never returns a Go error:
// transport failures are captured into the FetchResult envelope.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, timeoutSec float64) models.FetchResult {
	start := time.Now()
	result := models.FetchResult{URL: url}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec*float64(time.Second)))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		result.ElapsedMS = time.Since(start).Milliseconds()
		result.FetchedAt = time.Now().UTC()
		return result
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := f.client.Do(req)
	result.ElapsedMS = time.Since(start).Milliseconds()
	result.FetchedAt = time.Now().UTC()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	result.StatusCode = &statusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if statusCode < 200 || statusCode >= 300 {
		result.Error = http.StatusText(statusCode)
		return result
	}

	result.OK = true
	result.HTML = string(body)
	return result
}
