// Package downloader implements the adaptive, retrying image downloader
// described in the design: rate-limited HTTP GET to disk with incremental
// hashing, and the 429/503-aware retry-delay policy.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/harvester/internal/models"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 8 * time.Second
	copyChunkSize      = 64 * 1024
)

// Downloader streams URLs to disk with retries, reporting outcomes to its
// AdaptiveLimiter so the limiter's rate tracks observed throttling.
type Downloader struct {
	client      *http.Client
	limiter     *AdaptiveLimiter
	backoffBase time.Duration
	backoffMax  time.Duration
}

// New builds a Downloader over the given limiter.
func New(limiter *AdaptiveLimiter) *Downloader {
	return &Downloader{
		client:      &http.Client{},
		limiter:     limiter,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
	}
}

// Download implements interfaces.Downloader.
func (d *Downloader) Download(ctx context.Context, url, destination string, timeoutSec float64, retries int, delaySec float64) models.DownloadResult {
	attempts := retries + 1

	var lastErr string
	var lastStatus *int

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := d.limiter.Acquire(ctx); err != nil {
			return models.DownloadResult{OK: false, RetriesUsed: attempt - 1, Error: err.Error()}
		}

		status, sizeBytes, sha256Hex, contentType, err := d.attempt(ctx, url, destination, timeoutSec)
		if err == nil {
			d.limiter.ReportSuccess()
			now := time.Now().UTC()
			httpStatus := status
			return models.DownloadResult{
				OK:           true,
				RetriesUsed:  attempt - 1,
				HTTPStatus:   &httpStatus,
				ContentType:  optionalString(contentType),
				SizeBytes:    &sizeBytes,
				SHA256:       &sha256Hex,
				DownloadedAt: &now,
			}
		}

		lastErr = err.Error()
		if status != 0 {
			s := status
			lastStatus = &s
			if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
				d.limiter.ReportThrottled()
			}
		}

		if attempt < attempts {
			delay := retryDelay(attempt, delaySec, lastStatus, d.backoffBase, d.backoffMax)
			select {
			case <-ctx.Done():
				return models.DownloadResult{OK: false, RetriesUsed: attempt, HTTPStatus: lastStatus, Error: ctx.Err().Error()}
			case <-time.After(delay):
			}
		}
	}

	return models.DownloadResult{OK: false, RetriesUsed: retries, HTTPStatus: lastStatus, Error: lastErr}
}

// attempt performs one HTTP GET and, on a 2xx response, streams the body to
// destination while hashing it incrementally.
func (d *Downloader) attempt(ctx context.Context, url, destination string, timeoutSec float64) (status int, sizeBytes int64, sha256Hex string, contentType string, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec*float64(time.Second)))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, "", "", err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, 0, "", "", err
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	if status < 200 || status >= 300 {
		return status, 0, "", "", errStatus(status)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return status, 0, "", "", err
	}

	file, err := os.Create(destination)
	if err != nil {
		return status, 0, "", "", err
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.CopyBuffer(io.MultiWriter(file, hasher), resp.Body, make([]byte, copyChunkSize))
	if err != nil {
		return status, 0, "", "", err
	}

	return status, written, hex.EncodeToString(hasher.Sum(nil)), resp.Header.Get("Content-Type"), nil
}

type httpStatusError int

func (e httpStatusError) Error() string { return http.StatusText(int(e)) }

func errStatus(status int) error { return httpStatusError(status) }

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// retryDelay implements §4.5's retry-delay policy: 429/503 responses use an
// exponential backoff seeded from whichever is larger of the configured
// delay or backoffBase, with uniform jitter; all other failures use the
// fixed configured delay, falling back to a plain exponential backoff when
// no delay is configured.
func retryDelay(attempt int, delaySec float64, httpStatus *int, backoffBase, backoffMax time.Duration) time.Duration {
	base := backoffBase.Seconds()
	max := backoffMax.Seconds()

	if httpStatus != nil && (*httpStatus == http.StatusTooManyRequests || *httpStatus == http.StatusServiceUnavailable) {
		seed := math.Max(delaySec, base)
		raw := math.Min(max, seed*math.Pow(2, float64(attempt-1)))
		jitter := 0.8 + rand.Float64()*0.4
		return time.Duration(raw * jitter * float64(time.Second))
	}

	if delaySec > 0 {
		return time.Duration(delaySec * float64(time.Second))
	}
	raw := math.Min(max, base*math.Pow(2, float64(attempt-1)))
	return time.Duration(raw * float64(time.Second))
}

// FileSHA256 computes the SHA-256 of an existing file, streaming 8 KiB
// blocks. Used by the pipeline's fast-path finalization when it recognizes a
// pre-existing destination.
func FileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.CopyBuffer(hasher, file, make([]byte, 8192)); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
