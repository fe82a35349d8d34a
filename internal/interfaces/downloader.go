package interfaces

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
)

// Downloader streams one URL to a destination path with retries, computing
// size and SHA-256 incrementally. Like PageFetcher, it never returns a Go
// error for transport/IO failures during the download loop itself; those are
// encoded in models.DownloadResult.
type Downloader interface {
	Download(ctx context.Context, url, destination string, timeoutSec float64, retries int, delaySec float64) models.DownloadResult
}
