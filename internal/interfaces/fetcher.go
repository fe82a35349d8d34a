package interfaces

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
)

// PageFetcher fetches HTML for a URL and returns a status/error envelope.
// Implementations never return a Go error for transport failures; those are
// encoded in the returned models.FetchResult so the orchestrator can record
// them without a type switch on error causes.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, timeoutSec float64) models.FetchResult
}
