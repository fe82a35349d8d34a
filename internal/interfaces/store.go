package interfaces

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
)

// ImageSeed is one (index, url, local_path) triple the orchestrator projects
// from a parsed page before any download is attempted.
type ImageSeed struct {
	Index     int
	URL       string
	LocalPath string
}

// ImageResult is the full outcome of one image transition, applied via
// UpdateImageResult. Fields beyond Status mirror models.DownloadResult plus
// the fast-path's recomputed hash.
type ImageResult struct {
	Status       models.ImageStatus
	Retries      int
	HTTPStatus   *int
	ContentType  *string
	SizeBytes    *int64
	SHA256       *string
	DownloadedAt *int64 // unix seconds, nil when not applicable
	Error        string
}

// PageUpdate is a partial update to a page row. Status is always applied;
// LastCompletedImageIndex and ImageCount use COALESCE semantics when nil, so
// callers only need to set the fields they are actually changing.
type PageUpdate struct {
	Status                  models.PageStatus
	LastCompletedImageIndex *int
	ImageCount              *int
	Error                   *string
	Finish                  bool
}

// Store is the durable, transactional backing for jobs, pages, images, and
// events. Every method commits before returning; there is no exposed
// multi-statement transaction in this contract, by design (see §5 of the
// design notes this package implements — a single writer drives one
// connection sequentially).
type Store interface {
	// Job lifecycle.
	UpsertJob(ctx context.Context, jobID, configJSON string, status models.JobStatus) error
	ResetJob(ctx context.Context, jobID, configJSON string) error
	SetJobStatus(ctx context.Context, jobID string, status models.JobStatus, finish bool) error
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	GetLatestJob(ctx context.Context) (models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)

	// Page lifecycle.
	EnsurePage(ctx context.Context, jobID string, pageNum int, pageURL, sourceID string) (models.Page, error)
	UpdatePage(ctx context.Context, pageID int64, update PageUpdate) error
	GetPage(ctx context.Context, jobID string, pageNum int) (models.Page, error)
	GetPageByID(ctx context.Context, pageID int64) (models.Page, error)
	ListPages(ctx context.Context, jobID string) ([]models.Page, error)

	// Image lifecycle.
	UpsertPageImages(ctx context.Context, pageID int64, seeds []ImageSeed) error
	GetPageImages(ctx context.Context, pageID int64) ([]models.Image, error)
	UpdateImageRunning(ctx context.Context, imageID int64) error
	UpdateImageResult(ctx context.Context, imageID int64, result ImageResult) error
	GetFailedImages(ctx context.Context, jobID string, limit int) ([]models.Image, error)

	// Crash recovery.
	ResetRunningToPending(ctx context.Context, jobID string) error

	// Observability.
	StatsForJob(ctx context.Context, jobID string) (models.Stats, error)
	AddEvent(ctx context.Context, jobID string, pageID *int64, eventType, message string) error
	ListEvents(ctx context.Context, jobID string, limit int) ([]models.Event, error)

	Close() error
}
