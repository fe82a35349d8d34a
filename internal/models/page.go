package models

import "time"

// PageStatus represents the lifecycle state of one templated page within a job.
//
// A page starts pending, moves to running while being fetched/processed, and
// settles into one of four end states. A resumed run skips no_images,
// completed and completed_with_failures pages and processes failed_fetch
// pages again. Retry-failed moves a page back to running while it
// re-downloads the page's failed images, then refreshes its status. Crash
// recovery (store.ResetRunningToPending) reverts only running pages to pending.
type PageStatus string

const (
	PageStatusPending                PageStatus = "pending"
	PageStatusRunning                PageStatus = "running"
	PageStatusFailedFetch            PageStatus = "failed_fetch"
	PageStatusNoImages               PageStatus = "no_images"
	PageStatusCompleted              PageStatus = "completed"
	PageStatusCompletedWithFailures  PageStatus = "completed_with_failures"
)

// Page is one templated URL within a job: the unit of fetch and parse.
type Page struct {
	ID                      int64
	JobID                   string
	PageNum                 int
	PageURL                 string
	SourceID                string
	Status                  PageStatus
	LastCompletedImageIndex int
	ImageCount              int
	Error                   string
	StartedAt               time.Time
	UpdatedAt               time.Time
	FinishedAt              *time.Time
}

// IsTerminal reports whether the page has reached one of its four end states
// (see PageStatus for which of them a resumed run processes again).
func (s PageStatus) IsTerminal() bool {
	switch s {
	case PageStatusFailedFetch, PageStatusNoImages, PageStatusCompleted, PageStatusCompletedWithFailures:
		return true
	default:
		return false
	}
}
