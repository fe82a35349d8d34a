package models

import "time"

// DownloadResult is the envelope an Downloader returns. Like FetchResult, it
// never carries a Go error across the boundary; exhaustion is reported as
// OK=false with Error populated.
type DownloadResult struct {
	OK           bool
	RetriesUsed  int
	HTTPStatus   *int
	ContentType  *string
	SizeBytes    *int64
	SHA256       *string
	DownloadedAt *time.Time
	Error        string
}
