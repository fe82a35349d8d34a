package models

import "time"

// FetchResult is the envelope a PageFetcher returns. It never carries a Go
// error across the fetcher boundary; transport failures are encoded here.
type FetchResult struct {
	URL        string
	OK         bool
	HTML       string
	StatusCode *int
	Error      string
	ElapsedMS  int64
	FetchedAt  time.Time
}
