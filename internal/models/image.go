package models

import "time"

// ImageStatus represents the lifecycle state of one downloadable image.
type ImageStatus string

const (
	ImageStatusPending   ImageStatus = "pending"
	ImageStatusRunning   ImageStatus = "running"
	ImageStatusCompleted ImageStatus = "completed"
	ImageStatusFailed    ImageStatus = "failed"
)

// Image is one downloadable artifact, 1-based and contiguous within its page
// in DOM order. The row is authoritative: filesystem presence alone never
// confers completed status outside the explicit fast-path in the pipeline.
type Image struct {
	ID            int64
	PageID        int64
	ImageIndex    int
	URL           string
	LocalPath     string
	Status        ImageStatus
	Retries       int
	HTTPStatus    *int
	ContentType   *string
	SizeBytes     *int64
	SHA256        *string
	DownloadedAt  *time.Time
	Error         string
	UpdatedAt     time.Time
}

// IsTerminal reports whether the image has reached a final outcome.
func (s ImageStatus) IsTerminal() bool {
	return s == ImageStatusCompleted || s == ImageStatusFailed
}
