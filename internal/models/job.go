package models

import "time"

// JobStatus represents the lifecycle state of a harvest job.
//
// A job is set running at the start of every run (created, or upserted back
// to running when a later run resumes it) and moves to a terminal status
// (completed or failed) when that run exits. The crash-recovery primitive
// operates on pages and images beneath it (see store.ResetRunningToPending).
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is the top-level resumable unit of work: one run of the harvester
// against a template config. Its id is deterministically derived from the
// identity subset of its config (see naming.JobID), so re-running the same
// config resumes the same job rather than starting a new one.
type Job struct {
	JobID      string
	Status     JobStatus
	ConfigJSON string // canonical serialization of the full run config, identity subset included
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// Stats summarizes progress for a job, computed from pages and images rather
// than stored redundantly on the job row.
type Stats struct {
	JobID          string
	PagesTotal     int
	PagesCompleted int
	PagesFailed    int
	PagesPending   int
	PagesRunning   int
	ImagesTotal    int
	ImagesComplete int
	ImagesFailed   int
	ImagesPending  int
}
