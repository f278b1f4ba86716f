// Package models defines core data structures for import jobs, records, and queries.
package models

import "time"

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final. Counters are frozen once terminal.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents one upload's processing lifecycle and aggregate counters.
// Once status is completed, Accepted + Rejected == Total.
type Job struct {
	ID          string     `json:"id" db:"id"`
	SourceName  string     `json:"source_name" db:"source_name"`
	Fingerprint string     `json:"fingerprint" db:"fingerprint"`
	Status      JobStatus  `json:"status" db:"status"`
	Total       int64      `json:"total" db:"total"`
	Accepted    int64      `json:"accepted" db:"accepted"`
	Rejected    int64      `json:"rejected" db:"rejected"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobSummary is a job with the number of records actually stored for it,
// as returned by job listings.
type JobSummary struct {
	Job
	RecordCount int64 `json:"record_count"`
}

// Stats is a consistent aggregate snapshot across all jobs and records.
type Stats struct {
	TotalJobs       int64 `json:"total_jobs"`
	CompletedJobs   int64 `json:"completed_jobs"`
	FailedJobs      int64 `json:"failed_jobs"`
	TotalRecords    int64 `json:"total_records"`
	AcceptedRecords int64 `json:"accepted_records"`
	RejectedRecords int64 `json:"rejected_records"`
}
