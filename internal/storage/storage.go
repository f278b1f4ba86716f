// Package storage persists import jobs and their records.
package storage

import (
	"context"
	"errors"

	"github.com/okigami/torikomi/internal/models"
)

var (
	// ErrNotFound is returned when a job or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable is returned when the store cannot currently serve the request.
	ErrUnavailable = errors.New("storage unavailable")
)

// Storage is the durable store for import jobs and records. Jobs own their
// records exclusively: deleting a job deletes its records in the same
// transaction, so neither can be observed without the other.
type Storage interface {
	// BeginImport atomically returns the existing job for fingerprint, or
	// creates a new pending one. isNew is false when the fingerprint was
	// already registered; the caller must then skip reprocessing.
	BeginImport(ctx context.Context, sourceName, fingerprint string) (job *models.Job, isNew bool, err error)
	MarkProcessing(ctx context.Context, jobID string) error
	// FinalizeImport marks the job completed with its final counters and
	// stamps completed_at. No-op returning ErrNotFound if the job is absent
	// or already terminal.
	FinalizeImport(ctx context.Context, jobID string, total, accepted, rejected int64) error
	// MarkFailed marks the job failed, keeping whatever partial counters
	// were accumulated before the failure or cancellation.
	MarkFailed(ctx context.Context, jobID string, total, accepted, rejected int64) error

	// AppendRecords durably stores a batch of records in one transaction.
	AppendRecords(ctx context.Context, records []*models.Record) error

	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// ListJobs returns all jobs, newest first, with stored-record counts
	// attached in a single query.
	ListJobs(ctx context.Context) ([]*models.JobSummary, error)
	// SearchRecords returns records matching the filter. The filter's limit
	// is always applied; filter values are bound as query parameters.
	SearchRecords(ctx context.Context, filter models.RecordFilter) ([]*models.Record, error)
	// GetRecords returns the records with the given IDs, in the given order,
	// skipping IDs that no longer exist.
	GetRecords(ctx context.Context, ids []string) ([]*models.Record, error)
	// DeleteJob removes the job and all of its records atomically and
	// returns the IDs of the removed records.
	DeleteJob(ctx context.Context, jobID string) ([]string, error)
	// Stats returns a single consistent aggregate snapshot.
	Stats(ctx context.Context) (*models.Stats, error)
	// WalkEmbeddings calls fn for every stored record that has an embedding.
	WalkEmbeddings(ctx context.Context, fn func(recordID string, vector []float32) error) error

	Close() error
}
