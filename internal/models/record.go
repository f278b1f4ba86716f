package models

import "time"

// Outcome is the per-record classification, independent of the owning job's status.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// RawRecord is a loosely-typed record as produced by the decoder:
// field name to value, before any validation.
type RawRecord map[string]any

// Record is one imported row, tagged with its validation outcome.
// Embedding is present only when the record was accepted and embedding is enabled.
type Record struct {
	ID           string    `json:"id" db:"id"`
	ImportID     string    `json:"import_id" db:"import_id"`
	Payload      RawRecord `json:"payload" db:"payload"`
	Embedding    []float32 `json:"embedding,omitempty" db:"embedding"`
	Outcome      Outcome   `json:"outcome" db:"outcome"`
	RejectReason string    `json:"reject_reason,omitempty" db:"reject_reason"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
