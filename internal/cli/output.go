// Package cli provides output formatting for the torikomi command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/okigami/torikomi/internal/models"
	"github.com/okigami/torikomi/pkg/utils"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJobs writes a job listing to w in the given format.
func WriteJobs(w io.Writer, jobs []*models.JobSummary, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	for _, job := range jobs {
		fmt.Fprintf(w, "%s  %-10s  %-30s  total=%d accepted=%d rejected=%d stored=%d\n",
			job.ID, job.Status, utils.Truncate(job.SourceName, 30),
			job.Total, job.Accepted, job.Rejected, job.RecordCount)
	}
	return nil
}

// SearchHit is one semantic search result as returned by the server.
type SearchHit struct {
	Record *models.Record `json:"record"`
	Score  float64        `json:"score"`
}

// WriteSearchHits writes search results to w in the given format.
func WriteSearchHits(w io.Writer, hits []SearchHit, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	for _, hit := range hits {
		payload, err := json.Marshal(hit.Record.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		fmt.Fprintf(w, "%.4f  %s  %s\n", hit.Score, hit.Record.ID, utils.Truncate(string(payload), 120))
	}
	return nil
}

// StatsView is the stats payload as returned by the server.
type StatsView struct {
	Stats            *models.Stats `json:"stats"`
	EmbeddingEnabled bool          `json:"embedding_enabled"`
	VectorIndexSize  *int          `json:"vector_index_size,omitempty"`
}

// WriteStats writes the aggregate snapshot to w in the given format.
func WriteStats(w io.Writer, view *StatsView, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	fmt.Fprintf(w, "total_jobs:        %d\n", view.Stats.TotalJobs)
	fmt.Fprintf(w, "completed_jobs:    %d\n", view.Stats.CompletedJobs)
	fmt.Fprintf(w, "failed_jobs:       %d\n", view.Stats.FailedJobs)
	fmt.Fprintf(w, "total_records:     %d\n", view.Stats.TotalRecords)
	fmt.Fprintf(w, "accepted_records:  %d\n", view.Stats.AcceptedRecords)
	fmt.Fprintf(w, "rejected_records:  %d\n", view.Stats.RejectedRecords)
	fmt.Fprintf(w, "embedding_enabled: %t\n", view.EmbeddingEnabled)
	if view.VectorIndexSize != nil {
		fmt.Fprintf(w, "vector_index_size: %d\n", *view.VectorIndexSize)
	}
	return nil
}
