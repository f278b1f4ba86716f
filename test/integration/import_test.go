// Package integration tests the pipeline against real storage, including
// restart behavior.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/okigami/torikomi/internal/config"
	"github.com/okigami/torikomi/internal/embedding"
	"github.com/okigami/torikomi/internal/models"
	"github.com/okigami/torikomi/internal/pipeline"
	"github.com/okigami/torikomi/internal/storage"
	"github.com/okigami/torikomi/internal/vector"
)

const dims = 8

func TestImportSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "imports.db")
	ctx := context.Background()

	cfg := config.PipelineConfig{BatchSize: 16, Workers: 1, MaxRetries: 3, RetryBaseDelayMS: 1}
	embedder := embedding.NewBestEffort(
		embedding.NewMockEmbedder(dims), embedding.NewCache(64), time.Second, nil)

	var jobID string
	{
		store, err := storage.NewSQLiteStorage(dbPath)
		if err != nil {
			t.Fatal(err)
		}
		index, _ := vector.NewMemoryIndex(dims)
		pipe, err := pipeline.NewPipeline(store, embedder, index, cfg, nil)
		if err != nil {
			t.Fatal(err)
		}

		jsonDoc := `[
			{"name":"Alice","email":"alice@example.com","age":30},
			{"name":"Bob","email":"bob@example.com","age":41},
			{"name":"Mallory","email":"no-at-sign","age":9}
		]`
		job, _, err := pipe.SubmitAndWait(ctx, "users.json", []byte(jsonDoc))
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != models.StatusCompleted || job.Accepted != 2 {
			t.Fatalf("job: status=%s accepted=%d", job.Status, job.Accepted)
		}
		jobID = job.ID
		pipe.Close()
		store.Close()
	}

	// Reopen the database as a fresh process would and rebuild the index
	// from stored embeddings.
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("job after reopen: %v", err)
	}
	if job.Status != models.StatusCompleted || job.Total != 3 {
		t.Errorf("persisted job: status=%s total=%d", job.Status, job.Total)
	}

	index, _ := vector.NewMemoryIndex(dims)
	err = store.WalkEmbeddings(ctx, func(recordID string, vec []float32) error {
		return index.Add(ctx, []string{recordID}, [][]float32{vec})
	})
	if err != nil {
		t.Fatalf("walk embeddings: %v", err)
	}
	if index.Size() != 2 {
		t.Errorf("rebuilt index size: got %d, want 2", index.Size())
	}

	// The rebuilt index resolves back to stored records.
	queryVec := embedder.EmbedBatch(ctx, []string{"Alice"})
	results, err := index.Search(ctx, queryVec[0], 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("search results: %d", len(results))
	}
	records, err := store.GetRecords(ctx, []string{results[0].ID})
	if err != nil || len(records) != 1 {
		t.Fatalf("record lookup: %v (%d)", err, len(records))
	}
	if records[0].Outcome != models.OutcomeAccepted {
		t.Errorf("hit outcome: %s", records[0].Outcome)
	}
}

func TestConcurrentSubmissionsDeduplicate(t *testing.T) {
	store, err := storage.NewSQLiteStorage(t.TempDir() + "/imports.db")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	cfg := config.PipelineConfig{BatchSize: 16, Workers: 4, MaxRetries: 3, RetryBaseDelayMS: 1}
	pipe, err := pipeline.NewPipeline(store, nil, nil, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pipe.Close()

	data := []byte("name,email,age\nAlice,alice@example.com,30\n")
	ctx := context.Background()

	const goroutines = 8
	type result struct {
		jobID string
		isNew bool
		err   error
	}
	results := make(chan result, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			job, isNew, err := pipe.Submit(ctx, "users.csv", data)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{jobID: job.ID, isNew: isNew}
		}()
	}

	newCount := 0
	ids := make(map[string]bool)
	for i := 0; i < goroutines; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("submit: %v", r.err)
		}
		if r.isNew {
			newCount++
		}
		ids[r.jobID] = true
	}
	pipe.Wait()

	if newCount != 1 {
		t.Errorf("exactly one submission should win, got %d", newCount)
	}
	if len(ids) != 1 {
		t.Errorf("all submissions should map to one job, got %d", len(ids))
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("stored jobs: %d", len(jobs))
	}
	if jobs[0].Status != models.StatusCompleted || jobs[0].RecordCount != 1 {
		t.Errorf("job: status=%s stored=%d", jobs[0].Status, jobs[0].RecordCount)
	}
}
