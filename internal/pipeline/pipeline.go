// Package pipeline runs imports end to end: decode, validate, embed, store.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/okigami/torikomi/internal/config"
	"github.com/okigami/torikomi/internal/decode"
	"github.com/okigami/torikomi/internal/embedding"
	"github.com/okigami/torikomi/internal/models"
	"github.com/okigami/torikomi/internal/storage"
	"github.com/okigami/torikomi/internal/validate"
	"github.com/okigami/torikomi/internal/vector"
	"github.com/okigami/torikomi/pkg/utils"
)

// maxReasonLen caps stored reject reasons; hostile inputs can inflate them.
const maxReasonLen = 500

// Pipeline accepts uploads, deduplicates them by content fingerprint, and
// processes accepted jobs on a bounded worker pool. Counters only advance
// after a batch of records is durably committed, so a job's reported
// progress never exceeds what storage holds.
type Pipeline struct {
	store    storage.Storage
	embedder *embedding.BestEffort
	index    vector.Index
	pool     *ants.Pool
	cfg      config.PipelineConfig
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewPipeline creates a pipeline backed by a worker pool of cfg.Workers
// goroutines. index may be nil when semantic search is disabled.
func NewPipeline(store storage.Storage, embedder *embedding.BestEffort, index vector.Index, cfg config.PipelineConfig, logger *zap.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if embedder == nil {
		embedder = embedding.NewBestEffort(nil, nil, 0, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Pipeline{
		store:    store,
		embedder: embedder,
		index:    index,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Fingerprint returns the content fingerprint used for upload deduplication.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Submit registers an upload and schedules it for background processing.
// It returns promptly with the pending job. When the same content was
// submitted before, the existing job is returned with isNew=false and
// nothing is reprocessed. Unrecognized file extensions fail up front with
// decode.ErrUnsupportedFormat.
func (p *Pipeline) Submit(ctx context.Context, sourceName string, data []byte) (*models.Job, bool, error) {
	format, err := decode.Detect(sourceName)
	if err != nil {
		return nil, false, err
	}

	job, isNew, err := p.store.BeginImport(ctx, sourceName, Fingerprint(data))
	if err != nil {
		return nil, false, err
	}
	if !isNew {
		p.logger.Info("duplicate upload, returning existing job",
			zap.String("job_id", job.ID),
			zap.String("source", sourceName))
		return job, false, nil
	}

	jobID := job.ID
	p.wg.Add(1)
	if err := p.pool.Submit(func() {
		defer p.wg.Done()
		p.run(context.Background(), jobID, format, data)
	}); err != nil {
		p.wg.Done()
		if markErr := p.store.MarkFailed(ctx, jobID, 0, 0, 0); markErr != nil {
			p.logger.Error("failed to mark unscheduled job failed",
				zap.String("job_id", jobID), zap.Error(markErr))
		}
		return nil, false, fmt.Errorf("failed to schedule import: %w", err)
	}
	return job, true, nil
}

// SubmitAndWait registers an upload and processes it synchronously on the
// calling goroutine, honoring ctx for cancellation. It returns the job in
// its final state.
func (p *Pipeline) SubmitAndWait(ctx context.Context, sourceName string, data []byte) (*models.Job, bool, error) {
	format, err := decode.Detect(sourceName)
	if err != nil {
		return nil, false, err
	}

	job, isNew, err := p.store.BeginImport(ctx, sourceName, Fingerprint(data))
	if err != nil {
		return nil, false, err
	}
	if !isNew {
		return job, false, nil
	}

	p.run(ctx, job.ID, format, data)

	final, err := p.store.GetJob(context.Background(), job.ID)
	if err != nil {
		return job, true, nil
	}
	return final, true, nil
}

// batchEntry pairs a record with the text its embedding is computed from.
// Rejected records carry no text and never get a vector.
type batchEntry struct {
	record *models.Record
	text   string
}

func (p *Pipeline) run(ctx context.Context, jobID string, format decode.Format, data []byte) {
	start := time.Now()
	logger := p.logger.With(zap.String("job_id", jobID))

	if err := p.store.MarkProcessing(ctx, jobID); err != nil {
		if ctx.Err() != nil {
			logger.Warn("import canceled before processing started")
			p.fail(jobID, 0, 0, 0)
			return
		}
		logger.Error("failed to mark job processing", zap.Error(err))
		return
	}

	reader, err := decode.NewReader(data, format)
	if err != nil {
		logger.Warn("upload could not be decoded", zap.Error(err))
		p.fail(jobID, 0, 0, 0)
		return
	}

	var total, accepted, rejected int64
	batch := make([]batchEntry, 0, p.cfg.BatchSize)

	flush := func() error {
		a, r, err := p.flush(ctx, batch)
		if err != nil {
			return err
		}
		total += a + r
		accepted += a
		rejected += r
		batch = batch[:0]
		return nil
	}

	for {
		if ctx.Err() != nil {
			logger.Warn("import canceled", zap.Int64("durable_records", total))
			p.fail(jobID, total, accepted, rejected)
			return
		}

		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn("upload malformed mid-stream",
				zap.Int64("durable_records", total), zap.Error(err))
			p.fail(jobID, total, accepted, rejected)
			return
		}

		batch = append(batch, p.prepare(jobID, raw))
		if len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				logger.Error("failed to commit record batch", zap.Error(err))
				p.fail(jobID, total, accepted, rejected)
				return
			}
		}
	}

	if err := flush(); err != nil {
		logger.Error("failed to commit final record batch", zap.Error(err))
		p.fail(jobID, total, accepted, rejected)
		return
	}

	if err := p.store.FinalizeImport(ctx, jobID, total, accepted, rejected); err != nil {
		logger.Error("failed to finalize job", zap.Error(err))
		return
	}
	logger.Info("import completed",
		zap.Int64("total", total),
		zap.Int64("accepted", accepted),
		zap.Int64("rejected", rejected),
		zap.Duration("elapsed", time.Since(start)))
}

// prepare validates one raw record and builds its stored form. Validation
// failure yields a rejected record that keeps the raw payload and reason.
func (p *Pipeline) prepare(jobID string, raw models.RawRecord) batchEntry {
	canonical, err := validate.Validate(raw)
	if err != nil {
		return batchEntry{record: &models.Record{
			ID:           uuid.New().String(),
			ImportID:     jobID,
			Payload:      raw,
			Outcome:      models.OutcomeRejected,
			RejectReason: utils.Truncate(err.Error(), maxReasonLen),
		}}
	}
	return batchEntry{
		record: &models.Record{
			ID:       uuid.New().String(),
			ImportID: jobID,
			Payload:  canonical,
			Outcome:  models.OutcomeAccepted,
		},
		text: embedding.RenderText(canonical),
	}
}

// flush embeds the batch's accepted records, commits the batch in one
// transaction with bounded retries, and indexes the new vectors. It returns
// the accepted and rejected counts of the committed batch.
func (p *Pipeline) flush(ctx context.Context, batch []batchEntry) (acceptedN, rejectedN int64, err error) {
	if len(batch) == 0 {
		return 0, 0, nil
	}

	texts := make([]string, len(batch))
	for i, entry := range batch {
		texts[i] = entry.text
	}
	vectors := p.embedder.EmbedBatch(ctx, texts)

	records := make([]*models.Record, len(batch))
	for i, entry := range batch {
		entry.record.Embedding = vectors[i]
		records[i] = entry.record
		if entry.record.Outcome == models.OutcomeAccepted {
			acceptedN++
		} else {
			rejectedN++
		}
	}

	err = RetryWithBackoff(ctx, func() error {
		return p.store.AppendRecords(ctx, records)
	}, p.cfg.MaxRetries, p.cfg.RetryBaseDelay())
	if err != nil {
		return 0, 0, err
	}

	p.indexBatch(ctx, records)
	return acceptedN, rejectedN, nil
}

// indexBatch adds the batch's vectors to the search index. Index errors are
// logged and dropped: the records are already durable.
func (p *Pipeline) indexBatch(ctx context.Context, records []*models.Record) {
	if p.index == nil {
		return
	}
	ids := make([]string, 0, len(records))
	vecs := make([][]float32, 0, len(records))
	for _, rec := range records {
		if rec.Embedding != nil {
			ids = append(ids, rec.ID)
			vecs = append(vecs, rec.Embedding)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := p.index.Add(ctx, ids, vecs); err != nil {
		p.logger.Warn("failed to index embeddings", zap.Int("count", len(ids)), zap.Error(err))
	}
}

// fail marks the job failed, keeping the durably committed counters. The
// fresh context lets cancellation itself be recorded.
func (p *Pipeline) fail(jobID string, total, accepted, rejected int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.MarkFailed(ctx, jobID, total, accepted, rejected); err != nil {
		p.logger.Error("failed to mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Wait blocks until all scheduled imports have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close waits for in-flight imports and releases the worker pool.
func (p *Pipeline) Close() {
	p.wg.Wait()
	p.pool.Release()
}
