package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/okigami/torikomi/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS imports (
		id TEXT PRIMARY KEY,
		source_name TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		accepted INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_imports_created_at ON imports(created_at);

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		import_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		embedding BLOB,
		outcome TEXT NOT NULL,
		reject_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (import_id) REFERENCES imports(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_records_import_id ON records(import_id);
	CREATE INDEX IF NOT EXISTS idx_records_import_outcome ON records(import_id, outcome);
	`
	_, err := db.Exec(schema)
	return err
}

// categorize maps driver errors onto the storage error taxonomy.
func categorize(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}

// BeginImport atomically registers fingerprint and creates a pending job, or
// returns the job already registered for it. The insert-if-absent runs as a
// single statement against the fingerprint unique constraint, so two
// concurrent uploads of identical content cannot both create a job.
func (s *SQLiteStorage) BeginImport(ctx context.Context, sourceName, fingerprint string) (*models.Job, bool, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (id, source_name, fingerprint, status, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		id, sourceName, fingerprint, models.StatusPending, now,
	)
	if err != nil {
		return nil, false, categorize(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, categorize(err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_name, fingerprint, status, total, accepted, rejected, created_at, completed_at
		 FROM imports WHERE fingerprint = ?`, fingerprint,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, false, categorize(err)
	}
	return job, inserted == 1, nil
}

// MarkProcessing transitions a pending job to processing.
func (s *SQLiteStorage) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID,
		`UPDATE imports SET status = ? WHERE id = ? AND status = ?`,
		models.StatusProcessing, jobID, models.StatusPending)
}

// FinalizeImport marks the job completed with its final counters.
func (s *SQLiteStorage) FinalizeImport(ctx context.Context, jobID string, total, accepted, rejected int64) error {
	return s.finish(ctx, jobID, models.StatusCompleted, total, accepted, rejected)
}

// MarkFailed marks the job failed, keeping the partial counters.
func (s *SQLiteStorage) MarkFailed(ctx context.Context, jobID string, total, accepted, rejected int64) error {
	return s.finish(ctx, jobID, models.StatusFailed, total, accepted, rejected)
}

func (s *SQLiteStorage) finish(ctx context.Context, jobID string, status models.JobStatus, total, accepted, rejected int64) error {
	return s.transition(ctx, jobID,
		`UPDATE imports SET status = ?, total = ?, accepted = ?, rejected = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status, total, accepted, rejected, time.Now().UTC(),
		jobID, models.StatusPending, models.StatusProcessing)
}

// transition runs an UPDATE guarded by the current status. Zero rows affected
// means either the job is gone (ErrNotFound) or it is in a state the
// transition does not allow (ErrConflict); terminal jobs stay immutable.
func (s *SQLiteStorage) transition(ctx context.Context, jobID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return categorize(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return categorize(err)
	}
	if n == 0 {
		if _, getErr := s.GetJob(ctx, jobID); errors.Is(getErr, ErrNotFound) {
			return getErr
		}
		return fmt.Errorf("%w: job %s not in an updatable state", ErrConflict, jobID)
	}
	return nil
}

// AppendRecords stores a batch of records in one transaction. The batch is
// the durability boundary: either every record in it is committed or none is.
func (s *SQLiteStorage) AppendRecords(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return categorize(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, import_id, payload, embedding, outcome, reject_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return categorize(err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.CreatedAt = now
		payloadJSON, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		var reason sql.NullString
		if rec.RejectReason != "" {
			reason = sql.NullString{String: rec.RejectReason, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.ImportID, string(payloadJSON),
			encodeEmbedding(rec.Embedding), rec.Outcome, reason, rec.CreatedAt); err != nil {
			return categorize(err)
		}
	}
	return categorize(tx.Commit())
}

// GetJob returns a job by ID.
func (s *SQLiteStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_name, fingerprint, status, total, accepted, rejected, created_at, completed_at
		 FROM imports WHERE id = ?`, jobID,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, categorize(err)
	}
	return job, nil
}

// ListJobs returns all jobs newest first with stored-record counts attached,
// in a single grouped query.
func (s *SQLiteStorage) ListJobs(ctx context.Context) ([]*models.JobSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.source_name, i.fingerprint, i.status, i.total, i.accepted, i.rejected,
		        i.created_at, i.completed_at, COUNT(r.id)
		 FROM imports i
		 LEFT JOIN records r ON r.import_id = i.id
		 GROUP BY i.id
		 ORDER BY i.created_at DESC, i.id`,
	)
	if err != nil {
		return nil, categorize(err)
	}
	defer rows.Close()

	var jobs []*models.JobSummary
	for rows.Next() {
		var summary models.JobSummary
		var completedAt sql.NullTime
		if err := rows.Scan(&summary.ID, &summary.SourceName, &summary.Fingerprint, &summary.Status,
			&summary.Total, &summary.Accepted, &summary.Rejected,
			&summary.CreatedAt, &completedAt, &summary.RecordCount); err != nil {
			return nil, categorize(err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			summary.CompletedAt = &t
		}
		jobs = append(jobs, &summary)
	}
	return jobs, rows.Err()
}

// SearchRecords returns records matching the filter. The WHERE clause is
// composed from fixed fragments with all values bound as parameters; the
// limit is always applied.
func (s *SQLiteStorage) SearchRecords(ctx context.Context, filter models.RecordFilter) ([]*models.Record, error) {
	query := `SELECT id, import_id, payload, embedding, outcome, reject_reason, created_at
	          FROM records WHERE 1=1`
	args := []any{}
	if filter.ImportID != "" {
		query += ` AND import_id = ?`
		args = append(args, filter.ImportID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, categorize(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetRecords returns the records with the given IDs in the given order.
// Missing IDs are skipped.
func (s *SQLiteStorage) GetRecords(ctx context.Context, ids []string) ([]*models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, import_id, payload, embedding, outcome, reject_reason, created_at
	          FROM records WHERE id IN (?` + repeatPlaceholder(len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, categorize(err)
	}
	defer rows.Close()
	found, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Record, len(found))
	for _, rec := range found {
		byID[rec.ID] = rec
	}
	ordered := make([]*models.Record, 0, len(found))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			ordered = append(ordered, rec)
		}
	}
	return ordered, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ",?"
	}
	return out
}

// DeleteJob removes the job and all of its records in one transaction and
// returns the IDs of the removed records.
func (s *SQLiteStorage) DeleteJob(ctx context.Context, jobID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, categorize(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM records WHERE import_id = ?`, jobID)
	if err != nil {
		return nil, categorize(err)
	}
	var recordIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, categorize(err)
		}
		recordIDs = append(recordIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, categorize(err)
	}
	rows.Close()

	res, err := tx.ExecContext(ctx, `DELETE FROM imports WHERE id = ?`, jobID)
	if err != nil {
		return nil, categorize(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, categorize(err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err := tx.Commit(); err != nil {
		return nil, categorize(err)
	}
	return recordIDs, nil
}

// Stats returns a consistent snapshot of aggregate counters. The subqueries
// run in a single statement, so they see the same database state.
func (s *SQLiteStorage) Stats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM imports),
			(SELECT COUNT(*) FROM imports WHERE status = 'completed'),
			(SELECT COUNT(*) FROM imports WHERE status = 'failed'),
			(SELECT COUNT(*) FROM records),
			(SELECT COUNT(*) FROM records WHERE outcome = 'accepted'),
			(SELECT COUNT(*) FROM records WHERE outcome = 'rejected')`,
	).Scan(&st.TotalJobs, &st.CompletedJobs, &st.FailedJobs,
		&st.TotalRecords, &st.AcceptedRecords, &st.RejectedRecords)
	if err != nil {
		return nil, categorize(err)
	}
	return &st, nil
}

// WalkEmbeddings calls fn for every record with a stored embedding.
func (s *SQLiteStorage) WalkEmbeddings(ctx context.Context, fn func(recordID string, vector []float32) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM records WHERE embedding IS NOT NULL`)
	if err != nil {
		return categorize(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return categorize(err)
		}
		if err := fn(id, decodeEmbedding(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.SourceName, &job.Fingerprint, &job.Status,
		&job.Total, &job.Accepted, &job.Rejected, &job.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	var records []*models.Record
	for rows.Next() {
		var rec models.Record
		var payloadJSON string
		var blob []byte
		var reason sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ImportID, &payloadJSON, &blob,
			&rec.Outcome, &reason, &rec.CreatedAt); err != nil {
			return nil, categorize(err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		rec.Embedding = decodeEmbedding(blob)
		rec.RejectReason = reason.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// encodeEmbedding packs a vector as little-endian float32 bytes; nil stays nil.
func encodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
