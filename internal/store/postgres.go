package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmckinley/versecheck/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, fingerprint, model_version, title, artist, lyrics, status,
	attempt_count, scheduled_at, last_result, error_message, created_at, updated_at`

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	var lastResult []byte
	if job.LastResult != nil {
		var err error
		lastResult, err = json.Marshal(job.LastResult)
		if err != nil {
			return fmt.Errorf("marshal last result: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (id, fingerprint, model_version, title, artist, lyrics, status, attempt_count, scheduled_at, last_result, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Fingerprint, job.ModelVersion, job.Title, job.Artist, job.Lyrics,
		job.Status, job.AttemptCount, job.ScheduledAt, lastResult, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJobByFingerprint(ctx context.Context, fingerprint, modelVersion string) (*models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE fingerprint = $1 AND model_version = $2`,
		fingerprint, modelVersion)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by fingerprint: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListPendingJobs(ctx context.Context, limit int) ([]*models.AnalysisJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE status = 'pending' AND scheduled_at IS NULL
		 ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListDueRetries returns degraded jobs whose retry time has arrived.
func (s *PostgresStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.AnalysisJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE status = 'degraded' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		 ORDER BY scheduled_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ClaimJob atomically moves a pending job to in_progress. Returns false when
// the job is no longer pending, which guards against double-processing by a
// concurrent batch or a duplicate retry firing.
func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = 'in_progress', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusInProgress},
	models.JobStatusInProgress: {
		models.JobStatusCompleted,
		models.JobStatusDegraded,
		models.JobStatusFailed,
		models.JobStatusExhausted,
		models.JobStatusPending, // transient failure, retry-eligible next batch
	},
	models.JobStatusDegraded: {models.JobStatusPending, models.JobStatusExhausted, models.JobStatusDegraded},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	// Fetch current status
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	// Validate transition
	valid := false
	for _, a := range validTransitions[currentStatus] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE analysis_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Result != nil {
		raw, err := json.Marshal(params.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		query += fmt.Sprintf(", last_result = $%d", argIdx)
		args = append(args, raw)
		argIdx++
	} else if params.ClearResult {
		query += ", last_result = NULL"
	}
	if params.ScheduledAt != nil {
		query += fmt.Sprintf(", scheduled_at = $%d", argIdx)
		args = append(args, *params.ScheduledAt)
		argIdx++
	} else if params.ClearSchedule {
		query += ", scheduled_at = NULL"
	}
	if params.AttemptCount != nil {
		query += fmt.Sprintf(", attempt_count = $%d", argIdx)
		args = append(args, *params.AttemptCount)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// --- Cache entries ---

func (s *PostgresStore) LoadCacheEntry(ctx context.Context, fingerprint, modelVersion string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, model_version, payload, written_at
		 FROM cache_entries WHERE fingerprint = $1 AND model_version = $2`,
		fingerprint, modelVersion,
	).Scan(&entry.Fingerprint, &entry.ModelVersion, &payload, &entry.WrittenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cache entry: %w", err)
	}
	if err := json.Unmarshal(payload, &entry.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal cache payload: %w", err)
	}
	return &entry, nil
}

// SaveCacheEntry upserts: a newer write for the same key supersedes the old one.
func (s *PostgresStore) SaveCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cache_entries (fingerprint, model_version, payload, written_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint, model_version) DO UPDATE SET
		   payload = EXCLUDED.payload,
		   written_at = EXCLUDED.written_at`,
		entry.Fingerprint, entry.ModelVersion, payload, entry.WrittenAt)
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCacheEntry(ctx context.Context, fingerprint, modelVersion string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE fingerprint = $1 AND model_version = $2`,
		fingerprint, modelVersion)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	var lastResult []byte
	if err := row.Scan(&j.ID, &j.Fingerprint, &j.ModelVersion, &j.Title, &j.Artist, &j.Lyrics,
		&j.Status, &j.AttemptCount, &j.ScheduledAt, &lastResult, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if len(lastResult) > 0 {
		var result models.ScoredResult
		if err := json.Unmarshal(lastResult, &result); err != nil {
			return nil, fmt.Errorf("unmarshal last result: %w", err)
		}
		j.LastResult = &result
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.AnalysisJob, error) {
	var jobs []*models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
