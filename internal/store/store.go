package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmckinley/versecheck/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.AnalysisJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	GetJobByFingerprint(ctx context.Context, fingerprint, modelVersion string) (*models.AnalysisJob, error)
	ListPendingJobs(ctx context.Context, limit int) ([]*models.AnalysisJob, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.AnalysisJob, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	LoadCacheEntry(ctx context.Context, fingerprint, modelVersion string) (*models.CacheEntry, error)
	SaveCacheEntry(ctx context.Context, entry *models.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, fingerprint, modelVersion string) error
}

type jobUpdateParams struct {
	ErrorMessage  *string
	Result        *models.ScoredResult
	ClearResult   bool
	ScheduledAt   *time.Time
	ClearSchedule bool
	AttemptCount  *int
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result models.ScoredResult) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = &result
	}
}

// WithClearResult drops the stored result, used when a stale degraded payload
// is deleted ahead of a retry.
func WithClearResult() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ClearResult = true
	}
}

func WithScheduledAt(at time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ScheduledAt = &at
	}
}

func WithClearSchedule() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ClearSchedule = true
	}
}

func WithAttemptCount(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.AttemptCount = &n
	}
}
