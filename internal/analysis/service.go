// Package analysis orchestrates song-analysis jobs: idempotent enqueue,
// bounded-concurrency batch dispatch, and status polling.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmckinley/versecheck/internal/cache"
	"github.com/jmckinley/versecheck/internal/inference"
	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

// Config bounds the dispatcher and the degraded-retry schedule.
type Config struct {
	Workers     int
	MaxRetries  int
	RetryDelays []time.Duration
}

// Service drives analysis jobs through the inference client.
type Service struct {
	store  store.Store
	cache  *cache.Tiered
	client *inference.Client
	cfg    Config
}

// NewService creates a new analysis Service.
func NewService(st store.Store, ca *cache.Tiered, client *inference.Client, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = []time.Duration{5 * time.Minute, time.Hour, 6 * time.Hour}
	}
	return &Service{store: st, cache: ca, client: client, cfg: cfg}
}

// Enqueue registers content for analysis. Idempotent per fingerprint and
// model version: re-enqueuing identical content returns the existing job.
func (s *Service) Enqueue(ctx context.Context, ref models.ContentRef) (*models.AnalysisJob, error) {
	if ref.Title == "" || ref.Lyrics == "" {
		return nil, fmt.Errorf("invalid content: title and lyrics are required")
	}

	fingerprint := ref.Fingerprint()
	version := s.client.ModelVersion()

	existing, err := s.store.GetJobByFingerprint(ctx, fingerprint, version)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up job: %w", err)
	}

	now := time.Now().UTC()
	job := &models.AnalysisJob{
		ID:           uuid.New(),
		Fingerprint:  fingerprint,
		ModelVersion: version,
		Title:        ref.Title,
		Artist:       ref.Artist,
		Lyrics:       ref.Lyrics,
		Status:       models.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Lost the race to a concurrent enqueue of the same content.
			return s.store.GetJobByFingerprint(ctx, fingerprint, version)
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	return job, nil
}

// GetStatus returns the job for progress polling.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	return s.store.GetJob(ctx, id)
}

// PendingJobs returns up to limit runnable jobs, oldest first.
func (s *Service) PendingJobs(ctx context.Context, limit int) ([]*models.AnalysisJob, error) {
	return s.store.ListPendingJobs(ctx, limit)
}

// retryDelay returns the backoff delay for the given attempt count.
func (s *Service) retryDelay(attemptCount int) time.Duration {
	if attemptCount >= len(s.cfg.RetryDelays) {
		return s.cfg.RetryDelays[len(s.cfg.RetryDelays)-1]
	}
	return s.cfg.RetryDelays[attemptCount]
}
