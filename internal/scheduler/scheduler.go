// Package scheduler drives background analysis: it periodically re-fires
// degraded jobs whose retry delay has elapsed and dispatches pending jobs
// over the batch runner.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmckinley/versecheck/internal/cache"
	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

// JobRunner dispatches a batch of runnable jobs. Implemented by the analysis
// service.
type JobRunner interface {
	RunBatch(ctx context.Context, jobs []*models.AnalysisJob) (models.BatchReport, error)
}

// Poller wakes on an interval, promotes due degraded jobs back to pending,
// and runs a batch of pending work. Ticks are serial: a long batch delays the
// next tick rather than overlapping it.
type Poller struct {
	store    store.Store
	cache    *cache.Tiered
	runner   JobRunner
	interval time.Duration
	limit    int
}

// NewPoller creates a Poller. limit bounds how many jobs one tick handles.
func NewPoller(st store.Store, ca *cache.Tiered, runner JobRunner, interval time.Duration, limit int) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if limit <= 0 {
		limit = 100
	}
	return &Poller{store: st, cache: ca, runner: runner, interval: interval, limit: limit}
}

// Run blocks until ctx is cancelled, ticking on the poll interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("retry poller started", "interval", p.interval, "limit", p.limit)
	for {
		select {
		case <-ctx.Done():
			slog.Info("retry poller stopped")
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				slog.Error("poll tick failed", "error", err)
			}
		}
	}
}

// Tick performs one poll cycle: fire due retries, then dispatch pending jobs.
// Exported so the run-now API endpoint and tests can drive it directly.
func (p *Poller) Tick(ctx context.Context) error {
	if err := p.fireDueRetries(ctx); err != nil {
		return err
	}

	jobs, err := p.store.ListPendingJobs(ctx, p.limit)
	if err != nil {
		return fmt.Errorf("listing pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	report, err := p.runner.RunBatch(ctx, jobs)
	if err != nil {
		return fmt.Errorf("running batch: %w", err)
	}
	slog.Info("batch dispatched",
		"jobs", len(jobs),
		"succeeded", report.Succeeded,
		"degraded", report.Degraded,
		"failed", report.Failed,
		"skipped", report.Skipped)
	return nil
}

// fireDueRetries promotes each due degraded job back to pending with its
// attempt count incremented, dropping the stale degraded payload from the
// result cache so it cannot be served while the retry is in flight.
func (p *Poller) fireDueRetries(ctx context.Context) error {
	due, err := p.store.ListDueRetries(ctx, time.Now().UTC(), p.limit)
	if err != nil {
		return fmt.Errorf("listing due retries: %w", err)
	}

	for _, job := range due {
		// Re-check under the current state: a manual re-run or a concurrent
		// poller may have moved the job since the listing.
		current, err := p.store.GetJob(ctx, job.ID)
		if err != nil {
			slog.Error("loading due job", "error", err, "job_id", job.ID)
			continue
		}
		if current.Status != models.JobStatusDegraded {
			continue
		}

		if err := p.cache.Delete(ctx, current.Fingerprint, current.ModelVersion); err != nil {
			slog.Error("evicting stale cache entry", "error", err, "job_id", current.ID)
			continue
		}

		if err := p.store.UpdateJobStatus(ctx, current.ID, models.JobStatusPending,
			store.WithAttemptCount(current.AttemptCount+1),
			store.WithClearSchedule(),
			store.WithClearResult(),
		); err != nil {
			slog.Error("re-firing degraded job", "error", err, "job_id", current.ID)
			continue
		}
		slog.Info("degraded job re-fired",
			"job_id", current.ID, "attempt_count", current.AttemptCount+1)
	}
	return nil
}
