package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmckinley/versecheck/internal/inference"
	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

// outcome of one job within a batch.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeDegraded
	outcomeFailed
	outcomeSkipped
)

// RunBatch dispatches the jobs over a bounded worker pool and aggregates
// per-job outcomes. One job's failure never aborts the batch. Jobs complete
// in no particular order.
//
// When the circuit breaker opens, remaining undispatched jobs are skipped so
// their attempt budget is not burned against a struggling upstream. On
// cancellation, in-flight workers finish their current item; everything not
// yet dispatched stays pending for a future run.
func (s *Service) RunBatch(ctx context.Context, jobs []*models.AnalysisJob) (models.BatchReport, error) {
	var (
		mu           sync.Mutex
		report       models.BatchReport
		shortCircuit atomic.Bool
	)

	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeDegraded:
			report.Degraded++
		case outcomeFailed:
			report.Failed++
		case outcomeSkipped:
			report.Skipped++
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)

	for _, job := range jobs {
		if ctx.Err() != nil || shortCircuit.Load() {
			record(outcomeSkipped)
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil || shortCircuit.Load() {
				record(outcomeSkipped)
				return nil
			}
			o := s.runJob(ctx, job, &shortCircuit)
			record(o)
			return nil
		})
	}

	_ = g.Wait()
	return report, ctx.Err()
}

// runJob processes a single job through claim, analyze, and status update.
// A panicking provider must not kill the worker pool.
func (s *Service) runJob(ctx context.Context, job *models.AnalysisJob, shortCircuit *atomic.Bool) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic analyzing job", "error", r, "job_id", job.ID)
			_ = s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
				store.WithErrorMessage("panic during analysis"))
			o = outcomeFailed
		}
	}()

	claimed, err := s.store.ClaimJob(ctx, job.ID)
	if err != nil {
		slog.Error("claiming job", "error", err, "job_id", job.ID)
		return outcomeSkipped
	}
	if !claimed {
		// Another worker or a duplicate retry firing holds the job.
		return outcomeSkipped
	}

	result, err := s.client.Analyze(ctx, job.ContentRef())
	if err != nil {
		return s.recordFailedJob(ctx, job, err, shortCircuit)
	}

	if result.Degraded() {
		return s.recordDegradedJob(ctx, job, result)
	}

	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithResult(result), store.WithClearSchedule()); err != nil {
		slog.Error("marking job completed", "error", err, "job_id", job.ID)
		return outcomeFailed
	}
	slog.Info("job completed", "job_id", job.ID, "score", result.Score, "verdict", result.Verdict)
	return outcomeSucceeded
}

// recordDegradedJob persists the fallback result and schedules a delayed
// re-attempt, or exhausts the job once the attempt budget is spent.
func (s *Service) recordDegradedJob(ctx context.Context, job *models.AnalysisJob, result models.ScoredResult) outcome {
	if job.AttemptCount >= s.cfg.MaxRetries {
		if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusExhausted,
			store.WithResult(result)); err != nil {
			slog.Error("marking job exhausted", "error", err, "job_id", job.ID)
			return outcomeFailed
		}
		slog.Warn("job exhausted, needs manual review",
			"job_id", job.ID, "attempt_count", job.AttemptCount)
		return outcomeDegraded
	}

	delay := s.retryDelay(job.AttemptCount)
	retryAt := time.Now().UTC().Add(delay)
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusDegraded,
		store.WithResult(result), store.WithScheduledAt(retryAt)); err != nil {
		slog.Error("marking job degraded", "error", err, "job_id", job.ID)
		return outcomeFailed
	}
	slog.Info("degraded result, retry scheduled",
		"job_id", job.ID, "attempt_count", job.AttemptCount, "retry_at", retryAt)
	return outcomeDegraded
}

// recordFailedJob maps an inference failure onto the job's next state.
// Transient failures leave the job pending for a future batch; only
// InvalidResponse is terminal.
func (s *Service) recordFailedJob(ctx context.Context, job *models.AnalysisJob, err error, shortCircuit *atomic.Bool) outcome {
	switch {
	case errors.Is(err, inference.ErrCircuitOpen):
		shortCircuit.Store(true)
		s.revertToPending(ctx, job, "circuit open")
		slog.Warn("circuit open, short-circuiting remainder of batch", "job_id", job.ID)
		return outcomeSkipped

	case errors.Is(err, inference.ErrInvalidResponse):
		if uerr := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
			store.WithErrorMessage(err.Error())); uerr != nil {
			slog.Error("marking job failed", "error", uerr, "job_id", job.ID)
		}
		slog.Error("invalid inference response", "error", err, "job_id", job.ID)
		return outcomeFailed

	default:
		// Transient (rate limited, upstream, timeout) and infrastructure
		// errors: retry-eligible on the next batch run.
		s.revertToPending(ctx, job, err.Error())
		slog.Warn("transient failure, job left pending", "error", err, "job_id", job.ID)
		return outcomeSkipped
	}
}

func (s *Service) revertToPending(ctx context.Context, job *models.AnalysisJob, reason string) {
	// The compensating write must survive the cancellation that triggered it,
	// or the job stays stranded in_progress.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPending,
		store.WithErrorMessage(reason)); err != nil {
		slog.Error("reverting job to pending", "error", err, "job_id", job.ID)
	}
}
