package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmckinley/versecheck/internal/api/response"
	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

// AnalysisService defines the interface the handlers depend on.
type AnalysisService interface {
	Enqueue(ctx context.Context, ref models.ContentRef) (*models.AnalysisJob, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	PendingJobs(ctx context.Context, limit int) ([]*models.AnalysisJob, error)
	RunBatch(ctx context.Context, jobs []*models.AnalysisJob) (models.BatchReport, error)
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/analyze.
// Submission is idempotent: re-submitting identical content returns the
// existing job rather than creating a duplicate.
func NewAnalyzeHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title  string `json:"title"`
			Artist string `json:"artist"`
			Lyrics string `json:"lyrics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Title == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "title is required", nil)
			return
		}
		if req.Lyrics == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "lyrics is required", nil)
			return
		}

		job, err := svc.Enqueue(r.Context(), models.ContentRef{
			Title:  req.Title,
			Artist: req.Artist,
			Lyrics: req.Lyrics,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, job)
	}
}

// NewPollJobHandler returns an http.HandlerFunc for GET /api/v1/analyze/{jobID}.
// Clients poll until the job reaches a terminal state.
func NewPollJobHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := svc.GetStatus(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No job with that ID", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewRunBatchHandler returns an http.HandlerFunc for POST /api/v1/analyze/run.
// It dispatches up to limit pending jobs immediately instead of waiting for
// the next poll tick, and reports the per-outcome counts.
func NewRunBatchHandler(svc AnalysisService, limit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := svc.PendingJobs(r.Context(), limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		report, err := svc.RunBatch(r.Context(), jobs)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Batch run aborted", report)
			return
		}

		response.JSON(w, runBatchResponse{
			Dispatched: len(jobs),
			Report:     report,
		})
	}
}

type runBatchResponse struct {
	Dispatched int                `json:"dispatched"`
	Report     models.BatchReport `json:"report"`
}
