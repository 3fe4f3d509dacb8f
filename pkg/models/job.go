package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusDegraded   = "degraded"
	JobStatusFailed     = "failed"
	JobStatusExhausted  = "exhausted"
)

// AnalysisJob tracks one song-analysis attempt lineage. The API returns a
// job id on POST /api/v1/analyze; the client polls GET /api/v1/analyze/{job_id}
// until the job reaches a terminal state.
//
// completed, failed and exhausted are terminal. A degraded job re-enters
// pending when its scheduled retry fires, with attempt_count incremented.
type AnalysisJob struct {
	ID           uuid.UUID     `db:"id"            json:"id"`
	Fingerprint  string        `db:"fingerprint"   json:"fingerprint"`
	ModelVersion string        `db:"model_version" json:"model_version"`
	Title        string        `db:"title"         json:"title"`
	Artist       string        `db:"artist"        json:"artist"`
	Lyrics       string        `db:"lyrics"        json:"-"`
	Status       string        `db:"status"        json:"status"`
	AttemptCount int           `db:"attempt_count" json:"attempt_count"`
	ScheduledAt  *time.Time    `db:"scheduled_at"  json:"scheduled_at,omitempty"`
	LastResult   *ScoredResult `db:"last_result"   json:"last_result,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"    json:"updated_at"`
}

// ContentRef reconstructs the content reference the job was created from.
func (j *AnalysisJob) ContentRef() ContentRef {
	return ContentRef{Title: j.Title, Artist: j.Artist, Lyrics: j.Lyrics}
}

// Terminal reports whether the job can still change state automatically.
func (j *AnalysisJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusExhausted:
		return true
	}
	return false
}

// BatchReport aggregates per-job outcomes of one RunBatch call.
type BatchReport struct {
	Succeeded int `json:"succeeded"`
	Degraded  int `json:"degraded"`
	Failed    int `json:"failed"`
	// Skipped counts jobs left pending: transient failures, cancellation,
	// or short-circuiting after the breaker opened.
	Skipped int `json:"skipped"`
}
