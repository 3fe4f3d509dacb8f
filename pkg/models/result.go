package models

import (
	"fmt"
	"time"
)

// QualityFlag marks whether a scored result is a genuine analysis or an
// upstream fallback. Degradation is decided by this flag only, never by the
// score value.
type QualityFlag string

const (
	QualityFull     QualityFlag = "full"
	QualityDegraded QualityFlag = "degraded"
)

// Verdicts the scoring rubric can return.
const (
	VerdictFreelyListen    = "freely_listen"
	VerdictContextRequired = "context_required"
	VerdictCautionLimit    = "caution_limit"
	VerdictAvoidFormation  = "avoid_formation"
)

var validVerdicts = map[string]bool{
	VerdictFreelyListen:    true,
	VerdictContextRequired: true,
	VerdictCautionLimit:    true,
	VerdictAvoidFormation:  true,
}

// ScoredResult is the normalized payload returned by the inference endpoint.
type ScoredResult struct {
	Score    int         `json:"score"`
	Verdict  string      `json:"verdict"`
	Themes   []string    `json:"themes"`
	Concerns []string    `json:"concerns"`
	Quality  QualityFlag `json:"quality"`
	Provider string      `json:"provider,omitempty"`
	Model    string      `json:"model,omitempty"`
}

// Degraded reports whether the result is an upstream fallback.
func (r ScoredResult) Degraded() bool {
	return r.Quality == QualityDegraded
}

// Validate checks the result against the fixed response schema.
func (r ScoredResult) Validate() error {
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("score %d out of range [0, 100]", r.Score)
	}
	if !validVerdicts[r.Verdict] {
		return fmt.Errorf("unknown verdict %q", r.Verdict)
	}
	if r.Quality != QualityFull && r.Quality != QualityDegraded {
		return fmt.Errorf("unknown quality flag %q", r.Quality)
	}
	return nil
}

// CacheEntry is a scored result keyed by content fingerprint plus model
// version. Changing the model version orphans prior entries; they are simply
// never matched again.
type CacheEntry struct {
	Fingerprint  string       `db:"fingerprint"   json:"fingerprint"`
	ModelVersion string       `db:"model_version" json:"model_version"`
	Payload      ScoredResult `db:"payload"       json:"payload"`
	WrittenAt    time.Time    `db:"written_at"    json:"written_at"`
}
