package models

import "context"

// ScoreProvider is the core interface every inference backend must implement.
// Never call a specific backend directly — always inject this interface.
type ScoreProvider interface {
	// Score evaluates the lyrics of the given content against the scoring
	// rubric and returns the raw, unvalidated result.
	Score(ctx context.Context, ref ContentRef) (ScoredResult, error)
	// Name returns the backend identifier (e.g., "http", "mock").
	Name() string
}
