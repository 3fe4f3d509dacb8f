// Package mock provides a ScoreProvider test double.
package mock

import (
	"context"

	"github.com/jmckinley/versecheck/internal/inference"
	"github.com/jmckinley/versecheck/pkg/models"
)

// MockProvider satisfies models.ScoreProvider for testing.
type MockProvider struct {
	Name_     string
	ScoreFunc func(ctx context.Context, ref models.ContentRef) (models.ScoredResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Score(ctx context.Context, ref models.ContentRef) (models.ScoredResult, error) {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, ref)
	}
	return models.ScoredResult{}, nil
}

// NewMockProvider returns a MockProvider producing a full-quality result.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			return models.ScoredResult{
				Score:   96,
				Verdict: models.VerdictFreelyListen,
				Themes:  []string{"grace", "redemption"},
				Quality: models.QualityFull,
				Model:   "mock-v1",
			}, nil
		},
	}
}

// NewDegradedProvider returns a MockProvider producing a fallback result
// flagged as degraded.
func NewDegradedProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-degraded",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			return models.ScoredResult{
				Score:    50,
				Verdict:  models.VerdictContextRequired,
				Concerns: []string{"analysis unavailable"},
				Quality:  models.QualityDegraded,
				Model:    "mock-v1",
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			return models.ScoredResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ScoreFunc: func(ctx context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			<-ctx.Done()
			return models.ScoredResult{}, inference.ErrTimeout
		},
	}
}

// Compile-time check that MockProvider implements ScoreProvider.
var _ models.ScoreProvider = (*MockProvider)(nil)
