package inference_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmckinley/versecheck/internal/breaker"
	"github.com/jmckinley/versecheck/internal/cache"
	"github.com/jmckinley/versecheck/internal/inference"
	"github.com/jmckinley/versecheck/internal/inference/mock"
	"github.com/jmckinley/versecheck/internal/limiter"
	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

type clientFixture struct {
	client  *inference.Client
	store   *store.MemStore
	breaker *breaker.Breaker
}

func newClientFixture(t *testing.T, provider models.ScoreProvider, opts ...func(*clientFixture)) *clientFixture {
	t.Helper()
	f := &clientFixture{
		store:   store.NewMemStore(),
		breaker: breaker.New(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(f)
	}
	tiered := cache.NewTiered(cache.NewMemoryCache(16), f.store, time.Hour)
	li := limiter.New(60000, 1000, 10)
	f.client = inference.NewClient(provider, tiered, li, f.breaker, "v1", 2*time.Second, 100*time.Millisecond)
	return f
}

func withBreaker(br *breaker.Breaker) func(*clientFixture) {
	return func(f *clientFixture) { f.breaker = br }
}

func testRef() models.ContentRef {
	return models.ContentRef{
		Title:  "Amazing Grace",
		Artist: "John Newton",
		Lyrics: "Amazing grace, how sweet the sound",
	}
}

func TestAnalyzeWritesThroughCache(t *testing.T) {
	var calls atomic.Int32
	provider := &mock.MockProvider{
		Name_: "counting",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			calls.Add(1)
			return models.ScoredResult{
				Score:   90,
				Verdict: models.VerdictFreelyListen,
				Quality: models.QualityFull,
			}, nil
		},
	}
	f := newClientFixture(t, provider)
	ctx := context.Background()

	first, err := f.client.Analyze(ctx, testRef())
	require.NoError(t, err)
	assert.Equal(t, 90, first.Score)
	assert.Equal(t, "counting", first.Provider)

	// Second call must come out of the cache without touching the provider.
	second, err := f.client.Analyze(ctx, testRef())
	require.NoError(t, err)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, int32(1), calls.Load())

	entry, err := f.store.LoadCacheEntry(ctx, testRef().Fingerprint(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 90, entry.Payload.Score)
	assert.False(t, entry.WrittenAt.IsZero())
}

func TestAnalyzeCircuitOpenShortCircuits(t *testing.T) {
	var calls atomic.Int32
	provider := &mock.MockProvider{
		Name_: "counting",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			calls.Add(1)
			return models.ScoredResult{}, nil
		},
	}
	br := breaker.New(1, time.Hour)
	br.RecordFailure()
	f := newClientFixture(t, provider, withBreaker(br))

	_, err := f.client.Analyze(context.Background(), testRef())
	assert.ErrorIs(t, err, inference.ErrCircuitOpen)
	assert.Equal(t, int32(0), calls.Load())
}

func TestAnalyzeCacheHitBypassesOpenCircuit(t *testing.T) {
	br := breaker.New(1, time.Hour)
	br.RecordFailure()
	f := newClientFixture(t, mock.NewFailingProvider(inference.ErrUpstream), withBreaker(br))
	ctx := context.Background()

	require.NoError(t, f.store.SaveCacheEntry(ctx, &models.CacheEntry{
		Fingerprint:  testRef().Fingerprint(),
		ModelVersion: "v1",
		Payload: models.ScoredResult{
			Score:   75,
			Verdict: models.VerdictContextRequired,
			Quality: models.QualityFull,
		},
		WrittenAt: time.Now().UTC(),
	}))

	result, err := f.client.Analyze(ctx, testRef())
	require.NoError(t, err)
	assert.Equal(t, 75, result.Score)
}

func TestAnalyzeUpstreamFailuresOpenBreaker(t *testing.T) {
	br := breaker.New(2, time.Hour)
	f := newClientFixture(t, mock.NewFailingProvider(inference.ErrUpstream), withBreaker(br))
	ctx := context.Background()

	_, err := f.client.Analyze(ctx, testRef())
	assert.ErrorIs(t, err, inference.ErrUpstream)
	assert.Equal(t, breaker.StateClosed, br.State())

	_, err = f.client.Analyze(ctx, testRef())
	assert.ErrorIs(t, err, inference.ErrUpstream)
	assert.Equal(t, breaker.StateOpen, br.State())

	_, err = f.client.Analyze(ctx, testRef())
	assert.ErrorIs(t, err, inference.ErrCircuitOpen)
}

func TestAnalyzeRateLimitedPenalizesLimiter(t *testing.T) {
	var calls atomic.Int32
	provider := &mock.MockProvider{
		Name_: "flapping",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			if calls.Add(1) == 1 {
				return models.ScoredResult{}, inference.ErrRateLimited
			}
			return models.ScoredResult{
				Score:   80,
				Verdict: models.VerdictFreelyListen,
				Quality: models.QualityFull,
			}, nil
		},
	}
	f := newClientFixture(t, provider)
	ctx := context.Background()

	_, err := f.client.Analyze(ctx, testRef())
	require.ErrorIs(t, err, inference.ErrRateLimited)

	// The 100ms penalty window must delay the next acquisition.
	start := time.Now()
	result, err := f.client.Analyze(ctx, testRef())
	require.NoError(t, err)
	assert.Equal(t, 80, result.Score)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestAnalyzeTimeout(t *testing.T) {
	br := breaker.New(5, time.Hour)
	f := newClientFixture(t, mock.NewTimeoutProvider(), withBreaker(br))

	tiered := cache.NewTiered(nil, f.store, time.Hour)
	li := limiter.New(60000, 1000, 10)
	client := inference.NewClient(mock.NewTimeoutProvider(), tiered, li, br, "v1", 50*time.Millisecond, time.Second)

	start := time.Now()
	_, err := client.Analyze(context.Background(), testRef())
	assert.ErrorIs(t, err, inference.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAnalyzeInvalidResultLeavesBreakerClosed(t *testing.T) {
	provider := &mock.MockProvider{
		Name_: "out-of-range",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			return models.ScoredResult{
				Score:   150,
				Verdict: models.VerdictFreelyListen,
				Quality: models.QualityFull,
			}, nil
		},
	}
	br := breaker.New(1, time.Hour)
	f := newClientFixture(t, provider, withBreaker(br))

	_, err := f.client.Analyze(context.Background(), testRef())
	assert.ErrorIs(t, err, inference.ErrInvalidResponse)
	// The endpoint answered; a schema problem must not trip the breaker.
	assert.Equal(t, breaker.StateClosed, br.State())
}

func TestAnalyzeInvalidTrialDoesNotWedgeBreaker(t *testing.T) {
	var calls atomic.Int32
	provider := &mock.MockProvider{
		Name_: "recovering",
		ScoreFunc: func(_ context.Context, _ models.ContentRef) (models.ScoredResult, error) {
			switch calls.Add(1) {
			case 1:
				return models.ScoredResult{}, inference.ErrUpstream
			case 2:
				// Endpoint is back up but answers out of schema.
				return models.ScoredResult{
					Score:   150,
					Verdict: models.VerdictFreelyListen,
					Quality: models.QualityFull,
				}, nil
			default:
				return models.ScoredResult{
					Score:   88,
					Verdict: models.VerdictFreelyListen,
					Quality: models.QualityFull,
				}, nil
			}
		},
	}
	br := breaker.New(1, 50*time.Millisecond)
	f := newClientFixture(t, provider, withBreaker(br))
	ctx := context.Background()

	_, err := f.client.Analyze(ctx, testRef())
	require.ErrorIs(t, err, inference.ErrUpstream)
	require.Equal(t, breaker.StateOpen, br.State())

	time.Sleep(60 * time.Millisecond)

	// The half_open trial answers with an out-of-schema payload.
	_, err = f.client.Analyze(ctx, testRef())
	require.ErrorIs(t, err, inference.ErrInvalidResponse)

	// The trial slot was released, so a healthy upstream is probed again and
	// closes the breaker.
	result, err := f.client.Analyze(ctx, testRef())
	require.NoError(t, err)
	assert.Equal(t, 88, result.Score)
	assert.Equal(t, breaker.StateClosed, br.State())
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnalyzeAbortedTrialDoesNotWedgeBreaker(t *testing.T) {
	br := breaker.New(1, 50*time.Millisecond)
	f := newClientFixture(t, mock.NewMockProvider(), withBreaker(br))

	br.RecordFailure()
	require.Equal(t, breaker.StateOpen, br.State())
	time.Sleep(60 * time.Millisecond)

	// The trial caller gives up before the limiter admits it.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.client.Analyze(cancelled, testRef())
	require.ErrorIs(t, err, inference.ErrTimeout)
	require.Equal(t, breaker.StateHalfOpen, br.State())

	// The aborted call must not hold the trial slot.
	result, err := f.client.Analyze(context.Background(), testRef())
	require.NoError(t, err)
	assert.Equal(t, 96, result.Score)
	assert.Equal(t, breaker.StateClosed, br.State())
}

func TestAnalyzePersistFailureSurfaces(t *testing.T) {
	f := newClientFixture(t, mock.NewMockProvider())
	f.store.SaveCacheEntryFunc = func(_ context.Context, _ *models.CacheEntry) error {
		return assert.AnError
	}

	_, err := f.client.Analyze(context.Background(), testRef())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAnalyzeDegradedResultIsCached(t *testing.T) {
	f := newClientFixture(t, mock.NewDegradedProvider())
	ctx := context.Background()

	result, err := f.client.Analyze(ctx, testRef())
	require.NoError(t, err)
	assert.True(t, result.Degraded())

	entry, err := f.store.LoadCacheEntry(ctx, testRef().Fingerprint(), "v1")
	require.NoError(t, err)
	assert.Equal(t, models.QualityDegraded, entry.Payload.Quality)
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, inference.Transient(inference.ErrRateLimited))
	assert.True(t, inference.Transient(inference.ErrUpstream))
	assert.True(t, inference.Transient(inference.ErrTimeout))
	assert.False(t, inference.Transient(inference.ErrInvalidResponse))
	assert.False(t, inference.Transient(inference.ErrCircuitOpen))
}
