// Package inference is the single chokepoint for calls to the external
// scoring endpoint. Every call is gated by the circuit breaker and the rate
// limiter, and every well-formed result is written through the two-tier cache.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmckinley/versecheck/internal/breaker"
	"github.com/jmckinley/versecheck/internal/cache"
	"github.com/jmckinley/versecheck/internal/limiter"
	"github.com/jmckinley/versecheck/pkg/models"
)

// Client drives analysis of one content item through cache, breaker, limiter
// and provider. It is the sole writer of cache entries.
type Client struct {
	provider models.ScoreProvider
	cache    *cache.Tiered
	limiter  *limiter.Limiter
	breaker  *breaker.Breaker

	modelVersion    string
	requestTimeout  time.Duration
	penaltyCooldown time.Duration
}

// NewClient creates a Client. The breaker and limiter are injected rather
// than ambient so tests can substitute fakes; construct them once at startup.
func NewClient(provider models.ScoreProvider, ca *cache.Tiered, li *limiter.Limiter, br *breaker.Breaker,
	modelVersion string, requestTimeout, penaltyCooldown time.Duration) *Client {
	return &Client{
		provider:        provider,
		cache:           ca,
		limiter:         li,
		breaker:         br,
		modelVersion:    modelVersion,
		requestTimeout:  requestTimeout,
		penaltyCooldown: penaltyCooldown,
	}
}

// ModelVersion returns the scoring model/prompt version the client tags
// results with.
func (c *Client) ModelVersion() string { return c.modelVersion }

// Analyze returns a scored result for the content, from cache when possible.
// Cache hits involve neither the rate limiter nor the circuit breaker.
//
// Degraded results are well-formed and are cached like any other; the caller
// decides whether to schedule a re-attempt based on the quality flag.
func (c *Client) Analyze(ctx context.Context, ref models.ContentRef) (models.ScoredResult, error) {
	fingerprint := ref.Fingerprint()

	entry, found, err := c.cache.Get(ctx, fingerprint, c.modelVersion)
	if err != nil {
		return models.ScoredResult{}, err
	}
	if found {
		return entry.Payload, nil
	}

	if !c.breaker.Allow() {
		return models.ScoredResult{}, ErrCircuitOpen
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		// The endpoint was never reached; a half_open trial slot must not
		// stay held by a call that learned nothing.
		c.breaker.ReleaseTrial()
		return models.ScoredResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer c.limiter.Release()

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	result, err := c.provider.Score(callCtx, ref)
	if err != nil {
		return models.ScoredResult{}, c.recordFailure(err)
	}

	if err := result.Validate(); err != nil {
		// Schema mismatch is a different failure class from upstream outage:
		// the endpoint answered, so no failure is recorded. The trial slot is
		// still released so a half_open breaker can probe again.
		c.breaker.ReleaseTrial()
		return models.ScoredResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	c.breaker.RecordSuccess()

	result.Provider = c.provider.Name()
	if err := c.cache.Put(ctx, &models.CacheEntry{
		Fingerprint:  fingerprint,
		ModelVersion: c.modelVersion,
		Payload:      result,
		WrittenAt:    time.Now().UTC(),
	}); err != nil {
		// A result that cannot be persisted must not be reported as cached.
		return models.ScoredResult{}, err
	}

	return result, nil
}

// recordFailure classifies a provider error, updates the breaker, and applies
// the limiter penalty on upstream throttling.
func (c *Client) recordFailure(err error) error {
	switch {
	case errors.Is(err, ErrRateLimited):
		c.breaker.RecordFailure()
		c.limiter.Penalize(c.penaltyCooldown)
		slog.Warn("upstream throttled inference call, limiter penalized",
			"cooldown", c.penaltyCooldown)
		return err
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUpstream):
		c.breaker.RecordFailure()
		return err
	case errors.Is(err, context.DeadlineExceeded):
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, ErrInvalidResponse):
		c.breaker.ReleaseTrial()
		return err
	default:
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}
