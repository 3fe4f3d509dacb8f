package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

// SlowTier is the durable tier of the result cache, backed by the persistent
// store. A missing entry is signalled with store.ErrNotFound.
type SlowTier interface {
	LoadCacheEntry(ctx context.Context, fingerprint, modelVersion string) (*models.CacheEntry, error)
	SaveCacheEntry(ctx context.Context, entry *models.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, fingerprint, modelVersion string) error
}

// Tiered is the two-tier result cache: a fast key-value tier in front of the
// durable store. Fast-tier failures degrade to slow-tier-only operation;
// slow-tier failures on Put surface as errors, since a result that cannot be
// persisted must not be treated as cached.
type Tiered struct {
	fast FastCache
	slow SlowTier
	ttl  time.Duration
}

// NewTiered creates a Tiered cache. fast may be nil for slow-tier-only
// operation. ttl bounds how long promoted entries live in the fast tier.
func NewTiered(fast FastCache, slow SlowTier, ttl time.Duration) *Tiered {
	return &Tiered{fast: fast, slow: slow, ttl: ttl}
}

// Get looks up a scored result by fingerprint and model version. A slow-tier
// hit is promoted back into the fast tier.
func (t *Tiered) Get(ctx context.Context, fingerprint, modelVersion string) (*models.CacheEntry, bool, error) {
	if t.fast != nil {
		raw, found, err := t.fast.Get(ctx, ResultKey(fingerprint, modelVersion))
		if err != nil {
			slog.Warn("fast cache tier unavailable, falling through", "error", err)
		} else if found {
			var entry models.CacheEntry
			if err := json.Unmarshal(raw, &entry); err == nil {
				return &entry, true, nil
			}
			// Corrupt fast-tier payload: drop it and fall through to the store.
			_ = t.fast.Delete(ctx, ResultKey(fingerprint, modelVersion))
		}
	}

	entry, err := t.slow.LoadCacheEntry(ctx, fingerprint, modelVersion)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading cache entry: %w", err)
	}

	t.promote(ctx, entry)
	return entry, true, nil
}

// Put writes the entry synchronously to the slow tier and best-effort to the
// fast tier. Overwrites any prior entry for the same key.
func (t *Tiered) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry.WrittenAt.IsZero() {
		entry.WrittenAt = time.Now().UTC()
	}
	if err := t.slow.SaveCacheEntry(ctx, entry); err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	t.promote(ctx, entry)
	return nil
}

// Delete removes the entry from both tiers. Used when a degraded result is
// retried and its stale payload must not be served meanwhile.
func (t *Tiered) Delete(ctx context.Context, fingerprint, modelVersion string) error {
	if t.fast != nil {
		if err := t.fast.Delete(ctx, ResultKey(fingerprint, modelVersion)); err != nil {
			slog.Warn("deleting from fast cache tier", "error", err)
		}
	}
	if err := t.slow.DeleteCacheEntry(ctx, fingerprint, modelVersion); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

func (t *Tiered) promote(ctx context.Context, entry *models.CacheEntry) {
	if t.fast == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := t.fast.Set(ctx, ResultKey(entry.Fingerprint, entry.ModelVersion), raw, t.ttl); err != nil {
		slog.Warn("promoting entry to fast cache tier", "error", err)
	}
}
