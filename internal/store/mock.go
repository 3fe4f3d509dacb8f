package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmckinley/versecheck/pkg/models"
)

// MemStore is an in-memory Store for tests. It mirrors PostgresStore's
// semantics: fingerprint uniqueness, the claim CAS, and the status
// transition table. Individual methods can be overridden via the Func
// fields to inject failures.
type MemStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.AnalysisJob
	entries map[string]*models.CacheEntry

	ClaimJobFunc        func(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateJobStatusFunc func(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	SaveCacheEntryFunc  func(ctx context.Context, entry *models.CacheEntry) error
	LoadCacheEntryFunc  func(ctx context.Context, fingerprint, modelVersion string) (*models.CacheEntry, error)
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:    make(map[uuid.UUID]*models.AnalysisJob),
		entries: make(map[string]*models.CacheEntry),
	}
}

func (m *MemStore) Ping(_ context.Context) error { return nil }

func (m *MemStore) CreateJob(_ context.Context, job *models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Fingerprint == job.Fingerprint && j.ModelVersion == job.ModelVersion {
			return ErrDuplicateKey
		}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemStore) GetJob(_ context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemStore) GetJobByFingerprint(_ context.Context, fingerprint, modelVersion string) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Fingerprint == fingerprint && j.ModelVersion == modelVersion {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) ListPendingJobs(_ context.Context, limit int) ([]*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AnalysisJob
	for _, j := range m.jobs {
		if j.Status == models.JobStatusPending {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AnalysisJob
	for _, j := range m.jobs {
		if j.Status == models.JobStatusDegraded && j.ScheduledAt != nil && !j.ScheduledAt.After(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ScheduledAt.Before(*out[k].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.ClaimJobFunc != nil {
		return m.ClaimJobFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusPending {
		return false, nil
	}
	job.Status = models.JobStatusInProgress
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	if m.UpdateJobStatusFunc != nil {
		return m.UpdateJobStatusFunc(ctx, id, status, opts...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}

	valid := false
	for _, a := range validTransitions[job.Status] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", job.Status, status)
	}

	var p jobUpdateParams
	for _, opt := range opts {
		opt(&p)
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if p.ErrorMessage != nil {
		job.ErrorMessage = p.ErrorMessage
	}
	if p.Result != nil {
		job.LastResult = p.Result
	}
	if p.ClearResult {
		job.LastResult = nil
	}
	if p.ScheduledAt != nil {
		job.ScheduledAt = p.ScheduledAt
	}
	if p.ClearSchedule {
		job.ScheduledAt = nil
	}
	if p.AttemptCount != nil {
		job.AttemptCount = *p.AttemptCount
	}
	return nil
}

func (m *MemStore) LoadCacheEntry(ctx context.Context, fingerprint, modelVersion string) (*models.CacheEntry, error) {
	if m.LoadCacheEntryFunc != nil {
		return m.LoadCacheEntryFunc(ctx, fingerprint, modelVersion)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[fingerprint+"\x00"+modelVersion]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *MemStore) SaveCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	if m.SaveCacheEntryFunc != nil {
		return m.SaveCacheEntryFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries[entry.Fingerprint+"\x00"+entry.ModelVersion] = &cp
	return nil
}

func (m *MemStore) DeleteCacheEntry(_ context.Context, fingerprint, modelVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fingerprint+"\x00"+modelVersion)
	return nil
}

// Compile-time check that MemStore implements Store.
var _ Store = (*MemStore)(nil)
