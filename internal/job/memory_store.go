package job

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory job store for development mode and tests.
type MemoryStore struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (m *MemoryStore) Create(ctx context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, j *Job, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[j.ID]
	if !ok {
		return ErrJobNotFound
	}
	if stored.Status != expect {
		return ErrStatusConflict
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryStore) Claim(ctx context.Context, id, providerID string, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if stored.Status != StatusPending {
		return nil, ErrJobAlreadyClaimed
	}

	stored.Status = StatusInProgress
	stored.ProviderID = providerID
	stored.UpdatedAt = now
	cp := *stored
	return &cp, nil
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Job, error) {
	return m.list(func(j *Job) bool { return j.CustomerID == customerID }, limit), nil
}

func (m *MemoryStore) ListByProvider(ctx context.Context, providerID string, limit int) ([]*Job, error) {
	return m.list(func(j *Job) bool { return j.ProviderID == providerID }, limit), nil
}

func (m *MemoryStore) ListConfirmationDue(ctx context.Context, before time.Time, limit int) ([]*Job, error) {
	return m.list(func(j *Job) bool {
		return j.Status == StatusPendingConfirmation &&
			j.ConfirmBy != nil && j.ConfirmBy.Before(before)
	}, limit), nil
}

func (m *MemoryStore) list(match func(*Job) bool, limit int) []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Job
	for _, j := range m.jobs {
		if match(j) {
			cp := *j
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
