package release

import (
	"context"
	"sync"
	"time"
)

// Store persists transfer records.
type Store interface {
	Create(ctx context.Context, t *Transfer) error
	ListByJob(ctx context.Context, jobID string) ([]*Transfer, error)
	MarkReversed(ctx context.Context, id, reversalID string, at time.Time) error
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Transfer
	byJob map[string][]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Transfer),
		byJob: make(map[string][]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, t *Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.byID[t.ID] = &cp
	s.byJob[t.JobID] = append(s.byJob[t.JobID], t.ID)
	return nil
}

func (s *MemoryStore) ListByJob(ctx context.Context, jobID string) ([]*Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byJob[jobID]
	out := make([]*Transfer, 0, len(ids))
	for _, id := range ids {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkReversed(ctx context.Context, id, reversalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return ErrTransferNotFound
	}
	t.Status = TransferReversed
	t.ReversalID = reversalID
	t.ReversedAt = &at
	return nil
}
