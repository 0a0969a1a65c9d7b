package connect

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	byProvider  map[string]*Account
	byProcessor map[string]*Account
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byProvider:  make(map[string]*Account),
		byProcessor: make(map[string]*Account),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byProvider[a.ProviderID]; ok {
		return ErrAccountExists
	}
	cp := copyAccount(a)
	s.byProvider[a.ProviderID] = cp
	s.byProcessor[a.ProcessorAccountID] = cp
	return nil
}

func (s *MemoryStore) GetByProvider(ctx context.Context, providerID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byProvider[providerID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) GetByProcessorID(ctx context.Context, processorAccountID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byProcessor[processorAccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byProvider[a.ProviderID]; !ok {
		return ErrAccountNotFound
	}
	cp := copyAccount(a)
	s.byProvider[a.ProviderID] = cp
	s.byProcessor[a.ProcessorAccountID] = cp
	return nil
}

func copyAccount(a *Account) *Account {
	cp := *a
	cp.RequirementsDue = append([]string(nil), a.RequirementsDue...)
	return &cp
}
