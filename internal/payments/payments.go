// Package payments owns the customer-facing side of the money flow:
// creating manual-capture intents for jobs and answering intent lookups.
package payments

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrIntentNotFound = errors.New("payment intent not found")

	// ErrInFlight means another request is creating the intent for the
	// same job right now.
	ErrInFlight = errors.New("intent creation in flight")
)

// IdempotencyStore deduplicates intent creation per job. PutInFlight is a
// compare-and-set: it succeeds for exactly one concurrent caller per key.
// With a shared durable implementation the guarantee extends across
// service instances; the in-memory implementation covers a single node.
type IdempotencyStore interface {
	// Get returns the recorded intent ID for key, or ErrIntentNotFound.
	// It returns ErrInFlight while another caller holds the key.
	Get(ctx context.Context, key string) (string, error)

	// PutInFlight claims key for the caller. Returns false if the key is
	// already claimed or completed.
	PutInFlight(ctx context.Context, key string) (bool, error)

	// Complete records the final intent ID for a claimed key.
	Complete(ctx context.Context, key, intentID string) error

	// Delete releases a claimed key after a failed creation so a later
	// attempt can retry.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	intentID string
	inFlight bool
	since    time.Time
}

// MemoryIdempotencyStore is the single-node IdempotencyStore. In-flight
// claims expire after a minute so a crashed request cannot wedge a job.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

var _ IdempotencyStore = (*MemoryIdempotencyStore)(nil)

const inFlightTTL = time.Minute

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", ErrIntentNotFound
	}
	if e.inFlight {
		if time.Since(e.since) > inFlightTTL {
			delete(s.entries, key)
			return "", ErrIntentNotFound
		}
		return "", ErrInFlight
	}
	return e.intentID, nil
}

func (s *MemoryIdempotencyStore) PutInFlight(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok {
		if e.inFlight && time.Since(e.since) > inFlightTTL {
			delete(s.entries, key)
		} else {
			return false, nil
		}
	}
	s.entries[key] = &memoryEntry{inFlight: true, since: time.Now()}
	return true, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memoryEntry{intentID: intentID}
	return nil
}

func (s *MemoryIdempotencyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}
