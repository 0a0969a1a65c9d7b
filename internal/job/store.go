package job

import (
	"context"
	"time"
)

// Store persists job data.
//
// Update and Claim are conditional on the job's current status so that
// concurrent transitions are serialized at the data layer rather than by
// in-process locks alone (required for correctness with more than one
// service instance).
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// Update persists j only if the stored status still equals expect.
	// Returns ErrStatusConflict otherwise.
	Update(ctx context.Context, j *Job, expect Status) error

	// Claim atomically assigns providerID and moves pending → in_progress.
	// The first claimant wins; later claimants get ErrJobAlreadyClaimed.
	Claim(ctx context.Context, id, providerID string, now time.Time) (*Job, error)

	// ListByCustomer and ListByProvider return recent jobs for an actor.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Job, error)
	ListByProvider(ctx context.Context, providerID string, limit int) ([]*Job, error)

	// ListConfirmationDue returns jobs in pending_confirmation whose
	// confirmation deadline is strictly before the given time.
	ListConfirmationDue(ctx context.Context, before time.Time, limit int) ([]*Job, error)
}
