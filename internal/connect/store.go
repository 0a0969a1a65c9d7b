package connect

import "context"

// Store persists payout accounts. A provider has at most one account;
// lookups by processor account ID serve the webhook reconciliation path.
type Store interface {
	Create(ctx context.Context, a *Account) error
	GetByProvider(ctx context.Context, providerID string) (*Account, error)
	GetByProcessorID(ctx context.Context, processorAccountID string) (*Account, error)
	Update(ctx context.Context, a *Account) error
}
