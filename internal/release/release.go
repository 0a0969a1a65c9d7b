// Package release moves held funds when a job completes: capture the
// customer's authorized payment, then pay out the three-way split as
// transfers to the provider and the two platform partner accounts.
//
// Each leg is written through the processor with a deterministic
// idempotency key, so a crashed or retried release converges instead of
// double-paying. Partial failure is recorded and alerted, never rolled
// back automatically.
package release

import (
	"errors"
	"time"
)

var (
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrPartialTransferFailure: capture succeeded but at least one
	// payout leg failed. The job stays completed; the recorded transfer
	// rows plus the raised alert tell the operator exactly which legs
	// still owe money.
	ErrPartialTransferFailure = errors.New("partial transfer failure")

	// ErrPaymentNotCapturable: the intent is not in a state funds can be
	// captured from (never authorized, or already canceled).
	ErrPaymentNotCapturable = errors.New("payment not capturable")
)

// Roles of the three payout legs.
const (
	RoleProvider = "provider"
	RolePartnerA = "partner_a"
	RolePartnerB = "partner_b"
)

// TransferStatus tracks a leg's lifecycle.
type TransferStatus string

const (
	TransferCreated  TransferStatus = "created"
	TransferReversed TransferStatus = "reversed"
)

// Transfer is the durable record of one payout leg.
type Transfer struct {
	ID                   string         `json:"id"`
	JobID                string         `json:"jobId"`
	Role                 string         `json:"role"`
	DestinationAccountID string         `json:"destinationAccountId"`
	ProcessorTransferID  string         `json:"processorTransferId"`
	AmountCents          int64          `json:"amountCents"`
	Currency             string         `json:"currency"`
	Status               TransferStatus `json:"status"`
	ReversalID           string         `json:"reversalId,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	ReversedAt           *time.Time     `json:"reversedAt,omitempty"`
}
