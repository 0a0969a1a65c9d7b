// Package processor is the boundary around the hosted payment processor.
//
// Everything the service needs from the processor (manual-capture payment
// intents, transfers and reversals, connected accounts, onboarding links)
// is expressed through the Client interface so the rest of the codebase
// stays vendor-agnostic. The concrete implementation talks to Stripe.
package processor

import (
	"context"
	"errors"
)

// Error taxonomy. Callers branch on these with errors.Is; only
// ErrUnavailable is retryable.
var (
	// ErrDeclined: the processor rejected the charge attempt. Surfaced to
	// the end user to try another instrument; never retried automatically.
	ErrDeclined = errors.New("payment declined")

	// ErrUnavailable: transient processor or network failure. Retryable
	// with backoff; idempotency keys make retries safe.
	ErrUnavailable = errors.New("payment provider unavailable")

	// ErrInvalidRequest: the caller supplied malformed or missing data.
	// Not retryable; fix the caller.
	ErrInvalidRequest = errors.New("invalid payment request")
)

// IntentStatus mirrors the processor's payment-intent lifecycle.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresCapture       IntentStatus = "requires_capture" // authorized, funds held
	IntentSucceeded             IntentStatus = "succeeded"        // captured
	IntentCanceled              IntentStatus = "canceled"
)

// Intent is a processor-side payment intent. Capture mode is always
// manual: authorization holds the funds, capture moves them. That two-step
// charge is the escrow mechanism.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	AmountCents  int64             `json:"amountCents"`
	Currency     string            `json:"currency"`
	Status       IntentStatus      `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Account is a connected payout sub-account.
type Account struct {
	ID               string   `json:"id"`
	DetailsSubmitted bool     `json:"detailsSubmitted"`
	ChargesEnabled   bool     `json:"chargesEnabled"`
	PayoutsEnabled   bool     `json:"payoutsEnabled"`
	RequirementsDue  []string `json:"requirementsDue,omitempty"`
}

// Transfer is a movement of captured platform funds to a connected account.
type Transfer struct {
	ID                   string `json:"id"`
	DestinationAccountID string `json:"destinationAccountId"`
	AmountCents          int64  `json:"amountCents"`
	Currency             string `json:"currency"`
}

// Reversal undoes a transfer, fully or partially.
type Reversal struct {
	ID          string `json:"id"`
	TransferID  string `json:"transferId"`
	AmountCents int64  `json:"amountCents"`
}

// CreateIntentParams are the inputs for a manual-capture intent.
type CreateIntentParams struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateTransferParams are the inputs for a release transfer.
type CreateTransferParams struct {
	AmountCents          int64
	Currency             string
	DestinationAccountID string
	TransferGroup        string
	Metadata             map[string]string
	IdempotencyKey       string
}

// Client is everything the service needs from the payment processor.
// All calls are blocking network calls: implementations apply timeouts,
// and callers must treat ErrUnavailable distinctly from business failures.
type Client interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	CaptureIntent(ctx context.Context, id string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) (*Intent, error)
	RefundIntent(ctx context.Context, id, idempotencyKey string) (refundID string, err error)

	CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error)
	ReverseTransfer(ctx context.Context, transferID string, amountCents int64, idempotencyKey string) (*Reversal, error)

	CreateAccount(ctx context.Context, email, name string) (*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	CreateAccountLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error)
	CreateLoginLink(ctx context.Context, accountID string) (string, error)
}
