// Package connect manages provider payout accounts: creating connected
// sub-accounts at the processor, walking providers through hosted
// onboarding, and tracking whether an account is allowed to receive
// transfers.
package connect

import (
	"errors"
	"time"
)

var (
	ErrAccountNotFound = errors.New("payout account not found")

	// ErrAccountExists: the provider already has a payout account.
	ErrAccountExists = errors.New("payout account already exists")

	// ErrOnboardingIncomplete: the account cannot receive transfers yet.
	ErrOnboardingIncomplete = errors.New("payout onboarding incomplete")
)

// Account links a provider to their connected payout account at the
// processor, with a cached snapshot of its onboarding state.
type Account struct {
	ID                 string    `json:"id"`
	ProviderID         string    `json:"providerId"`
	ProcessorAccountID string    `json:"processorAccountId"`
	Email              string    `json:"email"`
	DisplayName        string    `json:"displayName,omitempty"`
	DetailsSubmitted   bool      `json:"detailsSubmitted"`
	ChargesEnabled     bool      `json:"chargesEnabled"`
	PayoutsEnabled     bool      `json:"payoutsEnabled"`
	RequirementsDue    []string  `json:"requirementsDue,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// PayoutsReady reports whether the account may receive transfers. All
// three processor flags must be set and nothing may be outstanding.
// Degraded accounts (a flag flipped off after onboarding) fail this
// check too, which is what blocks releases to them.
func (a *Account) PayoutsReady() bool {
	return a.DetailsSubmitted && a.ChargesEnabled && a.PayoutsEnabled && len(a.RequirementsDue) == 0
}
