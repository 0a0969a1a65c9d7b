// Package job implements the job lifecycle state machine.
//
// Flow:
//  1. Customer creates a job → awaiting_payment
//  2. Customer authorizes the charge → pending
//  3. A provider claims the job (first claim wins) → in_progress
//  4. Provider marks work done → pending_confirmation
//  5. Customer confirms (or the auto-release sweep fires) → completed, funds released
//  6. Customer rejects the completion claim → back to in_progress
//  7. Cancellation is allowed from any pre-completion state → cancelled
package job

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound            = errors.New("job not found")
	ErrInvalidStateTransition = errors.New("invalid job state transition")
	ErrJobAlreadyClaimed      = errors.New("job already claimed")
	ErrUnauthorized           = errors.New("not authorized for this job operation")
	ErrStatusConflict         = errors.New("job status changed concurrently")
)

// Status represents the state of a job.
type Status string

const (
	StatusAwaitingPayment     Status = "awaiting_payment"     // Created, charge not yet authorized
	StatusPending             Status = "pending"              // Funds authorized, open for claims
	StatusInProgress          Status = "in_progress"          // Claimed by exactly one provider
	StatusPendingConfirmation Status = "pending_confirmation" // Provider marked done, awaiting customer
	StatusCompleted           Status = "completed"            // Confirmed, funds released
	StatusCancelled           Status = "cancelled"            // Cancelled pre-completion
)

// transitions is the single authority on which status changes are legal.
// Every code path that moves a job goes through CanTransition.
var transitions = map[Status][]Status{
	StatusAwaitingPayment:     {StatusPending, StatusCancelled},
	StatusPending:             {StatusInProgress, StatusCancelled},
	StatusInProgress:          {StatusPendingConfirmation, StatusCancelled},
	StatusPendingConfirmation: {StatusCompleted, StatusInProgress},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal returns true if the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid returns true if the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusPending, StatusInProgress,
		StatusPendingConfirmation, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Job represents a handyman job and its payment linkage.
type Job struct {
	ID               string     `json:"id"`
	CustomerID       string     `json:"customerId"`
	ProviderID       string     `json:"providerId,omitempty"`
	ServiceType      string     `json:"serviceType"`
	Description      string     `json:"description,omitempty"`
	Location         string     `json:"location,omitempty"`
	ServiceFeeCents  int64      `json:"serviceFeeCents"`
	PlatformFeeCents int64      `json:"platformFeeCents"`
	Currency         string     `json:"currency"`
	Status           Status     `json:"status"`
	IntentID         string     `json:"intentId,omitempty"`
	ConfirmBy        *time.Time `json:"confirmBy,omitempty"` // auto-release deadline
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CompletedBy      string     `json:"completedBy,omitempty"` // customer id or "auto_release"
	CancelReason     string     `json:"cancelReason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TotalCents is the full amount collected from the customer.
func (j *Job) TotalCents() int64 {
	return j.ServiceFeeCents + j.PlatformFeeCents
}
