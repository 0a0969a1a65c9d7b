// Package alerts records operator-facing incidents. Money-path failures
// that the service deliberately does not auto-heal, a transfer that
// partially failed, a capture that declined after completion, land here
// for a human to resolve.
package alerts

import (
	"errors"
	"time"
)

var ErrAlertNotFound = errors.New("alert not found")

// Severity orders operator attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Well-known alert kinds. Kind is free-form; these constants cover the
// paths the service raises itself.
const (
	KindPartialTransferFailure = "partial_transfer_failure"
	KindCaptureFailure         = "capture_failure"
	KindPaymentFailed          = "payment_failed"
	KindTransferReversed       = "transfer_reversed"
	KindPayoutFailed           = "payout_failed"
	KindReleaseBlocked         = "release_blocked"
)

// Alert is a single operator incident. Details carries kind-specific
// context (job ID, which transfers succeeded, amounts).
type Alert struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Severity     Severity          `json:"severity"`
	Message      string            `json:"message"`
	JobID        string            `json:"jobId,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	Acknowledged bool              `json:"acknowledged"`
	AckedBy      string            `json:"ackedBy,omitempty"`
	AckedAt      *time.Time        `json:"ackedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}
