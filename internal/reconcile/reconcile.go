// Package reconcile ingests processor webhooks and converges local state
// with what actually happened to the money. Delivery is at-least-once
// and unordered, so every handler is a no-op on replay and tolerates
// arriving before or after the local transition it confirms.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mworkman/handypay/internal/alerts"
	"github.com/mworkman/handypay/internal/connect"
	"github.com/mworkman/handypay/internal/job"
	"github.com/mworkman/handypay/internal/metrics"
)

// ErrInvalidSignature: the payload failed signature verification and must
// be rejected without processing.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Jobs is the slice of the job service the listener drives.
type Jobs interface {
	MarkAuthorized(ctx context.Context, jobID string) (*job.Job, error)
	MarkCancelledByProcessor(ctx context.Context, jobID, reason string) (*job.Job, error)
}

// Accounts refreshes payout account snapshots. Implemented by the
// connect service.
type Accounts interface {
	RefreshStatus(ctx context.Context, processorAccountID string) (*connect.Account, error)
}

// Alerter raises operator incidents.
type Alerter interface {
	Raise(ctx context.Context, kind string, severity alerts.Severity, message, jobID string, details map[string]string) *alerts.Alert
}

// Listener verifies and dispatches webhook events.
type Listener struct {
	secret   string
	jobs     Jobs
	accounts Accounts
	alerter  Alerter
	logger   *slog.Logger
}

func NewListener(secret string, jobs Jobs, accounts Accounts, alerter Alerter, logger *slog.Logger) *Listener {
	return &Listener{
		secret:   secret,
		jobs:     jobs,
		accounts: accounts,
		alerter:  alerter,
		logger:   logger.With("component", "reconcile"),
	}
}

// HandleRaw verifies the signed payload and processes the event. A
// returned error other than ErrInvalidSignature means processing failed
// transiently and the processor should redeliver.
func (l *Listener) HandleRaw(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, l.secret)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return l.process(ctx, event)
}

func (l *Listener) process(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)
	logger := l.logger.With("eventId", event.ID, "eventType", eventType)

	var err error
	switch event.Type {
	case "payment_intent.amount_capturable_updated":
		err = l.onIntentAuthorized(ctx, event, logger)
	case "payment_intent.succeeded":
		err = l.onIntentSucceeded(ctx, event, logger)
	case "payment_intent.payment_failed":
		err = l.onIntentFailed(ctx, event, logger)
	case "payment_intent.canceled":
		err = l.onIntentCanceled(ctx, event, logger)
	case "account.updated":
		err = l.onAccountUpdated(ctx, event, logger)
	case "transfer.reversed":
		err = l.onTransferReversed(ctx, event, logger)
	case "payout.failed":
		err = l.onPayoutFailed(ctx, event, logger)
	case "payout.paid":
		logger.Info("payout settled")
	default:
		// Unknown events are acknowledged, not errored: the processor
		// sends types we never subscribed to.
		logger.Debug("ignoring unhandled event type")
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}

	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		return err
	}
	metrics.WebhookEventsTotal.WithLabelValues(eventType, "ok").Inc()
	return nil
}

// jobIDFromIntent pulls the job reference we stamped on the intent at
// creation time.
func jobIDFromIntent(event stripe.Event) (pi stripe.PaymentIntent, jobID string, err error) {
	if err = json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return pi, "", fmt.Errorf("decoding payment intent: %w", err)
	}
	return pi, pi.Metadata["job_id"], nil
}

func (l *Listener) onIntentAuthorized(ctx context.Context, event stripe.Event, logger *slog.Logger) error {
	pi, jobID, err := jobIDFromIntent(event)
	if err != nil {
		return err
	}
	if jobID == "" {
		logger.Warn("intent carries no job reference", "intentId", pi.ID)
		return nil
	}

	if _, err := l.jobs.MarkAuthorized(ctx, jobID); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			logger.Warn("authorized intent references unknown job", "jobId", jobID)
			return nil
		}
		if errors.Is(err, job.ErrInvalidStateTransition) {
			// Replay, or the job has already moved on.
			logger.Debug("authorization already reconciled", "jobId", jobID)
			return nil
		}
		return fmt.Errorf("marking job %s authorized: %w", jobID, err)
	}
	logger.Info("payment authorized, job open for claims", "jobId", jobID, "intentId", pi.ID)
	return nil
}

func (l *Listener) onIntentSucceeded(ctx context.Context, event stripe.Event, logger *slog.Logger) error {
	pi, jobID, err := jobIDFromIntent(event)
	if err != nil {
		return err
	}
	// Capture is driven by the release engine; this event just confirms
	// it. Nothing to transition.
	logger.Info("capture confirmed", "jobId", jobID, "intentId", pi.ID)
	return nil
}

func (l *Listener) onIntentFailed(ctx context.Context, event stripe.Event, logger *slog.Logger) error {
	pi, jobID, err := jobIDFromIntent(event)
	if err != nil {
		return err
	}
	details := map[string]string{"intent_id": pi.ID}
	if pi.LastPaymentError != nil {
		details["code"] = string(pi.LastPaymentError.Code)
	}
	l.alerter.Raise(ctx, alerts.KindPaymentFailed, alerts.SeverityWarning,
		"payment attempt failed", jobID, details)
	logger.Info("payment attempt failed", "jobId", jobID, "intentId", pi.ID)
	return nil
}

func (l *Listener) onIntentCanceled(ctx context.Context, event stripe.Event, logger *slog.Logger) error {
	pi, jobID, err := jobIDFromIntent(event)
	if err != nil {
		return err
	}
	if jobID == "" {
		return nil
	}

	if _, err := l.jobs.MarkCancelledByProcessor(ctx, jobID, "authorization canceled or expired"); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			logger.Warn("canceled intent references unknown job", "jobId", jobID)
			return nil
		}
		return fmt.Errorf("cancelling job %s: %w", jobID, err)
	}
	logger.Info("job cancelled after processor-side cancellation", "jobId", jobID, "intentId", pi.ID)
	return nil
}

func (l *Listener) onAccountUpdated(ctx context.Context, event stripe.Event, logger *slog.Logger) error {
	var acct stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
		return fmt.Errorf("decoding account: %w", err)
	}

	if _, err := l.accounts.RefreshStatus(ctx, acct.ID); err != nil {
		if errors.Is(err, connect.ErrAccountNotFound) {
			// Accounts created outside this service, or before it knew
			// about them.
			logger.Debug("update for untracked account", "accountId", acct.ID)
			return nil
		}
		return fmt.Errorf("refreshing account %s: %w", acct.ID, err)
	}
	logger.Info("payout account refreshed", "accountId", acct.ID)
	return nil
}

func (l *Listener) onTransferReversed(ctx context.Context, event stripe.Event, logger *slog.Logger) error {
	var tr stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &tr); err != nil {
		return fmt.Errorf("decoding transfer: %w", err)
	}
	jobID := tr.Metadata["job_id"]
	l.alerter.Raise(ctx, alerts.KindTransferReversed, alerts.SeverityWarning,
		"payout transfer reversed at the processor", jobID,
		map[string]string{"transfer_id": tr.ID, "role": tr.Metadata["role"]})
	logger.Info("transfer reversed", "transferId", tr.ID, "jobId", jobID)
	return nil
}

func (l *Listener) onPayoutFailed(ctx context.Context, event stripe.Event, logger *slog.Logger) error {
	var po stripe.Payout
	if err := json.Unmarshal(event.Data.Raw, &po); err != nil {
		return fmt.Errorf("decoding payout: %w", err)
	}
	l.alerter.Raise(ctx, alerts.KindPayoutFailed, alerts.SeverityWarning,
		"bank payout from a connected account failed", "",
		map[string]string{"payout_id": po.ID, "failure_code": string(po.FailureCode)})
	logger.Warn("payout failed", "payoutId", po.ID, "failureCode", string(po.FailureCode))
	return nil
}
