package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mworkman/handypay/internal/alerts"
	"github.com/mworkman/handypay/internal/connect"
	"github.com/mworkman/handypay/internal/idgen"
	"github.com/mworkman/handypay/internal/metrics"
	"github.com/mworkman/handypay/internal/money"
	"github.com/mworkman/handypay/internal/processor"
	"github.com/mworkman/handypay/internal/retry"
	"github.com/mworkman/handypay/internal/traces"
)

// AccountGate answers whether a provider may receive transfers, and with
// which connected account. Implemented by the connect service.
type AccountGate interface {
	RequirePayoutsReady(ctx context.Context, providerID string) (*connect.Account, error)
}

// IntentResolver maps a job to its recorded payment intent. Implemented
// by the payments manager.
type IntentResolver interface {
	IntentForJob(ctx context.Context, jobID string) (string, error)
}

// Alerter raises operator incidents. Implemented by the alerts service.
type Alerter interface {
	Raise(ctx context.Context, kind string, severity alerts.Severity, message, jobID string, details map[string]string) *alerts.Alert
}

// Partners holds the two fixed platform partner payout accounts.
type Partners struct {
	AccountA string
	AccountB string
}

// Engine executes releases: capture, split, transfer. It also unwinds
// payments on cancellation and reverses transfers when an operator
// claws a completed job back.
type Engine struct {
	proc      processor.Client
	transfers Store
	gate      AccountGate
	intents   IntentResolver
	alerter   Alerter
	policy    money.Policy
	partners  Partners
	logger    *slog.Logger
}

func NewEngine(proc processor.Client, transfers Store, gate AccountGate, intents IntentResolver, alerter Alerter, policy money.Policy, partners Partners, logger *slog.Logger) *Engine {
	return &Engine{
		proc:      proc,
		transfers: transfers,
		gate:      gate,
		intents:   intents,
		alerter:   alerter,
		policy:    policy,
		partners:  partners,
		logger:    logger.With("component", "release"),
	}
}

// Release captures the job's held funds and pays out all three legs.
//
// The whole method is idempotent: a re-run skips the capture if the
// intent already shows succeeded and skips any leg that already has a
// transfer record, so a crash between legs is healed by calling Release
// again. Legs run concurrently; a leg failing does not stop the others.
func (e *Engine) Release(ctx context.Context, jobID, providerID string, serviceFeeCents, platformFeeCents int64, currency string) error {
	ctx, span := traces.StartSpan(ctx, "release.Release", traces.JobID(jobID), traces.AmountCents(serviceFeeCents+platformFeeCents))
	defer span.End()

	acct, err := e.gate.RequirePayoutsReady(ctx, providerID)
	if err != nil {
		if errors.Is(err, connect.ErrOnboardingIncomplete) || errors.Is(err, connect.ErrAccountNotFound) {
			e.alerter.Raise(ctx, alerts.KindReleaseBlocked, alerts.SeverityWarning,
				"release blocked: provider cannot receive payouts", jobID,
				map[string]string{"provider_id": providerID})
		}
		return err
	}

	if err := e.capture(ctx, jobID); err != nil {
		return err
	}

	split := money.ComputeSplit(serviceFeeCents, platformFeeCents, e.policy)
	legs := []struct {
		role        string
		destination string
		amount      int64
	}{
		{RoleProvider, acct.ProcessorAccountID, split.ProviderCents},
		{RolePartnerA, e.partners.AccountA, split.PartnerACents},
		{RolePartnerB, e.partners.AccountB, split.PartnerBCents},
	}

	existing, err := e.transfers.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("listing transfers: %w", err)
	}
	done := make(map[string]bool, len(existing))
	for _, t := range existing {
		done[t.Role] = true
	}

	var wg sync.WaitGroup
	failures := make(map[string]error)
	var mu sync.Mutex

	for _, leg := range legs {
		if done[leg.role] || leg.amount == 0 {
			continue
		}
		wg.Add(1)
		go func(role, dest string, amount int64) {
			defer wg.Done()
			if err := e.transferLeg(ctx, jobID, role, dest, amount, currency); err != nil {
				mu.Lock()
				failures[role] = err
				mu.Unlock()
			}
		}(leg.role, leg.destination, leg.amount)
	}
	wg.Wait()

	if len(failures) > 0 {
		details := map[string]string{
			"provider_cents":  strconv.FormatInt(split.ProviderCents, 10),
			"partner_a_cents": strconv.FormatInt(split.PartnerACents, 10),
			"partner_b_cents": strconv.FormatInt(split.PartnerBCents, 10),
		}
		for role, err := range failures {
			details["failed_"+role] = err.Error()
		}
		e.alerter.Raise(ctx, alerts.KindPartialTransferFailure, alerts.SeverityCritical,
			"payout transfers partially failed, funds captured but not fully distributed", jobID, details)
		return fmt.Errorf("%w: %d of %d legs failed", ErrPartialTransferFailure, len(failures), len(legs))
	}

	e.logger.Info("release complete", "jobId", jobID,
		"providerCents", split.ProviderCents,
		"partnerACents", split.PartnerACents,
		"partnerBCents", split.PartnerBCents)
	return nil
}

// capture moves the intent from authorized to captured. Safe to repeat.
func (e *Engine) capture(ctx context.Context, jobID string) error {
	intentID, err := e.intents.IntentForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolving intent for job %s: %w", jobID, err)
	}

	intent, err := e.proc.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}

	switch intent.Status {
	case processor.IntentSucceeded:
		return nil // Already captured, e.g. a prior partial release.
	case processor.IntentRequiresCapture:
	default:
		return fmt.Errorf("%w: intent %s is %s", ErrPaymentNotCapturable, intentID, intent.Status)
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		_, err := e.proc.CaptureIntent(ctx, intentID)
		if err != nil && !errors.Is(err, processor.ErrUnavailable) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.CapturesTotal.WithLabelValues("error").Inc()
		e.alerter.Raise(ctx, alerts.KindCaptureFailure, alerts.SeverityCritical,
			"capture failed for completed job", jobID,
			map[string]string{"intent_id": intentID, "error": err.Error()})
		return fmt.Errorf("capturing intent %s: %w", intentID, err)
	}

	metrics.CapturesTotal.WithLabelValues("ok").Inc()
	e.logger.Info("payment captured", "jobId", jobID, "intentId", intentID)
	return nil
}

// transferLeg sends one leg and records it. The processor write comes
// first; if recording fails afterwards the deterministic idempotency key
// keeps a retry from paying twice, but we log it as loudly as possible.
func (e *Engine) transferLeg(ctx context.Context, jobID, role, destination string, amount int64, currency string) error {
	key := "tr-" + jobID + "-" + role

	var tr *processor.Transfer
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		tr, err = e.proc.CreateTransfer(ctx, processor.CreateTransferParams{
			AmountCents:          amount,
			Currency:             currency,
			DestinationAccountID: destination,
			TransferGroup:        jobID,
			Metadata:             map[string]string{"job_id": jobID, "role": role},
			IdempotencyKey:       key,
		})
		if err != nil && !errors.Is(err, processor.ErrUnavailable) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(role, "error").Inc()
		return err
	}

	record := &Transfer{
		ID:                   idgen.WithPrefix("xfer_"),
		JobID:                jobID,
		Role:                 role,
		DestinationAccountID: destination,
		ProcessorTransferID:  tr.ID,
		AmountCents:          amount,
		Currency:             currency,
		Status:               TransferCreated,
		CreatedAt:            time.Now().UTC(),
	}
	if err := e.transfers.Create(ctx, record); err != nil {
		// Retry the write once before declaring the record lost.
		if retryErr := e.transfers.Create(ctx, record); retryErr != nil {
			e.logger.Error("CRITICAL: transfer sent but record failed",
				"jobId", jobID, "role", role, "processorTransferId", tr.ID,
				"amountCents", amount, "error", retryErr)
			metrics.TransfersTotal.WithLabelValues(role, "record_error").Inc()
			return fmt.Errorf("recording transfer: %w", retryErr)
		}
	}

	metrics.TransfersTotal.WithLabelValues(role, "ok").Inc()
	e.logger.Info("transfer sent", "jobId", jobID, "role", role,
		"amountCents", amount, "processorTransferId", tr.ID)
	return nil
}

// ReverseAll claws back every outstanding transfer for a job. Already
// reversed legs are skipped, so the operation is idempotent. Used by
// operators after a post-completion dispute.
func (e *Engine) ReverseAll(ctx context.Context, jobID string) error {
	ctx, span := traces.StartSpan(ctx, "release.ReverseAll", traces.JobID(jobID))
	defer span.End()

	transfers, err := e.transfers.ListByJob(ctx, jobID)
	if err != nil {
		return err
	}

	var failed []string
	for _, t := range transfers {
		if t.Status == TransferReversed {
			continue
		}
		rev, err := e.proc.ReverseTransfer(ctx, t.ProcessorTransferID, t.AmountCents, "rev-"+t.ProcessorTransferID)
		if err != nil {
			metrics.ReversalsTotal.WithLabelValues("error").Inc()
			e.logger.Error("transfer reversal failed", "jobId", jobID,
				"role", t.Role, "processorTransferId", t.ProcessorTransferID, "error", err)
			failed = append(failed, t.Role)
			continue
		}
		if err := e.transfers.MarkReversed(ctx, t.ID, rev.ID, time.Now().UTC()); err != nil {
			e.logger.Error("CRITICAL: reversal sent but record failed",
				"jobId", jobID, "transferId", t.ID, "reversalId", rev.ID, "error", err)
		}
		metrics.ReversalsTotal.WithLabelValues("ok").Inc()
	}

	if len(failed) > 0 {
		return fmt.Errorf("reversing transfers for job %s: legs still outstanding: %v", jobID, failed)
	}
	return nil
}

// Void unwinds a job's payment on cancellation. Before capture the
// authorization is released; after capture the customer is refunded. A
// job that never reached checkout has nothing to void.
func (e *Engine) Void(ctx context.Context, jobID string) error {
	ctx, span := traces.StartSpan(ctx, "release.Void", traces.JobID(jobID))
	defer span.End()

	intentID, err := e.intents.IntentForJob(ctx, jobID)
	if err != nil {
		return nil // No intent recorded: nothing held, nothing to void.
	}

	intent, err := e.proc.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}

	switch intent.Status {
	case processor.IntentCanceled:
		return nil
	case processor.IntentSucceeded:
		refundID, err := e.proc.RefundIntent(ctx, intentID, "refund-"+jobID)
		if err != nil {
			return fmt.Errorf("refunding intent %s: %w", intentID, err)
		}
		e.logger.Info("payment refunded", "jobId", jobID, "intentId", intentID, "refundId", refundID)
		return nil
	default:
		if _, err := e.proc.CancelIntent(ctx, intentID); err != nil {
			return fmt.Errorf("canceling intent %s: %w", intentID, err)
		}
		e.logger.Info("authorization released", "jobId", jobID, "intentId", intentID)
		return nil
	}
}

// TransfersForJob exposes the payout records for a job.
func (e *Engine) TransfersForJob(ctx context.Context, jobID string) ([]*Transfer, error) {
	return e.transfers.ListByJob(ctx, jobID)
}
