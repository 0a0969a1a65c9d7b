package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mworkman/handypay/internal/metrics"
	"github.com/mworkman/handypay/internal/processor"
	"github.com/mworkman/handypay/internal/retry"
	"github.com/mworkman/handypay/internal/traces"
)

// Manager creates and reads payment intents. CreateIntent is idempotent
// per job: calling it twice for the same job returns the same intent, and
// two concurrent calls produce exactly one processor-side intent.
type Manager struct {
	proc   processor.Client
	idem   IdempotencyStore
	logger *slog.Logger
}

func NewManager(proc processor.Client, idem IdempotencyStore, logger *slog.Logger) *Manager {
	return &Manager{
		proc:   proc,
		idem:   idem,
		logger: logger.With("component", "payments"),
	}
}

func intentKey(jobID string) string { return "intent-" + jobID }

// CreateIntent creates (or returns the existing) manual-capture intent for
// a job. The processor call also carries an idempotency key scoped to the
// job, so even if the local record is lost a retry cannot double-charge.
func (m *Manager) CreateIntent(ctx context.Context, jobID, customerID string, amountCents int64, currency string) (string, string, error) {
	ctx, span := traces.StartSpan(ctx, "payments.CreateIntent", traces.JobID(jobID), traces.AmountCents(amountCents))
	defer span.End()

	key := intentKey(jobID)

	for {
		intentID, err := m.idem.Get(ctx, key)
		switch {
		case err == nil:
			// Intent already exists; re-fetch for the client secret.
			intent, err := m.proc.GetIntent(ctx, intentID)
			if err != nil {
				return "", "", err
			}
			metrics.IntentsCreatedTotal.WithLabelValues("replayed").Inc()
			return intent.ID, intent.ClientSecret, nil

		case errors.Is(err, ErrInFlight):
			// Another request is mid-creation. Wait briefly and re-check
			// rather than racing it to the processor.
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue

		case errors.Is(err, ErrIntentNotFound):
			claimed, err := m.idem.PutInFlight(ctx, key)
			if err != nil {
				return "", "", fmt.Errorf("claiming intent key: %w", err)
			}
			if !claimed {
				continue // Lost the race; loop back and read the winner's result.
			}
			return m.createNew(ctx, jobID, customerID, amountCents, currency, key)

		default:
			return "", "", fmt.Errorf("reading intent key: %w", err)
		}
	}
}

func (m *Manager) createNew(ctx context.Context, jobID, customerID string, amountCents int64, currency, key string) (string, string, error) {
	var intent *processor.Intent
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		intent, err = m.proc.CreateIntent(ctx, processor.CreateIntentParams{
			AmountCents: amountCents,
			Currency:    currency,
			Metadata: map[string]string{
				"job_id":      jobID,
				"customer_id": customerID,
			},
			IdempotencyKey: key,
		})
		if err != nil && !errors.Is(err, processor.ErrUnavailable) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.IntentsCreatedTotal.WithLabelValues("error").Inc()
		if delErr := m.idem.Delete(ctx, key); delErr != nil {
			m.logger.Error("releasing intent key after failure", "jobId", jobID, "error", delErr)
		}
		return "", "", err
	}

	if err := m.idem.Complete(ctx, key, intent.ID); err != nil {
		// The intent exists at the processor but the local record failed.
		// The processor-side idempotency key makes a later retry converge
		// on the same intent, so log loudly and surface the error.
		m.logger.Error("CRITICAL: intent created but record failed",
			"jobId", jobID, "intentId", intent.ID, "error", err)
		return "", "", fmt.Errorf("recording intent: %w", err)
	}

	metrics.IntentsCreatedTotal.WithLabelValues("created").Inc()
	m.logger.Info("payment intent created", "jobId", jobID, "intentId", intent.ID, "amountCents", amountCents)
	return intent.ID, intent.ClientSecret, nil
}

// IntentForJob returns the recorded intent ID for a job, if any.
func (m *Manager) IntentForJob(ctx context.Context, jobID string) (string, error) {
	id, err := m.idem.Get(ctx, intentKey(jobID))
	if errors.Is(err, ErrInFlight) {
		return "", ErrIntentNotFound
	}
	return id, err
}

// GetStatus reads the live intent status from the processor.
func (m *Manager) GetStatus(ctx context.Context, intentID string) (processor.IntentStatus, error) {
	intent, err := m.proc.GetIntent(ctx, intentID)
	if err != nil {
		return "", err
	}
	return intent.Status, nil
}
