package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mworkman/handypay/internal/idgen"
	"github.com/mworkman/handypay/internal/logging"
	"github.com/mworkman/handypay/internal/metrics"
)

// PaymentAuthorizer creates a manual-capture payment intent for a job.
// Implemented by the payments manager.
type PaymentAuthorizer interface {
	CreateIntent(ctx context.Context, jobID, customerID string, amountCents int64, currency string) (intentID, clientSecret string, err error)
}

// Releaser captures the job's authorized funds and pays out the three-way
// split. Implemented by the release engine.
type Releaser interface {
	Release(ctx context.Context, jobID, providerID string, serviceFeeCents, platformFeeCents int64, currency string) error
}

// PaymentVoider unwinds the job's payment on cancellation: cancels the
// intent if funds were never captured, refunds if they were.
type PaymentVoider interface {
	Void(ctx context.Context, jobID string) error
}

// Notifier receives fire-and-forget lifecycle events. Failures in the
// notifier must never block or roll back a transition.
type Notifier interface {
	JobEvent(event string, j *Job)
}

// Policy holds the business knobs applied to every job.
type Policy struct {
	PlatformFeeCents       int64
	Currency               string
	AutoReleaseWorkingDays int
}

// CreateRequest contains the parameters for creating a job.
type CreateRequest struct {
	ServiceType     string `json:"serviceType" binding:"required"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	ServiceFeeCents int64  `json:"serviceFeeCents" binding:"required"`
}

// Service implements job lifecycle business logic.
type Service struct {
	store    Store
	payments PaymentAuthorizer
	releaser Releaser
	voider   PaymentVoider
	notifier Notifier
	policy   Policy
	locks    sync.Map // per-job ID locks: confirm and auto-release must not race
}

// NewService creates a new job service.
func NewService(store Store, payments PaymentAuthorizer, releaser Releaser, voider PaymentVoider, policy Policy) *Service {
	if policy.AutoReleaseWorkingDays <= 0 {
		policy.AutoReleaseWorkingDays = 3
	}
	if policy.Currency == "" {
		policy.Currency = "usd"
	}
	return &Service{
		store:    store,
		payments: payments,
		releaser: releaser,
		voider:   voider,
		policy:   policy,
	}
}

// WithNotifier adds a lifecycle event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// jobLock returns a mutex for the given job ID.
func (s *Service) jobLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emit(event string, j *Job) {
	if s.notifier != nil {
		s.notifier.JobEvent(event, j)
	}
}

// Create creates a new job in awaiting_payment.
func (s *Service) Create(ctx context.Context, customerID string, req CreateRequest) (*Job, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrUnauthorized)
	}
	if req.ServiceFeeCents <= 0 {
		return nil, errors.New("service fee must be positive")
	}

	now := time.Now()
	j := &Job{
		ID:               idgen.WithPrefix("job_"),
		CustomerID:       customerID,
		ServiceType:      req.ServiceType,
		Description:      req.Description,
		Location:         req.Location,
		ServiceFeeCents:  req.ServiceFeeCents,
		PlatformFeeCents: s.policy.PlatformFeeCents,
		Currency:         s.policy.Currency,
		Status:           StatusAwaitingPayment,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.emit("job.created", j)
	return j, nil
}

// Checkout creates (or returns the already-created) payment intent for the
// job. The returned client secret is handed to the customer's payment form.
// Safe to call repeatedly: intent creation is idempotent per job.
func (s *Service) Checkout(ctx context.Context, jobID, customerID string) (*Job, string, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if j.CustomerID != customerID {
		return nil, "", ErrUnauthorized
	}
	if j.Status != StatusAwaitingPayment {
		return nil, "", fmt.Errorf("%w: %s → checkout", ErrInvalidStateTransition, j.Status)
	}

	intentID, clientSecret, err := s.payments.CreateIntent(ctx, j.ID, j.CustomerID, j.TotalCents(), j.Currency)
	if err != nil {
		return nil, "", err
	}

	if j.IntentID != intentID {
		j.IntentID = intentID
		j.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, j, StatusAwaitingPayment); err != nil {
			return nil, "", fmt.Errorf("failed to record intent on job: %w", err)
		}
	}

	return j, clientSecret, nil
}

// MarkAuthorized advances awaiting_payment → pending once the customer's
// charge is authorized. Called from the webhook listener; replays are
// no-ops because the job is already past awaiting_payment.
func (s *Service) MarkAuthorized(ctx context.Context, jobID string) (*Job, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusAwaitingPayment {
		// Already authorized (or further along): at-least-once delivery.
		return j, nil
	}

	j.Status = StatusPending
	j.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, j, StatusAwaitingPayment); err != nil {
		return nil, err
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.emit("job.authorized", j)
	return j, nil
}

// Claim assigns the job to the first provider that asks for it.
// Concurrent claims are serialized by the store's conditional update.
func (s *Service) Claim(ctx context.Context, jobID, providerID string) (*Job, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id is required", ErrUnauthorized)
	}

	j, err := s.store.Claim(ctx, jobID, providerID, time.Now())
	if err != nil {
		return nil, err
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(StatusInProgress)).Inc()
	s.emit("job.claimed", j)
	return j, nil
}

// MarkDone moves in_progress → pending_confirmation and starts the
// auto-release clock.
func (s *Service) MarkDone(ctx context.Context, jobID, providerID string) (*Job, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.ProviderID != providerID {
		return nil, ErrUnauthorized
	}
	if !CanTransition(j.Status, StatusPendingConfirmation) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidStateTransition, j.Status, StatusPendingConfirmation)
	}

	now := time.Now()
	due := AddWorkingDays(now, s.policy.AutoReleaseWorkingDays)
	prev := j.Status
	j.Status = StatusPendingConfirmation
	j.ConfirmBy = &due
	j.UpdatedAt = now
	if err := s.store.Update(ctx, j, prev); err != nil {
		return nil, err
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(StatusPendingConfirmation)).Inc()
	s.emit("job.done", j)
	return j, nil
}

// Confirm is the customer accepting the completed work. The job moves to
// completed and the escrowed funds are released.
func (s *Service) Confirm(ctx context.Context, jobID, customerID string) (*Job, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.CustomerID != customerID {
		return nil, ErrUnauthorized
	}

	return s.complete(ctx, j, customerID)
}

// AutoComplete is the sweep path: the confirmation window expired without
// customer action. The guarded transition makes repeated sweeps no-ops.
func (s *Service) AutoComplete(ctx context.Context, jobID string) (*Job, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return s.complete(ctx, j, "auto_release")
}

// complete finishes pending_confirmation → completed and triggers release.
// Caller must hold the job lock. The status change is persisted before the
// money moves: a release failure leaves the job completed and raises an
// operator alert inside the release engine rather than rolling back.
func (s *Service) complete(ctx context.Context, j *Job, completedBy string) (*Job, error) {
	if !CanTransition(j.Status, StatusCompleted) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidStateTransition, j.Status, StatusCompleted)
	}

	now := time.Now()
	prev := j.Status
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.CompletedBy = completedBy
	j.UpdatedAt = now
	if err := s.store.Update(ctx, j, prev); err != nil {
		return nil, err
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.emit("job.completed", j)

	if err := s.releaser.Release(ctx, j.ID, j.ProviderID, j.ServiceFeeCents, j.PlatformFeeCents, j.Currency); err != nil {
		logging.L(ctx).Error("escrow release failed", "jobId", j.ID, "error", err)
		return j, fmt.Errorf("job completed but release failed: %w", err)
	}

	s.emit("job.released", j)
	return j, nil
}

// Reopen is the customer rejecting the completion claim: the job returns
// to in_progress and the auto-release clock stops.
func (s *Service) Reopen(ctx context.Context, jobID, customerID, reason string) (*Job, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.CustomerID != customerID {
		return nil, ErrUnauthorized
	}
	if !CanTransition(j.Status, StatusInProgress) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidStateTransition, j.Status, StatusInProgress)
	}

	prev := j.Status
	j.Status = StatusInProgress
	j.ConfirmBy = nil
	j.CancelReason = reason
	j.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, j, prev); err != nil {
		return nil, err
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(StatusInProgress)).Inc()
	s.emit("job.reopened", j)
	return j, nil
}

// Cancel aborts a pre-completion job and unwinds its payment. The payment
// is voided first; if the hold was never captured this cancels the intent,
// otherwise it refunds the captured charge.
func (s *Service) Cancel(ctx context.Context, jobID, actorID, reason string) (*Job, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actorID != j.CustomerID && actorID != j.ProviderID {
		return nil, ErrUnauthorized
	}
	if !CanTransition(j.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidStateTransition, j.Status, StatusCancelled)
	}

	if j.IntentID != "" {
		if err := s.voider.Void(ctx, j.ID); err != nil {
			return nil, fmt.Errorf("failed to void payment for cancellation: %w", err)
		}
	}

	now := time.Now()
	prev := j.Status
	j.Status = StatusCancelled
	j.CancelReason = reason
	j.UpdatedAt = now
	if err := s.store.Update(ctx, j, prev); err != nil {
		// Retry once: the payment is already unwound, we must persist.
		if retryErr := s.store.Update(ctx, j, prev); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: payment voided but job cancel not persisted",
				"jobId", j.ID, "error", retryErr)
			return nil, fmt.Errorf("failed to persist cancellation (requires manual resolution): %w", err)
		}
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.emit("job.cancelled", j)
	return j, nil
}

// MarkCancelledByProcessor records a processor-side intent cancellation
// (e.g. an expired hold). At-least-once safe: terminal jobs are untouched.
func (s *Service) MarkCancelledByProcessor(ctx context.Context, jobID, reason string) (*Job, error) {
	mu := s.jobLock(jobID)
	mu.Lock()
	defer mu.Unlock()

	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}
	if !CanTransition(j.Status, StatusCancelled) {
		return j, nil
	}

	prev := j.Status
	j.Status = StatusCancelled
	j.CancelReason = reason
	j.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, j, prev); err != nil {
		return nil, err
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.emit("job.cancelled", j)
	return j, nil
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// ListByCustomer returns recent jobs for a customer.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByCustomer(ctx, customerID, limit)
}

// ListByProvider returns recent jobs for a provider.
func (s *Service) ListByProvider(ctx context.Context, providerID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByProvider(ctx, providerID, limit)
}

// ListConfirmationDue exposes the sweep query.
func (s *Service) ListConfirmationDue(ctx context.Context, before time.Time, limit int) ([]*Job, error) {
	return s.store.ListConfirmationDue(ctx, before, limit)
}
