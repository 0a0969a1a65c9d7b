package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mworkman/handypay/internal/idgen"
	"github.com/mworkman/handypay/internal/processor"
	"github.com/mworkman/handypay/internal/traces"
)

// Service runs provider onboarding. The processor's hosted flow does the
// actual identity collection; this service creates the connected account,
// mints links into that flow, and keeps the local readiness snapshot in
// sync via RefreshStatus.
type Service struct {
	store  Store
	proc   processor.Client
	logger *slog.Logger
}

func NewService(store Store, proc processor.Client, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		proc:   proc,
		logger: logger.With("component", "connect"),
	}
}

// CreateAccount creates a connected payout account for a provider. If the
// provider already has one, the existing account is returned unchanged.
func (s *Service) CreateAccount(ctx context.Context, providerID, email, displayName string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "connect.CreateAccount")
	defer span.End()

	if existing, err := s.store.GetByProvider(ctx, providerID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	procAcct, err := s.proc.CreateAccount(ctx, email, displayName)
	if err != nil {
		return nil, fmt.Errorf("creating processor account: %w", err)
	}

	now := time.Now().UTC()
	acct := &Account{
		ID:                 idgen.WithPrefix("acct_"),
		ProviderID:         providerID,
		ProcessorAccountID: procAcct.ID,
		Email:              email,
		DisplayName:        displayName,
		DetailsSubmitted:   procAcct.DetailsSubmitted,
		ChargesEnabled:     procAcct.ChargesEnabled,
		PayoutsEnabled:     procAcct.PayoutsEnabled,
		RequirementsDue:    procAcct.RequirementsDue,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrAccountExists) {
			// Lost a create race. The processor account we just made is
			// orphaned but harmless; return the winner's record.
			s.logger.Warn("duplicate account creation, using existing",
				"providerId", providerID, "orphanedProcessorAccount", procAcct.ID)
			return s.store.GetByProvider(ctx, providerID)
		}
		return nil, err
	}

	s.logger.Info("payout account created",
		"providerId", providerID, "processorAccountId", procAcct.ID)
	return acct, nil
}

// OnboardingLink mints a fresh hosted-onboarding URL. Links are single-use
// and expire quickly at the processor, so one is minted per request.
func (s *Service) OnboardingLink(ctx context.Context, providerID, returnURL, refreshURL string) (string, error) {
	acct, err := s.store.GetByProvider(ctx, providerID)
	if err != nil {
		return "", err
	}
	return s.proc.CreateAccountLink(ctx, acct.ProcessorAccountID, returnURL, refreshURL)
}

// LoginLink mints a dashboard login URL for an onboarded provider.
func (s *Service) LoginLink(ctx context.Context, providerID string) (string, error) {
	acct, err := s.store.GetByProvider(ctx, providerID)
	if err != nil {
		return "", err
	}
	if !acct.PayoutsReady() {
		return "", ErrOnboardingIncomplete
	}
	return s.proc.CreateLoginLink(ctx, acct.ProcessorAccountID)
}

// Get returns the provider's payout account.
func (s *Service) Get(ctx context.Context, providerID string) (*Account, error) {
	return s.store.GetByProvider(ctx, providerID)
}

// RefreshStatus re-reads the account from the processor and updates the
// local snapshot. Called on account.updated webhooks and on demand.
func (s *Service) RefreshStatus(ctx context.Context, processorAccountID string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "connect.RefreshStatus", traces.AccountID(processorAccountID))
	defer span.End()

	acct, err := s.store.GetByProcessorID(ctx, processorAccountID)
	if err != nil {
		return nil, err
	}

	procAcct, err := s.proc.GetAccount(ctx, processorAccountID)
	if err != nil {
		return nil, fmt.Errorf("reading processor account: %w", err)
	}

	wasReady := acct.PayoutsReady()
	acct.DetailsSubmitted = procAcct.DetailsSubmitted
	acct.ChargesEnabled = procAcct.ChargesEnabled
	acct.PayoutsEnabled = procAcct.PayoutsEnabled
	acct.RequirementsDue = procAcct.RequirementsDue
	acct.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, acct); err != nil {
		return nil, err
	}

	if wasReady && !acct.PayoutsReady() {
		s.logger.Warn("payout account degraded",
			"providerId", acct.ProviderID,
			"processorAccountId", processorAccountID,
			"requirementsDue", acct.RequirementsDue)
	} else if !wasReady && acct.PayoutsReady() {
		s.logger.Info("payout account ready",
			"providerId", acct.ProviderID,
			"processorAccountId", processorAccountID)
	}
	return acct, nil
}

// RequirePayoutsReady returns the provider's account only if it can
// receive transfers. The release engine gates on this.
func (s *Service) RequirePayoutsReady(ctx context.Context, providerID string) (*Account, error) {
	acct, err := s.store.GetByProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !acct.PayoutsReady() {
		return nil, fmt.Errorf("%w: provider %s", ErrOnboardingIncomplete, providerID)
	}
	return acct, nil
}
