package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mworkman/handypay/internal/circuitbreaker"
)

const (
	callTimeout = 15 * time.Second
	breakerKey  = "stripe"
)

// StripeClient implements Client against the Stripe API. A circuit
// breaker in front of the API trips on transient failures so a Stripe
// outage degrades to fast ErrUnavailable responses instead of piling up
// 15-second timeouts.
type StripeClient struct {
	api     *client.API
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

var _ Client = (*StripeClient)(nil)

// NewStripeClient builds a StripeClient with the given secret key.
func NewStripeClient(secretKey string, logger *slog.Logger) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{
		api:     api,
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger.With("component", "stripe"),
	}
}

// call wraps a Stripe API invocation with the circuit breaker and error
// classification. fn must return the raw Stripe error.
func (s *StripeClient) call(op string, fn func() error) error {
	if !s.breaker.Allow(breakerKey) {
		s.logger.Warn("circuit open, rejecting call", "op", op)
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	err := classify(fn())
	if err != nil && isTransient(err) {
		s.breaker.RecordFailure(breakerKey)
		s.logger.Warn("stripe call failed", "op", op, "error", err)
		return err
	}
	s.breaker.RecordSuccess(breakerKey)
	if err != nil {
		s.logger.Info("stripe call rejected", "op", op, "error", err)
	}
	return err
}

func (s *StripeClient) CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(p.AmountCents),
		Currency:      stripe.String(p.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	var pi *stripe.PaymentIntent
	err := s.call("create_intent", func() error {
		var err error
		pi, err = s.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeIntent(pi), nil
}

func (s *StripeClient) GetIntent(ctx context.Context, id string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}

	var pi *stripe.PaymentIntent
	err := s.call("get_intent", func() error {
		var err error
		pi, err = s.api.PaymentIntents.Get(id, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeIntent(pi), nil
}

func (s *StripeClient) CaptureIntent(ctx context.Context, id string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentCaptureParams{Params: stripe.Params{Context: ctx}}
	params.SetIdempotencyKey("capture-" + id)

	var pi *stripe.PaymentIntent
	err := s.call("capture_intent", func() error {
		var err error
		pi, err = s.api.PaymentIntents.Capture(id, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeIntent(pi), nil
}

func (s *StripeClient) CancelIntent(ctx context.Context, id string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{Params: stripe.Params{Context: ctx}}
	params.SetIdempotencyKey("cancel-" + id)

	var pi *stripe.PaymentIntent
	err := s.call("cancel_intent", func() error {
		var err error
		pi, err = s.api.PaymentIntents.Cancel(id, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeIntent(pi), nil
}

func (s *StripeClient) RefundIntent(ctx context.Context, id, idempotencyKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(id),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	var ref *stripe.Refund
	err := s.call("refund_intent", func() error {
		var err error
		ref, err = s.api.Refunds.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (s *StripeClient) CreateTransfer(ctx context.Context, p CreateTransferParams) (*Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.TransferParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(p.AmountCents),
		Currency:    stripe.String(p.Currency),
		Destination: stripe.String(p.DestinationAccountID),
	}
	if p.TransferGroup != "" {
		params.TransferGroup = stripe.String(p.TransferGroup)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	var tr *stripe.Transfer
	err := s.call("create_transfer", func() error {
		var err error
		tr, err = s.api.Transfers.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Transfer{
		ID:                   tr.ID,
		DestinationAccountID: p.DestinationAccountID,
		AmountCents:          tr.Amount,
		Currency:             string(tr.Currency),
	}, nil
}

func (s *StripeClient) ReverseTransfer(ctx context.Context, transferID string, amountCents int64, idempotencyKey string) (*Reversal, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.TransferReversalParams{
		Params: stripe.Params{Context: ctx},
		ID:     stripe.String(transferID),
		Amount: stripe.Int64(amountCents),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	var rev *stripe.TransferReversal
	err := s.call("reverse_transfer", func() error {
		var err error
		rev, err = s.api.TransferReversals.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Reversal{
		ID:          rev.ID,
		TransferID:  transferID,
		AmountCents: rev.Amount,
	}, nil
}

func (s *StripeClient) CreateAccount(ctx context.Context, email, name string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.AccountParams{
		Params: stripe.Params{Context: ctx},
		Type:   stripe.String(string(stripe.AccountTypeExpress)),
		Email:  stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{
				Requested: stripe.Bool(true),
			},
		},
	}
	if name != "" {
		params.AddMetadata("display_name", name)
	}

	var acct *stripe.Account
	err := s.call("create_account", func() error {
		var err error
		acct, err = s.api.Accounts.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeAccount(acct), nil
}

func (s *StripeClient) GetAccount(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.AccountParams{Params: stripe.Params{Context: ctx}}

	var acct *stripe.Account
	err := s.call("get_account", func() error {
		var err error
		acct, err = s.api.Accounts.GetByID(id, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeAccount(acct), nil
}

func (s *StripeClient) CreateAccountLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.AccountLinkParams{
		Params:     stripe.Params{Context: ctx},
		Account:    stripe.String(accountID),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}

	var link *stripe.AccountLink
	err := s.call("create_account_link", func() error {
		var err error
		link, err = s.api.AccountLinks.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func (s *StripeClient) CreateLoginLink(ctx context.Context, accountID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.LoginLinkParams{
		Params:  stripe.Params{Context: ctx},
		Account: stripe.String(accountID),
	}

	var link *stripe.LoginLink
	err := s.call("create_login_link", func() error {
		var err error
		link, err = s.api.LoginLinks.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func fromStripeIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       IntentStatus(pi.Status),
		Metadata:     pi.Metadata,
	}
}

func fromStripeAccount(acct *stripe.Account) *Account {
	out := &Account{
		ID:               acct.ID,
		DetailsSubmitted: acct.DetailsSubmitted,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}
	if acct.Requirements != nil {
		out.RequirementsDue = acct.Requirements.CurrentlyDue
	}
	return out
}
