package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mworkman/handypay/internal/processor"
)

type fakePayments struct {
	mu      sync.Mutex
	creates int
	fail    error
}

func (f *fakePayments) CreateIntent(ctx context.Context, jobID, customerID string, amountCents int64, currency string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", "", f.fail
	}
	f.creates++
	return "pi_" + jobID, "pi_" + jobID + "_secret", nil
}

type fakeReleaser struct {
	mu       sync.Mutex
	released []string
	fail     error
}

func (f *fakeReleaser) Release(ctx context.Context, jobID, providerID string, serviceFeeCents, platformFeeCents int64, currency string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.released = append(f.released, jobID)
	return nil
}

type fakeVoider struct {
	mu     sync.Mutex
	voided []string
	fail   error
}

func (f *fakeVoider) Void(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.voided = append(f.voided, jobID)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) JobEvent(event string, j *Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	payments *fakePayments
	releaser *fakeReleaser
	voider   *fakeVoider
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		payments: &fakePayments{},
		releaser: &fakeReleaser{},
		voider:   &fakeVoider{},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(f.store, f.payments, f.releaser, f.voider, Policy{
		PlatformFeeCents:       500,
		Currency:               "usd",
		AutoReleaseWorkingDays: 3,
	}).WithNotifier(f.notifier)
	return f
}

func (f *fixture) createJob(t *testing.T) *Job {
	t.Helper()
	j, err := f.svc.Create(context.Background(), "cust_1", CreateRequest{
		ServiceType:     "plumbing",
		ServiceFeeCents: 12000,
	})
	require.NoError(t, err)
	return j
}

// advance walks a fresh job to the requested status through the service.
func (f *fixture) advance(t *testing.T, target Status) *Job {
	t.Helper()
	ctx := context.Background()
	j := f.createJob(t)
	if target == StatusAwaitingPayment {
		return j
	}

	_, _, err := f.svc.Checkout(ctx, j.ID, "cust_1")
	require.NoError(t, err)
	j, err = f.svc.MarkAuthorized(ctx, j.ID)
	require.NoError(t, err)
	if target == StatusPending {
		return j
	}

	j, err = f.svc.Claim(ctx, j.ID, "prov_1")
	require.NoError(t, err)
	if target == StatusInProgress {
		return j
	}

	j, err = f.svc.MarkDone(ctx, j.ID, "prov_1")
	require.NoError(t, err)
	if target == StatusPendingConfirmation {
		return j
	}

	j, err = f.svc.Confirm(ctx, j.ID, "cust_1")
	require.NoError(t, err)
	return j
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)
	j := f.createJob(t)

	assert.Equal(t, StatusAwaitingPayment, j.Status)
	assert.Equal(t, "cust_1", j.CustomerID)
	assert.Equal(t, int64(500), j.PlatformFeeCents)
	assert.Equal(t, "usd", j.Currency)
	assert.Equal(t, int64(12500), j.TotalCents())
	assert.Contains(t, f.notifier.seen(), "job.created")
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), "", CreateRequest{ServiceType: "x", ServiceFeeCents: 100})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Create(context.Background(), "cust_1", CreateRequest{ServiceType: "x", ServiceFeeCents: 0})
	assert.Error(t, err)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	j := f.createJob(t)

	got, secret, err := f.svc.Checkout(context.Background(), j.ID, "cust_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_"+j.ID, got.IntentID)
	assert.NotEmpty(t, secret)

	// Repeat checkout reuses the intent.
	again, secret2, err := f.svc.Checkout(context.Background(), j.ID, "cust_1")
	require.NoError(t, err)
	assert.Equal(t, got.IntentID, again.IntentID)
	assert.Equal(t, secret, secret2)
}

func TestCheckoutWrongCustomer(t *testing.T) {
	f := newFixture(t)
	j := f.createJob(t)

	_, _, err := f.svc.Checkout(context.Background(), j.ID, "cust_2")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCheckoutAfterAuthorizationRejected(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPending)

	_, _, err := f.svc.Checkout(context.Background(), j.ID, "cust_1")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCheckoutProcessorDown(t *testing.T) {
	f := newFixture(t)
	f.payments.fail = processor.ErrUnavailable
	j := f.createJob(t)

	_, _, err := f.svc.Checkout(context.Background(), j.ID, "cust_1")
	assert.ErrorIs(t, err, processor.ErrUnavailable)
}

func TestMarkAuthorizedReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPending)

	// Webhook redelivery after the job has moved on.
	got, err := f.svc.MarkAuthorized(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	_, err = f.svc.Claim(context.Background(), j.ID, "prov_1")
	require.NoError(t, err)
	got, err = f.svc.MarkAuthorized(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestClaimFirstWins(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPending)

	const providers = 16
	var wins, losses atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < providers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Claim(context.Background(), j.ID, fmt.Sprintf("prov_%d", i))
			if err == nil {
				wins.Add(1)
			} else if errors.Is(err, ErrJobAlreadyClaimed) {
				losses.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(providers-1), losses.Load())

	got, err := f.svc.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.NotEmpty(t, got.ProviderID)
}

func TestClaimBeforeAuthorization(t *testing.T) {
	f := newFixture(t)
	j := f.createJob(t)

	_, err := f.svc.Claim(context.Background(), j.ID, "prov_1")
	assert.ErrorIs(t, err, ErrJobAlreadyClaimed)
}

func TestMarkDoneSetsConfirmDeadline(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPendingConfirmation)

	require.NotNil(t, j.ConfirmBy)
	assert.True(t, j.ConfirmBy.After(time.Now()))
	assert.Contains(t, f.notifier.seen(), "job.done")
}

func TestMarkDoneWrongProvider(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusInProgress)

	_, err := f.svc.MarkDone(context.Background(), j.ID, "prov_other")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestConfirmReleasesFunds(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusCompleted)

	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, "cust_1", j.CompletedBy)
	require.NotNil(t, j.CompletedAt)
	assert.Equal(t, []string{j.ID}, f.releaser.released)
	assert.Contains(t, f.notifier.seen(), "job.completed")
	assert.Contains(t, f.notifier.seen(), "job.released")
}

func TestConfirmTwiceRejected(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusCompleted)

	_, err := f.svc.Confirm(context.Background(), j.ID, "cust_1")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Len(t, f.releaser.released, 1)
}

func TestConfirmReleaseFailureKeepsJobCompleted(t *testing.T) {
	f := newFixture(t)
	f.releaser.fail = errors.New("processor exploded")
	j := f.advance(t, StatusPendingConfirmation)

	_, err := f.svc.Confirm(context.Background(), j.ID, "cust_1")
	require.Error(t, err)

	got, getErr := f.svc.Get(context.Background(), j.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestAutoComplete(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPendingConfirmation)

	got, err := f.svc.AutoComplete(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "auto_release", got.CompletedBy)
	assert.Equal(t, []string{j.ID}, f.releaser.released)

	// The sweep may visit the job again before the store catches up.
	_, err = f.svc.AutoComplete(context.Background(), j.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Len(t, f.releaser.released, 1)
}

func TestConfirmAndAutoCompleteRace(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPendingConfirmation)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.svc.Confirm(context.Background(), j.ID, "cust_1") //nolint:errcheck
	}()
	go func() {
		defer wg.Done()
		f.svc.AutoComplete(context.Background(), j.ID) //nolint:errcheck
	}()
	wg.Wait()

	// Exactly one path won; funds moved once.
	assert.Len(t, f.releaser.released, 1)
}

func TestReopenClearsDeadline(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPendingConfirmation)

	got, err := f.svc.Reopen(context.Background(), j.ID, "cust_1", "tap still leaks")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Nil(t, got.ConfirmBy)
	assert.Equal(t, "tap still leaks", got.CancelReason)

	// The provider can mark done again after fixing the issue.
	got, err = f.svc.MarkDone(context.Background(), j.ID, "prov_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingConfirmation, got.Status)
}

func TestCancelVoidsPaymentFirst(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusInProgress)

	got, err := f.svc.Cancel(context.Background(), j.ID, "cust_1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, []string{j.ID}, f.voider.voided)
}

func TestCancelVoidFailureKeepsJobAlive(t *testing.T) {
	f := newFixture(t)
	f.voider.fail = processor.ErrUnavailable
	j := f.advance(t, StatusInProgress)

	_, err := f.svc.Cancel(context.Background(), j.ID, "cust_1", "")
	require.ErrorIs(t, err, processor.ErrUnavailable)

	got, getErr := f.svc.Get(context.Background(), j.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestCancelBeforeCheckoutSkipsVoid(t *testing.T) {
	f := newFixture(t)
	j := f.createJob(t)

	got, err := f.svc.Cancel(context.Background(), j.ID, "cust_1", "typo")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, f.voider.voided)
}

func TestCancelByStranger(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusInProgress)

	_, err := f.svc.Cancel(context.Background(), j.ID, "someone_else", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCancelAfterProviderDoneRejected(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPendingConfirmation)

	_, err := f.svc.Cancel(context.Background(), j.ID, "cust_1", "")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestMarkCancelledByProcessor(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPending)

	got, err := f.svc.MarkCancelledByProcessor(context.Background(), j.ID, "hold expired")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "hold expired", got.CancelReason)
}

func TestMarkCancelledByProcessorTerminalNoop(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusCompleted)

	got, err := f.svc.MarkCancelledByProcessor(context.Background(), j.ID, "hold expired")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestListConfirmationDue(t *testing.T) {
	f := newFixture(t)
	j := f.advance(t, StatusPendingConfirmation)

	due, err := f.svc.ListConfirmationDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = f.svc.ListConfirmationDue(context.Background(), time.Now().AddDate(0, 0, 10), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, j.ID, due[0].ID)
}
