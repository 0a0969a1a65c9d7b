package alerts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	raised []*Alert
}

func (c *captureSink) AlertRaised(a *Alert) {
	c.raised = append(c.raised, a)
}

type failingStore struct {
	Store
}

func (f *failingStore) Create(ctx context.Context, a *Alert) error {
	return errors.New("db down")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRaisePersistsAndNotifies(t *testing.T) {
	sink := &captureSink{}
	svc := NewService(NewMemoryStore(), testLogger()).WithSink(sink)

	a := svc.Raise(context.Background(), KindPartialTransferFailure, SeverityCritical,
		"2 of 3 legs failed", "job_1", map[string]string{"failed_partner_b": "unavailable"})

	require.NotEmpty(t, a.ID)
	assert.Equal(t, SeverityCritical, a.Severity)

	stored, err := svc.List(context.Background(), true, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, a.ID, stored[0].ID)
	assert.Equal(t, "job_1", stored[0].JobID)

	require.Len(t, sink.raised, 1)
	assert.Equal(t, a.ID, sink.raised[0].ID)
}

func TestRaiseSurvivesStoreFailure(t *testing.T) {
	sink := &captureSink{}
	svc := NewService(&failingStore{}, testLogger()).WithSink(sink)

	a := svc.Raise(context.Background(), KindCaptureFailure, SeverityCritical, "capture declined", "job_2", nil)

	// The caller still gets the alert and the sink still hears about it.
	require.NotNil(t, a)
	assert.Len(t, sink.raised, 1)
}

func TestAck(t *testing.T) {
	svc := NewService(NewMemoryStore(), testLogger())

	a := svc.Raise(context.Background(), KindReleaseBlocked, SeverityWarning, "onboarding incomplete", "job_3", nil)

	acked, err := svc.Ack(context.Background(), a.ID, "op_1")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "op_1", acked.AckedBy)
	require.NotNil(t, acked.AckedAt)

	open, err := svc.List(context.Background(), true, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := svc.List(context.Background(), false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAckUnknownAlert(t *testing.T) {
	svc := NewService(NewMemoryStore(), testLogger())

	_, err := svc.Ack(context.Background(), "alert_missing", "op_1")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testLogger())
	ctx := context.Background()

	old := &Alert{ID: "alert_old", Kind: KindPaymentFailed, Severity: SeverityInfo,
		Message: "old", CreatedAt: time.Now().Add(-time.Hour)}
	mid := &Alert{ID: "alert_mid", Kind: KindPaymentFailed, Severity: SeverityInfo,
		Message: "mid", CreatedAt: time.Now().Add(-time.Minute)}
	newest := &Alert{ID: "alert_new", Kind: KindPaymentFailed, Severity: SeverityInfo,
		Message: "new", CreatedAt: time.Now()}
	for _, a := range []*Alert{old, mid, newest} {
		require.NoError(t, store.Create(ctx, a))
	}

	got, err := svc.List(ctx, false, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alert_new", got[0].ID)
	assert.Equal(t, "alert_mid", got[1].ID)
}
